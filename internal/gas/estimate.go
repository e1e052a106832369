// Package gas turns gas unit estimates and chain gas prices into native and USD costs.
package gas

import (
	"fmt"
	"math/big"

	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

type kind uint8

const (
	kindNone kind = iota
	kindUniform
	kindRollupSplit
)

// EstimatedGas is either a single gas figure or an L2 execution / L1 data split.
type EstimatedGas struct {
	kind  kind
	units uint64
	l2    uint64
	l1    uint64
}

func Uniform(units uint64) EstimatedGas {
	return EstimatedGas{kind: kindUniform, units: units}
}

func RollupSplit(l2, l1 uint64) EstimatedGas {
	return EstimatedGas{kind: kindRollupSplit, l2: l2, l1: l1}
}

// Units returns the scalar estimate when the estimate is not split.
func (g EstimatedGas) Units() (uint64, bool) {
	return g.units, g.kind == kindUniform
}

func (g EstimatedGas) Split() (l2, l1 uint64, ok bool) {
	return g.l2, g.l1, g.kind == kindRollupSplit
}

func (g EstimatedGas) IsZero() bool {
	switch g.kind {
	case kindUniform:
		return g.units == 0
	case kindRollupSplit:
		return g.l2 == 0 && g.l1 == 0
	default:
		return true
	}
}

func (g EstimatedGas) String() string {
	switch g.kind {
	case kindUniform:
		return fmt.Sprintf("%d", g.units)
	case kindRollupSplit:
		return fmt.Sprintf("l2=%d l1=%d", g.l2, g.l1)
	default:
		return "none"
	}
}

type Cost struct {
	Available    bool                `json:"available"`
	Model        id.GasFeeModel      `json:"model,omitempty"`
	Symbol       string              `json:"symbol"`
	CostWei      string              `json:"cost_wei,omitempty"`
	CostNative   decimal.Decimal     `json:"cost_native"`
	GasPriceGwei decimal.Decimal     `json:"gas_price_gwei"`
	CostUsd      decimal.NullDecimal `json:"cost_usd"`
	UsdAvailable bool                `json:"usd_available"`
	Tooltip      string              `json:"tooltip,omitempty"`
}

// Estimate prices a gas estimate on chain. Missing estimates or prices, and split
// estimates the chain's prices cannot cover, yield an unavailable Cost rather than an error. A missing or zero USD rate leaves CostUsd null.
func Estimate(chain id.Chain, estimated EstimatedGas, info *model.GasPriceInfo, usdRate decimal.NullDecimal) Cost {
	cost := Cost{Symbol: chain.NativeSymbol}
	if estimated.IsZero() || info == nil {
		return cost
	}
	basePlusPriority, ok := tierPrice(info.BasePlusPriority, chain.DefaultTier)
	if !ok {
		return cost
	}

	wei, feeModel, ok := costWei(chain, estimated, info, basePlusPriority)
	if !ok {
		return cost
	}

	cost.Available = true
	cost.Model = feeModel
	cost.CostWei = wei.Dec()
	cost.CostNative = weiToNative(wei.ToBig())
	cost.GasPriceGwei = decimal.NewFromBigInt(basePlusPriority.ToBig(), -9)
	cost.Tooltip = fmt.Sprintf("%s %s at %s gwei", cost.CostNative.Round(8).String(), chain.NativeSymbol, cost.GasPriceGwei.Round(2).String())
	if usdRate.Valid && !usdRate.Decimal.IsZero() {
		cost.CostUsd = decimal.NewNullDecimal(cost.CostNative.Mul(usdRate.Decimal))
		cost.UsdAvailable = true
	}
	return cost
}

func costWei(chain id.Chain, estimated EstimatedGas, info *model.GasPriceInfo, basePlusPriority *uint256.Int) (*uint256.Int, id.GasFeeModel, bool) {
	units, scalar := estimated.Units()
	l2Units, l1Units, split := estimated.Split()
	l2Price, hasL2 := toUint256(info.L2GasPriceWei)
	l1Price, hasL1 := toUint256(info.L1GasPriceWei)

	switch {
	case chain.GasModel == id.GasFeeL2Price && scalar && hasL2:
		wei, overflow := new(uint256.Int).MulOverflow(l2Price, uint256.NewInt(units))
		return wei, id.GasFeeL2Price, !overflow
	case chain.IsL2() && split && hasL2 && hasL1:
		l2Cost, o1 := new(uint256.Int).MulOverflow(l2Price, uint256.NewInt(l2Units))
		l1Cost, o2 := new(uint256.Int).MulOverflow(l1Price, uint256.NewInt(l1Units))
		wei, o3 := new(uint256.Int).AddOverflow(l2Cost, l1Cost)
		return wei, id.GasFeeRollupSplit, !(o1 || o2 || o3)
	case scalar:
		wei, overflow := new(uint256.Int).MulOverflow(basePlusPriority, uint256.NewInt(units))
		return wei, id.GasFeeUniform, !overflow
	default:
		return nil, "", false
	}
}

func tierPrice(prices []*big.Int, tier int) (*uint256.Int, bool) {
	if tier < 0 || tier >= len(prices) {
		if len(prices) == 0 {
			return nil, false
		}
		tier = len(prices) - 1
	}
	return toUint256(prices[tier])
}

func toUint256(v *big.Int) (*uint256.Int, bool) {
	if v == nil || v.Sign() <= 0 {
		return nil, false
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, false
	}
	return out, true
}

// weiToNative converts wei to gwei, then gwei to whole native units.
func weiToNative(wei *big.Int) decimal.Decimal {
	gwei := decimal.NewFromBigInt(wei, 0).Shift(-9)
	return gwei.Shift(-9)
}
