package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type MarketType string

const (
	MarketTypeMint MarketType = "mint"
	MarketTypeLend MarketType = "lend"
)

func ParseMarketType(input string) (MarketType, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "lend", "llamalend":
		return MarketTypeLend, nil
	case "mint", "crvusd":
		return MarketTypeMint, nil
	default:
		return "", fmt.Errorf("unsupported market type %q", input)
	}
}

// MarketKey identifies one position: a controller on a chain, optionally scoped to a user.
type MarketKey struct {
	ChainID    string     `json:"chain_id"`
	MarketType MarketType `json:"market_type"`
	Controller string     `json:"controller"`
	User       string     `json:"user,omitempty"`
}

func (k MarketKey) String() string {
	parts := []string{k.ChainID, string(k.MarketType), strings.ToLower(k.Controller)}
	if k.User != "" {
		parts = append(parts, strings.ToLower(k.User))
	}
	return strings.Join(parts, "/")
}

// Market drops the user scope.
func (k MarketKey) Market() MarketKey {
	k.User = ""
	return k
}

func (k MarketKey) Equal(other MarketKey) bool {
	return k.String() == other.String()
}

// BandIndex is a LLAMMA band number. Lower indices cover higher prices.
type BandIndex int64

type BandBalance struct {
	N          BandIndex       `json:"n"`
	Collateral decimal.Decimal `json:"collateral"`
	Borrowed   decimal.Decimal `json:"borrowed"`
}

type MarketGeometry struct {
	BasePrice decimal.Decimal `json:"base_price"`
	A         int64           `json:"a"`
}

type TokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type MarketTokens struct {
	Collateral TokenInfo `json:"collateral"`
	Borrowed   TokenInfo `json:"borrowed"`
}

// LoanState is the controller's user_state snapshot in token units.
type LoanState struct {
	Collateral decimal.Decimal `json:"collateral"`
	Borrowed   decimal.Decimal `json:"borrowed"`
	Debt       decimal.Decimal `json:"debt"`
	N          int64           `json:"n"`
}

type UserLoss struct {
	DepositedCollateral         decimal.Decimal `json:"deposited_collateral"`
	CurrentCollateralEstimation decimal.Decimal `json:"current_collateral_estimation"`
	Loss                        decimal.Decimal `json:"loss"`
	LossPct                     decimal.Decimal `json:"loss_pct"`
}

type UserPnL struct {
	CurrentPositionValue decimal.Decimal `json:"current_position_value"`
	DepositedValue       decimal.Decimal `json:"deposited_value"`
	CurrentProfit        decimal.Decimal `json:"current_profit"`
	Percentage           decimal.Decimal `json:"percentage"`
}

// UserHistory is one indexed stats read. PnL is only reported for lend markets.
type UserHistory struct {
	Loss UserLoss
	PnL  *UserPnL
}

// GasPriceInfo holds per-tier base+priority prices and optional L2/L1 gas prices, all in wei.
type GasPriceInfo struct {
	BasePlusPriority []*big.Int `json:"-"`
	L2GasPriceWei    *big.Int   `json:"-"`
	L1GasPriceWei    *big.Int   `json:"-"`
}

// RevenueEvent is one strategy report from the savings vault revenue feed.
type RevenueEvent struct {
	Strategy     string          `json:"strategy"`
	Gain         decimal.Decimal `json:"gain"`
	Loss         decimal.Decimal `json:"loss"`
	CurrentDebt  decimal.Decimal `json:"current_debt"`
	TotalRefunds decimal.Decimal `json:"total_refunds"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	ProtocolFees decimal.Decimal `json:"protocol_fees"`
	TxHash       string          `json:"tx_hash"`
	Timestamp    time.Time       `json:"timestamp"`
}
