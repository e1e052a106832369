package gas

import (
	"math/big"
	"testing"

	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gwei(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000_000)) }

func chain(t *testing.T, slug string) id.Chain {
	t.Helper()
	c, err := id.ParseChain(slug)
	require.NoError(t, err)
	return c
}

func rate(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func TestEstimateUniform(t *testing.T) {
	info := &model.GasPriceInfo{BasePlusPriority: []*big.Int{gwei(10), gwei(20), gwei(30)}}
	cost := Estimate(chain(t, "ethereum"), Uniform(100_000), info, rate("3000"))

	require.True(t, cost.Available)
	assert.Equal(t, id.GasFeeUniform, cost.Model)
	assert.Equal(t, "2000000000000000", cost.CostWei)
	assert.True(t, cost.CostNative.Equal(decimal.RequireFromString("0.002")), "native=%s", cost.CostNative)
	assert.True(t, cost.GasPriceGwei.Equal(decimal.NewFromInt(20)))
	require.True(t, cost.UsdAvailable)
	assert.True(t, cost.CostUsd.Decimal.Equal(decimal.NewFromInt(6)))
	assert.Equal(t, "0.002 ETH at 20 gwei", cost.Tooltip)
}

func TestEstimateL2Price(t *testing.T) {
	info := &model.GasPriceInfo{
		BasePlusPriority: []*big.Int{big.NewInt(10_000_000), big.NewInt(10_000_000)},
		L2GasPriceWei:    big.NewInt(20_000_000),
	}
	cost := Estimate(chain(t, "arbitrum"), Uniform(1_000_000), info, rate("2500"))
	require.True(t, cost.Available)
	assert.Equal(t, id.GasFeeL2Price, cost.Model)
	assert.Equal(t, "20000000000000", cost.CostWei)
	assert.True(t, cost.CostUsd.Decimal.Equal(decimal.RequireFromString("0.05")))
}

func TestEstimateRollupSplit(t *testing.T) {
	info := &model.GasPriceInfo{
		BasePlusPriority: []*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000)},
		L2GasPriceWei:    big.NewInt(2_000_000),
		L1GasPriceWei:    gwei(5),
	}
	cost := Estimate(chain(t, "optimism"), RollupSplit(500_000, 2_000), info, decimal.NullDecimal{})
	require.True(t, cost.Available)
	assert.Equal(t, id.GasFeeRollupSplit, cost.Model)
	// 500k * 0.002 gwei + 2k * 5 gwei
	assert.Equal(t, "11000000000000", cost.CostWei)
	assert.False(t, cost.UsdAvailable)
	assert.False(t, cost.CostUsd.Valid)
}

func TestEstimateUnpricedSplitIsUnavailable(t *testing.T) {
	info := &model.GasPriceInfo{
		BasePlusPriority: []*big.Int{gwei(1), gwei(1)},
		L2GasPriceWei:    big.NewInt(2_000_000),
	}
	for _, slug := range []string{"base", "ethereum"} {
		cost := Estimate(chain(t, slug), RollupSplit(500_000, 2_000), info, rate("3000"))
		assert.False(t, cost.Available, slug)
		assert.False(t, cost.UsdAvailable, slug)
		assert.False(t, cost.CostUsd.Valid, slug)
		assert.Empty(t, cost.CostWei, slug)
	}
}

func TestEstimateMissingInputs(t *testing.T) {
	eth := chain(t, "ethereum")
	info := &model.GasPriceInfo{BasePlusPriority: []*big.Int{gwei(10), gwei(20)}}

	assert.False(t, Estimate(eth, Uniform(0), info, rate("1")).Available)
	assert.False(t, Estimate(eth, EstimatedGas{}, info, rate("1")).Available)
	assert.False(t, Estimate(eth, Uniform(21_000), nil, rate("1")).Available)
	assert.False(t, Estimate(eth, Uniform(21_000), &model.GasPriceInfo{}, rate("1")).Available)

	zeroRate := Estimate(eth, Uniform(21_000), info, rate("0"))
	assert.True(t, zeroRate.Available)
	assert.False(t, zeroRate.UsdAvailable)
}

func TestEstimateSingleTierFallsBack(t *testing.T) {
	info := &model.GasPriceInfo{BasePlusPriority: []*big.Int{gwei(7)}}
	cost := Estimate(chain(t, "ethereum"), Uniform(1_000), info, decimal.NullDecimal{})
	require.True(t, cost.Available)
	assert.Equal(t, "7000000000000", cost.CostWei)
}

func TestEstimateStrictlyIncreasingInGas(t *testing.T) {
	info := &model.GasPriceInfo{BasePlusPriority: []*big.Int{big.NewInt(3), big.NewInt(3)}}
	eth := chain(t, "ethereum")
	prev := decimal.Zero
	for _, units := range []uint64{1, 2, 21_000, 21_001, 1_000_000, 30_000_000} {
		cost := Estimate(eth, Uniform(units), info, decimal.NullDecimal{})
		require.True(t, cost.Available)
		assert.True(t, cost.CostNative.GreaterThan(prev), "units=%d cost=%s prev=%s", units, cost.CostNative, prev)
		prev = cost.CostNative
	}
}

func TestEstimatedGasVariants(t *testing.T) {
	units, ok := Uniform(5).Units()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), units)
	_, _, ok = Uniform(5).Split()
	assert.False(t, ok)

	l2, l1, ok := RollupSplit(3, 4).Split()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), l2)
	assert.Equal(t, uint64(4), l1)
	assert.Equal(t, "l2=3 l1=4", RollupSplit(3, 4).String())
	assert.True(t, RollupSplit(0, 0).IsZero())
}
