package health

import (
	"testing"

	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func band(n model.BandIndex) *model.BandIndex { return &n }

func TestSelect(t *testing.T) {
	assert.True(t, Select(d("5.0"), d("-2.0")).Equal(d("-2.0")))
	assert.True(t, Select(d("5.0"), d("0")).Equal(d("5.0")))
	assert.True(t, Select(d("5.0"), d("3.1")).Equal(d("5.0")))
}

func TestClassifyBoundaries(t *testing.T) {
	debt := d("1000")

	assert.Equal(t, ColorHardLiquidation, Classify(decimal.Zero, false, debt).ColorKey)
	assert.Equal(t, ColorHardLiquidation, Classify(decimal.Zero, true, debt).ColorKey)
	assert.Equal(t, ColorHardLiquidation, Classify(d("-0.01"), false, debt).ColorKey)
	assert.Equal(t, ColorHealthy, Classify(d("0.01"), false, debt).ColorKey)
	assert.Equal(t, ColorCloseToLiquidation, Classify(d("12"), true, debt).ColorKey)

	for _, h := range []string{"-5", "0", "5"} {
		assert.Equal(t, ColorNoPosition, Classify(d(h), true, decimal.Zero).ColorKey, "health %s", h)
		assert.Equal(t, ColorNoPosition, Classify(d(h), false, decimal.Zero).ColorKey, "health %s", h)
	}
}

func TestClassifyPositionSoftLiquidation(t *testing.T) {
	in := Input{HealthNotFull: d("4"), Debt: d("100"), SoftLiquidated: d("0.1")}
	assert.Equal(t, ColorHealthy, ClassifyPosition(in).ColorKey)

	in.SoftLiquidated = d("0.11")
	got := ClassifyPosition(in)
	assert.Equal(t, ColorSoftLiquidation, got.ColorKey)
	assert.NotEmpty(t, got.Tooltip)

	in.DustThreshold = decimal.NewNullDecimal(d("1"))
	assert.Equal(t, ColorHealthy, ClassifyPosition(in).ColorKey)

	in.DustThreshold = decimal.NewNullDecimal(decimal.Zero)
	in.SoftLiquidated = d("0.05")
	assert.Equal(t, ColorSoftLiquidation, ClassifyPosition(in).ColorKey)
	in.SoftLiquidated = decimal.Zero
	assert.Equal(t, ColorHealthy, ClassifyPosition(in).ColorKey)
	in.SoftLiquidated = d("0.05")

	in.HealthNotFull = d("-1")
	assert.Equal(t, ColorHardLiquidation, ClassifyPosition(in).ColorKey)
}

func TestIsCloseToLiquidation(t *testing.T) {
	threshold := DefaultCloseToLiquidationBands

	assert.True(t, IsCloseToLiquidation(12, nil, band(10), threshold))
	assert.False(t, IsCloseToLiquidation(13, nil, band(10), threshold))
	assert.True(t, IsCloseToLiquidation(4, nil, band(10), threshold))

	assert.True(t, IsCloseToLiquidation(6, band(5), nil, threshold))
	assert.False(t, IsCloseToLiquidation(30, band(5), band(10), threshold))
	assert.False(t, IsCloseToLiquidation(0, nil, nil, threshold))

	assert.False(t, IsCloseToLiquidation(12, nil, band(10), 1))
	assert.True(t, IsCloseToLiquidation(14, nil, band(10), 4))
}
