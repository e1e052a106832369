// Package health classifies LLAMMA positions by liquidation risk.
package health

import (
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
)

// DefaultCloseToLiquidationBands is how many bands below the oracle or liquidation
// band a position's first band may sit and still count as close to liquidation.
const DefaultCloseToLiquidationBands int64 = 2

// DefaultSoftLiquidationDust is the converted borrowed amount above which a position
// is reported as being in soft liquidation.
var DefaultSoftLiquidationDust = decimal.RequireFromString("0.1")

type ColorKey string

const (
	ColorHealthy            ColorKey = "healthy"
	ColorCloseToLiquidation ColorKey = "close_to_liquidation"
	ColorSoftLiquidation    ColorKey = "soft_liquidation"
	ColorHardLiquidation    ColorKey = "hard_liquidation"
	ColorNoPosition         ColorKey = "no_position"
)

type Status struct {
	Label    string   `json:"label"`
	ColorKey ColorKey `json:"color_key"`
	Tooltip  string   `json:"tooltip,omitempty"`
}

var (
	statusHealthy = Status{Label: "Healthy", ColorKey: ColorHealthy}
	statusClose   = Status{
		Label:    "Close to liquidation",
		ColorKey: ColorCloseToLiquidation,
		Tooltip:  "The oracle price is within a few bands of the position's liquidation range.",
	}
	statusSoft = Status{
		Label:    "Soft liquidation",
		ColorKey: ColorSoftLiquidation,
		Tooltip:  "The AMM is converting collateral while the oracle price is inside the liquidation range. Health decreases while this lasts.",
	}
	statusHard = Status{
		Label:    "Hard liquidatable",
		ColorKey: ColorHardLiquidation,
		Tooltip:  "Health is at or below zero. The position can be liquidated by anyone.",
	}
	statusNone = Status{Label: "No position", ColorKey: ColorNoPosition}
)

// Select returns healthNotFull when it is negative and healthFull otherwise.
func Select(healthFull, healthNotFull decimal.Decimal) decimal.Decimal {
	if healthNotFull.IsNegative() {
		return healthNotFull
	}
	return healthFull
}

// IsCloseToLiquidation reports whether userFirstBand (the position's highest-price band)
// is within threshold bands of the oracle price band or of the market's liquidation band.
// Unknown bands are skipped.
func IsCloseToLiquidation(userFirstBand model.BandIndex, liquidationBand, oraclePriceBand *model.BandIndex, threshold int64) bool {
	for _, band := range []*model.BandIndex{oraclePriceBand, liquidationBand} {
		if band == nil {
			continue
		}
		if int64(userFirstBand) <= int64(*band)+threshold {
			return true
		}
	}
	return false
}

// Classify maps a position to a status from its not-full health, proximity flag and debt.
func Classify(healthNotFull decimal.Decimal, closeToLiquidation bool, debt decimal.Decimal) Status {
	return ClassifyPosition(Input{
		HealthNotFull:      healthNotFull,
		CloseToLiquidation: closeToLiquidation,
		Debt:               debt,
	})
}

type Input struct {
	HealthNotFull      decimal.Decimal
	CloseToLiquidation bool
	Debt               decimal.Decimal
	// SoftLiquidated is the borrowed-token amount the AMM already holds for the position.
	SoftLiquidated decimal.Decimal
	// DustThreshold defaults to DefaultSoftLiquidationDust when null. A zero threshold
	// reports any converted amount as soft liquidation.
	DustThreshold decimal.NullDecimal
}

func ClassifyPosition(in Input) Status {
	if !in.Debt.IsPositive() {
		return statusNone
	}
	if !in.HealthNotFull.IsPositive() {
		return statusHard
	}
	dust := DefaultSoftLiquidationDust
	if in.DustThreshold.Valid {
		dust = in.DustThreshold.Decimal
	}
	if in.SoftLiquidated.GreaterThan(dust) {
		return statusSoft
	}
	if in.CloseToLiquidation {
		return statusClose
	}
	return statusHealthy
}
