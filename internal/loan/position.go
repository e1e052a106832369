package loan

import (
	"github.com/ggonzalez94/llamarisk/internal/bands"
	"github.com/ggonzalez94/llamarisk/internal/health"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rates are USD prices for the market's tokens plus the oracle price of collateral
// in borrowed-token units. Any of them may be missing.
type Rates struct {
	CollateralUsd decimal.NullDecimal
	BorrowedUsd   decimal.NullDecimal
	OraclePrice   decimal.NullDecimal
}

type PriceRange struct {
	Upper decimal.Decimal `json:"upper"`
	Lower decimal.Decimal `json:"lower"`
}

// PositionDetails is the user-facing summary of a loan.
type PositionDetails struct {
	Key                   model.MarketKey     `json:"key"`
	Status                health.Status       `json:"status"`
	Health                decimal.Decimal     `json:"health"`
	IsCloseToLiquidation  bool                `json:"is_close_to_liquidation"`
	SoftLiquidation       bool                `json:"soft_liquidation"`
	CollateralValueUsd    decimal.NullDecimal `json:"collateral_value_usd"`
	Debt                  decimal.Decimal     `json:"debt"`
	DebtUsd               decimal.NullDecimal `json:"debt_usd"`
	LTVPct                decimal.NullDecimal `json:"ltv_pct"`
	LiquidationRange      *PriceRange         `json:"liquidation_range,omitempty"`
	RangeToLiquidationPct decimal.NullDecimal `json:"range_to_liquidation_pct"`
	Bands                 []model.BandIndex   `json:"bands"`
	BandsPct              string              `json:"bands_pct"`
	Leverage              decimal.NullDecimal `json:"leverage"`
	Loss                  *model.UserLoss     `json:"loss,omitempty"`
	PnL                   *model.UserPnL      `json:"pnl,omitempty"`
}

// CalculateLTV returns debt value over collateral value in percent. Collateral includes
// borrowed tokens already converted by the AMM. Zero debt or collateral value yields zero.
func CalculateLTV(debt, collateral, collateralBorrowed, borrowedUsdRate, collateralUsdRate decimal.Decimal) decimal.Decimal {
	debtValue := debt.Mul(borrowedUsdRate)
	collateralValue := collateral.Mul(collateralUsdRate).Add(collateralBorrowed.Mul(borrowedUsdRate))
	if collateralValue.IsZero() || debtValue.IsZero() {
		return decimal.Zero
	}
	return debtValue.DivRound(collateralValue, 18).Mul(hundred).Round(4)
}

// BuildPositionDetails derives display metrics from loan details and token rates.
func BuildPositionDetails(d UserLoanDetails, rates Rates) PositionDetails {
	out := PositionDetails{
		Key:                  d.Key,
		Status:               d.Status,
		Health:               d.Health,
		IsCloseToLiquidation: d.IsCloseToLiquidation,
		SoftLiquidation:      d.Status.ColorKey == health.ColorSoftLiquidation,
		Debt:                 d.State.Debt,
		Bands:                d.Bands,
		BandsPct:             d.BandsPct,
		Leverage:             d.Leverage,
		Loss:                 d.Loss,
		PnL:                  d.PnL,
	}
	if !d.LoanExists {
		return out
	}

	if rates.CollateralUsd.Valid && rates.BorrowedUsd.Valid {
		out.CollateralValueUsd = decimal.NewNullDecimal(
			d.State.Collateral.Mul(rates.CollateralUsd.Decimal).Add(d.State.Borrowed.Mul(rates.BorrowedUsd.Decimal)).Round(2),
		)
		out.LTVPct = decimal.NewNullDecimal(CalculateLTV(
			d.State.Debt, d.State.Collateral, d.State.Borrowed, rates.BorrowedUsd.Decimal, rates.CollateralUsd.Decimal,
		))
	}
	if rates.BorrowedUsd.Valid {
		out.DebtUsd = decimal.NewNullDecimal(d.State.Debt.Mul(rates.BorrowedUsd.Decimal).Round(2))
	}

	if upper, lower, ok := priceRange(d); ok {
		out.LiquidationRange = &PriceRange{Upper: upper, Lower: lower}
		if rates.OraclePrice.Valid && rates.OraclePrice.Decimal.IsPositive() {
			oracle := rates.OraclePrice.Decimal
			out.RangeToLiquidationPct = decimal.NewNullDecimal(
				oracle.Sub(upper).DivRound(oracle, 18).Mul(hundred).Round(4),
			)
		}
	}
	return out
}

// priceRange prefers the controller's user_prices and falls back to the band rows.
func priceRange(d UserLoanDetails) (upper, lower decimal.Decimal, ok bool) {
	if len(d.Prices) >= 2 {
		upper, lower = d.Prices[0], d.Prices[0]
		for _, p := range d.Prices[1:] {
			upper = decimal.Max(upper, p)
			lower = decimal.Min(lower, p)
		}
		return upper, lower, true
	}
	return bands.UserPriceRange(bands.Merge(nil, d.BandsBalances, d.OraclePriceBand))
}
