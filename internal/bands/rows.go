package bands

import (
	"sort"

	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
)

// LiquidationFlag marks the band the AMM is currently converting.
type LiquidationFlag string

const (
	NotLiquidating  LiquidationFlag = ""
	SoftLiquidation LiquidationFlag = "SL"
)

// Row is one parsed band as delivered by a market or user band source.
// Sources disagree on field names, so amounts are optional and resolved by ResolveAmounts.
type Row struct {
	N                     model.BandIndex     `json:"n"`
	PriceUp               decimal.Decimal     `json:"p_up"`
	PriceDown             decimal.Decimal     `json:"p_down"`
	PriceUpDownMedian     decimal.Decimal     `json:"p_up_down_median"`
	Collateral            decimal.Decimal     `json:"collateral"`
	Borrowed              decimal.NullDecimal `json:"borrowed"`
	Stablecoin            decimal.NullDecimal `json:"stablecoin"`
	CollateralUsd         decimal.NullDecimal `json:"collateral_usd"`
	CollateralBorrowedUsd decimal.NullDecimal `json:"collateral_borrowed_usd"`
	BorrowedUsd           decimal.NullDecimal `json:"borrowed_usd"`
	IsLiquidationBand     LiquidationFlag     `json:"is_liquidation_band"`
}

// Amounts are the resolved values of a Row.
type Amounts struct {
	Collateral    decimal.Decimal
	CollateralUsd decimal.Decimal
	Borrowed      decimal.Decimal
	BorrowedUsd   decimal.Decimal
}

// ResolveAmounts applies the field precedence: collateral USD prefers the explicit
// USD field over the combined collateral+borrowed USD value, and the borrowed amount
// prefers the borrowed field over the stablecoin field. Missing values become zero.
func ResolveAmounts(r Row) Amounts {
	borrowed := firstValid(r.Borrowed, r.Stablecoin)
	return Amounts{
		Collateral:    r.Collateral,
		CollateralUsd: firstValid(r.CollateralUsd, r.CollateralBorrowedUsd),
		Borrowed:      borrowed,
		BorrowedUsd:   firstValid(r.BorrowedUsd, decimal.NewNullDecimal(borrowed)),
	}
}

func firstValid(values ...decimal.NullDecimal) decimal.Decimal {
	for _, v := range values {
		if v.Valid {
			return v.Decimal
		}
	}
	return decimal.Zero
}

// ParseRows prices raw band balances. In market mode bands holding neither
// collateral nor borrowed tokens are dropped. Rows come back in ascending band order.
func ParseRows(balances []model.BandBalance, g model.MarketGeometry, liquidationBand *model.BandIndex, marketOnly bool) ([]Row, error) {
	if err := ValidateGeometry(g); err != nil {
		return nil, err
	}
	ratio := Ratio(g)
	rows := make([]Row, 0, len(balances))
	for _, b := range balances {
		if marketOnly && b.Collateral.IsZero() && b.Borrowed.IsZero() {
			continue
		}
		up, down := BandPrices(b.N, g.BasePrice, ratio)
		collateralUsd := b.Collateral.Mul(GeometricMean(up, down))
		row := Row{
			N:                     b.N,
			PriceUp:               up,
			PriceDown:             down,
			PriceUpDownMedian:     Median(up, down),
			Collateral:            b.Collateral,
			Borrowed:              decimal.NewNullDecimal(b.Borrowed),
			CollateralUsd:         decimal.NewNullDecimal(collateralUsd),
			CollateralBorrowedUsd: decimal.NewNullDecimal(collateralUsd.Add(b.Borrowed)),
		}
		if liquidationBand != nil && *liquidationBand == b.N {
			row.IsLiquidationBand = SoftLiquidation
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].N < rows[j].N })
	return rows, nil
}

// InUsd converts row values from borrowed-token units to USD at borrowedUsdRate.
// The input rows are not modified.
func InUsd(rows []Row, borrowedUsdRate decimal.Decimal) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		for _, v := range []*decimal.NullDecimal{&r.CollateralUsd, &r.CollateralBorrowedUsd} {
			if v.Valid {
				*v = decimal.NewNullDecimal(v.Decimal.Mul(borrowedUsdRate))
			}
		}
		r.BorrowedUsd = decimal.NewNullDecimal(firstValid(r.Borrowed, r.Stablecoin).Mul(borrowedUsdRate))
		out[i] = r
	}
	return out
}
