package bands

import (
	"sort"

	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
)

// Point is one band of the merged market/user series.
type Point struct {
	N                        model.BandIndex `json:"n"`
	PriceUpDownMedian        decimal.Decimal `json:"price_up_down_median"`
	PriceUp                  decimal.Decimal `json:"price_up"`
	PriceDown                decimal.Decimal `json:"price_down"`
	MarketCollateralAmount   decimal.Decimal `json:"market_collateral_amount"`
	MarketCollateralValueUsd decimal.Decimal `json:"market_collateral_value_usd"`
	MarketBorrowedAmount     decimal.Decimal `json:"market_borrowed_amount"`
	MarketBorrowedValueUsd   decimal.Decimal `json:"market_borrowed_value_usd"`
	UserCollateralAmount     decimal.Decimal `json:"user_collateral_amount"`
	UserCollateralValueUsd   decimal.Decimal `json:"user_collateral_value_usd"`
	UserBorrowedAmount       decimal.Decimal `json:"user_borrowed_amount"`
	UserBorrowedValueUsd     decimal.Decimal `json:"user_borrowed_value_usd"`
	IsLiquidationBand        LiquidationFlag `json:"is_liquidation_band"`
	IsOraclePriceBand        bool            `json:"is_oracle_price_band"`
}

func (p Point) occupied() bool {
	amounts := []decimal.Decimal{
		p.MarketCollateralAmount,
		p.MarketBorrowedAmount,
		p.UserCollateralAmount,
		p.UserBorrowedAmount,
	}
	for _, a := range amounts {
		if a.IsPositive() {
			return true
		}
	}
	return p.IsLiquidationBand == SoftLiquidation || p.IsOraclePriceBand
}

// Merge joins market-wide and user band rows into one series keyed by band index,
// sorted by descending median price and trimmed to the occupied span.
// Inputs are not modified.
func Merge(market, user []Row, oraclePriceBand *model.BandIndex) []Point {
	byBand := make(map[model.BandIndex]*Point, len(market)+len(user))

	for _, r := range market {
		p := pointFor(byBand, r)
		a := ResolveAmounts(r)
		p.MarketCollateralAmount = a.Collateral
		p.MarketCollateralValueUsd = a.CollateralUsd
		p.MarketBorrowedAmount = a.Borrowed
		p.MarketBorrowedValueUsd = a.BorrowedUsd
	}
	for _, r := range user {
		p := pointFor(byBand, r)
		a := ResolveAmounts(r)
		p.UserCollateralAmount = a.Collateral
		p.UserCollateralValueUsd = a.CollateralUsd
		p.UserBorrowedAmount = a.Borrowed
		p.UserBorrowedValueUsd = a.BorrowedUsd
	}

	points := make([]Point, 0, len(byBand))
	for _, p := range byBand {
		if oraclePriceBand != nil && p.N == *oraclePriceBand {
			p.IsOraclePriceBand = true
		}
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		if c := points[i].PriceUpDownMedian.Cmp(points[j].PriceUpDownMedian); c != 0 {
			return c > 0
		}
		return points[i].N < points[j].N
	})
	return trimUnoccupied(points)
}

func pointFor(byBand map[model.BandIndex]*Point, r Row) *Point {
	p, ok := byBand[r.N]
	if !ok {
		p = &Point{
			N:                 r.N,
			PriceUpDownMedian: r.PriceUpDownMedian,
			PriceUp:           r.PriceUp,
			PriceDown:         r.PriceDown,
		}
		byBand[r.N] = p
	}
	if r.IsLiquidationBand == SoftLiquidation {
		p.IsLiquidationBand = SoftLiquidation
	}
	return p
}

// trimUnoccupied drops leading and trailing empty bands. A series with no
// occupied band is returned whole.
func trimUnoccupied(points []Point) []Point {
	first, last := -1, -1
	for i, p := range points {
		if !p.occupied() {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return points
	}
	return points[first : last+1]
}

// UserPriceRange returns the highest upper bound and lowest lower bound across
// bands where the user holds collateral or borrowed tokens.
func UserPriceRange(points []Point) (upper, lower decimal.Decimal, ok bool) {
	for _, p := range points {
		if !p.UserCollateralAmount.IsPositive() && !p.UserBorrowedAmount.IsPositive() {
			continue
		}
		if !ok || p.PriceUp.GreaterThan(upper) {
			upper = p.PriceUp
		}
		if !ok || p.PriceDown.LessThan(lower) {
			lower = p.PriceDown
		}
		ok = true
	}
	return upper, lower, ok
}
