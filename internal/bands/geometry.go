package bands

import (
	"errors"
	"fmt"
	"math"

	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
)

// ErrNonMonotonicBands is returned when a band list mixes ascending and descending indices.
var ErrNonMonotonicBands = errors.New("band indices are not monotonic")

// ErrInvalidGeometry is returned for markets with A <= 1 or a non-positive base price.
var ErrInvalidGeometry = errors.New("invalid market geometry")

const priceScale int32 = 36

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

func ValidateGeometry(g model.MarketGeometry) error {
	if g.A <= 1 {
		return fmt.Errorf("%w: A=%d", ErrInvalidGeometry, g.A)
	}
	if !g.BasePrice.IsPositive() {
		return fmt.Errorf("%w: base price %s", ErrInvalidGeometry, g.BasePrice)
	}
	return nil
}

// Ratio is the band width ratio (A-1)/A.
func Ratio(g model.MarketGeometry) decimal.Decimal {
	if g.A <= 1 {
		return decimal.Zero
	}
	a := decimal.NewFromInt(g.A)
	return a.Sub(one).DivRound(a, priceScale)
}

// BandPrices returns the upper and lower price bounds of band n.
func BandPrices(n model.BandIndex, basePrice, ratio decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	up := basePrice.Mul(powInt(ratio, int64(n))).Round(priceScale)
	down := up.Mul(ratio).Round(priceScale)
	return up, down
}

// Median is the arithmetic mean of a band's bounds.
func Median(up, down decimal.Decimal) decimal.Decimal {
	return up.Add(down).DivRound(two, priceScale)
}

// GeometricMean is sqrt(up*down), the price at which a band's collateral is valued.
func GeometricMean(up, down decimal.Decimal) decimal.Decimal {
	product := up.Mul(down)
	if !product.IsPositive() {
		return decimal.Zero
	}
	return sqrt(product)
}

// BandForPrice returns the band whose [down, up) range contains price.
func BandForPrice(price decimal.Decimal, g model.MarketGeometry) (model.BandIndex, error) {
	if err := ValidateGeometry(g); err != nil {
		return 0, err
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("price must be positive, got %s", price)
	}
	ratio := Ratio(g)
	estimate := math.Log(g.BasePrice.InexactFloat64()/price.InexactFloat64()) / -math.Log(ratio.InexactFloat64())
	n := model.BandIndex(math.Floor(estimate))
	// Float rounding can land one band off near a boundary.
	for i := 0; i < 4; i++ {
		up, down := BandPrices(n, g.BasePrice, ratio)
		switch {
		case price.GreaterThan(up):
			n--
		case price.LessThanOrEqual(down):
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// RangePct is the share of price covered by n consecutive bands, in percent.
func RangePct(n int64, g model.MarketGeometry) decimal.Decimal {
	if n <= 0 || g.A <= 1 {
		return decimal.Zero
	}
	return one.Sub(powInt(Ratio(g), n)).Mul(hundred).Round(6)
}

// ReverseBandOrder turns a price-ascending band list (as exposed by the market SDK)
// into the price-descending order the rest of the package expects.
func ReverseBandOrder(bands []model.BandIndex) ([]model.BandIndex, error) {
	for i := 1; i < len(bands); i++ {
		if bands[i] > bands[i-1] {
			return nil, fmt.Errorf("%w: %v", ErrNonMonotonicBands, bands)
		}
	}
	out := make([]model.BandIndex, len(bands))
	for i, b := range bands {
		out[len(bands)-1-i] = b
	}
	return out, nil
}

func powInt(x decimal.Decimal, n int64) decimal.Decimal {
	if n == 0 {
		return one
	}
	if x.IsZero() {
		return decimal.Zero
	}
	if n < 0 {
		denom := powInt(x, -n)
		if denom.IsZero() {
			return decimal.Zero
		}
		return one.DivRound(denom, priceScale)
	}
	result := one
	base := x
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base).Round(priceScale)
		}
		base = base.Mul(base).Round(priceScale)
		n >>= 1
	}
	return result
}

// sqrt runs Newton iterations seeded from the float estimate.
func sqrt(x decimal.Decimal) decimal.Decimal {
	guess := decimal.NewFromFloat(math.Sqrt(x.InexactFloat64()))
	if !guess.IsPositive() {
		guess = one
	}
	for i := 0; i < 8; i++ {
		next := guess.Add(x.DivRound(guess, priceScale)).DivRound(two, priceScale)
		if next.Equal(guess) {
			break
		}
		guess = next
	}
	return guess.Round(18)
}
