// Package loan assembles a user's LLAMMA loan details from market data providers.
package loan

import (
	"fmt"

	"github.com/ggonzalez94/llamarisk/internal/bands"
	"github.com/ggonzalez94/llamarisk/internal/health"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
)

var lossDust = decimal.New(1, -8)

// UserLoanDetails is the aggregated view of one user's position in one market.
type UserLoanDetails struct {
	Key                  model.MarketKey     `json:"key"`
	LoanExists           bool                `json:"loan_exists"`
	State                model.LoanState     `json:"state"`
	Health               decimal.Decimal     `json:"health"`
	HealthFull           decimal.Decimal     `json:"health_full"`
	HealthNotFull        decimal.Decimal     `json:"health_not_full"`
	Bands                []model.BandIndex   `json:"bands"`
	BandsBalances        []bands.Row         `json:"bands_balances"`
	BandsPct             string              `json:"bands_pct"`
	Range                *int64              `json:"range,omitempty"`
	Prices               []decimal.Decimal   `json:"prices"`
	Loss                 *model.UserLoss     `json:"loss,omitempty"`
	OraclePrice          decimal.NullDecimal `json:"oracle_price"`
	Leverage             decimal.NullDecimal `json:"leverage"`
	PnL                  *model.UserPnL      `json:"pnl,omitempty"`
	IsCloseToLiquidation bool                `json:"is_close_to_liquidation"`
	LiquidationBand      *model.BandIndex    `json:"liquidation_band"`
	OraclePriceBand      *model.BandIndex    `json:"oracle_price_band"`
	Status               health.Status       `json:"status"`
	Warnings             []string            `json:"-"`
}

// Inputs carries raw provider results. Bands are price-ascending as providers return them.
type Inputs struct {
	Key             model.MarketKey
	LoanExists      bool
	State           model.LoanState
	HealthFull      decimal.Decimal
	HealthNotFull   decimal.Decimal
	Range           *int64
	Bands           []model.BandIndex
	BandsBalances   []model.BandBalance
	Prices          []decimal.Decimal
	Geometry        model.MarketGeometry
	OraclePriceBand *model.BandIndex
	LiquidationBand *model.BandIndex
	OraclePrice     decimal.NullDecimal
	Leverage        decimal.NullDecimal
	PnL             *model.UserPnL
	Loss            *model.UserLoss
}

type Options struct {
	CloseToLiquidationBands int64
	// SoftLiquidationDust is used as given. Zero flags any converted amount.
	SoftLiquidationDust decimal.Decimal
}

func DefaultOptions() Options {
	return Options{
		CloseToLiquidationBands: health.DefaultCloseToLiquidationBands,
		SoftLiquidationDust:     health.DefaultSoftLiquidationDust,
	}
}

// NoLoan is the neutral record for a key without an open loan.
func NoLoan(key model.MarketKey) UserLoanDetails {
	return UserLoanDetails{
		Key:           key,
		State:         model.LoanState{Collateral: decimal.Zero, Borrowed: decimal.Zero, Debt: decimal.Zero},
		Health:        decimal.Zero,
		HealthFull:    decimal.Zero,
		HealthNotFull: decimal.Zero,
		Bands:         []model.BandIndex{},
		BandsBalances: []bands.Row{},
		BandsPct:      "0",
		Prices:        []decimal.Decimal{},
		Status:        health.Classify(decimal.Zero, false, decimal.Zero),
	}
}

// Aggregate derives loan details from in. It does no I/O.
func Aggregate(in Inputs, opts Options) (UserLoanDetails, error) {
	if !in.LoanExists {
		return NoLoan(in.Key), nil
	}

	userBands, err := bands.ReverseBandOrder(in.Bands)
	if err != nil {
		return UserLoanDetails{}, fmt.Errorf("user bands %v: %w", in.Bands, err)
	}

	rows := []bands.Row{}
	if len(in.BandsBalances) > 0 {
		rows, err = bands.ParseRows(in.BandsBalances, in.Geometry, in.LiquidationBand, false)
		if err != nil {
			return UserLoanDetails{}, fmt.Errorf("user band balances: %w", err)
		}
	}

	bandsPct := "0"
	if in.Range != nil {
		bandsPct = bands.RangePct(*in.Range, in.Geometry).String()
	}

	closeToLiquidation := false
	if len(userBands) > 0 {
		closeToLiquidation = health.IsCloseToLiquidation(userBands[0], in.LiquidationBand, in.OraclePriceBand, opts.CloseToLiquidationBands)
	}

	status := health.ClassifyPosition(health.Input{
		HealthNotFull:      in.HealthNotFull,
		CloseToLiquidation: closeToLiquidation,
		Debt:               in.State.Debt,
		SoftLiquidated:     in.State.Borrowed,
		DustThreshold:      decimal.NewNullDecimal(opts.SoftLiquidationDust),
	})

	prices := in.Prices
	if prices == nil {
		prices = []decimal.Decimal{}
	}

	return UserLoanDetails{
		Key:                  in.Key,
		LoanExists:           true,
		State:                in.State,
		Health:               health.Select(in.HealthFull, in.HealthNotFull),
		HealthFull:           in.HealthFull,
		HealthNotFull:        in.HealthNotFull,
		Bands:                userBands,
		BandsBalances:        rows,
		BandsPct:             bandsPct,
		Range:                in.Range,
		Prices:               prices,
		Loss:                 normalizeLoss(in.Loss),
		OraclePrice:          in.OraclePrice,
		Leverage:             in.Leverage,
		PnL:                  in.PnL,
		IsCloseToLiquidation: closeToLiquidation,
		LiquidationBand:      in.LiquidationBand,
		OraclePriceBand:      in.OraclePriceBand,
		Status:               status,
	}, nil
}

// normalizeLoss zeroes loss figures below 1e-8 so rounding noise is not shown as a loss.
func normalizeLoss(loss *model.UserLoss) *model.UserLoss {
	if loss == nil {
		return nil
	}
	out := *loss
	if out.Loss.LessThan(lossDust) {
		out.Loss = decimal.Zero
	}
	if out.LossPct.LessThan(lossDust) {
		out.LossPct = decimal.Zero
	}
	return &out
}

// Leverage is collateral value over equity, both in borrowed-token units.
// It is invalid when the position has no equity.
func Leverage(state model.LoanState, oraclePrice decimal.Decimal) decimal.NullDecimal {
	value := state.Collateral.Mul(oraclePrice).Add(state.Borrowed)
	equity := value.Sub(state.Debt)
	if !equity.IsPositive() || !value.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value.DivRound(equity, 4))
}
