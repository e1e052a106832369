package loan

import (
	"context"
	"fmt"

	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/ggonzalez94/llamarisk/internal/providers"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DetailsFetcher loads loan details for one key.
type DetailsFetcher interface {
	Fetch(ctx context.Context, key model.MarketKey) (UserLoanDetails, error)
}

// Fetcher fans out provider reads for a key and aggregates the results.
// History is optional. Its failure is logged and reported as a warning.
type Fetcher struct {
	market  providers.MarketDataProvider
	history providers.LoanHistoryProvider
	logger  *zap.Logger
	opts    Options
}

func NewFetcher(market providers.MarketDataProvider, history providers.LoanHistoryProvider, logger *zap.Logger, opts Options) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{market: market, history: history, logger: logger, opts: opts}
}

func (f *Fetcher) Fetch(ctx context.Context, key model.MarketKey) (UserLoanDetails, error) {
	exists, err := f.market.LoanExists(ctx, key)
	if err != nil {
		return UserLoanDetails{}, required("loan_exists", err)
	}
	if !exists {
		f.logger.Debug("no loan for key", zap.Stringer("key", key))
		return NoLoan(key), nil
	}

	in := Inputs{Key: key, LoanExists: true}
	var (
		oraclePrice    decimal.Decimal
		historyWarning string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state, err := f.market.UserState(gctx, key)
		if err != nil {
			return required("user_state", err)
		}
		in.State = state
		return nil
	})
	g.Go(func() error {
		v, err := f.market.UserHealth(gctx, key, true)
		if err != nil {
			return required("health_full", err)
		}
		in.HealthFull = v
		return nil
	})
	g.Go(func() error {
		v, err := f.market.UserHealth(gctx, key, false)
		if err != nil {
			return required("health_not_full", err)
		}
		in.HealthNotFull = v
		return nil
	})
	g.Go(func() error {
		v, err := f.market.UserRange(gctx, key)
		if err != nil {
			return required("user_range", err)
		}
		in.Range = &v
		return nil
	})
	g.Go(func() error {
		v, err := f.market.UserBands(gctx, key)
		if err != nil {
			return required("user_bands", err)
		}
		in.Bands = v
		return nil
	})
	g.Go(func() error {
		v, err := f.market.UserPrices(gctx, key)
		if err != nil {
			return required("user_prices", err)
		}
		in.Prices = v
		return nil
	})
	g.Go(func() error {
		v, err := f.market.Geometry(gctx, key)
		if err != nil {
			return required("market_geometry", err)
		}
		in.Geometry = v
		return nil
	})
	g.Go(func() error {
		price, err := f.market.OraclePrice(gctx, key)
		if err != nil {
			return required("oracle_price", err)
		}
		oraclePrice = price
		band, err := f.market.OraclePriceBand(gctx, key)
		if err != nil {
			return required("oracle_price_band", err)
		}
		in.OraclePriceBand = &band
		return nil
	})
	// Band balances are flagged against the liquidation band, so they wait for it.
	g.Go(func() error {
		band, err := f.market.LiquidationBand(gctx, key)
		if err != nil {
			return required("liquidation_band", err)
		}
		in.LiquidationBand = band
		balances, err := f.market.UserBandsBalances(gctx, key)
		if err != nil {
			return required("user_bands_balances", err)
		}
		in.BandsBalances = balances
		return nil
	})
	if f.history != nil {
		g.Go(func() error {
			history, err := f.history.UserHistory(gctx, key)
			if err != nil {
				f.logger.Warn("user history unavailable", zap.Stringer("key", key), zap.Error(err))
				historyWarning = fmt.Sprintf("user loss and pnl unavailable: %v", err)
				return nil
			}
			in.Loss = &history.Loss
			if key.MarketType == model.MarketTypeLend {
				in.PnL = history.PnL
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return UserLoanDetails{}, err
	}

	in.OraclePrice = decimal.NewNullDecimal(oraclePrice)
	if key.MarketType == model.MarketTypeLend {
		in.Leverage = Leverage(in.State, oraclePrice)
	}

	details, err := Aggregate(in, f.opts)
	if err != nil {
		return UserLoanDetails{}, clierr.Wrap(clierr.CodeInvalidData, "aggregate loan details", err)
	}
	if historyWarning != "" {
		details.Warnings = append(details.Warnings, historyWarning)
	}
	f.logger.Debug("loan details fetched",
		zap.Stringer("key", key),
		zap.String("status", string(details.Status.ColorKey)),
		zap.String("health", details.Health.String()),
	)
	return details, nil
}

// required wraps a failed mandatory read, keeping the provider's error code when it has one.
func required(field string, err error) error {
	if cErr, ok := clierr.As(err); ok {
		return clierr.Wrap(cErr.Code, "fetch "+field, err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "fetch "+field, err)
}
