package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/loan"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/ggonzalez94/llamarisk/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type positionReport struct {
	Position loan.PositionDetails `json:"position"`
	Details  loan.UserLoanDetails `json:"details"`
	Tokens   *model.MarketTokens  `json:"tokens,omitempty"`
}

type marketArgs struct {
	chain      string
	marketType string
	controller string
	user       string
}

func (a *marketArgs) register(cmd *cobra.Command, userRequired bool) {
	cmd.Flags().StringVar(&a.chain, "chain", "", "Chain id/name/CAIP-2")
	cmd.Flags().StringVar(&a.controller, "market", "", "Market controller address, or a crvUSD mint collateral alias on Ethereum (weth, wsteth, wbtc, tbtc)")
	cmd.Flags().StringVar(&a.marketType, "type", "lend", "Market type (lend|mint)")
	cmd.Flags().StringVar(&a.user, "user", "", "Borrower address")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("market")
	if userRequired {
		_ = cmd.MarkFlagRequired("user")
	}
}

func (a marketArgs) parse(userRequired bool) (id.Chain, model.MarketKey, error) {
	chain, err := id.ParseChain(a.chain)
	if err != nil {
		return id.Chain{}, model.MarketKey{}, err
	}
	marketType, err := model.ParseMarketType(a.marketType)
	if err != nil {
		return id.Chain{}, model.MarketKey{}, clierr.Wrap(clierr.CodeUsage, "parse --type", err)
	}
	controllerArg := a.controller
	if alias, ok := registry.MintController(a.controller); ok && chain.EVMChainID == 1 {
		controllerArg = alias
		marketType = model.MarketTypeMint
	}
	controller, err := id.ParseAddress(controllerArg, "--market")
	if err != nil {
		return id.Chain{}, model.MarketKey{}, err
	}
	key := model.MarketKey{ChainID: chain.CAIP2, MarketType: marketType, Controller: controller}
	if strings.TrimSpace(a.user) != "" || userRequired {
		user, err := id.ParseAddress(a.user, "--user")
		if err != nil {
			return id.Chain{}, model.MarketKey{}, err
		}
		key.User = user
	}
	return chain, key, nil
}

func (s *runtimeState) newPositionCommand() *cobra.Command {
	var args marketArgs
	var watch bool
	var interval time.Duration
	var maxUpdates int
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Health, liquidation range and loss of a user's loan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chain, key, err := args.parse(true)
			if err != nil {
				return err
			}
			path := trimRootPath(cmd.CommandPath())
			if watch {
				if interval <= 0 {
					interval = s.settings.WatchInterval
				}
				if interval < time.Second {
					return clierr.New(clierr.CodeUsage, "--interval must be at least 1s")
				}
				return s.watchPosition(path, chain, key, interval, maxUpdates)
			}

			req := commandRequest{
				path:   path,
				params: map[string]any{"key": key.String()},
				key:    key.String(),
				ttl:    60 * time.Second,
			}
			return s.runCachedCommand(req, func(ctx context.Context) (fetchResult, error) {
				start := time.Now()
				details, err := s.loanFetcher().Fetch(ctx, key)
				res := s.loanResult(details, start, err)
				if err != nil {
					return res, err
				}
				return s.buildPositionReport(ctx, chain, details, res)
			})
		},
	}
	args.register(cmd, true)
	cmd.Flags().BoolVar(&watch, "watch", false, "Refresh the position on an interval, one envelope per update")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Refresh interval for --watch (default from config)")
	cmd.Flags().IntVar(&maxUpdates, "max-updates", 0, "Stop --watch after this many updates (0 runs until interrupted)")
	return cmd
}

func (s *runtimeState) loanFetcher() *loan.Fetcher {
	return loan.NewFetcher(s.providers.market, s.providers.history, s.logger.Named("loan"), loan.Options{
		CloseToLiquidationBands: s.settings.CloseToLiquidationBands,
		SoftLiquidationDust:     s.settings.SoftLiquidationDust,
	})
}

// loanResult records the market read and, for an open loan, the history read whose
// failures surface as fetcher warnings.
func (s *runtimeState) loanResult(details loan.UserLoanDetails, start time.Time, err error) fetchResult {
	var res fetchResult
	res.observe(s.providers.market.Info().Name, start, err)
	if s.providers.history != nil && err == nil && details.LoanExists {
		var historyErr error
		if len(details.Warnings) > 0 {
			historyErr = errors.New(strings.Join(details.Warnings, "; "))
		}
		res.observe(s.providers.history.Info().Name, start, historyErr)
	}
	return res
}

// buildPositionReport prices the loan in USD with the oracle price the fetcher read.
// Missing rates or history leave the report partial instead of failing it.
func (s *runtimeState) buildPositionReport(ctx context.Context, chain id.Chain, details loan.UserLoanDetails, res fetchResult) (fetchResult, error) {
	for _, warning := range details.Warnings {
		res.degrade("%s", warning)
	}
	if !details.LoanExists {
		res.Data = positionReport{Position: loan.BuildPositionDetails(details, loan.Rates{}), Details: details}
		return res, nil
	}

	market := s.providers.market
	tokens, err := market.MarketTokens(ctx, details.Key)
	if err != nil {
		return res, err
	}
	rates := loan.Rates{OraclePrice: details.OraclePrice}

	if s.providers.rates != nil {
		var (
			collateralUsd, borrowedUsd decimal.Decimal
			collateralErr, borrowedErr error
		)
		start := time.Now()
		var g errgroup.Group
		g.Go(func() error {
			collateralUsd, collateralErr = s.providers.rates.TokenUSDRate(ctx, chain, tokens.Collateral.Address)
			return nil
		})
		g.Go(func() error {
			borrowedUsd, borrowedErr = s.providers.rates.TokenUSDRate(ctx, chain, tokens.Borrowed.Address)
			return nil
		})
		_ = g.Wait()
		res.observe(s.providers.rates.Info().Name, start, errors.Join(collateralErr, borrowedErr))
		if collateralErr == nil {
			rates.CollateralUsd = decimal.NewNullDecimal(collateralUsd)
		} else {
			s.logger.Warn("collateral usd rate unavailable", zap.String("token", tokens.Collateral.Symbol), zap.Error(collateralErr))
			res.degrade("%s usd rate unavailable: %v", tokens.Collateral.Symbol, collateralErr)
		}
		if borrowedErr == nil {
			rates.BorrowedUsd = decimal.NewNullDecimal(borrowedUsd)
		} else {
			s.logger.Warn("borrowed usd rate unavailable", zap.String("token", tokens.Borrowed.Symbol), zap.Error(borrowedErr))
			res.degrade("%s usd rate unavailable: %v", tokens.Borrowed.Symbol, borrowedErr)
		}
	}

	res.Data = positionReport{
		Position: loan.BuildPositionDetails(details, rates),
		Details:  details,
		Tokens:   &tokens,
	}
	return res, nil
}

// watchPosition reloads the key through a session until maxUpdates envelopes were
// written or the process is interrupted. Watch output bypasses the cache. A retryable
// provider failure is logged and retried on the next tick.
func (s *runtimeState) watchPosition(path string, chain id.Chain, key model.MarketKey, interval time.Duration, maxUpdates int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	req := commandRequest{path: path, key: key.String()}
	s.lastKey = req.key
	session := loan.NewSession(s.loanFetcher())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for updates, attempts := 0, 0; maxUpdates <= 0 || updates < maxUpdates; attempts++ {
		if attempts > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		s.resetCommandDiagnostics()
		res, err := s.loadWatched(ctx, session, chain, key)
		if errors.Is(err, loan.ErrStaleKey) {
			continue
		}
		s.captureCommandDiagnostics(res.Warnings, res.Providers, res.Partial)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if clierr.Retryable(err) && updates > 0 {
				s.logger.Warn("position refresh failed, retrying", zap.Stringer("key", key), zap.Error(err))
				continue
			}
			return err
		}
		if res.Partial && s.settings.Strict {
			return clierr.New(clierr.CodePartialStrict, "partial results returned in strict mode")
		}
		if err := s.emitSuccess(req, res, cacheMetaBypass()); err != nil {
			return err
		}
		updates++
		s.logger.Debug("position update written", zap.Stringer("key", session.Current()), zap.Int("update", updates))
	}
	return nil
}

func (s *runtimeState) loadWatched(ctx context.Context, session *loan.Session, chain id.Chain, key model.MarketKey) (fetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	start := time.Now()
	details, err := session.Load(ctx, key)
	res := s.loanResult(details, start, err)
	if err != nil {
		return res, err
	}
	return s.buildPositionReport(ctx, chain, details, res)
}
