package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ggonzalez94/llamarisk/internal/bands"
	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/loan"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type bandsReport struct {
	Key             model.MarketKey  `json:"key"`
	OraclePriceBand model.BandIndex  `json:"oracle_price_band"`
	LiquidationBand *model.BandIndex `json:"liquidation_band"`
	// ValuesIn names the unit of the *_value_usd fields.
	ValuesIn       string           `json:"values_in"`
	Bands          []bands.Point    `json:"bands"`
	UserPriceRange *loan.PriceRange `json:"user_price_range,omitempty"`
}

func (s *runtimeState) newBandsCommand() *cobra.Command {
	var args marketArgs
	var usd bool
	cmd := &cobra.Command{
		Use:   "bands",
		Short: "Market liquidity per band, merged with a user's bands when --user is set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chain, key, err := args.parse(false)
			if err != nil {
				return err
			}
			req := commandRequest{
				path:   trimRootPath(cmd.CommandPath()),
				params: map[string]any{"key": key.String(), "usd": usd},
				key:    key.String(),
				ttl:    60 * time.Second,
			}
			return s.runCachedCommand(req, func(ctx context.Context) (fetchResult, error) {
				return s.fetchBands(ctx, chain, key, usd)
			})
		},
	}
	args.register(cmd, false)
	cmd.Flags().BoolVar(&usd, "usd", false, "Convert band values to USD with the borrowed token rate")
	return cmd
}

func (s *runtimeState) fetchBands(ctx context.Context, chain id.Chain, key model.MarketKey, usd bool) (fetchResult, error) {
	var res fetchResult
	market := s.providers.market
	marketKey := key.Market()

	var (
		geometry        model.MarketGeometry
		oracleBand      model.BandIndex
		liquidationBand *model.BandIndex
		marketBalances  []model.BandBalance
		userBalances    []model.BandBalance
		tokens          model.MarketTokens
		hasLoan         bool
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		geometry, err = market.Geometry(gctx, marketKey)
		return err
	})
	g.Go(func() (err error) {
		oracleBand, err = market.OraclePriceBand(gctx, marketKey)
		return err
	})
	g.Go(func() (err error) {
		liquidationBand, err = market.LiquidationBand(gctx, marketKey)
		return err
	})
	g.Go(func() (err error) {
		marketBalances, err = market.MarketBandsBalances(gctx, marketKey)
		return err
	})
	g.Go(func() (err error) {
		tokens, err = market.MarketTokens(gctx, marketKey)
		return err
	})
	if key.User != "" {
		g.Go(func() error {
			exists, err := market.LoanExists(gctx, key)
			if err != nil || !exists {
				return err
			}
			hasLoan = true
			userBalances, err = market.UserBandsBalances(gctx, key)
			return err
		})
	}
	err := g.Wait()
	res.observe(market.Info().Name, start, err)
	if err != nil {
		return res, err
	}
	if key.User != "" && !hasLoan {
		res.Warnings = append(res.Warnings, fmt.Sprintf("no loan for %s in this market", key.User))
	}

	marketRows, err := bands.ParseRows(marketBalances, geometry, liquidationBand, true)
	if err != nil {
		return res, clierr.Wrap(clierr.CodeInvalidData, "parse market bands", err)
	}
	userRows, err := bands.ParseRows(userBalances, geometry, liquidationBand, false)
	if err != nil {
		return res, clierr.Wrap(clierr.CodeInvalidData, "parse user bands", err)
	}

	valuesIn := tokens.Borrowed.Symbol
	if usd && s.providers.rates != nil {
		start = time.Now()
		rate, err := s.providers.rates.TokenUSDRate(ctx, chain, tokens.Borrowed.Address)
		res.observe(s.providers.rates.Info().Name, start, err)
		if err != nil {
			s.logger.Warn("borrowed usd rate unavailable", zap.String("token", tokens.Borrowed.Symbol), zap.Error(err))
			res.degrade("%s usd rate unavailable, values left in %s: %v", tokens.Borrowed.Symbol, tokens.Borrowed.Symbol, err)
		} else {
			marketRows = bands.InUsd(marketRows, rate)
			userRows = bands.InUsd(userRows, rate)
			valuesIn = "USD"
		}
	}

	points := bands.Merge(marketRows, userRows, &oracleBand)
	report := bandsReport{
		Key:             key,
		OraclePriceBand: oracleBand,
		LiquidationBand: liquidationBand,
		ValuesIn:        valuesIn,
		Bands:           points,
	}
	if upper, lower, ok := bands.UserPriceRange(points); ok {
		report.UserPriceRange = &loan.PriceRange{Upper: upper, Lower: lower}
	}
	res.Data = report
	return res, nil
}
