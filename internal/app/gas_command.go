package app

import (
	"context"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/gas"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var gasTiers = map[string]int{"slow": 0, "normal": 1, "fast": 2}

type gasReport struct {
	Chain    string   `json:"chain"`
	Tier     string   `json:"tier"`
	Estimate string   `json:"estimate"`
	Cost     gas.Cost `json:"cost"`
}

func parseGasEstimate(chain id.Chain, units, l2, l1 uint64) (gas.EstimatedGas, error) {
	split := l2 > 0 || l1 > 0
	switch {
	case units > 0 && split:
		return gas.EstimatedGas{}, clierr.New(clierr.CodeUsage, "use either --gas or --l2-gas/--l1-gas, not both")
	case split && chain.GasModel != id.GasFeeRollupSplit:
		return gas.EstimatedGas{}, clierr.Newf(clierr.CodeUsage, "--l2-gas/--l1-gas need a rollup chain, %s prices a single --gas figure", chain.Slug)
	case split:
		return gas.RollupSplit(l2, l1), nil
	case units > 0:
		return gas.Uniform(units), nil
	default:
		return gas.EstimatedGas{}, clierr.New(clierr.CodeUsage, "--gas or --l2-gas/--l1-gas is required")
	}
}

func (s *runtimeState) newGasCommand() *cobra.Command {
	var chainArg, tierArg string
	var units, l2Units, l1Units uint64
	cmd := &cobra.Command{
		Use:   "gas",
		Short: "Price a gas estimate in native token and USD",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			estimate, err := parseGasEstimate(chain, units, l2Units, l1Units)
			if err != nil {
				return err
			}
			tierName := strings.ToLower(strings.TrimSpace(tierArg))
			tier, ok := gasTiers[tierName]
			if !ok {
				return clierr.New(clierr.CodeUsage, "--tier must be slow, normal or fast")
			}
			chain.DefaultTier = tier

			req := commandRequest{
				path:   trimRootPath(cmd.CommandPath()),
				params: map[string]any{"chain": chain.CAIP2, "estimate": estimate.String(), "tier": tierName},
				ttl:    60 * time.Second,
			}
			return s.runCachedCommand(req, func(ctx context.Context) (fetchResult, error) {
				return s.fetchGasCost(ctx, chain, tierName, estimate)
			})
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id/name/CAIP-2")
	cmd.Flags().Uint64Var(&units, "gas", 0, "Gas units of the transaction")
	cmd.Flags().Uint64Var(&l2Units, "l2-gas", 0, "L2 execution gas units on rollups")
	cmd.Flags().Uint64Var(&l1Units, "l1-gas", 0, "L1 data gas units on rollups")
	cmd.Flags().StringVar(&tierArg, "tier", "normal", "Fee tier (slow|normal|fast)")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

// fetchGasCost needs gas prices. The USD rate is optional and its absence marks the
// result partial.
func (s *runtimeState) fetchGasCost(ctx context.Context, chain id.Chain, tier string, estimate gas.EstimatedGas) (fetchResult, error) {
	var res fetchResult
	start := time.Now()
	prices, err := s.providers.gas.GasPrices(ctx, chain)
	res.observe(s.providers.gas.Info().Name, start, err)
	if err != nil {
		return res, err
	}

	var usdRate decimal.NullDecimal
	if s.providers.rates != nil {
		start = time.Now()
		rate, err := s.providers.rates.NativeUSDRate(ctx, chain)
		res.observe(s.providers.rates.Info().Name, start, err)
		if err != nil {
			s.logger.Warn("native usd rate unavailable", zap.String("chain", chain.Slug), zap.Error(err))
			res.degrade("%s usd rate unavailable: %v", chain.NativeSymbol, err)
		} else {
			usdRate = decimal.NewNullDecimal(rate)
		}
	}

	cost := gas.Estimate(chain, estimate, &prices, usdRate)
	if !cost.Available {
		res.degrade("gas cost unavailable for %s with a %s estimate", chain.Slug, estimate.String())
	}
	res.Data = gasReport{Chain: chain.CAIP2, Tier: tier, Estimate: estimate.String(), Cost: cost}
	return res, nil
}
