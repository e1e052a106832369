package llamma

import (
	"context"
	"math/big"
	"sort"

	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MarketBandsBalances scans min_band..max_band with bounded concurrency. Markets with
// more bands than MaxMarketBands are scanned in a window centred on the active band.
func (c *Client) MarketBandsBalances(ctx context.Context, key model.MarketKey) ([]model.BandBalance, error) {
	m, err := c.meta(ctx, key)
	if err != nil {
		return nil, err
	}
	minBand, err := c.callBigInt(ctx, key.ChainID, ammABI, m.amm, "min_band")
	if err != nil {
		return nil, err
	}
	maxBand, err := c.callBigInt(ctx, key.ChainID, ammABI, m.amm, "max_band")
	if err != nil {
		return nil, err
	}
	active, err := c.callBigInt(ctx, key.ChainID, ammABI, m.amm, "active_band")
	if err != nil {
		return nil, err
	}
	if maxBand.Cmp(minBand) < 0 {
		return nil, clierr.New(clierr.CodeInvalidData, "market max_band is below min_band")
	}

	lo, hi := bandWindow(minBand.Int64(), maxBand.Int64(), active.Int64(), c.opts.MaxMarketBands)
	if lo != minBand.Int64() || hi != maxBand.Int64() {
		c.logger.Warn("market band scan truncated",
			zap.Stringer("market", key.Market()),
			zap.Int64("min_band", minBand.Int64()),
			zap.Int64("max_band", maxBand.Int64()),
			zap.Int64("scan_from", lo),
			zap.Int64("scan_to", hi),
		)
	}

	balances := make([]model.BandBalance, hi-lo+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.FetchWorkers)
	for n := lo; n <= hi; n++ {
		idx := n - lo
		band := model.BandIndex(n)
		g.Go(func() error {
			b, err := c.bandBalance(gctx, key.ChainID, m.amm, band)
			if err != nil {
				return err
			}
			balances[idx] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].N < balances[j].N })
	return balances, nil
}

func bandWindow(minBand, maxBand, active int64, limit int) (int64, int64) {
	if limit <= 0 || maxBand-minBand+1 <= int64(limit) {
		return minBand, maxBand
	}
	lo := active - int64(limit)/2
	if lo < minBand {
		lo = minBand
	}
	hi := lo + int64(limit) - 1
	if hi > maxBand {
		hi = maxBand
		lo = hi - int64(limit) + 1
	}
	return lo, hi
}

func scale(v *big.Int, decimals int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}
