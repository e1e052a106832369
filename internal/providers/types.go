package providers

import (
	"context"

	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
)

type Provider interface {
	Info() model.ProviderInfo
}

// MarketDataProvider reads LLAMMA controller and AMM state for a market key.
type MarketDataProvider interface {
	Provider
	LoanExists(ctx context.Context, key model.MarketKey) (bool, error)
	UserState(ctx context.Context, key model.MarketKey) (model.LoanState, error)
	UserHealth(ctx context.Context, key model.MarketKey, full bool) (decimal.Decimal, error)
	UserRange(ctx context.Context, key model.MarketKey) (int64, error)
	// UserBands returns the position's band pair price-ascending.
	UserBands(ctx context.Context, key model.MarketKey) ([]model.BandIndex, error)
	UserPrices(ctx context.Context, key model.MarketKey) ([]decimal.Decimal, error)
	UserBandsBalances(ctx context.Context, key model.MarketKey) ([]model.BandBalance, error)
	OraclePrice(ctx context.Context, key model.MarketKey) (decimal.Decimal, error)
	OraclePriceBand(ctx context.Context, key model.MarketKey) (model.BandIndex, error)
	// LiquidationBand returns nil when the active band is not being converted.
	LiquidationBand(ctx context.Context, key model.MarketKey) (*model.BandIndex, error)
	Geometry(ctx context.Context, key model.MarketKey) (model.MarketGeometry, error)
	MarketBandsBalances(ctx context.Context, key model.MarketKey) ([]model.BandBalance, error)
	MarketTokens(ctx context.Context, key model.MarketKey) (model.MarketTokens, error)
}

// LoanHistoryProvider serves indexed position history.
type LoanHistoryProvider interface {
	Provider
	UserHistory(ctx context.Context, key model.MarketKey) (model.UserHistory, error)
}

type GasPriceProvider interface {
	Provider
	GasPrices(ctx context.Context, chain id.Chain) (model.GasPriceInfo, error)
}

type USDRateProvider interface {
	Provider
	NativeUSDRate(ctx context.Context, chain id.Chain) (decimal.Decimal, error)
	TokenUSDRate(ctx context.Context, chain id.Chain, address string) (decimal.Decimal, error)
}

type RevenueFeed interface {
	Provider
	RevenueEvents(ctx context.Context, maxPages int) ([]model.RevenueEvent, error)
}

// RPCURLResolver maps a chain to the JSON-RPC endpoint used for it.
type RPCURLResolver func(chain id.Chain) (string, error)
