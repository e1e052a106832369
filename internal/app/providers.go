package app

import (
	"github.com/ggonzalez94/llamarisk/internal/config"
	"github.com/ggonzalez94/llamarisk/internal/httpx"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/ggonzalez94/llamarisk/internal/providers"
	"github.com/ggonzalez94/llamarisk/internal/providers/curveprices"
	"github.com/ggonzalez94/llamarisk/internal/providers/defillama"
	"github.com/ggonzalez94/llamarisk/internal/providers/evmgas"
	"github.com/ggonzalez94/llamarisk/internal/providers/llamma"
	"github.com/ggonzalez94/llamarisk/internal/registry"
	"github.com/ggonzalez94/llamarisk/internal/version"
	"go.uber.org/zap"
)

// providerSet is every data source a command may read from.
type providerSet struct {
	market  providers.MarketDataProvider
	history providers.LoanHistoryProvider
	revenue providers.RevenueFeed
	gas     providers.GasPriceProvider
	rates   providers.USDRateProvider
	infos   []model.ProviderInfo
	close   func()
}

type providerFactory func(settings config.Settings, logger *zap.Logger) (*providerSet, error)

func defaultProviders(settings config.Settings, logger *zap.Logger) (*providerSet, error) {
	resolve := func(chain id.Chain) (string, error) {
		return registry.ResolveRPCURL(settings.RPCURLs[chain.CAIP2], chain.EVMChainID)
	}
	httpClient := httpx.New(settings.Timeout, settings.Retries,
		httpx.WithRateLimit(settings.RequestsPerSecond),
		httpx.WithLogger(logger.Named("http")),
		httpx.WithUserAgent(version.UserAgent()),
	)

	market := llamma.New(llamma.EthclientDialer(resolve), logger.Named("llamma"), llamma.Options{
		MaxMarketBands:    settings.MaxMarketBands,
		FetchWorkers:      settings.FetchWorkers,
		RequestsPerSecond: settings.RequestsPerSecond,
	})
	history := curveprices.New(httpClient).WithBaseURL(settings.CurvePricesURL)
	llama := defillama.New(httpClient, settings.DefiLlamaAPIKey)
	// A custom endpoint wins over the pro API route picked from the key.
	if settings.DefiLlamaURL != registry.DefiLlamaCoinsURL {
		llama = llama.WithBaseURL(settings.DefiLlamaURL)
	}
	gasPrices := evmgas.New(resolve, logger.Named("evmgas"))

	return &providerSet{
		market:  market,
		history: history,
		revenue: history,
		gas:     gasPrices,
		rates:   llama,
		infos: []model.ProviderInfo{
			market.Info(),
			history.Info(),
			llama.Info(),
			gasPrices.Info(),
		},
		close: market.Close,
	}, nil
}
