package defillama

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/httpx"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/ggonzalez94/llamarisk/internal/providers"
	"github.com/shopspring/decimal"
)

const (
	defaultCoinsBase = "https://coins.llama.fi"
	proAPIBase       = "https://pro-api.llama.fi"
	searchWidth      = "4h"
)

type Client struct {
	http      *httpx.Client
	coinsBase string
	apiKey    string
	now       func() time.Time
}

var _ providers.USDRateProvider = (*Client)(nil)

// New builds a coins client. A non-empty apiKey routes requests through the pro API.
func New(httpClient *httpx.Client, apiKey string) *Client {
	c := &Client{
		http:      httpClient,
		coinsBase: defaultCoinsBase,
		apiKey:    strings.TrimSpace(apiKey),
		now:       time.Now,
	}
	if c.apiKey != "" {
		c.coinsBase = proAPIBase + "/" + url.PathEscape(c.apiKey) + "/coins"
	}
	return c
}

// WithBaseURL points the client at another coins endpoint.
func (c *Client) WithBaseURL(base string) *Client {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		c.coinsBase = base
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "defillama",
		Type:          "usd_rates",
		RequiresKey:   false,
		KeyEnvVarName: "LLAMARISK_DEFILLAMA_API_KEY",
		Capabilities: []string{
			"rates.native",
			"rates.token",
		},
	}
}

type coinPrice struct {
	Decimals   int     `json:"decimals"`
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

type pricesResp struct {
	Coins map[string]coinPrice `json:"coins"`
}

// Price is a USD quote for one DefiLlama coin id.
type Price struct {
	CoinID    string          `json:"coin_id"`
	Symbol    string          `json:"symbol"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Prices fetches current USD prices for coin ids such as "ethereum:0xabc" or
// "coingecko:ethereum". Ids without a quote are absent from the result.
func (c *Client) Prices(ctx context.Context, coinIDs []string) (map[string]Price, error) {
	ids := normalizeCoinIDs(coinIDs)
	if len(ids) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "at least one coin id is required")
	}
	u := fmt.Sprintf("%s/prices/current/%s?searchWidth=%s", c.coinsBase, strings.Join(ids, ","), searchWidth)
	var resp pricesResp
	if err := c.http.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]Price, len(resp.Coins))
	for coinID, item := range resp.Coins {
		if item.Price <= 0 {
			continue
		}
		out[strings.ToLower(coinID)] = Price{
			CoinID:    coinID,
			Symbol:    item.Symbol,
			PriceUSD:  decimal.NewFromFloat(item.Price),
			UpdatedAt: time.Unix(item.Timestamp, 0).UTC(),
		}
	}
	return out, nil
}

func (c *Client) NativeUSDRate(ctx context.Context, chain id.Chain) (decimal.Decimal, error) {
	if chain.NativeCoinID == "" {
		return decimal.Zero, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no native coin id for chain %s", chain.Slug))
	}
	return c.single(ctx, chain.NativeCoinID)
}

func (c *Client) TokenUSDRate(ctx context.Context, chain id.Chain, address string) (decimal.Decimal, error) {
	if chain.LlamaSlug == "" {
		return decimal.Zero, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain %s has no coins slug", chain.Slug))
	}
	return c.single(ctx, chain.LlamaSlug+":"+strings.ToLower(address))
}

func (c *Client) single(ctx context.Context, coinID string) (decimal.Decimal, error) {
	prices, err := c.Prices(ctx, []string{coinID})
	if err != nil {
		return decimal.Zero, err
	}
	p, ok := prices[strings.ToLower(coinID)]
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no usd price for %s", coinID))
	}
	if age := c.now().Sub(p.UpdatedAt); age > 24*time.Hour {
		return decimal.Zero, clierr.New(clierr.CodeStale, fmt.Sprintf("usd price for %s is %s old", coinID, age.Round(time.Minute)))
	}
	return p.PriceUSD, nil
}

func normalizeCoinIDs(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		v := strings.ToLower(strings.TrimSpace(raw))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
