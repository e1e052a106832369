// Package curveprices reads indexed savings revenue and loan history from the Curve prices API.
package curveprices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
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
	defaultBase    = "https://prices.curve.fi"
	revenuePerPage = 100
)

type Client struct {
	http    *httpx.Client
	baseURL string
}

var (
	_ providers.RevenueFeed         = (*Client)(nil)
	_ providers.LoanHistoryProvider = (*Client)(nil)
)

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: defaultBase}
}

func (c *Client) WithBaseURL(base string) *Client {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		c.baseURL = base
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "curveprices",
		Type:        "history",
		RequiresKey: false,
		Capabilities: []string{
			"revenue.events",
			"position.loss",
			"position.pnl",
		},
	}
}

// amount decodes a decimal sent either as a JSON number or a string.
type amount struct {
	decimal.Decimal
}

var _ json.Unmarshaler = (*amount)(nil)

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		a.Decimal = decimal.Zero
		return nil
	}
	raw := strings.Trim(string(b), `"`)
	if raw == "" {
		a.Decimal = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", string(b), err)
	}
	a.Decimal = v
	return nil
}

type revenueItem struct {
	Strategy     string `json:"strategy"`
	Gain         amount `json:"gain"`
	Loss         amount `json:"loss"`
	CurrentDebt  amount `json:"current_debt"`
	TotalRefunds amount `json:"total_refunds"`
	TotalFees    amount `json:"total_fees"`
	ProtocolFees amount `json:"protocol_fees"`
	TxHash       string `json:"tx_hash"`
	DT           string `json:"dt"`
}

type revenueResp struct {
	Count   int           `json:"count"`
	History []revenueItem `json:"history"`
}

// RevenueEvents pages through savings vault strategy reports until the feed is
// exhausted or maxPages pages were read. maxPages <= 0 reads every page.
func (c *Client) RevenueEvents(ctx context.Context, maxPages int) ([]model.RevenueEvent, error) {
	var out []model.RevenueEvent
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		q := url.Values{}
		q.Set("page", fmt.Sprint(page))
		q.Set("per_page", fmt.Sprint(revenuePerPage))
		var resp revenueResp
		if err := c.get(ctx, "/v1/crvusd/savings/revenue?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.History {
			ts, err := parseTimestamp(item.DT)
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInvalidData, "parse revenue timestamp", err)
			}
			out = append(out, model.RevenueEvent{
				Strategy:     item.Strategy,
				Gain:         item.Gain.Decimal,
				Loss:         item.Loss.Decimal,
				CurrentDebt:  item.CurrentDebt.Decimal,
				TotalRefunds: item.TotalRefunds.Decimal,
				TotalFees:    item.TotalFees.Decimal,
				ProtocolFees: item.ProtocolFees.Decimal,
				TxHash:       item.TxHash,
				Timestamp:    ts,
			})
		}
		if len(resp.History) < revenuePerPage || (resp.Count > 0 && len(out) >= resp.Count) {
			break
		}
	}
	return out, nil
}

type userStatsResp struct {
	TotalDeposited amount `json:"total_deposited"`
	CollateralUp   amount `json:"collateral_up"`
	Collateral     amount `json:"collateral"`
	Borrowed       amount `json:"borrowed"`
	Debt           amount `json:"debt"`
	OraclePrice    amount `json:"oracle_price"`
	Loss           amount `json:"loss"`
	LossPct        amount `json:"loss_pct"`
}

func (c *Client) userStats(ctx context.Context, key model.MarketKey) (userStatsResp, error) {
	if key.User == "" {
		return userStatsResp{}, clierr.New(clierr.CodeUsage, "market key has no user")
	}
	chain, err := id.ParseChain(key.ChainID)
	if err != nil {
		return userStatsResp{}, err
	}
	section := "lending"
	if key.MarketType == model.MarketTypeMint {
		section = "crvusd"
	}
	path := fmt.Sprintf("/v1/%s/users/%s/%s/%s/stats",
		section,
		url.PathEscape(chain.LlamaSlug),
		url.PathEscape(strings.ToLower(key.User)),
		url.PathEscape(strings.ToLower(key.Controller)),
	)
	var resp userStatsResp
	if err := c.get(ctx, path, &resp); err != nil {
		return userStatsResp{}, err
	}
	return resp, nil
}

// UserHistory reads the position's stats once. Loss is collateral lost to soft
// liquidation relative to the deposit. Lend positions also get PnL, valued at the
// oracle price against the deposited collateral in borrowed-token units.
func (c *Client) UserHistory(ctx context.Context, key model.MarketKey) (model.UserHistory, error) {
	stats, err := c.userStats(ctx, key)
	if err != nil {
		return model.UserHistory{}, err
	}
	history := model.UserHistory{Loss: model.UserLoss{
		DepositedCollateral:         stats.TotalDeposited.Decimal,
		CurrentCollateralEstimation: stats.CollateralUp.Decimal,
		Loss:                        stats.Loss.Decimal,
		LossPct:                     stats.LossPct.Decimal,
	}}
	if key.MarketType == model.MarketTypeLend {
		pnl := userPnL(stats)
		history.PnL = &pnl
	}
	return history, nil
}

func userPnL(stats userStatsResp) model.UserPnL {
	price := stats.OraclePrice.Decimal
	deposited := stats.TotalDeposited.Mul(price)
	current := stats.Collateral.Mul(price).Add(stats.Borrowed.Decimal).Sub(stats.Debt.Decimal)
	profit := current.Sub(deposited)
	pct := decimal.Zero
	if deposited.IsPositive() {
		pct = profit.Div(deposited).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return model.UserPnL{
		CurrentPositionValue: current,
		DepositedValue:       deposited,
		CurrentProfit:        profit,
		Percentage:           pct,
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.http.GetJSON(ctx, c.baseURL+path, out)
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
