// Package llamma reads LLAMMA controller and AMM state over EVM JSON-RPC.
package llamma

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/llamarisk/internal/bands"
	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/ggonzalez94/llamarisk/internal/providers"
	"github.com/ggonzalez94/llamarisk/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AMM band balances are stored with 18 decimals regardless of token precision.
const ammPrecision = 18

var (
	controllerABI = mustABI(registry.ControllerABI)
	ammABI        = mustABI(registry.AMMABI)
	erc20ABI      = mustABI(registry.ERC20MetadataABI)
)

// ContractCaller is the subset of ethclient used for read-only calls.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Dialer func(ctx context.Context, chain id.Chain) (ContractCaller, error)

// EthclientDialer dials chains with ethclient using resolve for endpoints.
func EthclientDialer(resolve providers.RPCURLResolver) Dialer {
	return func(ctx context.Context, chain id.Chain) (ContractCaller, error) {
		rpcURL, err := resolve(chain)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
		}
		client, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
		}
		return client, nil
	}
}

type Options struct {
	// MaxMarketBands caps a market band scan to a window around the active band.
	MaxMarketBands int
	// FetchWorkers bounds concurrent band reads during a market scan.
	FetchWorkers int
	// RequestsPerSecond limits contract calls. Zero disables the limit.
	RequestsPerSecond float64
}

func DefaultOptions() Options {
	return Options{MaxMarketBands: 500, FetchWorkers: 8}
}

type marketMeta struct {
	amm    common.Address
	tokens model.MarketTokens
}

type Client struct {
	dial    Dialer
	logger  *zap.Logger
	opts    Options
	limiter *rate.Limiter

	mu      sync.Mutex
	callers map[string]ContractCaller
	markets map[string]marketMeta
}

var _ providers.MarketDataProvider = (*Client)(nil)

func New(dial Dialer, logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.MaxMarketBands <= 0 {
		opts.MaxMarketBands = defaults.MaxMarketBands
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = defaults.FetchWorkers
	}
	c := &Client{
		dial:    dial,
		logger:  logger,
		opts:    opts,
		callers: map[string]ContractCaller{},
		markets: map[string]marketMeta{},
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "llamma",
		Type:        "market_data",
		RequiresKey: false,
		Capabilities: []string{
			"position.state",
			"position.bands",
			"market.bands",
			"market.geometry",
		},
	}
}

// Close releases dialed RPC clients.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, caller := range c.callers {
		if closer, ok := caller.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(c.callers, key)
	}
}

func (c *Client) caller(ctx context.Context, chainID string) (ContractCaller, error) {
	chain, err := id.ParseChain(chainID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	existing, ok := c.callers[chain.CAIP2]
	c.mu.Unlock()
	if ok {
		return existing, nil
	}

	caller, err := c.dial(ctx, chain)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.callers[chain.CAIP2]; ok {
		if closer, ok := caller.(interface{ Close() }); ok {
			closer.Close()
		}
		return existing, nil
	}
	c.callers[chain.CAIP2] = caller
	return caller, nil
}

func (c *Client) call(ctx context.Context, chainID string, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	caller, err := c.caller(ctx, chainID)
	if err != nil {
		return nil, err
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" calldata", err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "rate limiter", err)
		}
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("call %s on %s", method, to.Hex()), err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, clierr.Wrap(clierr.CodeInvalidData, "decode "+method+" response", err)
	}
	return out, nil
}

func (c *Client) callBigInt(ctx context.Context, chainID string, contract abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, chainID, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return nil, clierr.New(clierr.CodeInvalidData, fmt.Sprintf("invalid %s response", method))
	}
	return v, nil
}

func (c *Client) meta(ctx context.Context, key model.MarketKey) (marketMeta, error) {
	cacheKey := key.Market().String()
	c.mu.Lock()
	m, ok := c.markets[cacheKey]
	c.mu.Unlock()
	if ok {
		return m, nil
	}

	controller := common.HexToAddress(key.Controller)
	out, err := c.call(ctx, key.ChainID, controllerABI, controller, "amm")
	if err != nil {
		return marketMeta{}, err
	}
	amm, ok := out[0].(common.Address)
	if !ok || amm == (common.Address{}) {
		return marketMeta{}, clierr.New(clierr.CodeInvalidData, "controller returned no amm")
	}
	borrowed, err := c.token(ctx, key.ChainID, amm, 0)
	if err != nil {
		return marketMeta{}, err
	}
	collateral, err := c.token(ctx, key.ChainID, amm, 1)
	if err != nil {
		return marketMeta{}, err
	}

	m = marketMeta{amm: amm, tokens: model.MarketTokens{Collateral: collateral, Borrowed: borrowed}}
	c.mu.Lock()
	c.markets[cacheKey] = m
	c.mu.Unlock()
	return m, nil
}

func (c *Client) token(ctx context.Context, chainID string, amm common.Address, index int64) (model.TokenInfo, error) {
	out, err := c.call(ctx, chainID, ammABI, amm, "coins", big.NewInt(index))
	if err != nil {
		return model.TokenInfo{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return model.TokenInfo{}, clierr.New(clierr.CodeInvalidData, "invalid coins response")
	}
	decOut, err := c.call(ctx, chainID, erc20ABI, addr, "decimals")
	if err != nil {
		return model.TokenInfo{}, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return model.TokenInfo{}, clierr.New(clierr.CodeInvalidData, "invalid decimals response")
	}
	info := model.TokenInfo{Address: addr.Hex(), Decimals: int(decimals)}
	if symOut, err := c.call(ctx, chainID, erc20ABI, addr, "symbol"); err == nil {
		if sym, ok := symOut[0].(string); ok {
			info.Symbol = strings.TrimSpace(sym)
		}
	} else {
		c.logger.Debug("token symbol unavailable", zap.String("token", addr.Hex()), zap.Error(err))
	}
	if info.Symbol == "" {
		if chain, err := id.ParseChain(chainID); err == nil {
			if known, ok := id.LookupByAddress(chain.CAIP2, addr.Hex()); ok {
				info.Symbol = known.Symbol
			}
		}
	}
	return info, nil
}

func userAddress(key model.MarketKey) (common.Address, error) {
	if !common.IsHexAddress(key.User) {
		return common.Address{}, clierr.New(clierr.CodeUsage, "market key has no valid user address")
	}
	return common.HexToAddress(key.User), nil
}

func (c *Client) LoanExists(ctx context.Context, key model.MarketKey) (bool, error) {
	user, err := userAddress(key)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, key.ChainID, controllerABI, common.HexToAddress(key.Controller), "loan_exists", user)
	if err != nil {
		return false, err
	}
	exists, ok := out[0].(bool)
	if !ok {
		return false, clierr.New(clierr.CodeInvalidData, "invalid loan_exists response")
	}
	return exists, nil
}

func (c *Client) UserState(ctx context.Context, key model.MarketKey) (model.LoanState, error) {
	user, err := userAddress(key)
	if err != nil {
		return model.LoanState{}, err
	}
	m, err := c.meta(ctx, key)
	if err != nil {
		return model.LoanState{}, err
	}
	out, err := c.call(ctx, key.ChainID, controllerABI, common.HexToAddress(key.Controller), "user_state", user)
	if err != nil {
		return model.LoanState{}, err
	}
	state, ok := out[0].([4]*big.Int)
	if !ok {
		return model.LoanState{}, clierr.New(clierr.CodeInvalidData, "invalid user_state response")
	}
	return model.LoanState{
		Collateral: scale(state[0], m.tokens.Collateral.Decimals),
		Borrowed:   scale(state[1], m.tokens.Borrowed.Decimals),
		Debt:       scale(state[2], m.tokens.Borrowed.Decimals),
		N:          state[3].Int64(),
	}, nil
}

// UserHealth returns health in percent. The controller reports 1e18 as 100%.
func (c *Client) UserHealth(ctx context.Context, key model.MarketKey, full bool) (decimal.Decimal, error) {
	user, err := userAddress(key)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := c.callBigInt(ctx, key.ChainID, controllerABI, common.HexToAddress(key.Controller), "health", user, full)
	if err != nil {
		return decimal.Zero, err
	}
	return scale(v, 16), nil
}

func (c *Client) ticks(ctx context.Context, key model.MarketKey) (n1, n2 model.BandIndex, err error) {
	user, err := userAddress(key)
	if err != nil {
		return 0, 0, err
	}
	m, err := c.meta(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	out, err := c.call(ctx, key.ChainID, ammABI, m.amm, "read_user_tick_numbers", user)
	if err != nil {
		return 0, 0, err
	}
	ticks, ok := out[0].([2]*big.Int)
	if !ok {
		return 0, 0, clierr.New(clierr.CodeInvalidData, "invalid read_user_tick_numbers response")
	}
	return model.BandIndex(ticks[0].Int64()), model.BandIndex(ticks[1].Int64()), nil
}

func (c *Client) UserRange(ctx context.Context, key model.MarketKey) (int64, error) {
	n1, n2, err := c.ticks(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(n2-n1) + 1, nil
}

// UserBands returns [n2, n1]: the lowest-price band first.
func (c *Client) UserBands(ctx context.Context, key model.MarketKey) ([]model.BandIndex, error) {
	n1, n2, err := c.ticks(ctx, key)
	if err != nil {
		return nil, err
	}
	return []model.BandIndex{n2, n1}, nil
}

func (c *Client) UserPrices(ctx context.Context, key model.MarketKey) ([]decimal.Decimal, error) {
	user, err := userAddress(key)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, key.ChainID, controllerABI, common.HexToAddress(key.Controller), "user_prices", user)
	if err != nil {
		return nil, err
	}
	prices, ok := out[0].([2]*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeInvalidData, "invalid user_prices response")
	}
	return []decimal.Decimal{scale(prices[0], ammPrecision), scale(prices[1], ammPrecision)}, nil
}

func (c *Client) UserBandsBalances(ctx context.Context, key model.MarketKey) ([]model.BandBalance, error) {
	user, err := userAddress(key)
	if err != nil {
		return nil, err
	}
	n1, _, err := c.ticks(ctx, key)
	if err != nil {
		return nil, err
	}
	m, err := c.meta(ctx, key)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, key.ChainID, ammABI, m.amm, "get_xy", user)
	if err != nil {
		return nil, err
	}
	xy, ok := out[0].([2][]*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeInvalidData, "invalid get_xy response")
	}
	xs, ys := xy[0], xy[1]
	if len(xs) != len(ys) {
		return nil, clierr.New(clierr.CodeInvalidData, fmt.Sprintf("get_xy length mismatch: %d borrowed, %d collateral", len(xs), len(ys)))
	}
	balances := make([]model.BandBalance, 0, len(xs))
	for i := range xs {
		balances = append(balances, model.BandBalance{
			N:          n1 + model.BandIndex(i),
			Collateral: scale(ys[i], m.tokens.Collateral.Decimals),
			Borrowed:   scale(xs[i], m.tokens.Borrowed.Decimals),
		})
	}
	return balances, nil
}

func (c *Client) OraclePrice(ctx context.Context, key model.MarketKey) (decimal.Decimal, error) {
	m, err := c.meta(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := c.callBigInt(ctx, key.ChainID, ammABI, m.amm, "price_oracle")
	if err != nil {
		return decimal.Zero, err
	}
	return scale(v, ammPrecision), nil
}

func (c *Client) Geometry(ctx context.Context, key model.MarketKey) (model.MarketGeometry, error) {
	m, err := c.meta(ctx, key)
	if err != nil {
		return model.MarketGeometry{}, err
	}
	base, err := c.callBigInt(ctx, key.ChainID, ammABI, m.amm, "get_base_price")
	if err != nil {
		return model.MarketGeometry{}, err
	}
	a, err := c.callBigInt(ctx, key.ChainID, ammABI, m.amm, "A")
	if err != nil {
		return model.MarketGeometry{}, err
	}
	return model.MarketGeometry{BasePrice: scale(base, ammPrecision), A: a.Int64()}, nil
}

func (c *Client) OraclePriceBand(ctx context.Context, key model.MarketKey) (model.BandIndex, error) {
	geometry, err := c.Geometry(ctx, key)
	if err != nil {
		return 0, err
	}
	price, err := c.OraclePrice(ctx, key)
	if err != nil {
		return 0, err
	}
	band, err := bands.BandForPrice(price, geometry)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInvalidData, "locate oracle price band", err)
	}
	return band, nil
}

// LiquidationBand is the active band when it holds both tokens, i.e. the AMM is
// part way through converting it.
func (c *Client) LiquidationBand(ctx context.Context, key model.MarketKey) (*model.BandIndex, error) {
	m, err := c.meta(ctx, key)
	if err != nil {
		return nil, err
	}
	active, err := c.callBigInt(ctx, key.ChainID, ammABI, m.amm, "active_band")
	if err != nil {
		return nil, err
	}
	band, err := c.bandBalance(ctx, key.ChainID, m.amm, model.BandIndex(active.Int64()))
	if err != nil {
		return nil, err
	}
	if !band.Collateral.IsPositive() || !band.Borrowed.IsPositive() {
		return nil, nil
	}
	n := band.N
	return &n, nil
}

func (c *Client) bandBalance(ctx context.Context, chainID string, amm common.Address, n model.BandIndex) (model.BandBalance, error) {
	x, err := c.callBigInt(ctx, chainID, ammABI, amm, "bands_x", big.NewInt(int64(n)))
	if err != nil {
		return model.BandBalance{}, err
	}
	y, err := c.callBigInt(ctx, chainID, ammABI, amm, "bands_y", big.NewInt(int64(n)))
	if err != nil {
		return model.BandBalance{}, err
	}
	return model.BandBalance{N: n, Collateral: scale(y, ammPrecision), Borrowed: scale(x, ammPrecision)}, nil
}

func (c *Client) MarketTokens(ctx context.Context, key model.MarketKey) (model.MarketTokens, error) {
	m, err := c.meta(ctx, key)
	if err != nil {
		return model.MarketTokens{}, err
	}
	return m.tokens, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
