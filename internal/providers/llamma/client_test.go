package llamma

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/health"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/loan"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	controllerAddr = common.HexToAddress("0x4e59541306910aD6dC1daC0AC9dFB29bD9F15c67")
	ammAddr        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	crvusdAddr     = common.HexToAddress("0xf939E0A03FB07F59A73314E73794Be0E57ac1b4E")
	wbtcAddr       = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
	userAddr       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func e(v int64, exp int) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
}

type handler func(to common.Address, args []any) ([]any, error)

// fakeChain answers eth_call by decoding calldata against the LLAMMA ABIs.
type fakeChain struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    map[string]int
	total    atomic.Int32
}

func newFakeChain() *fakeChain {
	f := &fakeChain{handlers: map[string]handler{}, calls: map[string]int{}}
	f.on("amm", func(common.Address, []any) ([]any, error) { return []any{ammAddr}, nil })
	f.on("coins", func(_ common.Address, args []any) ([]any, error) {
		if args[0].(*big.Int).Int64() == 0 {
			return []any{crvusdAddr}, nil
		}
		return []any{wbtcAddr}, nil
	})
	f.on("decimals", func(to common.Address, _ []any) ([]any, error) {
		if to == wbtcAddr {
			return []any{uint8(8)}, nil
		}
		return []any{uint8(18)}, nil
	})
	f.on("symbol", func(to common.Address, _ []any) ([]any, error) {
		if to == wbtcAddr {
			return []any{"WBTC"}, nil
		}
		return []any{"crvUSD"}, nil
	})
	f.on("loan_exists", func(common.Address, []any) ([]any, error) { return []any{true}, nil })
	f.on("user_state", func(common.Address, []any) ([]any, error) {
		return []any{[4]*big.Int{big.NewInt(50_000_000), big.NewInt(0), e(15_000, 18), big.NewInt(4)}}, nil
	})
	f.on("health", func(_ common.Address, args []any) ([]any, error) {
		if args[1].(bool) {
			return []any{big.NewInt(123_400_000_000_000_000)}, nil
		}
		return []any{big.NewInt(52_300_000_000_000_000)}, nil
	})
	f.on("user_prices", func(common.Address, []any) ([]any, error) {
		return []any{[2]*big.Int{e(54_700, 18), e(52_560, 18)}}, nil
	})
	f.on("read_user_tick_numbers", func(common.Address, []any) ([]any, error) {
		return []any{[2]*big.Int{big.NewInt(60), big.NewInt(63)}}, nil
	})
	f.on("get_xy", func(common.Address, []any) ([]any, error) {
		ys := []*big.Int{big.NewInt(12_500_000), big.NewInt(12_500_000), big.NewInt(12_500_000), big.NewInt(12_500_000)}
		xs := []*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0)}
		return []any{[2][]*big.Int{xs, ys}}, nil
	})
	f.on("price_oracle", func(common.Address, []any) ([]any, error) { return []any{e(60_000, 18)}, nil })
	f.on("get_base_price", func(common.Address, []any) ([]any, error) { return []any{e(100_000, 18)}, nil })
	f.on("A", func(common.Address, []any) ([]any, error) { return []any{big.NewInt(100)}, nil })
	f.on("active_band", func(common.Address, []any) ([]any, error) { return []any{big.NewInt(50)}, nil })
	f.on("min_band", func(common.Address, []any) ([]any, error) { return []any{big.NewInt(48)}, nil })
	f.on("max_band", func(common.Address, []any) ([]any, error) { return []any{big.NewInt(54)}, nil })
	f.on("bands_x", func(_ common.Address, args []any) ([]any, error) {
		if args[0].(*big.Int).Int64() <= 50 {
			return []any{e(1_000, 18)}, nil
		}
		return []any{big.NewInt(0)}, nil
	})
	f.on("bands_y", func(_ common.Address, args []any) ([]any, error) {
		if args[0].(*big.Int).Int64() < 50 {
			return []any{big.NewInt(0)}, nil
		}
		return []any{e(1, 18)}, nil
	})
	return f
}

func (f *fakeChain) on(method string, h handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeChain) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.total.Add(1)
	if len(msg.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	for _, contract := range []abi.ABI{controllerABI, ammABI, erc20ABI} {
		method, err := contract.MethodById(msg.Data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		h, ok := f.handlers[method.Name]
		f.calls[method.Name]++
		f.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("execution reverted: %s", method.Name)
		}
		out, err := h(*msg.To, args)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(out...)
	}
	return nil, errors.New("unknown selector")
}

func newTestClient(chain *fakeChain, opts Options) *Client {
	return New(func(context.Context, id.Chain) (ContractCaller, error) { return chain, nil }, nil, opts)
}

func testKey() model.MarketKey {
	return model.MarketKey{
		ChainID:    "eip155:1",
		MarketType: model.MarketTypeMint,
		Controller: controllerAddr.Hex(),
		User:       userAddr.Hex(),
	}
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestUserReads(t *testing.T) {
	chain := newFakeChain()
	c := newTestClient(chain, Options{})
	ctx := context.Background()
	key := testKey()

	exists, err := c.LoanExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	state, err := c.UserState(ctx, key)
	require.NoError(t, err)
	assert.True(t, state.Collateral.Equal(d("0.5")), "collateral=%s", state.Collateral)
	assert.True(t, state.Debt.Equal(d("15000")))
	assert.Equal(t, int64(4), state.N)

	healthFull, err := c.UserHealth(ctx, key, true)
	require.NoError(t, err)
	assert.True(t, healthFull.Equal(d("12.34")), "health=%s", healthFull)

	userBands, err := c.UserBands(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []model.BandIndex{63, 60}, userBands)

	r, err := c.UserRange(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(4), r)

	prices, err := c.UserPrices(ctx, key)
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices[0].Equal(d("54700")))

	balances, err := c.UserBandsBalances(ctx, key)
	require.NoError(t, err)
	require.Len(t, balances, 4)
	assert.Equal(t, model.BandIndex(60), balances[0].N)
	assert.Equal(t, model.BandIndex(63), balances[3].N)
	assert.True(t, balances[0].Collateral.Equal(d("0.125")))

	tokens, err := c.MarketTokens(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "WBTC", tokens.Collateral.Symbol)
	assert.Equal(t, 8, tokens.Collateral.Decimals)
	assert.Equal(t, "crvUSD", tokens.Borrowed.Symbol)
	assert.Equal(t, 1, chain.count("amm"), "market metadata is cached")
}

func TestMarketReads(t *testing.T) {
	chain := newFakeChain()
	c := newTestClient(chain, Options{})
	ctx := context.Background()
	key := testKey().Market()

	geometry, err := c.Geometry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), geometry.A)
	assert.True(t, geometry.BasePrice.Equal(d("100000")))

	liq, err := c.LiquidationBand(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, liq)
	assert.Equal(t, model.BandIndex(50), *liq)

	band, err := c.OraclePriceBand(ctx, key)
	require.NoError(t, err)
	// 100000 * 0.99^n brackets 60000 at n = 50.
	assert.Equal(t, model.BandIndex(50), band)

	balances, err := c.MarketBandsBalances(ctx, key)
	require.NoError(t, err)
	require.Len(t, balances, 7)
	for i, b := range balances {
		assert.Equal(t, model.BandIndex(48+i), b.N)
	}
	assert.True(t, balances[2].Borrowed.Equal(d("1000")))
	assert.True(t, balances[2].Collateral.Equal(d("1")))
}

func TestLiquidationBandNilWhenActiveBandNotMixed(t *testing.T) {
	chain := newFakeChain()
	chain.on("active_band", func(common.Address, []any) ([]any, error) { return []any{big.NewInt(52)}, nil })
	liq, err := newTestClient(chain, Options{}).LiquidationBand(context.Background(), testKey())
	require.NoError(t, err)
	assert.Nil(t, liq)
}

func TestMarketBandsWindow(t *testing.T) {
	chain := newFakeChain()
	balances, err := newTestClient(chain, Options{MaxMarketBands: 3, FetchWorkers: 2}).MarketBandsBalances(context.Background(), testKey())
	require.NoError(t, err)
	require.Len(t, balances, 3)
	assert.Equal(t, model.BandIndex(49), balances[0].N)
	assert.Equal(t, model.BandIndex(51), balances[2].N)
}

func TestBandWindow(t *testing.T) {
	lo, hi := bandWindow(0, 1000, 999, 10)
	assert.Equal(t, int64(991), lo)
	assert.Equal(t, int64(1000), hi)

	lo, hi = bandWindow(-5, 5, -5, 4)
	assert.Equal(t, int64(-5), lo)
	assert.Equal(t, int64(-2), hi)

	lo, hi = bandWindow(3, 9, 5, 0)
	assert.Equal(t, int64(3), lo)
	assert.Equal(t, int64(9), hi)
}

func TestCallErrorsAreTyped(t *testing.T) {
	chain := newFakeChain()
	chain.on("user_state", func(common.Address, []any) ([]any, error) { return nil, errors.New("node timeout") })
	_, err := newTestClient(chain, Options{}).UserState(context.Background(), testKey())
	assert.Equal(t, int(clierr.CodeUnavailable), clierr.ExitCode(err))

	_, err = newTestClient(newFakeChain(), Options{}).LoanExists(context.Background(), testKey().Market())
	assert.Equal(t, int(clierr.CodeUsage), clierr.ExitCode(err))

	key := testKey()
	key.ChainID = "eip155:424242"
	_, err = newTestClient(newFakeChain(), Options{}).LoanExists(context.Background(), key)
	assert.Equal(t, int(clierr.CodeUnsupported), clierr.ExitCode(err))
}

func TestFetcherOverContractReads(t *testing.T) {
	chain := newFakeChain()
	c := newTestClient(chain, Options{RequestsPerSecond: 1000})
	details, err := loan.NewFetcher(c, nil, nil, loan.DefaultOptions()).Fetch(context.Background(), testKey())
	require.NoError(t, err)

	assert.Equal(t, []model.BandIndex{60, 63}, details.Bands)
	assert.True(t, details.HealthNotFull.Equal(d("5.23")))
	assert.True(t, details.Health.Equal(d("12.34")))
	assert.Equal(t, health.ColorHealthy, details.Status.ColorKey)
	require.NotNil(t, details.LiquidationBand)
	assert.Len(t, details.BandsBalances, 4)
	assert.False(t, details.Leverage.Valid, "mint markets carry no leverage")
}
