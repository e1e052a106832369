package evmgas

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/ggonzalez94/llamarisk/internal/providers"
	"github.com/ggonzalez94/llamarisk/internal/registry"
	"go.uber.org/zap"
)

const feeHistoryBlocks = 5

// Reward percentiles for the slow, normal and fast tiers.
var tierPercentiles = []float64{10, 50, 90}

var fallbackTipCap = big.NewInt(2_000_000_000)

var gasOracleABI = mustABI(registry.GasPriceOracleABI)

type feeReader interface {
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Client struct {
	resolve providers.RPCURLResolver
	logger  *zap.Logger
}

var _ providers.GasPriceProvider = (*Client)(nil)

func New(resolve providers.RPCURLResolver, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{resolve: resolve, logger: logger}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "evmgas",
		Type:         "gas_prices",
		RequiresKey:  false,
		Capabilities: []string{"gas.prices"},
	}
}

func (c *Client) GasPrices(ctx context.Context, chain id.Chain) (model.GasPriceInfo, error) {
	rpcURL, err := c.resolve(chain)
	if err != nil {
		return model.GasPriceInfo{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return model.GasPriceInfo{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()
	return c.gasPrices(ctx, client, chain)
}

func (c *Client) gasPrices(ctx context.Context, rpc feeReader, chain id.Chain) (model.GasPriceInfo, error) {
	tiers, err := c.basePlusPriority(ctx, rpc)
	if err != nil {
		return model.GasPriceInfo{}, err
	}
	info := model.GasPriceInfo{BasePlusPriority: tiers}
	if !chain.IsL2() {
		return info, nil
	}

	l2Price, err := rpc.SuggestGasPrice(ctx)
	if err != nil {
		c.logger.Warn("l2 gas price unavailable", zap.String("chain", chain.Slug), zap.Error(err))
	} else {
		info.L2GasPriceWei = l2Price
	}
	if chain.GasModel == id.GasFeeRollupSplit {
		l1Price, err := l1BaseFee(ctx, rpc)
		if err != nil {
			c.logger.Warn("l1 base fee unavailable", zap.String("chain", chain.Slug), zap.Error(err))
		} else {
			info.L1GasPriceWei = l1Price
		}
	}
	return info, nil
}

// basePlusPriority returns next-block base fee plus the averaged reward of each
// percentile over recent blocks. Without fee history it falls back to eth_gasPrice.
func (c *Client) basePlusPriority(ctx context.Context, rpc feeReader) ([]*big.Int, error) {
	history, err := rpc.FeeHistory(ctx, feeHistoryBlocks, nil, tierPercentiles)
	if err != nil || history == nil || len(history.BaseFee) == 0 {
		c.logger.Debug("fee history unavailable, using legacy gas price", zap.Error(err))
		price, priceErr := rpc.SuggestGasPrice(ctx)
		if priceErr != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch gas price", priceErr)
		}
		out := make([]*big.Int, len(tierPercentiles))
		for i := range out {
			out[i] = new(big.Int).Set(price)
		}
		return out, nil
	}

	baseFee := history.BaseFee[len(history.BaseFee)-1]
	tips := averageRewards(history.Reward, len(tierPercentiles))
	if tips == nil {
		tip, tipErr := rpc.SuggestGasTipCap(ctx)
		if tipErr != nil {
			tip = fallbackTipCap
		}
		tips = make([]*big.Int, len(tierPercentiles))
		for i := range tips {
			tips[i] = tip
		}
	}

	out := make([]*big.Int, len(tips))
	for i, tip := range tips {
		out[i] = new(big.Int).Add(baseFee, tip)
	}
	return out, nil
}

func averageRewards(rewards [][]*big.Int, width int) []*big.Int {
	sums := make([]*big.Int, width)
	for i := range sums {
		sums[i] = new(big.Int)
	}
	blocks := int64(0)
	for _, block := range rewards {
		if len(block) != width {
			continue
		}
		for i, r := range block {
			if r != nil {
				sums[i].Add(sums[i], r)
			}
		}
		blocks++
	}
	if blocks == 0 {
		return nil
	}
	for i := range sums {
		sums[i].Quo(sums[i], big.NewInt(blocks))
	}
	return sums
}

func l1BaseFee(ctx context.Context, rpc feeReader) (*big.Int, error) {
	data, err := gasOracleABI.Pack("l1BaseFee")
	if err != nil {
		return nil, err
	}
	oracle := common.HexToAddress(registry.OPStackGasPriceOracle)
	raw, err := rpc.CallContract(ctx, ethereum.CallMsg{To: &oracle, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := gasOracleABI.Unpack("l1BaseFee", raw)
	if err != nil {
		return nil, fmt.Errorf("decode l1BaseFee: %w", err)
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected l1BaseFee type %T", out[0])
	}
	return fee, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
