package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
)

var eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)

// GasFeeModel selects how a chain's transaction cost is derived from gas units.
type GasFeeModel string

const (
	// GasFeeUniform multiplies gas units by the base+priority price.
	GasFeeUniform GasFeeModel = "uniform"
	// GasFeeL2Price multiplies gas units by a dedicated L2 gas price.
	GasFeeL2Price GasFeeModel = "l2_price"
	// GasFeeRollupSplit prices L2 execution and L1 data gas separately.
	GasFeeRollupSplit GasFeeModel = "rollup_split"
)

type Chain struct {
	Name         string
	Slug         string
	CAIP2        string
	EVMChainID   int64
	NativeSymbol string
	// NativeCoinID is the DefiLlama coins id of the native gas token.
	NativeCoinID string
	// LlamaSlug prefixes token addresses in DefiLlama coins queries.
	LlamaSlug   string
	GasModel    GasFeeModel
	DefaultTier int
}

func (c Chain) IsL2() bool {
	return c.GasModel == GasFeeL2Price || c.GasModel == GasFeeRollupSplit
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chains = []Chain{
	{Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH", NativeCoinID: "coingecko:ethereum", LlamaSlug: "ethereum", GasModel: GasFeeUniform, DefaultTier: 1},
	{Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH", NativeCoinID: "coingecko:ethereum", LlamaSlug: "optimism", GasModel: GasFeeRollupSplit, DefaultTier: 1},
	{Name: "BSC", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56, NativeSymbol: "BNB", NativeCoinID: "coingecko:binancecoin", LlamaSlug: "bsc", GasModel: GasFeeUniform, DefaultTier: 1},
	{Name: "Gnosis", Slug: "gnosis", CAIP2: "eip155:100", EVMChainID: 100, NativeSymbol: "XDAI", NativeCoinID: "coingecko:xdai", LlamaSlug: "xdai", GasModel: GasFeeUniform, DefaultTier: 1},
	{Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, NativeSymbol: "POL", NativeCoinID: "coingecko:polygon-ecosystem-token", LlamaSlug: "polygon", GasModel: GasFeeUniform, DefaultTier: 1},
	{Name: "Sonic", Slug: "sonic", CAIP2: "eip155:146", EVMChainID: 146, NativeSymbol: "S", NativeCoinID: "coingecko:sonic-3", LlamaSlug: "sonic", GasModel: GasFeeUniform, DefaultTier: 1},
	{Name: "X Layer", Slug: "xlayer", CAIP2: "eip155:196", EVMChainID: 196, NativeSymbol: "OKB", NativeCoinID: "coingecko:okb", LlamaSlug: "xlayer", GasModel: GasFeeL2Price, DefaultTier: 1},
	{Name: "Fraxtal", Slug: "fraxtal", CAIP2: "eip155:252", EVMChainID: 252, NativeSymbol: "FRXETH", NativeCoinID: "coingecko:frax-ether", LlamaSlug: "fraxtal", GasModel: GasFeeRollupSplit, DefaultTier: 1},
	{Name: "Mantle", Slug: "mantle", CAIP2: "eip155:5000", EVMChainID: 5000, NativeSymbol: "MNT", NativeCoinID: "coingecko:mantle", LlamaSlug: "mantle", GasModel: GasFeeL2Price, DefaultTier: 1},
	{Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, NativeSymbol: "ETH", NativeCoinID: "coingecko:ethereum", LlamaSlug: "base", GasModel: GasFeeRollupSplit, DefaultTier: 1},
	{Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161, NativeSymbol: "ETH", NativeCoinID: "coingecko:ethereum", LlamaSlug: "arbitrum", GasModel: GasFeeL2Price, DefaultTier: 1},
	{Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114, NativeSymbol: "AVAX", NativeCoinID: "coingecko:avalanche-2", LlamaSlug: "avax", GasModel: GasFeeUniform, DefaultTier: 1},
}

var chainAliases = map[string]string{
	"mainnet":  "ethereum",
	"eth":      "ethereum",
	"arb":      "arbitrum",
	"op":       "optimism",
	"xdai":     "gnosis",
	"avax":     "avalanche",
	"x-layer":  "xlayer",
	"binance":  "bsc",
	"matic":    "polygon",
	"frax":     "fraxtal",
	"frxchain": "fraxtal",
}

var chainBySlug = func() map[string]Chain {
	out := make(map[string]Chain, len(chains))
	for _, c := range chains {
		out[c.Slug] = c
	}
	return out
}()

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chains))
	for _, c := range chains {
		out[c.EVMChainID] = c
	}
	return out
}()

// Tokens the market providers fall back to when on-chain metadata reads fail.
var tokenRegistry = map[string][]Token{
	"eip155:1": {
		{Symbol: "crvUSD", Address: "0xf939E0A03FB07F59A73314E73794Be0E57ac1b4E", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "wstETH", Address: "0x7f39C581F595B53c5cb19bD0b3f8dA6c935E2Ca0", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "CRV", Address: "0xD533a949740bb3306d119CC777fa900bA034cd52", Decimals: 18},
	},
	"eip155:42161": {
		{Symbol: "crvUSD", Address: "0x498Bf2B1e120FeD3ad3D42EA2165E9b73f99C1e5", Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", Decimals: 8},
		{Symbol: "CRV", Address: "0x11cDb42B0EB46D95f990BeDD4695A6e3fA034978", Decimals: 18},
	},
	"eip155:10": {
		{Symbol: "crvUSD", Address: "0xC52D7F23a2e460248Db6eE192Cb23dD12bDDCbf6", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:252": {
		{Symbol: "crvUSD", Address: "0xB102f7Efa0d5dE071A8D37B3548e1C7CB148Caf3", Decimals: 18},
	},
	"eip155:146": {
		{Symbol: "crvUSD", Address: "0x7FFf4C4a827C84E32c5E175052834111B2ccd270", Decimals: 18},
	},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)
	if alias, ok := chainAliases[norm]; ok {
		norm = alias
	}

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if chainID, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if chain, ok := chainByID[chainID]; ok {
			return chain, nil
		}
		return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain id %d has no LLAMMA markets configured", chainID))
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

func Chains() []Chain {
	return append([]Chain(nil), chains...)
}

// ParseAddress validates an EVM address and returns its checksummed form.
func ParseAddress(input, field string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("%s is required", field))
	}
	if !common.IsHexAddress(raw) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a 0x-prefixed 20 byte address", field))
	}
	return common.HexToAddress(raw).Hex(), nil
}

func LookupByAddress(chainID, address string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Address, strings.TrimSpace(address)) {
			return t, true
		}
	}
	return Token{}, false
}
