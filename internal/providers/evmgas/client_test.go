package evmgas

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/llamarisk/internal/id"
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcBehavior struct {
	noFeeHistory bool
	noL1Oracle   bool
}

func gweiHex(v int64) string {
	return hexutil.EncodeBig(new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000_000)))
}

func newGasRPCServer(t *testing.T, behavior rpcBehavior) *httptest.Server {
	t.Helper()
	l1Word, err := gasOracleABI.Methods["l1BaseFee"].Outputs.Pack(big.NewInt(5_000_000_000))
	if err != nil {
		t.Fatalf("pack l1BaseFee: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "eth_feeHistory":
			if behavior.noFeeHistory {
				writeRPCError(w, req.ID, -32601, "method not found")
				return
			}
			writeRPCResult(t, w, req.ID, map[string]any{
				"oldestBlock":   "0x64",
				"reward":        [][]string{{gweiHex(1), gweiHex(2), gweiHex(3)}, {gweiHex(3), gweiHex(4), gweiHex(5)}},
				"baseFeePerGas": []string{gweiHex(10), gweiHex(11), gweiHex(12)},
				"gasUsedRatio":  []float64{0.5, 0.6},
			})
		case "eth_gasPrice":
			writeRPCResult(t, w, req.ID, "0x1e8480")
		case "eth_maxPriorityFeePerGas":
			writeRPCResult(t, w, req.ID, gweiHex(2))
		case "eth_call":
			if behavior.noL1Oracle {
				writeRPCError(w, req.ID, 3, "execution reverted")
				return
			}
			writeRPCResult(t, w, req.ID, hexutil.Encode(l1Word))
		default:
			writeRPCError(w, req.ID, -32601, fmt.Sprintf("method not supported in test: %s", req.Method))
		}
	}))
}

func writeRPCResult(t *testing.T, w http.ResponseWriter, id json.RawMessage, result any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode rpc result: %v", err)
	}
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

func resolverFor(url string) func(id.Chain) (string, error) {
	return func(id.Chain) (string, error) { return url, nil }
}

func mustChain(t *testing.T, slug string) id.Chain {
	t.Helper()
	chain, err := id.ParseChain(slug)
	if err != nil {
		t.Fatalf("parse chain %s: %v", slug, err)
	}
	return chain
}

func TestGasPricesFromFeeHistory(t *testing.T) {
	srv := newGasRPCServer(t, rpcBehavior{})
	defer srv.Close()

	info, err := New(resolverFor(srv.URL), nil).GasPrices(context.Background(), mustChain(t, "ethereum"))
	if err != nil {
		t.Fatalf("GasPrices failed: %v", err)
	}
	want := []string{"14000000000", "15000000000", "16000000000"}
	if len(info.BasePlusPriority) != len(want) {
		t.Fatalf("unexpected tiers: %v", info.BasePlusPriority)
	}
	for i, w := range want {
		if info.BasePlusPriority[i].String() != w {
			t.Fatalf("tier %d: expected %s, got %s", i, w, info.BasePlusPriority[i])
		}
	}
	if info.L2GasPriceWei != nil || info.L1GasPriceWei != nil {
		t.Fatalf("did not expect l2/l1 prices on ethereum: %+v", info)
	}
}

func TestGasPricesRollupIncludesL1BaseFee(t *testing.T) {
	srv := newGasRPCServer(t, rpcBehavior{})
	defer srv.Close()

	info, err := New(resolverFor(srv.URL), nil).GasPrices(context.Background(), mustChain(t, "optimism"))
	if err != nil {
		t.Fatalf("GasPrices failed: %v", err)
	}
	if info.L2GasPriceWei == nil || info.L2GasPriceWei.String() != "2000000" {
		t.Fatalf("unexpected l2 gas price: %v", info.L2GasPriceWei)
	}
	if info.L1GasPriceWei == nil || info.L1GasPriceWei.String() != "5000000000" {
		t.Fatalf("unexpected l1 base fee: %v", info.L1GasPriceWei)
	}
}

func TestGasPricesL2PriceChainSkipsOracle(t *testing.T) {
	srv := newGasRPCServer(t, rpcBehavior{noL1Oracle: true})
	defer srv.Close()

	info, err := New(resolverFor(srv.URL), nil).GasPrices(context.Background(), mustChain(t, "arbitrum"))
	if err != nil {
		t.Fatalf("GasPrices failed: %v", err)
	}
	if info.L2GasPriceWei == nil || info.L1GasPriceWei != nil {
		t.Fatalf("expected only l2 gas price, got %+v", info)
	}
}

func TestGasPricesMissingOracleLeavesL1Empty(t *testing.T) {
	srv := newGasRPCServer(t, rpcBehavior{noL1Oracle: true})
	defer srv.Close()

	info, err := New(resolverFor(srv.URL), nil).GasPrices(context.Background(), mustChain(t, "base"))
	if err != nil {
		t.Fatalf("GasPrices failed: %v", err)
	}
	if info.L1GasPriceWei != nil {
		t.Fatalf("expected missing l1 base fee, got %s", info.L1GasPriceWei)
	}
}

func TestGasPricesFallsBackToLegacyPrice(t *testing.T) {
	srv := newGasRPCServer(t, rpcBehavior{noFeeHistory: true})
	defer srv.Close()

	info, err := New(resolverFor(srv.URL), nil).GasPrices(context.Background(), mustChain(t, "ethereum"))
	if err != nil {
		t.Fatalf("GasPrices failed: %v", err)
	}
	for i, p := range info.BasePlusPriority {
		if p.String() != "2000000" {
			t.Fatalf("tier %d: expected legacy gas price, got %s", i, p)
		}
	}
}

func TestAverageRewardsSkipsMalformedBlocks(t *testing.T) {
	got := averageRewards([][]*big.Int{
		{big.NewInt(2), big.NewInt(4), big.NewInt(6)},
		{big.NewInt(1)},
		{big.NewInt(4), big.NewInt(6), big.NewInt(8)},
	}, 3)
	if got[0].Int64() != 3 || got[1].Int64() != 5 || got[2].Int64() != 7 {
		t.Fatalf("unexpected averages %v", got)
	}
	if averageRewards(nil, 3) != nil {
		t.Fatal("expected nil averages without rewards")
	}
}
