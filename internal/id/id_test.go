package id

import (
	"testing"

	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
)

func TestParseChainVariants(t *testing.T) {
	chain, err := ParseChain("arbitrum")
	if err != nil {
		t.Fatalf("ParseChain(arbitrum) failed: %v", err)
	}
	if chain.CAIP2 != "eip155:42161" || chain.GasModel != GasFeeL2Price {
		t.Fatalf("unexpected chain: %+v", chain)
	}

	chain, err = ParseChain("8453")
	if err != nil {
		t.Fatalf("ParseChain(8453) failed: %v", err)
	}
	if chain.Slug != "base" || chain.GasModel != GasFeeRollupSplit {
		t.Fatalf("unexpected chain: %+v", chain)
	}

	chain, err = ParseChain("eip155:1")
	if err != nil {
		t.Fatalf("ParseChain(eip155:1) failed: %v", err)
	}
	if chain.NativeSymbol != "ETH" || chain.IsL2() {
		t.Fatalf("unexpected chain: %+v", chain)
	}

	chain, err = ParseChain("Mainnet")
	if err != nil || chain.Slug != "ethereum" {
		t.Fatalf("expected alias to resolve to ethereum, got %+v err=%v", chain, err)
	}
}

func TestParseChainUnknown(t *testing.T) {
	_, err := ParseChain("999999")
	if clierr.ExitCode(err) != int(clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	_, err = ParseChain("not-a-chain")
	if clierr.ExitCode(err) != int(clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	got, err := ParseAddress("0xf939e0a03fb07f59a73314e73794be0e57ac1b4e", "--market")
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	if got != "0xf939E0A03FB07F59A73314E73794Be0E57ac1b4E" {
		t.Fatalf("expected checksummed address, got %s", got)
	}
	if _, err := ParseAddress("0x1234", "--market"); err == nil {
		t.Fatal("expected invalid address error")
	}
}

func TestTokenLookup(t *testing.T) {
	token, ok := LookupByAddress("eip155:1", "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599")
	if !ok || token.Symbol != "WBTC" {
		t.Fatalf("expected WBTC lookup, got %+v", token)
	}
	if _, ok := LookupByAddress("eip155:8453", "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"); ok {
		t.Fatal("expected lookup to be scoped to the chain")
	}
}
