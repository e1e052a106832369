package errors

import (
	"fmt"
	"testing"
)

func TestExitCodeAndType(t *testing.T) {
	wrapped := fmt.Errorf("fetch bands: %w", Wrap(CodeInvalidData, "parse market bands", fmt.Errorf("band 12 out of order")))
	if got := ExitCode(wrapped); got != 17 {
		t.Fatalf("expected exit code 17, got %d", got)
	}
	if got := CodeOf(wrapped).Type(); got != "invalid_data" {
		t.Fatalf("unexpected type %q", got)
	}
	if got := ExitCode(fmt.Errorf("plain")); got != 1 {
		t.Fatalf("expected internal exit code for untyped errors, got %d", got)
	}
	if got := Code(99).Type(); got != "internal_error" {
		t.Fatalf("unknown codes should render as internal_error, got %q", got)
	}
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("expected 0 for nil, got %d", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := map[Code]bool{
		CodeUnavailable: true,
		CodeRateLimited: true,
		CodeAuth:        false,
		CodeInvalidData: false,
		CodeUsage:       false,
	}
	for code, want := range cases {
		if got := Retryable(New(code, "x")); got != want {
			t.Fatalf("Retryable(%d) = %v, want %v", code, got, want)
		}
	}
	if Retryable(fmt.Errorf("untyped")) {
		t.Fatal("untyped errors must not be retryable")
	}
}

func TestProviderStatus(t *testing.T) {
	if got := ProviderStatus(nil); got != "ok" {
		t.Fatalf("unexpected status %q", got)
	}
	if got := ProviderStatus(Newf(CodeRateLimited, "defillama %d", 429)); got != "rate_limited" {
		t.Fatalf("unexpected status %q", got)
	}
	if got := ProviderStatus(New(CodeInvalidData, "bad")); got != "error" {
		t.Fatalf("unexpected status %q", got)
	}
}
