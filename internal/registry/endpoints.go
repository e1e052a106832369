package registry

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	DefiLlamaCoinsURL = "https://coins.llama.fi"
	CurvePricesURL    = "https://prices.curve.fi"
)

// ValidateEndpoint accepts https URLs, and plain http only for loopback hosts.
func ValidateEndpoint(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return fmt.Errorf("endpoint %q has no host", raw)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		if scheme == "http" || scheme == "https" {
			return nil
		}
		return fmt.Errorf("endpoint %q must use http or https", raw)
	}
	if scheme != "https" {
		return fmt.Errorf("endpoint %q must use https", raw)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
