package registry

import "strings"

// OP-stack predeploy exposing the L1 base fee used for rollup data costs.
const OPStackGasPriceOracle = "0x420000000000000000000000000000000000000F"

// Well-known crvUSD mint market controllers on Ethereum, keyed by collateral alias.
var mintControllersByAlias = map[string]string{
	"weth":   "0xA920De414eA4Ab66b97dA1bFE9e6EcA7d4219635",
	"wsteth": "0x100dAa78fC509Db39Ef7D04DE0c1ABD299f4C6CE",
	"wbtc":   "0x4e59541306910aD6dC1daC0AC9dFB29bD9F15c67",
	"tbtc":   "0x1C91da0223c763d2e0173243eAdaA0A2ea47E704",
}

// MintController resolves a collateral alias to its Ethereum crvUSD controller.
func MintController(alias string) (string, bool) {
	value, ok := mintControllersByAlias[strings.ToLower(strings.TrimSpace(alias))]
	return value, ok
}
