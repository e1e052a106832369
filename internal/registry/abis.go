package registry

// ABI fragments for LLAMMA controllers, their AMMs and supporting contracts.
const (
	ControllerABI = `[
		{"name":"amm","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"loan_exists","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"health","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"full","type":"bool"}],"outputs":[{"name":"","type":"int256"}]},
		{"name":"user_state","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256[4]"}]},
		{"name":"user_prices","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256[2]"}]}
	]`

	AMMABI = `[
		{"name":"coins","type":"function","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"A","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"get_base_price","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"price_oracle","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"active_band","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
		{"name":"min_band","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
		{"name":"max_band","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
		{"name":"bands_x","type":"function","stateMutability":"view","inputs":[{"name":"n","type":"int256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"bands_y","type":"function","stateMutability":"view","inputs":[{"name":"n","type":"int256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"read_user_tick_numbers","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"int256[2]"}]},
		{"name":"get_xy","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256[][2]"}]}
	]`

	ERC20MetadataABI = `[
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
	]`

	GasPriceOracleABI = `[
		{"name":"l1BaseFee","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`
)
