package config

import "strings"

// Decimals are not read from chain; every supported symbol is listed here.
var knownDecimals = map[string]int32{
	"WETH":   18,
	"WMATIC": 18,
	"DAI":    18,
	"USDC":   6,
}

// TokenDecimals returns the hardcoded decimals for a symbol
func TokenDecimals(symbol string) (int32, bool) {
	d, ok := knownDecimals[strings.ToUpper(strings.TrimSpace(symbol))]
	return d, ok
}
