package arbitrage

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// IsOpportunity reports whether profit strictly exceeds the threshold
func IsOpportunity(profit, threshold decimal.Decimal) bool {
	return profit.GreaterThan(threshold)
}

// Normalize converts a smallest-unit amount into token units
func Normalize(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// ToSmallestUnit scales a token-unit amount up by 10^decimals, truncating
// any remaining fraction toward zero
func ToSmallestUnit(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).BigInt()
}
