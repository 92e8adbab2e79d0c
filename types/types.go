package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token is an ERC20 token with its decimal scaling known up front
type Token struct {
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Address  common.Address `json:"address" yaml:"address"`
	Decimals int32          `json:"decimals" yaml:"decimals"`
}

// PairLabel returns the "<TOKEN>/<REFERENCE>" label used in logs and rows
func PairLabel(token, reference Token) string {
	return fmt.Sprintf("%s/%s", token.Symbol, reference.Symbol)
}

// Direction names the buy and sell sources of one round trip
type Direction struct {
	BuySource  string
	SellSource string
}

func (d Direction) String() string {
	return d.BuySource + "->" + d.SellSource
}

// Observation is the result of one round-trip check. AmountIn and AmountOut
// are in reference units; Profit is AmountOut - AmountIn.
type Observation struct {
	// Timestamp is when the check finished. Stored rows carry the store's
	// own write time instead.
	Timestamp  time.Time
	Pair       string
	BuySource  string
	SellSource string
	AmountIn   decimal.Decimal
	AmountOut  decimal.Decimal
	Profit     decimal.Decimal
}

// Direction returns the buy/sell sources of the observation
func (o Observation) Direction() Direction {
	return Direction{BuySource: o.BuySource, SellSource: o.SellSource}
}

// Opportunity builds the opportunity record that mirrors this observation
func (o Observation) Opportunity() Opportunity {
	return Opportunity{
		Timestamp:  o.Timestamp,
		BuySource:  o.BuySource,
		SellSource: o.SellSource,
		Pair:       o.Pair,
		AmountIn:   o.AmountIn,
		AmountOut:  o.AmountOut,
		Profit:     o.Profit,
	}
}

// Opportunity is an observation whose profit cleared the configured threshold
type Opportunity struct {
	// Timestamp is copied from the observation, see Observation.Timestamp
	Timestamp  time.Time
	BuySource  string
	SellSource string
	Pair       string
	AmountIn   decimal.Decimal
	AmountOut  decimal.Decimal
	Profit     decimal.Decimal
}
