package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteSource is a contract that prices swaps along a token path
type QuoteSource interface {
	// GetName returns the source name used in logs and stored rows
	GetName() string

	// GetAmountOut returns the amount of path[len(path)-1] received for
	// amountIn of path[0]
	GetAmountOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error)
}

// QuoteFailure wraps any error raised while obtaining a quote
type QuoteFailure struct {
	Source string
	Path   []common.Address
	Err    error
}

func (e *QuoteFailure) Error() string {
	return fmt.Sprintf("quote from %s failed: %v", e.Source, e.Err)
}

func (e *QuoteFailure) Unwrap() error {
	return e.Err
}

// ValidatePath checks the input constraints shared by every quote source
func ValidatePath(amountIn *big.Int, path []common.Address) error {
	if amountIn == nil {
		return fmt.Errorf("amount in is nil")
	}
	if amountIn.Sign() < 0 {
		return fmt.Errorf("amount in must not be negative")
	}
	if len(path) < 2 {
		return fmt.Errorf("invalid path length %d", len(path))
	}
	seen := make(map[common.Address]struct{}, len(path))
	for _, addr := range path {
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("duplicate address %s in path", addr.Hex())
		}
		seen[addr] = struct{}{}
	}
	return nil
}
