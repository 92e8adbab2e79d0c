package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbwatch/dex"
	"golang.org/x/time/rate"
)

const getAmountsOutMethod = "getAmountsOut"

// Router ABI, reduced to the quote function
const routerABIJson = `[{
	"inputs": [
		{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
		{"internalType": "address[]", "name": "path", "type": "address[]"}
	],
	"name": "getAmountsOut",
	"outputs": [
		{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}
	],
	"stateMutability": "view",
	"type": "function"
}]`

// RouterConfig describes one router contract
type RouterConfig struct {
	Name    string
	Address common.Address
	// Timeout bounds a single quote call; zero disables it
	Timeout time.Duration
	// Limiter is shared by every router talking to the same RPC endpoint
	Limiter *rate.Limiter
}

// Router quotes swaps through a Uniswap V2 style router (QuickSwap,
// SushiSwap and other forks expose the same getAmountsOut).
type Router struct {
	name     string
	address  common.Address
	contract *bind.BoundContract
	timeout  time.Duration
	limiter  *rate.Limiter
}

var _ dex.QuoteSource = (*Router)(nil)

// NewRouter binds a router contract for read-only calls
func NewRouter(caller bind.ContractCaller, cfg RouterConfig) (*Router, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("router name must be set")
	}

	parsedABI, err := abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	return &Router{
		name:     cfg.Name,
		address:  cfg.Address,
		contract: bind.NewBoundContract(cfg.Address, parsedABI, caller, nil, nil),
		timeout:  cfg.Timeout,
		limiter:  cfg.Limiter,
	}, nil
}

// GetName returns the router name
func (r *Router) GetName() string {
	return r.name
}

// GetRouterAddress returns the router contract address
func (r *Router) GetRouterAddress() common.Address {
	return r.address
}

// GetAmountOut calls getAmountsOut and returns the last amount
func (r *Router) GetAmountOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if err := dex.ValidatePath(amountIn, path); err != nil {
		return nil, r.fail(path, err)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, r.fail(path, fmt.Errorf("rate limiter: %w", err))
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, getAmountsOutMethod, amountIn, path); err != nil {
		return nil, r.fail(path, fmt.Errorf("failed to call %s: %w", getAmountsOutMethod, err))
	}
	if len(out) != 1 {
		return nil, r.fail(path, fmt.Errorf("unexpected %s return length %d", getAmountsOutMethod, len(out)))
	}

	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, r.fail(path, fmt.Errorf("unexpected %s return type %T", getAmountsOutMethod, out[0]))
	}
	if len(amounts) != len(path) {
		return nil, r.fail(path, fmt.Errorf("expected %d amounts, got %d", len(path), len(amounts)))
	}

	amountOut := amounts[len(amounts)-1]
	if amountOut == nil || amountOut.Sign() < 0 {
		return nil, r.fail(path, fmt.Errorf("invalid amount out %v", amountOut))
	}

	return new(big.Int).Set(amountOut), nil
}

func (r *Router) fail(path []common.Address, err error) error {
	return &dex.QuoteFailure{Source: r.name, Path: path, Err: err}
}
