package testutils

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbwatch/dex"
	"github.com/michaelpento.lv/arbwatch/types"
)

// Polygon mainnet addresses used as fixtures
var (
	USDC   = types.Token{Symbol: "USDC", Address: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"), Decimals: 6}
	WETH   = types.Token{Symbol: "WETH", Address: common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), Decimals: 18}
	WMATIC = types.Token{Symbol: "WMATIC", Address: common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"), Decimals: 18}
	DAI    = types.Token{Symbol: "DAI", Address: common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"), Decimals: 18}
)

// StubCall records one GetAmountOut invocation
type StubCall struct {
	AmountIn *big.Int
	Path     []common.Address
}

// StubSource is a deterministic dex.QuoteSource keyed by path
type StubSource struct {
	name   string
	mu     sync.Mutex
	quotes map[string]*big.Int
	errs   map[string]error
	calls  []StubCall
}

var _ dex.QuoteSource = (*StubSource)(nil)

// NewStubSource creates a source that fails every path until told otherwise
func NewStubSource(name string) *StubSource {
	return &StubSource{
		name:   name,
		quotes: make(map[string]*big.Int),
		errs:   make(map[string]error),
	}
}

func pathKey(path []common.Address) string {
	key := ""
	for _, addr := range path {
		key += addr.Hex()
	}
	return key
}

// SetQuote makes path return amountOut regardless of the input amount
func (s *StubSource) SetQuote(path []common.Address, amountOut *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pathKey(path)
	s.quotes[k] = amountOut
	delete(s.errs, k)
}

// SetError makes path fail with err
func (s *StubSource) SetError(path []common.Address, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[pathKey(path)] = err
}

// Calls returns a copy of the recorded calls
func (s *StubSource) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StubCall(nil), s.calls...)
}

func (s *StubSource) GetName() string {
	return s.name
}

func (s *StubSource) GetAmountOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, StubCall{AmountIn: new(big.Int).Set(amountIn), Path: append([]common.Address(nil), path...)})

	k := pathKey(path)
	if err, ok := s.errs[k]; ok {
		return nil, &dex.QuoteFailure{Source: s.name, Path: path, Err: err}
	}
	out, ok := s.quotes[k]
	if !ok {
		return nil, &dex.QuoteFailure{Source: s.name, Path: path, Err: fmt.Errorf("no quote for path")}
	}
	return new(big.Int).Set(out), nil
}

// Path builds a token path from tokens
func Path(tokens ...types.Token) []common.Address {
	path := make([]common.Address, len(tokens))
	for i, t := range tokens {
		path[i] = t.Address
	}
	return path
}
