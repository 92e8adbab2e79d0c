package arbitrage

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/arbwatch/dex"
	"github.com/michaelpento.lv/arbwatch/types"
	"github.com/michaelpento.lv/arbwatch/utils/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DetectorConfig holds everything a Detector needs
type DetectorConfig struct {
	SourceA     dex.QuoteSource
	SourceB     dex.QuoteSource
	Reference   types.Token
	TradeAmount decimal.Decimal
	// FailOnSecondLeg makes a failed sell-side quote fatal instead of
	// skipping the direction
	FailOnSecondLeg bool
	Metrics         *metrics.ArbitrageMetrics
	// Now stamps Observation.Timestamp, the check time; defaults to time.Now
	Now func() time.Time
}

// Detector runs round-trip checks for one token against the reference token
type Detector struct {
	sourceA         dex.QuoteSource
	sourceB         dex.QuoteSource
	reference       types.Token
	tradeAmount     decimal.Decimal
	amountIn        *big.Int
	failOnSecondLeg bool
	metrics         *metrics.ArbitrageMetrics
	now             func() time.Time
	logger          *zap.Logger
}

// NewDetector creates a new arbitrage detector
func NewDetector(cfg DetectorConfig, logger *zap.Logger) (*Detector, error) {
	if cfg.SourceA == nil || cfg.SourceB == nil {
		return nil, fmt.Errorf("both quote sources are required")
	}
	if cfg.TradeAmount.IsNegative() {
		return nil, fmt.Errorf("trade amount must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Detector{
		sourceA:         cfg.SourceA,
		sourceB:         cfg.SourceB,
		reference:       cfg.Reference,
		tradeAmount:     cfg.TradeAmount,
		amountIn:        ToSmallestUnit(cfg.TradeAmount, cfg.Reference.Decimals),
		failOnSecondLeg: cfg.FailOnSecondLeg,
		metrics:         cfg.Metrics,
		now:             now,
		logger:          logger.With(zap.String("component", "detector")),
	}, nil
}

// Reference returns the reference token
func (d *Detector) Reference() types.Token {
	return d.reference
}

// CheckPair checks both directions for token. Direction A->B always comes
// first. A failed direction is skipped; only a second-leg failure with
// FailOnSecondLeg set returns an error.
func (d *Detector) CheckPair(ctx context.Context, token types.Token) ([]types.Observation, error) {
	pair := types.PairLabel(token, d.reference)
	observations := make([]types.Observation, 0, 2)

	for _, route := range [][2]dex.QuoteSource{{d.sourceA, d.sourceB}, {d.sourceB, d.sourceA}} {
		obs, err := d.checkDirection(ctx, token, pair, route[0], route[1])
		if err != nil {
			return observations, err
		}
		if obs != nil {
			observations = append(observations, *obs)
		}
	}

	return observations, nil
}

func (d *Detector) checkDirection(ctx context.Context, token types.Token, pair string, buy, sell dex.QuoteSource) (*types.Observation, error) {
	direction := types.Direction{BuySource: buy.GetName(), SellSource: sell.GetName()}

	tokensOut, err := d.quote(ctx, buy, d.amountIn, []common.Address{d.reference.Address, token.Address})
	if err != nil {
		d.logger.Warn("Buy quote failed, skipping direction",
			zap.String("pair", pair),
			zap.Stringer("direction", direction),
			zap.Error(err))
		return nil, nil
	}

	refOut, err := d.quote(ctx, sell, tokensOut, []common.Address{token.Address, d.reference.Address})
	if err != nil {
		if d.failOnSecondLeg {
			return nil, fmt.Errorf("%s %s: sell quote failed: %w", pair, direction, err)
		}
		d.logger.Warn("Sell quote failed, skipping direction",
			zap.String("pair", pair),
			zap.Stringer("direction", direction),
			zap.Error(err))
		return nil, nil
	}

	amountOut := Normalize(refOut, d.reference.Decimals)
	return &types.Observation{
		Timestamp:  d.now(),
		Pair:       pair,
		BuySource:  direction.BuySource,
		SellSource: direction.SellSource,
		AmountIn:   d.tradeAmount,
		AmountOut:  amountOut,
		Profit:     amountOut.Sub(d.tradeAmount),
	}, nil
}

func (d *Detector) quote(ctx context.Context, source dex.QuoteSource, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	start := time.Now()
	out, err := source.GetAmountOut(ctx, amountIn, path)
	if d.metrics != nil {
		d.metrics.QuoteLatency.WithLabelValues(source.GetName()).Observe(time.Since(start).Seconds())
		if err != nil {
			d.metrics.QuoteFailures.WithLabelValues(source.GetName()).Inc()
		}
	}
	return out, err
}
