package bot

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/michaelpento.lv/arbwatch/dex"
	"github.com/michaelpento.lv/arbwatch/server"
	"github.com/michaelpento.lv/arbwatch/storage"
	"github.com/michaelpento.lv/arbwatch/strategies/arbitrage"
	"github.com/michaelpento.lv/arbwatch/types"
	"github.com/michaelpento.lv/arbwatch/utils/metrics"
	"github.com/michaelpento.lv/arbwatch/utils/testutils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	usdc   = testutils.USDC
	weth   = testutils.WETH
	wmatic = testutils.WMATIC
	dai    = testutils.DAI
)

type memoryRecorder struct {
	mu            sync.Mutex
	observations  []types.Observation
	opportunities []types.Opportunity
	err           error
}

func (m *memoryRecorder) LogObservation(ctx context.Context, obs types.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return &storage.PersistenceError{Table: "price_logs", Err: m.err}
	}
	m.observations = append(m.observations, obs)
	return nil
}

func (m *memoryRecorder) LogOpportunity(ctx context.Context, opp types.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return &storage.PersistenceError{Table: "opportunities", Err: m.err}
	}
	m.opportunities = append(m.opportunities, opp)
	return nil
}

type checkerFunc func(ctx context.Context, token types.Token) ([]types.Observation, error)

func (f checkerFunc) CheckPair(ctx context.Context, token types.Token) ([]types.Observation, error) {
	return f(ctx, token)
}

// wethSources quotes WETH so that QuickSwap->SushiSwap returns 1010 USDC and
// SushiSwap->QuickSwap returns 995 USDC for a 1000 USDC trade.
func wethSources() (*testutils.StubSource, *testutils.StubSource) {
	quick := testutils.NewStubSource("QuickSwap")
	sushi := testutils.NewStubSource("SushiSwap")
	half := big.NewInt(500000000000000000)

	quick.SetQuote(testutils.Path(usdc, weth), half)
	sushi.SetQuote(testutils.Path(weth, usdc), big.NewInt(1010000000))
	sushi.SetQuote(testutils.Path(usdc, weth), half)
	quick.SetQuote(testutils.Path(weth, usdc), big.NewInt(995000000))
	return quick, sushi
}

func newDetector(t *testing.T, a, b dex.QuoteSource, failOnSecondLeg bool, m *metrics.ArbitrageMetrics) *arbitrage.Detector {
	d, err := arbitrage.NewDetector(arbitrage.DetectorConfig{
		SourceA:         a,
		SourceB:         b,
		Reference:       usdc,
		TradeAmount:     decimal.NewFromInt(1000),
		FailOnSecondLeg: failOnSecondLeg,
		Metrics:         m,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return d
}

func openStore(t *testing.T) (*storage.Store, *sql.DB) {
	path := filepath.Join(t.TempDir(), "arb.db3")
	store, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store, db
}

type priceLogRow struct {
	Timestamp string
	Pair      string
	Buy       string
	Sell      string
	Profit    float64
}

func priceLogs(t *testing.T, db *sql.DB) []priceLogRow {
	rows, err := db.Query(`SELECT timestamp, token_pair, buy_dex, sell_dex, profit FROM price_logs ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []priceLogRow
	for rows.Next() {
		var r priceLogRow
		require.NoError(t, rows.Scan(&r.Timestamp, &r.Pair, &r.Buy, &r.Sell, &r.Profit))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func countOpportunities(t *testing.T, db *sql.DB) int {
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM opportunities`).Scan(&n))
	return n
}

func newBot(t *testing.T, opts Options) *Bot {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	b, err := New(opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b
}

func TestRunCycleRecordsObservationsAndOpportunities(t *testing.T) {
	quick, sushi := wethSources()
	store, db := openStore(t)

	b := newBot(t, Options{
		Tokens:    []types.Token{weth},
		MinProfit: decimal.NewFromInt(5),
		Checker:   newDetector(t, quick, sushi, false, nil),
		Recorder:  store,
	})

	summary, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Observations)
	assert.Equal(t, 1, summary.Opportunities)
	assert.NotEmpty(t, summary.CycleID)

	logs := priceLogs(t, db)
	require.Len(t, logs, 2)
	assert.Equal(t, "QuickSwap", logs[0].Buy)
	assert.Equal(t, "SushiSwap", logs[0].Sell)
	assert.InDelta(t, 10, logs[0].Profit, 1e-9)
	assert.Equal(t, "SushiSwap", logs[1].Buy)
	assert.InDelta(t, -5, logs[1].Profit, 1e-9)

	var (
		pair, buy, sell           string
		amountIn, amountOut, prof float64
	)
	require.NoError(t, db.QueryRow(`SELECT token_pair, buy_dex, sell_dex, amount_in, amount_out, profit FROM opportunities`).
		Scan(&pair, &buy, &sell, &amountIn, &amountOut, &prof))
	assert.Equal(t, "WETH/USDC", pair)
	assert.Equal(t, "QuickSwap", buy)
	assert.Equal(t, "SushiSwap", sell)
	assert.InDelta(t, 1000, amountIn, 1e-9)
	assert.InDelta(t, 1010, amountOut, 1e-9)
	assert.Equal(t, logs[0].Profit, prof)
}

func TestRunCycleBelowThreshold(t *testing.T) {
	quick, sushi := wethSources()
	store, db := openStore(t)

	b := newBot(t, Options{
		Tokens:    []types.Token{weth},
		MinProfit: decimal.NewFromInt(15),
		Checker:   newDetector(t, quick, sushi, false, nil),
		Recorder:  store,
	})

	_, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, priceLogs(t, db), 2)
	assert.Equal(t, 0, countOpportunities(t, db))
}

func TestRunCycleProfitEqualToThresholdIsNotAnOpportunity(t *testing.T) {
	quick, sushi := wethSources()
	rec := &memoryRecorder{}

	b := newBot(t, Options{
		Tokens:    []types.Token{weth},
		MinProfit: decimal.NewFromInt(10),
		Checker:   newDetector(t, quick, sushi, false, nil),
		Recorder:  rec,
	})

	_, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, rec.observations, 2)
	assert.Empty(t, rec.opportunities)
}

func TestRepeatedCyclesAppendIdenticalRows(t *testing.T) {
	quick, sushi := wethSources()
	store, db := openStore(t)

	b := newBot(t, Options{
		Tokens:    []types.Token{weth},
		MinProfit: decimal.NewFromInt(5),
		Checker:   newDetector(t, quick, sushi, false, nil),
		Recorder:  store,
	})

	_, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = b.RunCycle(context.Background())
	require.NoError(t, err)

	logs := priceLogs(t, db)
	require.Len(t, logs, 4)
	for i := 0; i < 2; i++ {
		first, second := logs[i], logs[i+2]
		assert.NotEmpty(t, first.Timestamp)
		first.Timestamp, second.Timestamp = "", ""
		assert.Equal(t, first, second)
	}
	assert.Equal(t, 2, countOpportunities(t, db))
}

func TestBuyLegFailureStillChecksOtherDirection(t *testing.T) {
	quick, sushi := wethSources()
	quick.SetError(testutils.Path(usdc, weth), errors.New("network error"))
	rec := &memoryRecorder{}

	b := newBot(t, Options{
		Tokens:    []types.Token{weth},
		MinProfit: decimal.NewFromInt(5),
		Checker:   newDetector(t, quick, sushi, false, nil),
		Recorder:  rec,
	})

	_, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.observations, 1)
	assert.Equal(t, "SushiSwap", rec.observations[0].BuySource)
	assert.Empty(t, rec.opportunities)
}

func TestEveryOpportunityHasMatchingObservation(t *testing.T) {
	quick, sushi := wethSources()
	// WMATIC is profitable both ways
	quick.SetQuote(testutils.Path(usdc, wmatic), big.NewInt(7))
	sushi.SetQuote(testutils.Path(wmatic, usdc), big.NewInt(1020000000))
	sushi.SetQuote(testutils.Path(usdc, wmatic), big.NewInt(7))
	quick.SetQuote(testutils.Path(wmatic, usdc), big.NewInt(1006000000))
	rec := &memoryRecorder{}

	b := newBot(t, Options{
		Tokens:    []types.Token{weth, wmatic},
		MinProfit: decimal.NewFromInt(5),
		Checker:   newDetector(t, quick, sushi, false, nil),
		Recorder:  rec,
	})

	_, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.observations, 4)
	require.Len(t, rec.opportunities, 3)

	for _, opp := range rec.opportunities {
		matched := false
		for _, obs := range rec.observations {
			if obs.Pair == opp.Pair && obs.BuySource == opp.BuySource &&
				obs.SellSource == opp.SellSource && obs.Profit.Equal(opp.Profit) {
				matched = true
			}
		}
		assert.True(t, matched, "no observation for %s %s->%s", opp.Pair, opp.BuySource, opp.SellSource)
		assert.True(t, opp.Profit.GreaterThan(decimal.NewFromInt(5)))
	}

	// Configured token order, direction 1 before direction 2
	assert.Equal(t, "WETH/USDC", rec.observations[0].Pair)
	assert.Equal(t, "QuickSwap", rec.observations[0].BuySource)
	assert.Equal(t, "WETH/USDC", rec.observations[1].Pair)
	assert.Equal(t, "WMATIC/USDC", rec.observations[2].Pair)
	assert.Equal(t, "SushiSwap", rec.observations[3].BuySource)
}

func TestPersistenceErrorIsFatal(t *testing.T) {
	quick, sushi := wethSources()
	rec := &memoryRecorder{err: errors.New("disk full")}

	b := newBot(t, Options{
		Tokens:    []types.Token{weth},
		MinProfit: decimal.NewFromInt(5),
		Checker:   newDetector(t, quick, sushi, false, nil),
		Recorder:  rec,
	})

	err := b.Run(context.Background())
	require.Error(t, err)
	var perr *storage.PersistenceError
	assert.True(t, errors.As(err, &perr))
}

func TestSecondLegFailureEndsRunWhenFatal(t *testing.T) {
	quick, sushi := wethSources()
	sushi.SetError(testutils.Path(weth, usdc), errors.New("execution reverted"))
	rec := &memoryRecorder{}

	b := newBot(t, Options{
		Tokens:    []types.Token{weth},
		MinProfit: decimal.NewFromInt(5),
		Checker:   newDetector(t, quick, sushi, true, nil),
		Recorder:  rec,
	})

	err := b.Run(context.Background())
	require.Error(t, err)
	var failure *dex.QuoteFailure
	assert.True(t, errors.As(err, &failure))
	assert.Empty(t, rec.observations)
}

func TestFatalSecondDirectionKeepsFirstDirectionRows(t *testing.T) {
	for _, concurrency := range []int{1, 2} {
		quick, sushi := wethSources()
		// Direction 1 succeeds with profit 10, direction 2 fails on its sell leg
		quick.SetError(testutils.Path(weth, usdc), errors.New("execution reverted"))
		store, db := openStore(t)

		b := newBot(t, Options{
			Tokens:          []types.Token{weth},
			MinProfit:       decimal.NewFromInt(5),
			PairConcurrency: concurrency,
			Checker:         newDetector(t, quick, sushi, true, nil),
			Recorder:        store,
		})

		if concurrency == 1 {
			err := b.Run(context.Background())
			require.Error(t, err)
			var failure *dex.QuoteFailure
			assert.True(t, errors.As(err, &failure))
		} else {
			// Concurrent mode isolates the failure to the pair
			_, err := b.RunCycle(context.Background())
			require.NoError(t, err)
		}

		logs := priceLogs(t, db)
		require.Len(t, logs, 1, "concurrency=%d", concurrency)
		assert.Equal(t, "QuickSwap", logs[0].Buy)
		assert.Equal(t, "SushiSwap", logs[0].Sell)
		assert.InDelta(t, 10, logs[0].Profit, 1e-9)
		assert.Equal(t, 1, countOpportunities(t, db), "concurrency=%d", concurrency)
	}
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cycles := 0
	checker := checkerFunc(func(ctx context.Context, token types.Token) ([]types.Observation, error) {
		cycles++
		if cycles == 2 {
			cancel()
		}
		return nil, nil
	})

	b := newBot(t, Options{
		Tokens:   []types.Token{weth},
		Checker:  checker,
		Recorder: &memoryRecorder{},
	})

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Equal(t, 2, cycles)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentCycleKeepsOrderAndIsolatesFailures(t *testing.T) {
	rec := &memoryRecorder{}
	checker := checkerFunc(func(ctx context.Context, token types.Token) ([]types.Observation, error) {
		if token.Symbol == wmatic.Symbol {
			return nil, errors.New("sell quote failed")
		}
		// Finish out of order
		if token.Symbol == weth.Symbol {
			time.Sleep(20 * time.Millisecond)
		}
		pair := types.PairLabel(token, usdc)
		return []types.Observation{
			{Pair: pair, BuySource: "QuickSwap", SellSource: "SushiSwap", Profit: decimal.NewFromInt(6)},
			{Pair: pair, BuySource: "SushiSwap", SellSource: "QuickSwap", Profit: decimal.NewFromInt(-6)},
		}, nil
	})

	b := newBot(t, Options{
		Tokens:          []types.Token{weth, wmatic, dai},
		MinProfit:       decimal.NewFromInt(5),
		PairConcurrency: 3,
		Checker:         checker,
		Recorder:        rec,
	})

	summary, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Observations)
	assert.Equal(t, 2, summary.Opportunities)

	require.Len(t, rec.observations, 4)
	assert.Equal(t, "WETH/USDC", rec.observations[0].Pair)
	assert.Equal(t, "QuickSwap", rec.observations[0].BuySource)
	assert.Equal(t, "WETH/USDC", rec.observations[1].Pair)
	assert.Equal(t, "DAI/USDC", rec.observations[2].Pair)
	assert.Equal(t, "DAI/USDC", rec.observations[3].Pair)
}

func TestRunCycleUpdatesMetricsAndStatus(t *testing.T) {
	quick, sushi := wethSources()
	m := metrics.NewArbitrageMetrics("test_bot")
	status := server.NewStatus()

	b := newBot(t, Options{
		Tokens:    []types.Token{weth},
		MinProfit: decimal.NewFromInt(5),
		Checker:   newDetector(t, quick, sushi, false, m),
		Recorder:  &memoryRecorder{},
		Metrics:   m,
		Status:    status,
	})

	summary, err := b.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(2), m.CheckTotal())
	assert.Equal(t, float64(1), m.OpportunityTotal())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Cycles))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.LastProfit.WithLabelValues("WETH/USDC", "QuickSwap->SushiSwap")))

	cycles, last := status.Snapshot()
	assert.Equal(t, uint64(1), cycles)
	require.NotNil(t, last)
	assert.Equal(t, summary.CycleID, last.CycleID)
	assert.Equal(t, 1, last.Opportunities)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Recorder: &memoryRecorder{}, PollInterval: time.Second}, nil)
	assert.Error(t, err)

	_, err = New(Options{Checker: checkerFunc(nil), PollInterval: time.Second}, nil)
	assert.Error(t, err)

	_, err = New(Options{Checker: checkerFunc(nil), Recorder: &memoryRecorder{}}, nil)
	assert.Error(t, err)
}
