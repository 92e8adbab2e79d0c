package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/michaelpento.lv/arbwatch/config"
	"github.com/michaelpento.lv/arbwatch/dex/uniswap"
	"github.com/michaelpento.lv/arbwatch/notify"
	"github.com/michaelpento.lv/arbwatch/server"
	"github.com/michaelpento.lv/arbwatch/storage"
	"github.com/michaelpento.lv/arbwatch/strategies/arbitrage"
	"github.com/michaelpento.lv/arbwatch/types"
	"github.com/michaelpento.lv/arbwatch/utils/metrics"
	"github.com/michaelpento.lv/arbwatch/utils/monitor"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// PairChecker runs both round-trip directions for one token
type PairChecker interface {
	CheckPair(ctx context.Context, token types.Token) ([]types.Observation, error)
}

// Recorder is the append-only log the loop writes to
type Recorder interface {
	LogObservation(ctx context.Context, obs types.Observation) error
	LogOpportunity(ctx context.Context, opp types.Opportunity) error
}

// Options wires a Bot. Everything after Recorder is optional.
type Options struct {
	Tokens          []types.Token
	MinProfit       decimal.Decimal
	PollInterval    time.Duration
	PairConcurrency int

	Checker  PairChecker
	Recorder Recorder

	Metrics  *metrics.ArbitrageMetrics
	Notifier *notify.Notifier
	Status   *server.Status
	Server   *server.Server
	System   *monitor.SystemMonitor
}

// Bot is the poll loop
type Bot struct {
	tokens      []types.Token
	minProfit   decimal.Decimal
	interval    time.Duration
	concurrency int
	checker     PairChecker
	recorder    Recorder
	metrics     *metrics.ArbitrageMetrics
	notifier    *notify.Notifier
	status      *server.Status
	server      *server.Server
	system      *monitor.SystemMonitor
	closers     []func() error
	logger      *zap.Logger
}

// New creates a bot from already built components
func New(opts Options, logger *zap.Logger) (*Bot, error) {
	if opts.Checker == nil {
		return nil, fmt.Errorf("pair checker is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if opts.PairConcurrency <= 0 {
		opts.PairConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bot{
		tokens:      opts.Tokens,
		minProfit:   opts.MinProfit,
		interval:    opts.PollInterval,
		concurrency: opts.PairConcurrency,
		checker:     opts.Checker,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
		status:      opts.Status,
		server:      opts.Server,
		system:      opts.System,
		logger:      logger.With(zap.String("component", "bot")),
	}, nil
}

// NewFromConfig opens the store, connects to the RPC endpoint and builds
// every component described by cfg. The store is opened first so that a bad
// database path fails before any network activity.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Database ready", zap.String("path", cfg.DBPath))

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	closeAll := func() {
		client.Close()
		store.Close()
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RPCRateLimit.RequestsPerSecond), cfg.RPCRateLimit.BurstSize)
	sourceA, err := uniswap.NewRouter(client, uniswap.RouterConfig{
		Name:    cfg.DexAName,
		Address: cfg.DexAAddress,
		Timeout: cfg.QuoteTimeout(),
		Limiter: limiter,
	})
	if err != nil {
		closeAll()
		return nil, err
	}
	sourceB, err := uniswap.NewRouter(client, uniswap.RouterConfig{
		Name:    cfg.DexBName,
		Address: cfg.DexBAddress,
		Timeout: cfg.QuoteTimeout(),
		Limiter: limiter,
	})
	if err != nil {
		closeAll()
		return nil, err
	}

	m := metrics.NewArbitrageMetrics("")
	detector, err := arbitrage.NewDetector(arbitrage.DetectorConfig{
		SourceA:         sourceA,
		SourceB:         sourceB,
		Reference:       cfg.Reference,
		TradeAmount:     cfg.TradeAmountDecimal(),
		FailOnSecondLeg: cfg.SecondLegPolicy == config.SecondLegFatal,
		Metrics:         m,
	}, logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	var senders []notify.Sender
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	notifier, err := notify.NewNotifier(senders, cfg.AlertCooldown(), logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	status := server.NewStatus()
	system := monitor.NewSystemMonitor(m.Registry(), metrics.DefaultNamespace, 0, logger)
	status.SetRuntimeSource(system.GetMetrics)
	var srv *server.Server
	if cfg.StatusAddr != "" {
		srv = server.New(cfg.StatusAddr, status, m.Handler(), logger)
	}

	b, err := New(Options{
		Tokens:          cfg.Monitored,
		MinProfit:       cfg.MinProfitDecimal(),
		PollInterval:    cfg.PollInterval(),
		PairConcurrency: cfg.PairConcurrency,
		Checker:         detector,
		Recorder:        store,
		Metrics:         m,
		Notifier:        notifier,
		Status:          status,
		Server:          srv,
		System:          system,
	}, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	b.closers = append(b.closers, func() error { client.Close(); return nil }, store.Close)

	return b, nil
}

// Run polls until ctx is cancelled. A fatal pair error or a failed write ends
// the loop with that error; cancellation ends it with nil.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting arbitrage monitor",
		zap.Int("tokens", len(b.tokens)),
		zap.String("min_profit", b.minProfit.String()),
		zap.Duration("interval", b.interval),
		zap.Int("pair_concurrency", b.concurrency))

	if b.system != nil {
		go b.system.Run(ctx)
	}
	if b.server != nil {
		go func() {
			if err := b.server.Run(ctx); err != nil {
				b.logger.Error("Status server stopped", zap.Error(err))
			}
		}()
	}

	timer := time.NewTimer(b.interval)
	defer timer.Stop()

	for {
		if _, err := b.RunCycle(ctx); err != nil && ctx.Err() == nil {
			return err
		}

		timer.Reset(b.interval)
		select {
		case <-ctx.Done():
			b.logger.Info("Arbitrage monitor stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle checks every configured token once and records the results
func (b *Bot) RunCycle(ctx context.Context) (server.CycleSummary, error) {
	summary := server.CycleSummary{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now(),
		Pairs:     len(b.tokens),
	}
	logger := b.logger.With(zap.String("cycle_id", summary.CycleID))
	logger.Debug("Cycle started")

	var err error
	if b.concurrency > 1 {
		err = b.runConcurrent(ctx, logger, &summary)
	} else {
		err = b.runSequential(ctx, logger, &summary)
	}

	summary.Duration = time.Since(summary.StartedAt)
	if err != nil {
		summary.Error = err.Error()
	}
	if b.metrics != nil {
		b.metrics.CycleDuration.Observe(summary.Duration.Seconds())
		b.metrics.Cycles.Inc()
	}
	if b.status != nil {
		b.status.Record(summary)
	}

	logger.Debug("Cycle finished",
		zap.Duration("duration", summary.Duration),
		zap.Int("observations", summary.Observations),
		zap.Int("opportunities", summary.Opportunities))

	return summary, err
}

func (b *Bot) runSequential(ctx context.Context, logger *zap.Logger, summary *server.CycleSummary) error {
	for _, token := range b.tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Directions completed before a fatal failure are still recorded
		observations, checkErr := b.checker.CheckPair(ctx, token)
		if err := b.record(ctx, logger, observations, summary); err != nil {
			return err
		}
		if checkErr != nil {
			return checkErr
		}
	}
	return nil
}

// runConcurrent checks pairs in parallel. A failed pair is logged and only the
// directions it completed are kept; results are recorded afterwards in
// configured token order.
func (b *Bot) runConcurrent(ctx context.Context, logger *zap.Logger, summary *server.CycleSummary) error {
	results := make([][]types.Observation, len(b.tokens))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, token := range b.tokens {
		i, token := i, token
		g.Go(func() error {
			observations, err := b.checker.CheckPair(gctx, token)
			results[i] = observations
			if err != nil {
				failed.Add(1)
				logger.Error("Pair check failed", zap.String("token", token.Symbol), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, observations := range results {
		if err := b.record(ctx, logger, observations, summary); err != nil {
			return err
		}
	}
	if n := failed.Load(); n > 0 {
		logger.Warn("Some pairs failed this cycle", zap.Int32("failed", n))
	}
	return nil
}

func (b *Bot) record(ctx context.Context, logger *zap.Logger, observations []types.Observation, summary *server.CycleSummary) error {
	for _, obs := range observations {
		if err := b.recorder.LogObservation(ctx, obs); err != nil {
			return err
		}
		summary.Observations++

		direction := obs.Direction().String()
		profitable := arbitrage.IsOpportunity(obs.Profit, b.minProfit)
		if b.metrics != nil {
			b.metrics.Checks.WithLabelValues(obs.Pair, direction).Inc()
			b.metrics.LastProfit.WithLabelValues(obs.Pair, direction).Set(obs.Profit.InexactFloat64())
		}

		if !profitable {
			logger.Info("Pair checked",
				zap.String("pair", obs.Pair),
				zap.String("direction", direction),
				zap.String("profit", obs.Profit.String()))
			continue
		}

		opp := obs.Opportunity()
		if err := b.recorder.LogOpportunity(ctx, opp); err != nil {
			return err
		}
		summary.Opportunities++
		if b.metrics != nil {
			b.metrics.Opportunities.WithLabelValues(obs.Pair, direction).Inc()
		}

		logger.Info("Profit opportunity",
			zap.String("pair", opp.Pair),
			zap.String("buy", opp.BuySource),
			zap.String("sell", opp.SellSource),
			zap.String("amount_in", opp.AmountIn.String()),
			zap.String("amount_out", opp.AmountOut.String()),
			zap.String("profit", opp.Profit.String()))

		if b.notifier != nil {
			if err := b.notifier.NotifyOpportunity(ctx, opp); err != nil {
				logger.Warn("Failed to send opportunity alert", zap.Error(err))
			}
		}
	}
	return nil
}

// Close releases the RPC client and the database
func (b *Bot) Close() error {
	var firstErr error
	for _, c := range b.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
