// Package notify delivers opportunity alerts to external channels. Repeated
// alerts for the same pair and direction are suppressed for a cooldown window.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/michaelpento.lv/arbwatch/types"
	"go.uber.org/zap"
)

const recentAlertsSize = 1024

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender.
type Notifier struct {
	senders  []Sender
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	recent *lru.Cache // alert key -> time of last delivery
}

// NewNotifier creates a Notifier. A zero cooldown disables de-duplication.
func NewNotifier(senders []Sender, cooldown time.Duration, logger *zap.Logger) (*Notifier, error) {
	recent, err := lru.New(recentAlertsSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Notifier{
		senders:  senders,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "notifier")),
		recent:   recent,
	}, nil
}

// Enabled reports whether any sender is registered
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// NotifyOpportunity alerts every sender about opp unless the same pair and
// direction was alerted within the cooldown.
func (n *Notifier) NotifyOpportunity(ctx context.Context, opp types.Opportunity) error {
	if !n.Enabled() {
		return nil
	}

	key := alertKey(opp)
	if n.suppressed(key) {
		n.logger.Debug("Alert suppressed by cooldown",
			zap.String("pair", opp.Pair),
			zap.String("direction", opp.BuySource+"->"+opp.SellSource))
		return nil
	}

	title := fmt.Sprintf("Arbitrage opportunity %s", opp.Pair)
	message := fmt.Sprintf("Buy on %s, sell on %s\nIn: %s\nOut: %s\nProfit: %s",
		opp.BuySource, opp.SellSource,
		opp.AmountIn.String(), opp.AmountOut.String(), opp.Profit.String())
	if !opp.Timestamp.IsZero() {
		message += "\nChecked: " + opp.Timestamp.UTC().Format(time.RFC3339)
	}

	return n.dispatch(ctx, title, message)
}

func (n *Notifier) suppressed(key uint64) bool {
	if n.cooldown <= 0 {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.recent.Get(key); ok && now.Sub(last.(time.Time)) < n.cooldown {
		return true
	}
	n.recent.Add(key, now)
	return false
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("Sender failed", zap.String("sender", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.Debug("Notification sent", zap.String("sender", s.Name()), zap.String("title", title))
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func alertKey(opp types.Opportunity) uint64 {
	return xxhash.Sum64String(opp.Pair + "|" + opp.BuySource + "|" + opp.SellSource)
}
