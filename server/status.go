package server

import (
	"sync"
	"time"
)

// CycleSummary describes one completed poll cycle
type CycleSummary struct {
	CycleID       string        `json:"cycle_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	Pairs         int           `json:"pairs"`
	Observations  int           `json:"observations"`
	Opportunities int           `json:"opportunities"`
	Error         string        `json:"error,omitempty"`
}

// Status holds the latest cycle summary for the status endpoint
type Status struct {
	mu        sync.RWMutex
	startedAt time.Time
	cycles    uint64
	last      *CycleSummary
	runtime   func() map[string]interface{}
}

func NewStatus() *Status {
	return &Status{startedAt: time.Now()}
}

// Record stores summary as the latest cycle
func (s *Status) Record(summary CycleSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.last = &summary
}

// Snapshot returns the number of recorded cycles and the latest summary,
// which is nil before the first cycle finishes.
func (s *Status) Snapshot() (uint64, *CycleSummary) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return s.cycles, nil
	}
	last := *s.last
	return s.cycles, &last
}

// SetRuntimeSource attaches a provider of runtime statistics
func (s *Status) SetRuntimeSource(fn func() map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime = fn
}

// Runtime returns the latest runtime statistics, or nil when no source is set
func (s *Status) Runtime() map[string]interface{} {
	s.mu.RLock()
	fn := s.runtime
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (s *Status) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
