package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const defaultSampleInterval = 5 * time.Second

// SystemMonitor samples Go runtime statistics into gauges
type SystemMonitor struct {
	interval time.Duration
	logger   *zap.Logger
	metrics  struct {
		goroutines  prometheus.Gauge
		heapObjects prometheus.Gauge
		heapAlloc   prometheus.Gauge
		gcPause     prometheus.Gauge
	}

	mu   sync.RWMutex
	last map[string]interface{}
}

// NewSystemMonitor registers the runtime gauges on registry. Sampling starts
// with Run.
func NewSystemMonitor(registry prometheus.Registerer, namespace string, interval time.Duration, logger *zap.Logger) *SystemMonitor {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registry)

	m := &SystemMonitor{
		interval: interval,
		logger:   logger.With(zap.String("component", "system_monitor")),
	}
	m.metrics.goroutines = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_goroutines",
		Help:      "Current number of goroutines",
	})
	m.metrics.heapObjects = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_heap_objects",
		Help:      "Current number of heap objects",
	})
	m.metrics.heapAlloc = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_heap_alloc_bytes",
		Help:      "Current heap allocation in bytes",
	})
	m.metrics.gcPause = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_gc_pause_seconds",
		Help:      "Duration of the most recent GC pause",
	})

	m.collect()
	return m
}

// Run samples until ctx is cancelled
func (m *SystemMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *SystemMonitor) collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	goroutines := runtime.NumGoroutine()
	gcPause := time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]).Seconds()

	m.metrics.goroutines.Set(float64(goroutines))
	m.metrics.heapObjects.Set(float64(memStats.HeapObjects))
	m.metrics.heapAlloc.Set(float64(memStats.HeapAlloc))
	m.metrics.gcPause.Set(gcPause)

	m.mu.Lock()
	m.last = map[string]interface{}{
		"goroutines":       int64(goroutines),
		"heap_objects":     int64(memStats.HeapObjects),
		"heap_alloc_bytes": int64(memStats.HeapAlloc),
		"gc_pause_seconds": gcPause,
	}
	m.mu.Unlock()

	m.logger.Debug("Runtime sampled",
		zap.Int("goroutines", goroutines),
		zap.Uint64("heap_alloc", memStats.HeapAlloc))
}

// GetMetrics returns the most recent sample
func (m *SystemMonitor) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]interface{}, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}
