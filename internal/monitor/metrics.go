package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks webhook and order processing performance.
type SystemMetrics struct {
	WebhookLatency *LatencyHistogram

	signalsReceived uint64
	ordersProcessed uint64
	errorsCount     uint64

	startedAt time.Time
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		WebhookLatency: NewLatencyHistogram(1000),
		startedAt:      time.Now(),
	}
}

// IncrementSignals counts one received webhook signal.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsReceived, 1)
}

// IncrementOrders counts one successfully dispatched signal.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersProcessed, 1)
}

// IncrementErrors counts one failed request.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time view for the metrics endpoint.
type MetricsSnapshot struct {
	WebhookLatency  LatencyStats `json:"webhook_latency"`
	SignalsReceived uint64       `json:"signals_received"`
	OrdersProcessed uint64       `json:"orders_processed"`
	ErrorsCount     uint64       `json:"errors_count"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds   float64      `json:"uptime_seconds"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns the current metrics.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		WebhookLatency:  m.WebhookLatency.Stats(),
		SignalsReceived: atomic.LoadUint64(&m.signalsReceived),
		OrdersProcessed: atomic.LoadUint64(&m.ordersProcessed),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		UptimeSeconds:   time.Since(m.startedAt).Seconds(),
		Timestamp:       time.Now(),
	}
}

// LatencyHistogram tracks latency samples in a sliding window.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg and percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
}
