// Package telemetry provides the process-wide performance tracker and the
// Prometheus collectors shared by the pipeline and the HTTP API.
package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultWindowSize is the rolling latency window length.
const DefaultWindowSize = 1000

// Tracker is a thread-safe throughput and latency tracker. Record is
// constant-time; the rolling window is a fixed ring buffer.
type Tracker struct {
	mu sync.Mutex

	messages  int64
	totalMS   float64
	startTime time.Time

	window []float64
	head   int
	filled int
}

// Stats is a point-in-time snapshot of tracker state.
type Stats struct {
	MessagesProcessed  int64   `json:"messages_processed"`
	ThroughputPerSec   float64 `json:"throughput_per_second"`
	AvgLatencyMS       float64 `json:"avg_latency_ms"`
	RecentAvgLatencyMS float64 `json:"recent_avg_latency_ms"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

// NewTracker creates a tracker with the given rolling window size.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Tracker{
		startTime: time.Now(),
		window:    make([]float64, windowSize),
	}
}

// Record registers one processed message and its latency.
func (t *Tracker) Record(latencyMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages++
	t.totalMS += latencyMS
	t.window[t.head] = latencyMS
	t.head = (t.head + 1) % len(t.window)
	if t.filled < len(t.window) {
		t.filled++
	}
}

// Stats returns current counters, throughput over uptime, and both the
// lifetime and rolling-window average latencies.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	s := Stats{
		MessagesProcessed: t.messages,
		UptimeSeconds:     elapsed,
	}
	if elapsed > 0 {
		s.ThroughputPerSec = float64(t.messages) / elapsed
	}
	if t.messages > 0 {
		s.AvgLatencyMS = t.totalMS / float64(t.messages)
	}
	if t.filled > 0 {
		var sum float64
		for i := 0; i < t.filled; i++ {
			sum += t.window[i]
		}
		s.RecentAvgLatencyMS = sum / float64(t.filled)
	}
	return s
}

// LogEvery emits one stats line each time the message count crosses a
// multiple of interval.
func (t *Tracker) LogEvery(interval int64) {
	if interval <= 0 {
		return
	}
	t.mu.Lock()
	emit := t.messages > 0 && t.messages%interval == 0
	t.mu.Unlock()
	if !emit {
		return
	}

	s := t.Stats()
	log.Info().
		Int64("messages", s.MessagesProcessed).
		Float64("throughput_per_sec", s.ThroughputPerSec).
		Float64("recent_avg_latency_ms", s.RecentAvgLatencyMS).
		Msg("pipeline performance")
}

// Reset zeroes all counters and rebases the start time.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = 0
	t.totalMS = 0
	t.startTime = time.Now()
	t.head = 0
	t.filled = 0
}

// Uptime returns time since start or last reset.
func (t *Tracker) Uptime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.startTime)
}
