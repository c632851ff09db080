package metrics

import (
	"sync"
	"time"
)

// StreamingMetrics tracks the health of the SSE fanout: how many subscribers
// attached, how many frames went out, and how many were lost to slow readers.
type StreamingMetrics struct {
	mu sync.RWMutex

	// Subscriber metrics
	TotalSubscribers    int64
	RejectedSubscribers int64
	Evictions           int64
	StreamDuration      time.Duration

	// Frame metrics
	TotalFrames   int64
	DroppedFrames int64
	WriteTime     time.Duration
}

func NewStreamingMetrics() *StreamingMetrics {
	return &StreamingMetrics{}
}

// RecordSubscribe records a subscription attempt.
func (m *StreamingMetrics) RecordSubscribe(accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalSubscribers++
	if !accepted {
		m.RejectedSubscribers++
	}
}

// RecordUnsubscribe records the end of a stream and how long it lived.
func (m *StreamingMetrics) RecordUnsubscribe(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamDuration += duration
}

// RecordEviction records a subscriber dropped for falling behind.
func (m *StreamingMetrics) RecordEviction() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Evictions++
}

// RecordFrame records one frame delivery attempt.
func (m *StreamingMetrics) RecordFrame(dropped bool, writeTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalFrames++
	if dropped {
		m.DroppedFrames++
	}
	m.WriteTime += writeTime
}

// GetMetrics returns a snapshot of the current metrics.
func (m *StreamingMetrics) GetMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avgWrite := 0.0
	if m.TotalFrames > 0 {
		avgWrite = m.WriteTime.Seconds() / float64(m.TotalFrames)
	}

	return map[string]any{
		"total_subscribers":    m.TotalSubscribers,
		"rejected_subscribers": m.RejectedSubscribers,
		"evictions":            m.Evictions,
		"stream_duration":      m.StreamDuration.Seconds(),
		"total_frames":         m.TotalFrames,
		"dropped_frames":       m.DroppedFrames,
		"avg_write_time":       avgWrite,
	}
}
