package telemetry

import (
	"sync"
	"time"
)

// StreamingMetrics tracks performance counters for streaming operations.
type StreamingMetrics struct {
	mu sync.RWMutex

	// Connection metrics
	TotalConnections   int64
	FailedConnections  int64
	Reconnections      int64
	ConnectionDuration time.Duration

	// Event metrics
	TotalEvents    int64
	DroppedEvents  int64
	ProcessingTime time.Duration
}

// NewStreamingMetrics creates a new StreamingMetrics instance.
func NewStreamingMetrics() *StreamingMetrics {
	return &StreamingMetrics{}
}

// RecordConnection records a connection attempt.
func (m *StreamingMetrics) RecordConnection(success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalConnections++
	if !success {
		m.FailedConnections++
	}
	m.ConnectionDuration += duration
}

// RecordEvent records a processed or dropped stream event.
func (m *StreamingMetrics) RecordEvent(dropped bool, processingTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalEvents++
	if dropped {
		m.DroppedEvents++
	}
	m.ProcessingTime += processingTime
}

// Snapshot returns a copy of the current counters.
func (m *StreamingMetrics) Snapshot() StreamingMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StreamingMetrics{
		TotalConnections:   m.TotalConnections,
		FailedConnections:  m.FailedConnections,
		Reconnections:      m.Reconnections,
		ConnectionDuration: m.ConnectionDuration,
		TotalEvents:        m.TotalEvents,
		DroppedEvents:      m.DroppedEvents,
		ProcessingTime:     m.ProcessingTime,
	}
}
