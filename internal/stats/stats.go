// File: internal/stats/stats.go

// Package stats is the usage-statistics sink the bridge reports into. The
// surrounding application may replace the in-memory implementation with its
// own telemetry pipeline.
package stats

import "sync"

// Sink receives usage marks.
type Sink interface {
	// IncCounter adds one to the named counter.
	IncCounter(name string)
	// SetHighwaterMark records value for name if it exceeds the current
	// mark. Recording 0 still marks the statistic as having occurred.
	SetHighwaterMark(name string, value int64)
}

// Memory is an in-process Sink, safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	counters  map[string]int64
	highwater map[string]int64
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		counters:  make(map[string]int64),
		highwater: make(map[string]int64),
	}
}

func (m *Memory) IncCounter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

func (m *Memory) SetHighwaterMark(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.highwater[name]; !ok || value > cur {
		m.highwater[name] = value
	}
}

// Counter returns the current value of a counter.
func (m *Memory) Counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// HighwaterMark returns the recorded mark and whether it was ever set.
func (m *Memory) HighwaterMark(name string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.highwater[name]
	return v, ok
}

// Statistic names reported by the bridge.
const (
	StatCallback      = "hud.callback"
	StatServiceWorker = "hud.serviceworker"
	StatStart         = "hud.start"
)
