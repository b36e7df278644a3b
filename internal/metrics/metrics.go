package metrics

import "sync"

// Event counter names used across the mailbox and history services.
const (
	SignalsAccepted    = "signals_accepted"
	SignalsRejected    = "signals_rejected"
	SignalsRateLimited = "signals_rate_limited"
	SignalsDroppedFull = "signals_dropped_mailbox_full"
	MailboxPolls       = "mailbox_polls"
	MailboxClears      = "mailbox_clears"
	SignalsDelivered   = "signals_delivered"
	WSPushConnections  = "ws_push_connections"

	CallsCompleted       = "calls_completed"
	CallsMissed          = "calls_missed"
	CallsDeclined        = "calls_declined"
	HistoryWriteFailures = "history_write_failures"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Counters are exported in Prometheus' text format by PrometheusHandler; the
// registry itself stays dependency-free so enforcement logic remains testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters for export.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
