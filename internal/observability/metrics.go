package observability

import (
	"sync"
	"time"
)

// RPCSnapshot summarises one RPC method.
type RPCSnapshot struct {
	Calls         int64            `json:"calls"`
	Failures      int64            `json:"failures"`
	InFlight      int64            `json:"in_flight"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	MaxLatencyMs  float64          `json:"max_latency_ms"`
	LastLatencyMs float64          `json:"last_latency_ms"`
	ErrorKinds    map[string]int64 `json:"error_kinds,omitempty"`
}

// Snapshot is the JSON body served on /metrics.
type Snapshot struct {
	UptimeSec       int64                  `json:"uptime_sec"`
	TotalCalls      int64                  `json:"total_calls"`
	TotalFailures   int64                  `json:"total_failures"`
	InFlight        int64                  `json:"in_flight"`
	RateLimitWaits  int64                  `json:"rate_limit_waits"`
	RateLimitWaitMs int64                  `json:"rate_limit_wait_ms"`
	Saga            map[string]int64       `json:"saga"`
	RPC             map[string]RPCSnapshot `json:"rpc"`
	ShutdownAt      *time.Time             `json:"shutdown_at,omitempty"`
}

type rpcStats struct {
	calls        int64
	failures     int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
	kinds        map[string]int64
}

// Metrics keeps in-process counters for the checkout service.
type Metrics struct {
	mu         sync.Mutex
	start      time.Time
	rpc        map[string]*rpcStats
	saga       map[string]int64
	waits      int64
	waited     time.Duration
	shutdownAt time.Time
}

// Call tracks one in-flight RPC.
type Call struct {
	metrics *Metrics
	method  string
	start   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		start: time.Now(),
		rpc:   make(map[string]*rpcStats),
		saga:  make(map[string]int64),
	}
}

// Begin marks an RPC as in flight.
func (m *Metrics) Begin(method string) *Call {
	if m == nil {
		return &Call{}
	}
	m.mu.Lock()
	m.stats(method).inFlight++
	m.mu.Unlock()
	return &Call{metrics: m, method: method, start: time.Now()}
}

// Done records the outcome. kind is the error classification, empty on success.
func (c *Call) Done(kind string) {
	if c == nil || c.metrics == nil {
		return
	}
	elapsed := time.Since(c.start)

	m := c.metrics
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats(c.method)
	stats.inFlight--
	stats.calls++
	stats.totalLatency += elapsed
	stats.lastLatency = elapsed
	if elapsed > stats.maxLatency {
		stats.maxLatency = elapsed
	}
	if kind != "" {
		stats.failures++
		stats.kinds[kind]++
	}
}

// IncSaga adds n to a saga counter such as "reserved" or "compensated".
func (m *Metrics) IncSaga(event string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.saga[event] += n
	m.mu.Unlock()
}

// AddRateLimitWait records time spent waiting on the ingress limiter.
func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.waits++
	m.waited += d
	m.mu.Unlock()
}

// MarkShutdown stamps the moment the server began draining.
func (m *Metrics) MarkShutdown() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.shutdownAt = time.Now()
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		UptimeSec:       int64(time.Since(m.start).Seconds()),
		RateLimitWaits:  m.waits,
		RateLimitWaitMs: m.waited.Milliseconds(),
		Saga:            make(map[string]int64, len(m.saga)),
		RPC:             make(map[string]RPCSnapshot, len(m.rpc)),
	}
	for event, n := range m.saga {
		snap.Saga[event] = n
	}

	for method, stats := range m.rpc {
		avg := 0.0
		if stats.calls > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.calls)
		}
		var kinds map[string]int64
		if len(stats.kinds) > 0 {
			kinds = make(map[string]int64, len(stats.kinds))
			for k, n := range stats.kinds {
				kinds[k] = n
			}
		}
		snap.RPC[method] = RPCSnapshot{
			Calls:         stats.calls,
			Failures:      stats.failures,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
			ErrorKinds:    kinds,
		}
		snap.TotalCalls += stats.calls
		snap.TotalFailures += stats.failures
		snap.InFlight += stats.inFlight
	}

	if !m.shutdownAt.IsZero() {
		at := m.shutdownAt
		snap.ShutdownAt = &at
	}
	return snap
}

func (m *Metrics) stats(method string) *rpcStats {
	stats, ok := m.rpc[method]
	if !ok {
		stats = &rpcStats{kinds: make(map[string]int64)}
		m.rpc[method] = stats
	}
	return stats
}
