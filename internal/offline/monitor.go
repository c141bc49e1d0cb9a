package offline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor exposes current reachability and fires callbacks exactly once per
// state edge. The signal is best effort: a false "online" is tolerated and
// surfaces through the coordinator's transport failure path instead.
type Monitor interface {
	IsOnline() bool
	OnTransition(callback func(online bool))
}

// Prober answers a single reachability question.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber probes a health URL; any 2xx response counts as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe performs one reachability check.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ProbeMonitor polls a Prober on an interval and reports edges. The state
// baseline is offline, so the first successful probe after startup emits an
// offline-to-online transition and drains any queue left from a prior run.
type ProbeMonitor struct {
	prober   Prober
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	online    bool
	callbacks []func(online bool)
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewProbeMonitor constructs the monitor. Call Start to begin probing.
func NewProbeMonitor(prober Prober, interval time.Duration, logger *zap.Logger) *ProbeMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ProbeMonitor{prober: prober, interval: interval, logger: logger}
}

// IsOnline reports the last observed reachability state.
func (m *ProbeMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnTransition registers a callback invoked once per state edge.
func (m *ProbeMonitor) OnTransition(callback func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Start launches the probe loop. Calling Start while a loop is already
// running is a no-op; Stop must run first.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	go m.loop(ctx, done)
}

// Stop terminates the probe loop and waits for it to exit. The monitor can
// be started again afterwards.
func (m *ProbeMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *ProbeMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.observe(m.prober.Probe(ctx))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.observe(m.prober.Probe(ctx))
		}
	}
}

// observe records one probe result and fires callbacks only on a change.
func (m *ProbeMonitor) observe(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	callbacks := make([]func(bool), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("online", online))
	for _, callback := range callbacks {
		callback(online)
	}
}
