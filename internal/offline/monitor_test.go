package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFiresOnlyOnEdges(t *testing.T) {
	monitor := NewProbeMonitor(nil, time.Minute, nil)
	var events []bool
	monitor.OnTransition(func(online bool) {
		events = append(events, online)
	})

	monitor.observe(true)
	monitor.observe(true)
	monitor.observe(false)
	monitor.observe(false)
	monitor.observe(true)

	assert.Equal(t, []bool{true, false, true}, events)
}

func TestFirstSuccessfulProbeEmitsOnlineEdge(t *testing.T) {
	// The baseline is offline, so a healthy network at startup still
	// produces the edge that drains a queue left from a prior run.
	monitor := NewProbeMonitor(nil, time.Minute, nil)
	fired := false
	monitor.OnTransition(func(online bool) {
		fired = online
	})

	monitor.observe(true)

	assert.True(t, fired)
	assert.True(t, monitor.IsOnline())
}

func TestHTTPProber(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	ctx := context.Background()
	assert.True(t, (&HTTPProber{URL: healthy.URL}).Probe(ctx))
	assert.False(t, (&HTTPProber{URL: failing.URL}).Probe(ctx))

	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable.Close()
	assert.False(t, (&HTTPProber{URL: unreachable.URL}).Probe(ctx))
}

type countingProber struct {
	mu     sync.Mutex
	count  int
	probed chan struct{}
}

func (p *countingProber) Probe(ctx context.Context) bool {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
	select {
	case p.probed <- struct{}{}:
	default:
	}
	return true
}

func (p *countingProber) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func TestStartIsIdempotentUntilStopped(t *testing.T) {
	prober := &countingProber{probed: make(chan struct{}, 1)}
	monitor := NewProbeMonitor(prober, time.Hour, nil)

	waitProbe := func() {
		select {
		case <-prober.probed:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for probe")
		}
	}

	monitor.Start(context.Background())
	waitProbe()

	// A second Start while running must not spawn a second loop.
	monitor.Start(context.Background())
	select {
	case <-prober.probed:
		t.Fatal("duplicate start launched another probe loop")
	case <-time.After(50 * time.Millisecond):
	}

	monitor.Stop()
	require.Equal(t, 1, prober.calls())

	// After Stop the monitor is reusable.
	monitor.Start(context.Background())
	waitProbe()
	monitor.Stop()
	assert.Equal(t, 2, prober.calls())
}

type scriptedProber struct {
	mu      sync.Mutex
	results []bool
	last    bool
}

func (p *scriptedProber) Probe(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) > 0 {
		p.last = p.results[0]
		p.results = p.results[1:]
	}
	return p.last
}

func TestProbeLoopReportsTransitions(t *testing.T) {
	prober := &scriptedProber{results: []bool{true, true, false}}
	monitor := NewProbeMonitor(prober, 5*time.Millisecond, nil)

	events := make(chan bool, 8)
	monitor.OnTransition(func(online bool) {
		events <- online
	})

	monitor.Start(context.Background())
	defer monitor.Stop()

	waitEvent := func() bool {
		select {
		case event := <-events:
			return event
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for connectivity transition")
			return false
		}
	}

	require.True(t, waitEvent())
	require.False(t, waitEvent())

	// Steady state produces no further events.
	select {
	case event := <-events:
		t.Fatalf("unexpected extra transition: %v", event)
	case <-time.After(50 * time.Millisecond):
	}
}
