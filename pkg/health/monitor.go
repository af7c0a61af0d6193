// Package health runs the periodic background prober over registered
// services and raises listener callbacks on healthy/unhealthy transitions.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Probe checks one service. A nil return within the latency threshold is
// healthy; an error, a timeout, or a slow success counts as a failure.
type Probe func(ctx context.Context) error

// Status is the current view of one monitored service.
type Status struct {
	Service             string        `json:"service"`
	Healthy             bool          `json:"healthy"`
	LastLatency         time.Duration `json:"last_latency_ns"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastCheck           time.Time     `json:"last_check"`
	LastError           string        `json:"last_error,omitempty"`
}

// Listener observes health transitions.
type Listener func(service string, healthy bool, latency time.Duration)

type service struct {
	name             string
	probe            Probe
	latencyThreshold time.Duration
}

// Monitor probes registered services on a fixed interval. Start launches
// the background loop; Stop cancels it and waits for it to drain.
type Monitor struct {
	interval         time.Duration
	failureThreshold int

	mu        sync.RWMutex
	services  []service
	statuses  map[string]*Status
	listeners []Listener

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// New creates a monitor. A service becomes unhealthy at failureThreshold
// consecutive probe failures and healthy again on the first success.
func New(interval time.Duration, failureThreshold int) *Monitor {
	return &Monitor{
		interval:         interval,
		failureThreshold: failureThreshold,
		statuses:         make(map[string]*Status),
		logger:           slog.Default().With("component", "health"),
	}
}

// Register adds a service before Start. The probe runs under a timeout of
// twice the latency threshold.
func (m *Monitor) Register(name string, probe Probe, latencyThreshold time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, service{name: name, probe: probe, latencyThreshold: latencyThreshold})
	m.statuses[name] = &Status{Service: name, Healthy: true}
}

// AddListener registers a transition callback. Listeners run synchronously
// inside the probe sweep; keep them fast.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start launches the background loop. Calling Start on an already-running
// monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return // already started
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop cancels the loop and waits for it to finish. After Stop returns,
// Start may be called again.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	m.cancel = nil
	m.done = nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	// First sweep immediately, then on the ticker.
	m.checkAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	m.mu.RLock()
	services := make([]service, len(m.services))
	copy(services, m.services)
	m.mu.RUnlock()

	for _, svc := range services {
		if ctx.Err() != nil {
			return
		}
		m.checkOne(ctx, svc)
	}
}

func (m *Monitor) checkOne(ctx context.Context, svc service) {
	probeCtx, cancel := context.WithTimeout(ctx, 2*svc.latencyThreshold)
	defer cancel()

	start := time.Now()
	err := runProbe(probeCtx, svc.probe)
	latency := time.Since(start)

	switch {
	case err == nil && latency <= svc.latencyThreshold:
		m.recordSuccess(svc.name, latency)
	case err == nil:
		m.recordFailure(svc.name, latency, fmt.Sprintf("probe latency %s exceeded threshold %s", latency, svc.latencyThreshold))
	default:
		m.recordFailure(svc.name, latency, err.Error())
	}
}

// runProbe isolates a panicking probe so one bad service cannot kill the
// monitor loop.
func runProbe(ctx context.Context, probe Probe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	done := make(chan error, 1)
	go func() { done <- probe(ctx) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("probe timed out: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func (m *Monitor) recordSuccess(name string, latency time.Duration) {
	m.mu.Lock()
	st := m.statuses[name]
	wasHealthy := st.Healthy
	st.Healthy = true
	st.ConsecutiveFailures = 0
	st.LastLatency = latency
	st.LastCheck = time.Now()
	st.LastError = ""
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	if !wasHealthy {
		m.logger.Info("Service recovered", "service", name, "latency", latency.String())
		for _, l := range listeners {
			l(name, true, latency)
		}
	}
}

func (m *Monitor) recordFailure(name string, latency time.Duration, reason string) {
	m.mu.Lock()
	st := m.statuses[name]
	wasHealthy := st.Healthy
	st.ConsecutiveFailures++
	st.LastLatency = latency
	st.LastCheck = time.Now()
	st.LastError = reason
	failures := st.ConsecutiveFailures
	becameUnhealthy := wasHealthy && failures >= m.failureThreshold
	if becameUnhealthy {
		st.Healthy = false
	}
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.logger.Warn("Health probe failed",
		"service", name, "reason", reason, "consecutive_failures", failures)

	if becameUnhealthy {
		m.logger.Error("Service unhealthy", "service", name, "reason", reason)
		for _, l := range listeners {
			l(name, false, latency)
		}
	}
}

func (m *Monitor) snapshotListeners() []Listener {
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

// Statuses returns copies of every service status.
func (m *Monitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for name, st := range m.statuses {
		out[name] = *st
	}
	return out
}

// IsHealthy reports whether the named service is currently healthy.
// Unregistered services report false.
func (m *Monitor) IsHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[name]
	return ok && st.Healthy
}
