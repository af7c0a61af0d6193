// Package selfmod manages self-modification proposals: bounded changes to
// the whitelisted runtime configuration keys, approved or rejected through
// the introspection surface, applied through config.Runtime, and watched
// over a fixed monitoring window with automatic rollback on degradation.
package selfmod

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// Proposal statuses. pending → approved|rejected; approved → verified|rolled_back.
const (
	StatusPending    = "pending"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusVerified   = "verified"
	StatusRolledBack = "rolled_back"
)

// monitorTicks is the verification window after an applied modification.
const monitorTicks = 10

// degradationSlack is how much the cycle error rate may exceed the baseline
// before the modification is rolled back.
const degradationSlack = 0.2

// Proposal is one self-modification request over a whitelisted key.
type Proposal struct {
	ID        string  `json:"id"`
	Key       string  `json:"key"`
	OldValue  float64 `json:"old_value"`
	NewValue  float64 `json:"new_value"`
	Reason    string  `json:"reason,omitempty"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	DecidedAt string  `json:"decided_at,omitempty"`

	// Verification is filled when the monitoring window closes.
	Verification      string  `json:"verification,omitempty"`
	BaselineErrorRate float64 `json:"baseline_error_rate"`
	WindowErrorRate   float64 `json:"window_error_rate"`
}

// window tracks one applied modification through its verification ticks.
type window struct {
	proposalID      string
	baselineErrors  float64
	baselineHealthy bool
	cyclesSeen      int
	cyclesErrored   int
	sawUnhealthy    bool
}

// Manager owns the proposal list and the single active monitoring window.
// At most one modification is under verification at a time; approvals while
// a window is open are refused.
type Manager struct {
	path    string
	runtime *config.Runtime
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	proposals []Proposal
	active    *window

	// onResolved, if set, is invoked with a copy of the proposal whenever a
	// monitoring window closes (verified or rolled back).
	onResolved func(Proposal)
}

// SetOnResolved installs a callback fired when a monitoring window closes.
// The callback runs on its own goroutine; it must not call back into the
// manager synchronously expecting the closing state to still be open.
func (m *Manager) SetOnResolved(fn func(Proposal)) {
	m.mu.Lock()
	m.onResolved = fn
	m.mu.Unlock()
}

// New creates a manager persisting to path.
func New(path string, runtime *config.Runtime) *Manager {
	return &Manager{
		path:    path,
		runtime: runtime,
		logger:  slog.Default().With("component", "selfmod"),
		now:     time.Now,
	}
}

// Load restores the persisted proposal history. A window open at crash time
// is not restored; its proposal stays approved without verification.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var state struct {
		Proposals []Proposal `json:"proposals"`
	}
	if err := statefile.LoadJSON(m.path, &state); err != nil {
		return err
	}
	m.proposals = state.Proposals
	return nil
}

// Propose creates a pending proposal for a whitelisted key. Out-of-bounds
// targets and keys with a pending or in-window proposal are refused.
func (m *Manager) Propose(key string, newValue float64, reason string) (Proposal, error) {
	bounds, err := m.runtime.BoundsFor(key)
	if err != nil {
		return Proposal{}, err
	}
	if newValue < bounds.Min || newValue > bounds.Max {
		return Proposal{}, fmt.Errorf("%w: %s=%g not in [%g, %g]",
			config.ErrValueOutOfBounds, key, newValue, bounds.Min, bounds.Max)
	}
	old, err := m.runtime.Get(key)
	if err != nil {
		return Proposal{}, err
	}
	if old == newValue {
		return Proposal{}, fmt.Errorf("proposal for %s is a no-op", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.proposals {
		if p.Key == key && (p.Status == StatusPending || p.Status == StatusApproved) {
			return Proposal{}, fmt.Errorf("key %s already has an open proposal", key)
		}
	}

	p := Proposal{
		ID:        uuid.NewString(),
		Key:       key,
		OldValue:  old,
		NewValue:  newValue,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: statefile.Stamp(m.now()),
	}
	m.proposals = append(m.proposals, p)
	m.persistLocked()
	m.logger.Info("Modification proposed", "key", key, "old", old, "new", newValue)
	return p, nil
}

// Approve applies a pending proposal through the runtime and opens the
// monitoring window seeded with the pre-change baseline.
func (m *Manager) Approve(id string, baselineErrorRate float64, healthy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return ErrWindowOpen
	}

	p := m.findLocked(id)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, p.Status)
	}

	if _, err := m.runtime.Set(p.Key, p.NewValue); err != nil {
		return fmt.Errorf("apply %s: %w", p.Key, err)
	}

	p.Status = StatusApproved
	p.DecidedAt = statefile.Stamp(m.now())
	p.BaselineErrorRate = baselineErrorRate
	m.active = &window{
		proposalID:      p.ID,
		baselineErrors:  baselineErrorRate,
		baselineHealthy: healthy,
	}
	m.persistLocked()
	m.logger.Info("Modification applied", "key", p.Key, "new", p.NewValue,
		"monitor_ticks", monitorTicks)
	return nil
}

// Reject marks a pending proposal rejected.
func (m *Manager) Reject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findLocked(id)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, p.Status)
	}
	p.Status = StatusRejected
	p.DecidedAt = statefile.Stamp(m.now())
	m.persistLocked()
	return nil
}

// ObserveCycle feeds one finished Heavy Tick into the open monitoring
// window, if any. When the window fills, the modification is verified or
// rolled back against the baseline.
func (m *Manager) ObserveCycle(cycleErrored, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}
	m.active.cyclesSeen++
	if cycleErrored {
		m.active.cyclesErrored++
	}
	if !healthy {
		m.active.sawUnhealthy = true
	}
	if m.active.cyclesSeen < monitorTicks {
		return
	}

	p := m.findLocked(m.active.proposalID)
	windowRate := float64(m.active.cyclesErrored) / float64(m.active.cyclesSeen)
	degraded := windowRate > m.active.baselineErrors+degradationSlack ||
		(m.active.baselineHealthy && m.active.sawUnhealthy)

	if p != nil {
		p.WindowErrorRate = windowRate
		if degraded {
			if _, err := m.runtime.Set(p.Key, p.OldValue); err != nil {
				m.logger.Error("Rollback failed", "key", p.Key, "error", err)
			}
			p.Status = StatusRolledBack
			p.Verification = fmt.Sprintf("rolled back: window error rate %.2f vs baseline %.2f",
				windowRate, m.active.baselineErrors)
			m.logger.Warn("Modification rolled back", "key", p.Key,
				"window_error_rate", windowRate, "baseline", m.active.baselineErrors)
		} else {
			p.Status = StatusVerified
			p.Verification = fmt.Sprintf("verified over %d ticks", monitorTicks)
			m.logger.Info("Modification verified", "key", p.Key)
		}
		m.persistLocked()
		if m.onResolved != nil {
			go m.onResolved(*p)
		}
	}
	m.active = nil
}

// Monitoring reports whether a window is currently open.
func (m *Manager) Monitoring() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil
}

// List returns every proposal, oldest first.
func (m *Manager) List() []Proposal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Proposal, len(m.proposals))
	copy(out, m.proposals)
	return out
}

// Get returns one proposal by id.
func (m *Manager) Get(id string) (Proposal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.findLocked(id); p != nil {
		return *p, true
	}
	return Proposal{}, false
}

func (m *Manager) findLocked(id string) *Proposal {
	for i := range m.proposals {
		if m.proposals[i].ID == id {
			return &m.proposals[i]
		}
	}
	return nil
}

func (m *Manager) persistLocked() {
	state := struct {
		Proposals []Proposal `json:"proposals"`
	}{Proposals: m.proposals}
	if err := statefile.WriteJSON(m.path, state); err != nil {
		m.logger.Error("Failed to persist proposals", "error", err)
	}
}
