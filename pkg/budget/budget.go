// Package budget accounts LLM calls and wall-clock time per heavy-tick cycle
// across three priority classes, protecting critical work against optional
// work.
package budget

import (
	"log/slog"
	"sync"
	"time"

	"github.com/anima-runtime/anima/pkg/config"
)

// Priority is the admission class of a unit of cognitive work.
type Priority int

const (
	// Critical work (monologue, goal selection, action dispatch) is never
	// refused admission.
	Critical Priority = iota
	// Important work shares the main per-cycle caps.
	Important
	// Optional work runs under its own, smaller caps.
	Optional
)

// String returns the lowercase class name.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case Important:
		return "important"
	case Optional:
		return "optional"
	default:
		return "unknown"
	}
}

type account struct {
	maxCalls int
	maxWall  time.Duration

	llmCallsUsed  int
	wallUsed      time.Duration
	tasksExecuted int
	tasksSkipped  int
}

// Tracker is the per-cycle budget ledger. Reset at the start of every heavy
// tick by the orchestrator.
type Tracker struct {
	mu         sync.Mutex
	accounts   map[Priority]*account
	cycleStart time.Time
	logger     *slog.Logger
}

// New creates a tracker from the configured caps. Critical carries the same
// caps as important for reporting purposes but is never refused.
func New(cfg *config.BudgetConfig) *Tracker {
	t := &Tracker{
		accounts: map[Priority]*account{
			Critical: {
				maxCalls: cfg.MaxLLMCalls,
				maxWall:  time.Duration(cfg.MaxWallSec * float64(time.Second)),
			},
			Important: {
				maxCalls: cfg.MaxLLMCalls,
				maxWall:  time.Duration(cfg.MaxWallSec * float64(time.Second)),
			},
			Optional: {
				maxCalls: cfg.OptionalMaxLLMCalls,
				maxWall:  time.Duration(cfg.OptionalMaxWallSec * float64(time.Second)),
			},
		},
		cycleStart: time.Now(),
		logger:     slog.Default().With("component", "budget"),
	}
	return t
}

// CanExecute reports whether a task needing llmCalls calls and roughly
// estimated wall time fits in the class budget. Critical always passes.
func (t *Tracker) CanExecute(pri Priority, llmCalls int, estimated time.Duration) bool {
	if pri == Critical {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	acc := t.accounts[pri]
	if acc == nil {
		return false
	}
	if acc.llmCallsUsed+llmCalls > acc.maxCalls {
		return false
	}
	if acc.wallUsed+estimated > acc.maxWall {
		return false
	}
	return true
}

// RecordUsage deducts completed work from the class budget.
func (t *Tracker) RecordUsage(pri Priority, llmCalls int, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if acc := t.accounts[pri]; acc != nil {
		acc.llmCallsUsed += llmCalls
		acc.wallUsed += duration
		acc.tasksExecuted++
	}
}

// RecordSkip counts a task refused admission.
func (t *Tracker) RecordSkip(pri Priority, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if acc := t.accounts[pri]; acc != nil {
		acc.tasksSkipped++
	}
	t.logger.Debug("Task skipped by budget", "priority", pri.String(), "reason", reason)
}

// ResetCycle zeros all class accounts and stamps the new cycle start.
func (t *Tracker) ResetCycle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, acc := range t.accounts {
		acc.llmCallsUsed = 0
		acc.wallUsed = 0
		acc.tasksExecuted = 0
		acc.tasksSkipped = 0
	}
	t.cycleStart = time.Now()
}

// ClassReport is the per-class slice of a usage report.
type ClassReport struct {
	LLMCallsUsed  int     `json:"llm_calls_used"`
	LLMCallsMax   int     `json:"llm_calls_max"`
	WallSecUsed   float64 `json:"wall_sec_used"`
	WallSecMax    float64 `json:"wall_sec_max"`
	TasksExecuted int     `json:"tasks_executed"`
	TasksSkipped  int     `json:"tasks_skipped"`
	CallUtilPct   float64 `json:"call_util_pct"`
	WallUtilPct   float64 `json:"wall_util_pct"`
}

// Report is the full usage report for the current cycle.
type Report struct {
	CycleStart time.Time              `json:"cycle_start"`
	Classes    map[string]ClassReport `json:"classes"`
}

// Report returns raw numbers and utilization percentages per class.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := Report{
		CycleStart: t.cycleStart,
		Classes:    make(map[string]ClassReport, len(t.accounts)),
	}
	for pri, acc := range t.accounts {
		cr := ClassReport{
			LLMCallsUsed:  acc.llmCallsUsed,
			LLMCallsMax:   acc.maxCalls,
			WallSecUsed:   acc.wallUsed.Seconds(),
			WallSecMax:    acc.maxWall.Seconds(),
			TasksExecuted: acc.tasksExecuted,
			TasksSkipped:  acc.tasksSkipped,
		}
		if acc.maxCalls > 0 {
			cr.CallUtilPct = 100 * float64(acc.llmCallsUsed) / float64(acc.maxCalls)
		}
		if acc.maxWall > 0 {
			cr.WallUtilPct = 100 * acc.wallUsed.Seconds() / acc.maxWall.Seconds()
		}
		r.Classes[pri.String()] = cr
	}
	return r
}
