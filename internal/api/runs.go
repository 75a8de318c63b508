package api

import (
	"sync"
	"time"

	"github.com/rawblock/coinjoind/pkg/models"
)

// RunStatus is a snapshot of one taker run in flight, for the control
// surface's /runs endpoint. Terminal runs stay in the tracker after they
// finish so a poller doesn't miss the final state transition; entries are
// never evicted.
type RunStatus struct {
	RunID     string
	Amount    int64
	Phase     string
	StartedAt time.Time
	Done      bool
	Outcome   *models.CoinJoinRunOutcome
}

// RunTracker records the lifecycle of taker runs this process drives. It is
// a pure observability side-channel: nothing in internal/taker depends on
// it, the caller wiring a run in cmd/coinjoind updates it directly.
type RunTracker struct {
	mu   sync.RWMutex
	runs map[string]*RunStatus
}

// NewRunTracker builds an empty tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{runs: make(map[string]*RunStatus)}
}

// Start records a new run entering the fill phase.
func (t *RunTracker) Start(runID string, amount int64, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[runID] = &RunStatus{RunID: runID, Amount: amount, Phase: "FILL", StartedAt: startedAt}
}

// SetPhase updates a known run's current phase label.
func (t *RunTracker) SetPhase(runID, phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[runID]; ok {
		r.Phase = phase
	}
}

// Finish records a run's terminal outcome.
func (t *RunTracker) Finish(runID string, outcome *models.CoinJoinRunOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	if !ok {
		r = &RunStatus{RunID: runID, StartedAt: outcome.StartedAt}
		t.runs[runID] = r
	}
	r.Done = true
	r.Outcome = outcome
	if outcome.Success {
		r.Phase = "DONE"
	} else {
		r.Phase = "FAILED:" + outcome.FailurePhase
	}
}

// List returns a snapshot of every run this tracker knows about, most
// recently started first.
func (t *RunTracker) List() []RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RunStatus, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, *r)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartedAt.After(out[i].StartedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
