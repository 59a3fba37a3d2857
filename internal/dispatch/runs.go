package dispatch

import (
	"fmt"
	"sync"

	"github.com/cugtyt/azure-deployer/internal/assistant"
)

type State string

const (
	StateRunning              State = "running"
	StateRequiresAction       State = "requires_action"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateCompleted            State = "completed"
	StateCancelled            State = "cancelled"
	StateExpired              State = "expired"
	StateFailed               State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateExpired, StateFailed:
		return true
	}
	return false
}

// stateOf maps a status reported by the remote runtime to a run state.
func stateOf(status assistant.RunStatus) (State, bool) {
	switch status {
	case assistant.StatusQueued, assistant.StatusInProgress, assistant.StatusCancelling:
		return StateRunning, true
	case assistant.StatusRequiresAction:
		return StateRequiresAction, true
	case assistant.StatusCompleted:
		return StateCompleted, true
	case assistant.StatusCancelled:
		return StateCancelled, true
	case assistant.StatusExpired:
		return StateExpired, true
	case assistant.StatusFailed, assistant.StatusIncomplete:
		return StateFailed, true
	}
	return "", false
}

var transitions = map[State][]State{
	StateRunning:              {StateRequiresAction, StateAwaitingConfirmation, StateCompleted, StateCancelled, StateExpired, StateFailed},
	StateRequiresAction:       {StateRunning, StateAwaitingConfirmation, StateCancelled, StateExpired, StateFailed},
	StateAwaitingConfirmation: {StateRunning, StateCancelled, StateExpired},
}

// Runs tracks the lifecycle state of every run seen by the engine. A run
// that has not been seen yet is taken to be running.
type Runs struct {
	mu     sync.Mutex
	states map[assistant.RunContext]State
}

func NewRuns() *Runs {
	return &Runs{states: make(map[assistant.RunContext]State)}
}

func (r *Runs) State(run assistant.RunContext) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state(run)
}

func (r *Runs) state(run assistant.RunContext) State {
	if s, ok := r.states[run]; ok {
		return s
	}
	return StateRunning
}

// Check fails with a TerminalRunError when the run can no longer be operated on.
func (r *Runs) Check(run assistant.RunContext, op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.state(run); s.Terminal() {
		return &TerminalRunError{Run: run, State: s, Op: op}
	}
	return nil
}

// Transition moves run to state to.
func (r *Runs) Transition(run assistant.RunContext, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.state(run)
	if from.Terminal() {
		return &TerminalRunError{Run: run, State: from, Op: "transition"}
	}
	if from == to {
		r.states[run] = to
		return nil
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			r.states[run] = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition for run %s: %s -> %s", run.RunID, from, to)
}

// Settle records a terminal state reported by the remote runtime, whatever
// the run was locally. A run already terminal keeps its state.
func (r *Runs) Settle(run assistant.RunContext, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !to.Terminal() || r.state(run).Terminal() {
		return
	}
	r.states[run] = to
}

// Prune drops the state of every terminal run and returns how many were dropped.
func (r *Runs) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for run, s := range r.states {
		if s.Terminal() {
			delete(r.states, run)
			n++
		}
	}
	return n
}

func (r *Runs) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// ForgetThread drops the state of every run on the thread.
func (r *Runs) ForgetThread(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for run := range r.states {
		if run.ThreadID == threadID {
			delete(r.states, run)
		}
	}
}
