// Package pending holds tool calls that are waiting for the user to confirm
// them. Actions are resolved strictly oldest first.
package pending

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cugtyt/azure-deployer/internal/assistant"
)

var ErrEmptyStore = errors.New("no pending actions")

// Action is a batch of deferred tool calls together with the run they
// belong to.
type Action struct {
	ID        string               `json:"id"`
	Run       assistant.RunContext `json:"run"`
	ToolCalls []assistant.ToolCall `json:"tool_calls"`
	CreatedAt time.Time            `json:"created_at"`
}

func NewAction(run assistant.RunContext, calls []assistant.ToolCall) Action {
	return Action{
		ID:        uuid.New().String(),
		Run:       run,
		ToolCalls: calls,
		CreatedAt: time.Now(),
	}
}

// Store is a FIFO of pending actions safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	actions []Action
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Append(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}

// PopOldest removes and returns the oldest action.
func (s *Store) PopOldest() (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.actions) == 0 {
		return Action{}, ErrEmptyStore
	}
	action := s.actions[0]
	s.actions[0] = Action{}
	s.actions = s.actions[1:]
	return action, nil
}

// Clear removes every action and returns what was removed.
func (s *Store) Clear() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.actions
	s.actions = nil
	return removed
}

// PeekAll returns a copy of the queued actions, oldest first.
func (s *Store) PeekAll() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}
