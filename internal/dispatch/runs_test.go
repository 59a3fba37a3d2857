package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cugtyt/azure-deployer/internal/assistant"
)

func TestRunsTransitions(t *testing.T) {
	run := assistant.RunContext{RunID: "r1", ThreadID: "t1"}

	cases := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{"immediate path", []State{StateRequiresAction, StateRunning, StateCompleted}, false},
		{"approved", []State{StateRequiresAction, StateAwaitingConfirmation, StateRunning, StateCompleted}, false},
		{"rejected", []State{StateRequiresAction, StateAwaitingConfirmation, StateCancelled}, false},
		{"expired while waiting", []State{StateRequiresAction, StateAwaitingConfirmation, StateExpired}, false},
		{"self transition", []State{StateRequiresAction, StateRequiresAction}, false},
		{"complete while awaiting", []State{StateRequiresAction, StateAwaitingConfirmation, StateCompleted}, true},
		{"leave completed", []State{StateCompleted, StateRunning}, true},
		{"leave cancelled", []State{StateCancelled, StateCancelled}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runs := NewRuns()
			var err error
			for _, s := range tc.path {
				if err = runs.Transition(run, s); err != nil {
					break
				}
			}
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunsTerminal(t *testing.T) {
	runs := NewRuns()
	run := assistant.RunContext{RunID: "r1", ThreadID: "t1"}
	other := assistant.RunContext{RunID: "r2", ThreadID: "t2"}

	assert.Equal(t, StateRunning, runs.State(run))
	require.NoError(t, runs.Check(run, "cancel"))

	require.NoError(t, runs.Transition(run, StateExpired))
	require.NoError(t, runs.Transition(other, StateCompleted))

	err := runs.Check(run, "cancel")
	var terminal *TerminalRunError
	require.ErrorAs(t, err, &terminal)
	assert.ErrorIs(t, err, ErrTerminalRun)
	assert.Equal(t, "cannot cancel run r1: run is expired", err.Error())

	err = runs.Transition(run, StateRunning)
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, StateExpired, terminal.State)

	runs.ForgetThread("t1")
	assert.Equal(t, StateRunning, runs.State(run))
	assert.Equal(t, StateCompleted, runs.State(other))
}

func TestRunsSettle(t *testing.T) {
	runs := NewRuns()
	run := assistant.RunContext{RunID: "r1", ThreadID: "t1"}
	require.NoError(t, runs.Transition(run, StateAwaitingConfirmation))

	// Awaiting -> completed is not a local transition, but the runtime has the last word.
	runs.Settle(run, StateCompleted)
	assert.Equal(t, StateCompleted, runs.State(run))

	runs.Settle(run, StateCancelled)
	assert.Equal(t, StateCompleted, runs.State(run), "terminal state is final")

	live := assistant.RunContext{RunID: "r2", ThreadID: "t1"}
	runs.Settle(live, StateRunning)
	assert.Equal(t, 1, runs.Len(), "non-terminal states are not settled")
}

func TestRunsPrune(t *testing.T) {
	runs := NewRuns()
	done := assistant.RunContext{RunID: "r1", ThreadID: "t1"}
	waiting := assistant.RunContext{RunID: "r2", ThreadID: "t1"}
	require.NoError(t, runs.Transition(done, StateCompleted))
	require.NoError(t, runs.Transition(waiting, StateAwaitingConfirmation))

	assert.Equal(t, 1, runs.Prune())
	assert.Equal(t, 1, runs.Len())
	assert.Equal(t, StateAwaitingConfirmation, runs.State(waiting))
	assert.Equal(t, 0, runs.Prune())
}

func TestStateOf(t *testing.T) {
	cases := map[assistant.RunStatus]State{
		assistant.StatusQueued:         StateRunning,
		assistant.StatusInProgress:     StateRunning,
		assistant.StatusCancelling:     StateRunning,
		assistant.StatusRequiresAction: StateRequiresAction,
		assistant.StatusCompleted:      StateCompleted,
		assistant.StatusCancelled:      StateCancelled,
		assistant.StatusExpired:        StateExpired,
		assistant.StatusFailed:         StateFailed,
		assistant.StatusIncomplete:     StateFailed,
	}
	for status, want := range cases {
		got, ok := stateOf(status)
		assert.True(t, ok, status)
		assert.Equal(t, want, got, status)
	}
	_, ok := stateOf("bogus")
	assert.False(t, ok)
}

func TestConfirmationPrompt(t *testing.T) {
	prompt := ConfirmationPrompt([]assistant.ToolCall{
		{Name: "create_resource_group", Arguments: json.RawMessage(`{"resource_group_name":"rg1"}`)},
		{Name: "delete_storage_account", Arguments: json.RawMessage(`{"storage_account_name":"sa1"}`)},
	})
	assert.Equal(t, "The following actions will be performed:\n"+
		"create_resource_group with arguments: {\"resource_group_name\":\"rg1\"}\n"+
		"delete_storage_account with arguments: {\"storage_account_name\":\"sa1\"}\n"+
		"Do you want to proceed?", prompt)
}

func TestTranscript(t *testing.T) {
	var tr Transcript
	assert.Empty(t, tr.Messages())
	tr.Append("one")
	tr.Append("two")
	assert.Equal(t, []string{"one", "two"}, tr.Messages())
	assert.Equal(t, "one\ntwo", tr.String())
}
