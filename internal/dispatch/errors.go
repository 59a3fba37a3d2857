package dispatch

import (
	"errors"
	"fmt"

	"github.com/cugtyt/azure-deployer/internal/assistant"
	"github.com/cugtyt/azure-deployer/internal/tools"
)

var (
	ErrTerminalRun = errors.New("run is in a terminal state")
	ErrRunExpired  = errors.New("run has expired")
)

// UnknownToolError reports a tool call naming a tool absent from the
// registry. The whole batch is rejected when this happens.
type UnknownToolError struct {
	Name string
	Run  assistant.RunContext
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q requested by the assistant", e.Name)
}

func (e *UnknownToolError) Unwrap() error { return tools.ErrToolNotFound }

type RunExpiredError struct {
	Run assistant.RunContext
}

func (e *RunExpiredError) Error() string {
	return fmt.Sprintf("run %s on thread %s has expired", e.Run.RunID, e.Run.ThreadID)
}

func (e *RunExpiredError) Unwrap() error { return ErrRunExpired }

// TerminalRunError is returned for any operation on a run that already
// reached a terminal state.
type TerminalRunError struct {
	Run   assistant.RunContext
	State State
	Op    string
}

func (e *TerminalRunError) Error() string {
	return fmt.Sprintf("cannot %s run %s: run is %s", e.Op, e.Run.RunID, e.State)
}

func (e *TerminalRunError) Unwrap() error { return ErrTerminalRun }
