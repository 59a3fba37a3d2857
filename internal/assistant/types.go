package assistant

import (
	"context"
	"encoding/json"
	"io"
)

// RunContext identifies a run and the thread it belongs to.
type RunContext struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
}

// ToolCall is a single tool invocation requested by the assistant. Arguments
// holds the JSON object exactly as the assistant sent it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Args decodes the raw arguments. Empty arguments decode to an empty map.
func (tc ToolCall) Args() (map[string]any, error) {
	args := map[string]any{}
	if len(tc.Arguments) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCancelling     RunStatus = "cancelling"
	StatusCancelled      RunStatus = "cancelled"
	StatusFailed         RunStatus = "failed"
	StatusCompleted      RunStatus = "completed"
	StatusIncomplete     RunStatus = "incomplete"
	StatusExpired        RunStatus = "expired"
)

type EventKind string

const (
	EventRunCreated       EventKind = "run_created"
	EventRequiresAction   EventKind = "requires_action"
	EventMessageCompleted EventKind = "message_completed"
	EventRunCompleted     EventKind = "run_completed"
	EventRunExpired       EventKind = "run_expired"
	EventRunCancelled     EventKind = "run_cancelled"
	EventRunFailed        EventKind = "run_failed"
	EventOther            EventKind = "other"
)

// Event is one item of a run stream. ToolCalls is set for
// EventRequiresAction and Text for EventMessageCompleted.
type Event struct {
	Kind      EventKind
	Run       RunContext
	Status    RunStatus
	ToolCalls []ToolCall
	Text      string
}

// Stream yields run events in order. Next returns io.EOF once the stream
// is exhausted.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Client is the remote run runtime the dispatcher talks to.
type Client interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	PostMessage(ctx context.Context, threadID, role, content string) error
	StartRun(ctx context.Context, threadID, assistantID string) (Stream, error)
	SubmitToolOutputs(ctx context.Context, run RunContext, outputs []ToolOutput) (Stream, error)
	RetrieveRunStatus(ctx context.Context, run RunContext) (RunStatus, error)
	CancelRun(ctx context.Context, run RunContext) error
}

// FunctionTool describes a tool offered to the assistant when it is created.
type FunctionTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Drain reads a stream until io.EOF and returns the collected events.
func Drain(ctx context.Context, s Stream) ([]Event, error) {
	defer s.Close()
	var out []Event
	for {
		ev, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// Role values accepted by PostMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
