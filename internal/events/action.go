package events

import "time"

type ActionQueuedEvent struct {
	ActionID  string    `json:"action_id"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	ToolNames []string  `json:"tool_names"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ActionQueuedEvent) Subject() string { return ActionQueuedEventName }

// ActionResolvedEvent reports how a pending action ended. Its subject
// depends on the outcome.
type ActionResolvedEvent struct {
	ActionID  string    `json:"action_id"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeExpired  Outcome = "expired"
)

func (e ActionResolvedEvent) Subject() string {
	switch e.Outcome {
	case OutcomeApproved:
		return ActionApprovedEventName
	case OutcomeExpired:
		return ActionExpiredEventName
	default:
		return ActionRejectedEventName
	}
}

type RunCancelledEvent struct {
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e RunCancelledEvent) Subject() string { return RunCancelledEventName }

// Cancellation reasons.
const (
	ReasonRejected    = "rejected"
	ReasonStale       = "stale"
	ReasonUnknownTool = "unknown_tool"
)
