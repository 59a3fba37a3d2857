package events

import (
	"encoding/json"
	"time"
)

type ToolExecStartEvent struct {
	ThreadID   string          `json:"thread_id"`
	RunID      string          `json:"run_id"`
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (e ToolExecStartEvent) Subject() string { return ToolExecStartEventName }

type ToolExecFinishEvent struct {
	ThreadID   string    `json:"thread_id"`
	RunID      string    `json:"run_id"`
	ToolCallID string    `json:"tool_call_id"`
	ToolName   string    `json:"tool_name"`
	Result     string    `json:"result"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e ToolExecFinishEvent) Subject() string { return ToolExecFinishEventName }
