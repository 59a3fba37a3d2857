package api

import "time"

// SendMessageRequest posts a user message. An empty ThreadID targets the
// active thread.
type SendMessageRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

// ConfirmRequest answers the oldest pending action.
type ConfirmRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Reply    string `json:"reply"`
}

// Reply carries the assistant output produced by one request. Pending is
// the number of actions still waiting for confirmation.
type Reply struct {
	ThreadID string   `json:"thread_id"`
	Messages []string `json:"messages"`
	Pending  int      `json:"pending"`
}

// ErrorResponse is returned with every non-2xx status. Messages holds any
// assistant output produced before the failure.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}

type ThreadResponse struct {
	ThreadID string `json:"thread_id"`
}

type ThreadsResponse struct {
	Threads []string `json:"threads"`
}

type ChatMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type HistoryResponse struct {
	ThreadID string        `json:"thread_id"`
	Messages []ChatMessage `json:"messages"`
}

type ToolSchema struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Parameters        map[string]any `json:"parameters"`
	NeedsConfirmation bool           `json:"needs_confirmation"`
}

type ToolsResponse struct {
	Tools []ToolSchema `json:"tools"`
}

// HealthStatus represents the health of a service
type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
	EventBus  string    `json:"event_bus,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
