package assistant

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type runObject struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		Type              string `json:"type"`
		SubmitToolOutputs struct {
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
}

func (r runObject) context() RunContext {
	return RunContext{RunID: r.ID, ThreadID: r.ThreadID}
}

func (r runObject) toolCalls() []ToolCall {
	if r.RequiredAction == nil {
		return nil
	}
	raw := r.RequiredAction.SubmitToolOutputs.ToolCalls
	calls := make([]ToolCall, 0, len(raw))
	for _, tc := range raw {
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return calls
}

type messageObject struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
	Role     string `json:"role"`
	Content  []struct {
		Type string `json:"type"`
		Text struct {
			Value string `json:"value"`
		} `json:"text"`
	} `json:"content"`
}

func (m messageObject) text() string {
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.Join(parts, "\n")
}

var runEventKinds = map[string]EventKind{
	"thread.run.created":         EventRunCreated,
	"thread.run.requires_action": EventRequiresAction,
	"thread.run.completed":       EventRunCompleted,
	"thread.run.expired":         EventRunExpired,
	"thread.run.cancelled":       EventRunCancelled,
	"thread.run.failed":          EventRunFailed,
}

// eventStream decodes a server-sent event body into run events.
type eventStream struct {
	body  io.ReadCloser
	lines *bufio.Scanner
	event string
	done  bool
}

func newEventStream(body io.ReadCloser) *eventStream {
	lines := bufio.NewScanner(body)
	lines.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &eventStream{body: body, lines: lines}
}

func (s *eventStream) Next(ctx context.Context) (Event, error) {
	for !s.done {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if !s.lines.Scan() {
			s.done = true
			if err := s.lines.Err(); err != nil {
				return Event{}, fmt.Errorf("failed to read stream: %w", err)
			}
			break
		}

		line := s.lines.Text()
		if line == "" {
			s.event = ""
			continue
		}
		header, body, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		body = strings.TrimSpace(body)
		switch strings.TrimSpace(header) {
		case "event":
			s.event = body
		case "data":
			ev, emit, err := s.decode(s.event, body)
			if err != nil {
				return Event{}, err
			}
			if emit {
				return ev, nil
			}
		}
	}
	return Event{}, io.EOF
}

func (s *eventStream) decode(name, body string) (Event, bool, error) {
	if name == "done" || body == "[DONE]" {
		s.done = true
		return Event{}, false, nil
	}
	if name == "error" {
		return Event{}, false, fmt.Errorf("stream error: %s", body)
	}

	if kind, ok := runEventKinds[name]; ok {
		var run runObject
		if err := json.Unmarshal([]byte(body), &run); err != nil {
			return Event{}, false, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		return Event{
			Kind:      kind,
			Run:       run.context(),
			Status:    RunStatus(run.Status),
			ToolCalls: run.toolCalls(),
		}, true, nil
	}

	if name == "thread.message.completed" {
		var msg messageObject
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return Event{}, false, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		return Event{
			Kind: EventMessageCompleted,
			Run:  RunContext{RunID: msg.RunID, ThreadID: msg.ThreadID},
			Text: msg.text(),
		}, true, nil
	}

	return Event{Kind: EventOther}, true, nil
}

func (s *eventStream) Close() error {
	s.done = true
	return s.body.Close()
}
