package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cugtyt/azure-deployer/internal/assistant"
)

type sliceStream struct {
	events []assistant.Event
	next   int
}

func (s *sliceStream) Next(ctx context.Context) (assistant.Event, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Event{}, err
	}
	if s.next >= len(s.events) {
		return assistant.Event{}, io.EOF
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }

// Turns replays a fixed sequence of turns. Every stream, whether it comes
// from StartRun or SubmitToolOutputs, consumes the next turn. Once the
// sequence is exhausted each stream completes with no messages.
type Turns struct {
	mu    sync.Mutex
	turns []Turn
}

func NewTurns(turns ...Turn) *Turns {
	return &Turns{turns: turns}
}

// Push appends more turns to the end of the sequence.
func (t *Turns) Push(turns ...Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turns...)
}

func (t *Turns) pop() Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.turns) == 0 {
		return Turn{}
	}
	turn := t.turns[0]
	t.turns = t.turns[1:]
	return turn
}

func (t *Turns) Start(context.Context, string, string) Turn { return t.pop() }

func (t *Turns) Submit(context.Context, assistant.RunContext, []assistant.ToolOutput) Turn {
	return t.pop()
}

// Commands is a script for offline use. Each line of a user message of the
// form "<tool_name> <json object>" becomes a tool call. A message with no
// such line is acknowledged. Submitted outputs are echoed back as
// assistant messages.
type Commands struct{}

func (Commands) Start(_ context.Context, _ string, message string) Turn {
	var calls []assistant.ToolCall
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		name, args, ok := strings.Cut(line, " ")
		args = strings.TrimSpace(args)
		if !ok || !strings.HasPrefix(args, "{") || !json.Valid([]byte(args)) {
			continue
		}
		calls = append(calls, assistant.ToolCall{Name: name, Arguments: json.RawMessage(args)})
	}
	if len(calls) == 0 {
		return Turn{Messages: []string{fmt.Sprintf("Received: %s", message)}}
	}
	return Turn{ToolCalls: calls}
}

func (Commands) Submit(_ context.Context, _ assistant.RunContext, outputs []assistant.ToolOutput) Turn {
	msgs := make([]string, 0, len(outputs))
	for _, out := range outputs {
		msgs = append(msgs, out.Output)
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "Done.")
	}
	return Turn{Messages: msgs}
}
