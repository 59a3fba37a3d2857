// Package inmem provides an in-process run runtime. Runs are driven by a
// Script, which makes it usable both as a test double and as an offline
// backend for local demos.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cugtyt/azure-deployer/internal/assistant"
)

// Turn is the agent's behaviour for one stream: the messages it completes
// and, optionally, the tool calls it requests at the end.
type Turn struct {
	Messages  []string
	ToolCalls []assistant.ToolCall
}

// Script decides what each run does. Start is called when a run begins,
// Submit when tool outputs are submitted to it.
type Script interface {
	Start(ctx context.Context, threadID, message string) Turn
	Submit(ctx context.Context, run assistant.RunContext, outputs []assistant.ToolOutput) Turn
}

// Message is a message posted to a thread.
type Message struct {
	Role    string
	Content string
}

// Submission records one SubmitToolOutputs call.
type Submission struct {
	Run     assistant.RunContext
	Outputs []assistant.ToolOutput
}

type run struct {
	ctx    assistant.RunContext
	status assistant.RunStatus
	// awaiting holds the ids of requested tool calls with no output yet.
	awaiting map[string]bool
}

type Runtime struct {
	script Script

	mu          sync.Mutex
	threads     map[string][]Message
	deleted     []string
	runs        map[string]*run
	order       []string
	submissions []Submission
	cancelled   []assistant.RunContext
}

var _ assistant.Client = (*Runtime)(nil)

func New(script Script) *Runtime {
	return &Runtime{
		script:  script,
		threads: make(map[string][]Message),
		runs:    make(map[string]*run),
	}
}

func (r *Runtime) CreateThread(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := "thread_" + uuid.New().String()
	r.threads[id] = nil
	return id, nil
}

func (r *Runtime) DeleteThread(ctx context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[threadID]; !ok {
		return fmt.Errorf("thread %s not found", threadID)
	}
	delete(r.threads, threadID)
	r.deleted = append(r.deleted, threadID)
	return nil
}

func (r *Runtime) PostMessage(ctx context.Context, threadID, role, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[threadID]; !ok {
		return fmt.Errorf("thread %s not found", threadID)
	}
	r.threads[threadID] = append(r.threads[threadID], Message{Role: role, Content: content})
	return nil
}

func (r *Runtime) StartRun(ctx context.Context, threadID, assistantID string) (assistant.Stream, error) {
	r.mu.Lock()
	msgs, ok := r.threads[threadID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	var last string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == assistant.RoleUser {
			last = msgs[i].Content
			break
		}
	}
	rc := assistant.RunContext{RunID: "run_" + uuid.New().String(), ThreadID: threadID}
	r.runs[rc.RunID] = &run{ctx: rc, status: assistant.StatusInProgress}
	r.order = append(r.order, rc.RunID)
	r.mu.Unlock()

	turn := r.script.Start(ctx, threadID, last)
	events := []assistant.Event{{Kind: assistant.EventRunCreated, Run: rc, Status: assistant.StatusQueued}}
	return r.play(rc, turn, events), nil
}

func (r *Runtime) SubmitToolOutputs(ctx context.Context, rc assistant.RunContext, outputs []assistant.ToolOutput) (assistant.Stream, error) {
	r.mu.Lock()
	rn, ok := r.runs[rc.RunID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("run %s not found", rc.RunID)
	}
	if rn.status != assistant.StatusRequiresAction {
		r.mu.Unlock()
		return nil, fmt.Errorf("run %s is %s, not awaiting tool outputs", rc.RunID, rn.status)
	}
	for _, o := range outputs {
		delete(rn.awaiting, o.ToolCallID)
	}
	partial := len(rn.awaiting) > 0
	if !partial {
		rn.status = assistant.StatusInProgress
	}
	r.submissions = append(r.submissions, Submission{Run: rc, Outputs: append([]assistant.ToolOutput(nil), outputs...)})
	r.mu.Unlock()

	turn := r.script.Submit(ctx, rc, outputs)
	if partial {
		return r.playPartial(rc, turn), nil
	}
	return r.play(rc, turn, nil), nil
}

// playPartial plays the messages of a turn following a submission that left
// tool calls unanswered. The run keeps waiting for the remaining outputs.
func (r *Runtime) playPartial(rc assistant.RunContext, turn Turn) assistant.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []assistant.Event
	for _, text := range turn.Messages {
		r.threads[rc.ThreadID] = append(r.threads[rc.ThreadID], Message{Role: assistant.RoleAssistant, Content: text})
		events = append(events, assistant.Event{Kind: assistant.EventMessageCompleted, Run: rc, Text: text})
	}
	return &sliceStream{events: events}
}

// play appends the turn's events and moves the run to its resulting status.
func (r *Runtime) play(rc assistant.RunContext, turn Turn, events []assistant.Event) assistant.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, text := range turn.Messages {
		r.threads[rc.ThreadID] = append(r.threads[rc.ThreadID], Message{Role: assistant.RoleAssistant, Content: text})
		events = append(events, assistant.Event{Kind: assistant.EventMessageCompleted, Run: rc, Text: text})
	}

	rn := r.runs[rc.RunID]
	if len(turn.ToolCalls) > 0 {
		calls := make([]assistant.ToolCall, len(turn.ToolCalls))
		rn.awaiting = make(map[string]bool, len(calls))
		for i, tc := range turn.ToolCalls {
			if tc.ID == "" {
				tc.ID = "call_" + uuid.New().String()
			}
			calls[i] = tc
			rn.awaiting[tc.ID] = true
		}
		rn.status = assistant.StatusRequiresAction
		events = append(events, assistant.Event{
			Kind:      assistant.EventRequiresAction,
			Run:       rc,
			Status:    assistant.StatusRequiresAction,
			ToolCalls: calls,
		})
	} else {
		rn.status = assistant.StatusCompleted
		events = append(events, assistant.Event{Kind: assistant.EventRunCompleted, Run: rc, Status: assistant.StatusCompleted})
	}
	return &sliceStream{events: events}
}

func (r *Runtime) RetrieveRunStatus(ctx context.Context, rc assistant.RunContext) (assistant.RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.runs[rc.RunID]
	if !ok {
		return "", fmt.Errorf("run %s not found", rc.RunID)
	}
	return rn.status, nil
}

func (r *Runtime) CancelRun(ctx context.Context, rc assistant.RunContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.runs[rc.RunID]
	if !ok {
		return fmt.Errorf("run %s not found", rc.RunID)
	}
	switch rn.status {
	case assistant.StatusCompleted, assistant.StatusCancelled, assistant.StatusExpired, assistant.StatusFailed:
		return fmt.Errorf("cannot cancel run %s with status %s", rc.RunID, rn.status)
	}
	rn.status = assistant.StatusCancelled
	r.cancelled = append(r.cancelled, rc)
	return nil
}

// Expire marks a run as expired, as the remote runtime does once a run has
// waited too long for tool outputs.
func (r *Runtime) Expire(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rn, ok := r.runs[runID]; ok {
		rn.status = assistant.StatusExpired
	}
}

// Runs returns every run started so far, oldest first.
func (r *Runtime) Runs() []assistant.RunContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]assistant.RunContext, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.runs[id].ctx)
	}
	return out
}

func (r *Runtime) Submissions() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Submission(nil), r.submissions...)
}

func (r *Runtime) Cancelled() []assistant.RunContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]assistant.RunContext(nil), r.cancelled...)
}

func (r *Runtime) Messages(threadID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.threads[threadID]...)
}

func (r *Runtime) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}
