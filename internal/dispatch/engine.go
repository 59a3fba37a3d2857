// Package dispatch turns the assistant's tool calls into tool outputs. Calls
// that create or delete resources are held back as pending actions until the
// user confirms them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"goa.design/clue/log"

	"github.com/cugtyt/azure-deployer/internal/assistant"
	"github.com/cugtyt/azure-deployer/internal/eventbus"
	"github.com/cugtyt/azure-deployer/internal/events"
	"github.com/cugtyt/azure-deployer/internal/pending"
)

// Registry is the set of callable tools.
type Registry interface {
	Has(name string) bool
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

type Engine struct {
	client   assistant.Client
	registry Registry
	store    *pending.Store
	runs     *Runs
	bus      eventbus.EventBus
}

// NewEngine creates an engine queuing deferred calls in store. bus may be nil.
func NewEngine(client assistant.Client, registry Registry, store *pending.Store, bus eventbus.EventBus) *Engine {
	return &Engine{
		client:   client,
		registry: registry,
		store:    store,
		runs:     NewRuns(),
		bus:      bus,
	}
}

func (e *Engine) Runs() *Runs { return e.runs }

// frame is one stream being consumed. deferred holds the calls to queue
// once the stream is exhausted.
type frame struct {
	stream   assistant.Stream
	run      assistant.RunContext
	deferred []assistant.ToolCall
}

// Consume reads stream to the end, appending completed messages to t and
// handling every requires-action event on the way. Streams produced by
// submitting tool outputs are consumed before the stream that caused them
// is resumed.
func (e *Engine) Consume(ctx context.Context, stream assistant.Stream, t *Transcript) error {
	stack := []*frame{{stream: stream}}
	defer func() {
		for _, f := range stack {
			f.stream.Close()
		}
	}()

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		ev, err := top.stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			top.stream.Close()
			stack = stack[:len(stack)-1]
			if len(top.deferred) > 0 {
				e.queue(ctx, top.run, top.deferred, t)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read run stream: %w", err)
		}

		if ev.Run.RunID != "" {
			top.run = ev.Run
		}
		switch ev.Kind {
		case assistant.EventRequiresAction:
			next, deferred, err := e.onRequiresAction(ctx, ev.Run, ev.ToolCalls, t)
			if err != nil {
				return err
			}
			if next != nil {
				stack = append(stack, &frame{stream: next, run: ev.Run, deferred: deferred})
			}
		case assistant.EventMessageCompleted:
			t.Append(ev.Text)
		case assistant.EventRunCompleted:
			e.observe(ctx, ev.Run, StateCompleted)
		case assistant.EventRunExpired:
			e.observe(ctx, ev.Run, StateExpired)
		case assistant.EventRunCancelled:
			e.observe(ctx, ev.Run, StateCancelled)
		case assistant.EventRunFailed:
			e.observe(ctx, ev.Run, StateFailed)
		}
	}
	return nil
}

// onRequiresAction runs the immediate calls and submits their outputs. It
// returns the stream resulting from the submission, if any, together with
// the deferred calls to queue once that stream is done. When there is
// nothing to submit the deferred calls are queued right away.
func (e *Engine) onRequiresAction(ctx context.Context, run assistant.RunContext, calls []assistant.ToolCall, t *Transcript) (assistant.Stream, []assistant.ToolCall, error) {
	ctx = log.With(ctx, log.KV{K: "thread", V: run.ThreadID}, log.KV{K: "run", V: run.RunID})
	e.observe(ctx, run, StateRequiresAction)

	// Nothing is submitted or queued for a batch naming an unknown tool.
	if err := e.checkNames(run, calls); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "rejecting tool call batch"})
		return nil, nil, err
	}

	immediate, deferred := Classify(calls)
	log.Info(ctx, log.KV{K: "msg", V: "tool calls requested"}, log.KV{K: "immediate", V: len(immediate)}, log.KV{K: "deferred", V: len(deferred)})

	if len(immediate) == 0 {
		e.queue(ctx, run, deferred, t)
		return nil, nil, nil
	}

	outputs, err := e.Execute(ctx, run, immediate)
	if err != nil {
		return nil, nil, err
	}
	stream, err := e.submit(ctx, run, outputs)
	if err != nil {
		return nil, nil, err
	}
	return stream, deferred, nil
}

// Execute runs calls sequentially in order. If any name is unknown no call
// runs and an UnknownToolError is returned.
func (e *Engine) Execute(ctx context.Context, run assistant.RunContext, calls []assistant.ToolCall) ([]assistant.ToolOutput, error) {
	if err := e.checkNames(run, calls); err != nil {
		return nil, err
	}

	outputs := make([]assistant.ToolOutput, 0, len(calls))
	for _, tc := range calls {
		e.emit(ctx, events.ToolExecStartEvent{
			ThreadID:   run.ThreadID,
			RunID:      run.RunID,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Arguments:  tc.Arguments,
			Timestamp:  time.Now(),
		})

		output := e.call(ctx, tc)
		outputs = append(outputs, assistant.ToolOutput{ToolCallID: tc.ID, Output: output})

		e.emit(ctx, events.ToolExecFinishEvent{
			ThreadID:   run.ThreadID,
			RunID:      run.RunID,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Result:     output,
			Timestamp:  time.Now(),
		})
	}
	return outputs, nil
}

func (e *Engine) call(ctx context.Context, tc assistant.ToolCall) string {
	args, err := tc.Args()
	if err != nil {
		return fmt.Sprintf("Error: invalid arguments for %s: %v", tc.Name, err)
	}

	log.Info(ctx, log.KV{K: "msg", V: "executing tool"}, log.KV{K: "tool", V: tc.Name}, log.KV{K: "tool_call", V: tc.ID})
	output, err := e.registry.Call(ctx, tc.Name, args)
	if err != nil {
		// Names were checked up front, so this is a registry that changed underneath us.
		return "Error: " + err.Error()
	}
	return output
}

func (e *Engine) checkNames(run assistant.RunContext, calls []assistant.ToolCall) error {
	for _, tc := range calls {
		if !e.registry.Has(tc.Name) {
			return &UnknownToolError{Name: tc.Name, Run: run}
		}
	}
	return nil
}

func (e *Engine) submit(ctx context.Context, run assistant.RunContext, outputs []assistant.ToolOutput) (assistant.Stream, error) {
	if err := e.runs.Check(run, "submit tool outputs to"); err != nil {
		return nil, err
	}
	stream, err := e.client.SubmitToolOutputs(ctx, run, outputs)
	if err != nil {
		return nil, err
	}
	e.observe(ctx, run, StateRunning)
	return stream, nil
}

func (e *Engine) queue(ctx context.Context, run assistant.RunContext, calls []assistant.ToolCall, t *Transcript) {
	if err := e.runs.Check(run, "queue an action for"); err != nil {
		// The run can no longer take outputs, so the action could never be confirmed.
		log.Warn(ctx, log.KV{K: "msg", V: "dropping deferred tool calls"}, log.KV{K: "run", V: run.RunID}, log.KV{K: "calls", V: len(calls)}, log.KV{K: "err", V: err.Error()})
		t.Append(UnconfirmableNotice)
		return
	}
	action := pending.NewAction(run, calls)
	e.store.Append(action)
	e.observe(ctx, run, StateAwaitingConfirmation)
	t.Append(ConfirmationPrompt(calls))

	names := make([]string, 0, len(calls))
	for _, tc := range calls {
		names = append(names, tc.Name)
	}
	log.Info(ctx, log.KV{K: "msg", V: "action awaiting confirmation"}, log.KV{K: "action", V: action.ID}, log.KV{K: "tools", V: names})
	e.emit(ctx, events.ActionQueuedEvent{
		ActionID:  action.ID,
		ThreadID:  run.ThreadID,
		RunID:     run.RunID,
		ToolNames: names,
		Timestamp: action.CreatedAt,
	})
}

// Resume executes an approved action, submits its outputs under the action's
// run and consumes what the run produces next.
func (e *Engine) Resume(ctx context.Context, action pending.Action, t *Transcript) error {
	run := action.Run
	ctx = log.With(ctx, log.KV{K: "thread", V: run.ThreadID}, log.KV{K: "run", V: run.RunID})
	if err := e.runs.Check(run, "resume"); err != nil {
		return err
	}
	e.emit(ctx, events.ActionResolvedEvent{
		ActionID:  action.ID,
		ThreadID:  run.ThreadID,
		RunID:     run.RunID,
		Outcome:   events.OutcomeApproved,
		Timestamp: time.Now(),
	})

	outputs, err := e.Execute(ctx, run, action.ToolCalls)
	if err != nil {
		return err
	}
	stream, err := e.submit(ctx, run, outputs)
	if err != nil {
		return err
	}
	return e.Consume(ctx, stream, t)
}

// Cancel cancels run. A run already known to be terminal is not sent to the
// remote runtime and a TerminalRunError is returned instead.
func (e *Engine) Cancel(ctx context.Context, run assistant.RunContext, reason string) error {
	if err := e.runs.Check(run, "cancel"); err != nil {
		return err
	}
	if err := e.client.CancelRun(ctx, run); err != nil {
		return err
	}
	e.observe(ctx, run, StateCancelled)
	e.emit(ctx, events.RunCancelledEvent{
		ThreadID:  run.ThreadID,
		RunID:     run.RunID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	log.Info(ctx, log.KV{K: "msg", V: "run cancelled"}, log.KV{K: "run", V: run.RunID}, log.KV{K: "reason", V: reason})
	return nil
}

// Expire records that the remote runtime reported run as expired.
func (e *Engine) Expire(ctx context.Context, action pending.Action) {
	e.observe(ctx, action.Run, StateExpired)
	e.emit(ctx, events.ActionResolvedEvent{
		ActionID:  action.ID,
		ThreadID:  action.Run.ThreadID,
		RunID:     action.Run.RunID,
		Outcome:   events.OutcomeExpired,
		Timestamp: time.Now(),
	})
}

// Reject records that the user declined action.
func (e *Engine) Reject(ctx context.Context, action pending.Action) {
	e.emit(ctx, events.ActionResolvedEvent{
		ActionID:  action.ID,
		ThreadID:  action.Run.ThreadID,
		RunID:     action.Run.RunID,
		Outcome:   events.OutcomeRejected,
		Timestamp: time.Now(),
	})
}

// Observe records a terminal status the remote runtime reported for run,
// even when the local state says otherwise. Other statuses are ignored.
func (e *Engine) Observe(ctx context.Context, run assistant.RunContext, status assistant.RunStatus) {
	s, ok := stateOf(status)
	if !ok || !s.Terminal() || run.RunID == "" {
		return
	}
	log.Debug(ctx, log.KV{K: "msg", V: "run settled remotely"}, log.KV{K: "run", V: run.RunID}, log.KV{K: "state", V: string(s)})
	e.runs.Settle(run, s)
}

func (e *Engine) observe(ctx context.Context, run assistant.RunContext, to State) {
	if run.RunID == "" {
		return
	}
	if err := e.runs.Transition(run, to); err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "run state not updated"}, log.KV{K: "run", V: run.RunID}, log.KV{K: "err", V: err.Error()})
	}
}

func (e *Engine) emit(ctx context.Context, event eventbus.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Emit(event); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to emit event"}, log.KV{K: "subject", V: event.Subject()})
	}
}
