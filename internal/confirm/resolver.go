// Package confirm resolves pending actions from the user's yes/no replies
// and cancels actions the user never answered.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/cugtyt/azure-deployer/internal/assistant"
	"github.com/cugtyt/azure-deployer/internal/dispatch"
	"github.com/cugtyt/azure-deployer/internal/events"
	"github.com/cugtyt/azure-deployer/internal/pending"
)

const (
	affirmative = "yes"

	ExpiredNotice   = "The action has expired. Please try again."
	RejectedNotice  = "No actions were executed. Try again or provide more specific instructions."
	CancelledNotice = "The action was cancelled."
	SweptNotice     = "The action has been cancelled."
)

var ErrNoPendingAction = fmt.Errorf("nothing to confirm: %w", pending.ErrEmptyStore)

type Resolver struct {
	client assistant.Client
	engine *dispatch.Engine
	store  *pending.Store
}

func NewResolver(client assistant.Client, engine *dispatch.Engine, store *pending.Store) *Resolver {
	return &Resolver{client: client, engine: engine, store: store}
}

// Approved reports whether reply accepts a pending action.
func Approved(reply string) bool {
	return strings.ToLower(strings.TrimSpace(reply)) == affirmative
}

// Resolve applies reply to the oldest pending action. The transcript is
// returned even when err is a RunExpiredError, since it carries the notice
// for the user.
func (r *Resolver) Resolve(ctx context.Context, reply string) (*dispatch.Transcript, error) {
	t := &dispatch.Transcript{}

	action, err := r.store.PopOldest()
	if errors.Is(err, pending.ErrEmptyStore) {
		return t, ErrNoPendingAction
	}
	if err != nil {
		return t, err
	}
	run := action.Run
	ctx = log.With(ctx, log.KV{K: "thread", V: run.ThreadID}, log.KV{K: "run", V: run.RunID}, log.KV{K: "action", V: action.ID})

	status, err := r.client.RetrieveRunStatus(ctx, run)
	if err != nil {
		return t, fmt.Errorf("failed to check run status: %w", err)
	}
	if status == assistant.StatusExpired {
		log.Info(ctx, log.KV{K: "msg", V: "pending action expired"})
		t.Append(ExpiredNotice)
		r.engine.Expire(ctx, action)
		r.post(ctx, run.ThreadID, ExpiredNotice)
		return t, &dispatch.RunExpiredError{Run: run}
	}
	// A run that ended remotely fails Resume before anything executes.
	r.engine.Observe(ctx, run, status)

	if Approved(reply) {
		log.Info(ctx, log.KV{K: "msg", V: "pending action approved"})
		if err := r.engine.Resume(ctx, action, t); err != nil {
			return t, err
		}
		return t, nil
	}

	log.Info(ctx, log.KV{K: "msg", V: "pending action rejected"})
	t.Append(RejectedNotice)
	r.engine.Reject(ctx, action)
	if err := r.engine.Cancel(ctx, run, events.ReasonRejected); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to cancel rejected run"})
	}
	r.post(ctx, run.ThreadID, CancelledNotice)
	return t, nil
}

// Sweep cancels the run of every unanswered action, unless it already
// expired, and empties the store. It returns the number of runs cancelled.
func (r *Resolver) Sweep(ctx context.Context) int {
	actions := r.store.Clear()
	if len(actions) == 0 {
		return 0
	}

	seen := make(map[assistant.RunContext]bool, len(actions))
	cancelled := 0
	for _, action := range actions {
		run := action.Run
		if seen[run] {
			continue
		}
		seen[run] = true
		actx := log.With(ctx, log.KV{K: "thread", V: run.ThreadID}, log.KV{K: "run", V: run.RunID}, log.KV{K: "action", V: action.ID})

		status, err := r.client.RetrieveRunStatus(actx, run)
		if err != nil {
			// Cancel anyway: a run left waiting for outputs blocks the thread.
			log.Error(actx, err, log.KV{K: "msg", V: "failed to check status of stale run"})
		}
		if status == assistant.StatusExpired {
			r.engine.Expire(actx, action)
			continue
		}
		r.engine.Observe(actx, run, status)

		r.engine.Reject(actx, action)
		if err := r.engine.Cancel(actx, run, events.ReasonStale); err != nil {
			log.Error(actx, err, log.KV{K: "msg", V: "failed to cancel stale run"})
			continue
		}
		r.post(actx, run.ThreadID, SweptNotice)
		cancelled++
	}
	log.Info(ctx, log.KV{K: "msg", V: "stale actions swept"}, log.KV{K: "actions", V: len(actions)}, log.KV{K: "cancelled", V: cancelled})
	return cancelled
}

func (r *Resolver) post(ctx context.Context, threadID, text string) {
	if err := r.client.PostMessage(ctx, threadID, assistant.RoleAssistant, text); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to post assistant message"})
	}
}
