// Package session serialises a conversation with the assistant: one active
// thread, one pending-action store and one request at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/cugtyt/azure-deployer/internal/assistant"
	"github.com/cugtyt/azure-deployer/internal/confirm"
	"github.com/cugtyt/azure-deployer/internal/dispatch"
	"github.com/cugtyt/azure-deployer/internal/eventbus"
	"github.com/cugtyt/azure-deployer/internal/events"
	"github.com/cugtyt/azure-deployer/internal/pending"
	"github.com/cugtyt/azure-deployer/internal/store"
)

var ErrUnknownThread = errors.New("unknown thread")

// Reply is what one request produced for the user.
type Reply struct {
	ThreadID string   `json:"thread_id"`
	Messages []string `json:"messages"`
	Pending  int      `json:"pending"`
}

type Options struct {
	Client      assistant.Client
	AssistantID string
	Registry    dispatch.Registry
	History     store.History
	// EventBus is optional.
	EventBus eventbus.EventBus
}

type Session struct {
	mu sync.Mutex

	client      assistant.Client
	assistantID string
	store       *pending.Store
	engine      *dispatch.Engine
	resolver    *confirm.Resolver
	history     store.History

	threadID string
}

func New(opts Options) *Session {
	history := opts.History
	if history == nil {
		history = store.NewMemoryHistory()
	}
	pendingStore := pending.NewStore()
	engine := dispatch.NewEngine(opts.Client, opts.Registry, pendingStore, opts.EventBus)
	return &Session{
		client:      opts.Client,
		assistantID: opts.AssistantID,
		store:       pendingStore,
		engine:      engine,
		resolver:    confirm.NewResolver(opts.Client, engine, pendingStore),
		history:     history,
	}
}

// ThreadID returns the active thread, or "" when none was created yet.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

func (s *Session) Pending() []pending.Action {
	return s.store.PeekAll()
}

// NewThread abandons the active thread, if any, and starts a new one.
func (s *Session) NewThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolver.Sweep(ctx)
	if s.threadID != "" {
		s.engine.Runs().ForgetThread(s.threadID)
	}
	return s.newThread(ctx)
}

func (s *Session) newThread(ctx context.Context) (string, error) {
	id, err := s.client.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	s.threadID = id
	log.Info(ctx, log.KV{K: "msg", V: "thread started"}, log.KV{K: "thread", V: id})
	return id, nil
}

// DeleteThread cancels what is pending, deletes the thread remotely and
// drops its history.
func (s *Session) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if threadID == "" {
		return ErrUnknownThread
	}
	s.resolver.Sweep(ctx)
	if err := s.client.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	if err := s.history.Delete(ctx, threadID); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to delete history"}, log.KV{K: "thread", V: threadID})
	}
	s.engine.Runs().ForgetThread(threadID)
	if s.threadID == threadID {
		s.threadID = ""
	}
	log.Info(ctx, log.KV{K: "msg", V: "thread deleted"}, log.KV{K: "thread", V: threadID})
	return nil
}

// Send posts a user message and runs the assistant on it. Any action still
// waiting for confirmation is cancelled first. An empty threadID uses the
// active thread, starting one if needed.
func (s *Session) Send(ctx context.Context, threadID, text string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.useThread(ctx, threadID); err != nil {
		return nil, err
	}
	ctx = log.With(ctx, log.KV{K: "thread", V: s.threadID})

	s.resolver.Sweep(ctx)
	// Nothing is pending past a sweep, so finished runs need no tracking.
	if n := s.engine.Runs().Prune(); n > 0 {
		log.Debug(ctx, log.KV{K: "msg", V: "pruned finished runs"}, log.KV{K: "runs", V: n})
	}

	if err := s.client.PostMessage(ctx, s.threadID, assistant.RoleUser, text); err != nil {
		return nil, err
	}
	s.record(ctx, assistant.RoleUser, text)

	t := &dispatch.Transcript{}
	stream, err := s.client.StartRun(ctx, s.threadID, s.assistantID)
	if err != nil {
		return nil, err
	}
	err = s.engine.Consume(ctx, stream, t)
	s.abandon(ctx, err)
	return s.reply(ctx, t), err
}

// Confirm answers the oldest pending action with reply.
func (s *Session) Confirm(ctx context.Context, threadID, reply string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if threadID != "" && threadID != s.threadID {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrUnknownThread)
	}
	ctx = log.With(ctx, log.KV{K: "thread", V: s.threadID})
	s.record(ctx, assistant.RoleUser, reply)

	t, err := s.resolver.Resolve(ctx, reply)
	s.abandon(ctx, err)
	return s.reply(ctx, t), err
}

func (s *Session) History(ctx context.Context, threadID string) ([]store.ChatMessage, error) {
	return s.history.List(ctx, threadID)
}

func (s *Session) Threads(ctx context.Context) ([]string, error) {
	return s.history.Threads(ctx)
}

func (s *Session) useThread(ctx context.Context, threadID string) error {
	switch {
	case threadID == "" && s.threadID == "":
		_, err := s.newThread(ctx)
		return err
	case threadID == "" || threadID == s.threadID:
		return nil
	default:
		return fmt.Errorf("thread %s: %w", threadID, ErrUnknownThread)
	}
}

// abandon cancels the run left waiting for outputs when the assistant asked
// for a tool that does not exist, so the thread accepts new runs.
func (s *Session) abandon(ctx context.Context, err error) {
	var unknown *dispatch.UnknownToolError
	if !errors.As(err, &unknown) || unknown.Run.RunID == "" {
		return
	}
	if err := s.engine.Cancel(ctx, unknown.Run, events.ReasonUnknownTool); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to cancel run after unknown tool"})
	}
}

func (s *Session) reply(ctx context.Context, t *dispatch.Transcript) *Reply {
	messages := t.Messages()
	for _, m := range messages {
		s.record(ctx, assistant.RoleAssistant, m)
	}
	if messages == nil {
		messages = []string{}
	}
	return &Reply{ThreadID: s.threadID, Messages: messages, Pending: s.store.Len()}
}

func (s *Session) record(ctx context.Context, role, text string) {
	if s.threadID == "" {
		return
	}
	msg := store.ChatMessage{Role: role, Text: text, Timestamp: time.Now().UTC()}
	if err := s.history.Append(ctx, s.threadID, msg); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to save chat history"})
	}
}
