package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cugtyt/azure-deployer/internal/assistant"
	"github.com/cugtyt/azure-deployer/internal/assistant/inmem"
	"github.com/cugtyt/azure-deployer/internal/dispatch"
	"github.com/cugtyt/azure-deployer/internal/eventbus"
	"github.com/cugtyt/azure-deployer/internal/events"
	"github.com/cugtyt/azure-deployer/internal/pending"
	"github.com/cugtyt/azure-deployer/internal/tools"
)

type backendCall struct {
	Name string
	Args map[string]any
}

type recordingBackend struct {
	mu    sync.Mutex
	calls []backendCall
}

func (b *recordingBackend) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, backendCall{Name: name, Args: args})
	return fmt.Sprintf("%s %v succeeded", name, args["resource_group_name"]), nil
}

func (b *recordingBackend) Calls() []backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backendCall(nil), b.calls...)
}

type fixture struct {
	runtime  *inmem.Runtime
	backend  *recordingBackend
	store    *pending.Store
	bus      *eventbus.Recorder
	engine   *dispatch.Engine
	resolver *Resolver
	thread   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := &recordingBackend{}
	registry, err := tools.NewCatalogRegistry(backend)
	require.NoError(t, err)

	runtime := inmem.New(inmem.Commands{})
	thread, err := runtime.CreateThread(context.Background())
	require.NoError(t, err)

	store := pending.NewStore()
	bus := &eventbus.Recorder{}
	engine := dispatch.NewEngine(runtime, registry, store, bus)
	return &fixture{
		runtime:  runtime,
		backend:  backend,
		store:    store,
		bus:      bus,
		engine:   engine,
		resolver: NewResolver(runtime, engine, store),
		thread:   thread,
	}
}

// queue asks for a resource group to be created and returns the run that
// is left waiting for confirmation.
func (f *fixture) queue(t *testing.T, group string) assistant.RunContext {
	t.Helper()
	ctx := context.Background()
	msg := fmt.Sprintf(`create_resource_group {"resource_group_name":%q,"location":"eastus"}`, group)
	require.NoError(t, f.runtime.PostMessage(ctx, f.thread, assistant.RoleUser, msg))
	stream, err := f.runtime.StartRun(ctx, f.thread, "asst")
	require.NoError(t, err)
	require.NoError(t, f.engine.Consume(ctx, stream, &dispatch.Transcript{}))

	runs := f.runtime.Runs()
	return runs[len(runs)-1]
}

func (f *fixture) lastMessage() inmem.Message {
	msgs := f.runtime.Messages(f.thread)
	return msgs[len(msgs)-1]
}

func TestApproved(t *testing.T) {
	for _, reply := range []string{"yes", "YES", " Yes\n", "\tyEs "} {
		assert.True(t, Approved(reply), "%q", reply)
	}
	for _, reply := range []string{"", "no", "No thanks", "y", "yes please", "ok"} {
		assert.False(t, Approved(reply), "%q", reply)
	}
}

func TestResolveYes(t *testing.T) {
	f := newFixture(t)
	run := f.queue(t, "rg1")

	tr, err := f.resolver.Resolve(context.Background(), "yes")
	require.NoError(t, err)

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "create_resource_group", calls[0].Name)
	assert.Equal(t, map[string]any{"resource_group_name": "rg1", "location": "eastus"}, calls[0].Args)

	assert.Equal(t, []string{"create_resource_group rg1 succeeded"}, tr.Messages())
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.runtime.Cancelled())

	subs := f.runtime.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, run, subs[0].Run)
	assert.Contains(t, f.bus.Subjects(), events.ActionApprovedEventName)
}

func TestResolveRejects(t *testing.T) {
	for _, reply := range []string{"No thanks", "", "no"} {
		t.Run(fmt.Sprintf("%q", reply), func(t *testing.T) {
			f := newFixture(t)
			run := f.queue(t, "rg1")

			tr, err := f.resolver.Resolve(context.Background(), reply)
			require.NoError(t, err)

			assert.Equal(t, []string{RejectedNotice}, tr.Messages())
			assert.Empty(t, f.backend.Calls())
			assert.Empty(t, f.runtime.Submissions())
			assert.Equal(t, []assistant.RunContext{run}, f.runtime.Cancelled())
			assert.Zero(t, f.store.Len())
			assert.Equal(t, inmem.Message{Role: assistant.RoleAssistant, Content: CancelledNotice}, f.lastMessage())

			subjects := f.bus.Subjects()
			assert.Contains(t, subjects, events.ActionRejectedEventName)
			assert.Contains(t, subjects, events.RunCancelledEventName)
		})
	}
}

func TestResolveExpired(t *testing.T) {
	f := newFixture(t)
	run := f.queue(t, "rg1")
	f.runtime.Expire(run.RunID)

	tr, err := f.resolver.Resolve(context.Background(), "yes")
	require.ErrorIs(t, err, dispatch.ErrRunExpired)
	var expired *dispatch.RunExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, run, expired.Run)

	assert.Equal(t, []string{ExpiredNotice}, tr.Messages())
	assert.Empty(t, f.backend.Calls())
	assert.Empty(t, f.runtime.Submissions())
	assert.Empty(t, f.runtime.Cancelled())
	assert.Zero(t, f.store.Len())
	assert.Equal(t, dispatch.StateExpired, f.engine.Runs().State(run))
	assert.Contains(t, f.bus.Subjects(), events.ActionExpiredEventName)
}

func TestResolveRunEndedRemotely(t *testing.T) {
	for _, reply := range []string{"yes", "no"} {
		t.Run(reply, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			run := f.queue(t, "rg1")
			// Cancelled behind the engine's back.
			require.NoError(t, f.runtime.CancelRun(ctx, run))

			_, err := f.resolver.Resolve(ctx, reply)
			if reply == "yes" {
				var terminal *dispatch.TerminalRunError
				require.ErrorAs(t, err, &terminal)
				assert.Equal(t, dispatch.StateCancelled, terminal.State)
			} else {
				require.NoError(t, err)
			}

			assert.Empty(t, f.backend.Calls(), "nothing runs against a finished run")
			assert.Empty(t, f.runtime.Submissions())
			assert.Len(t, f.runtime.Cancelled(), 1)
			assert.Equal(t, dispatch.StateCancelled, f.engine.Runs().State(run))
		})
	}
}

func TestResolveNothingPending(t *testing.T) {
	f := newFixture(t)

	tr, err := f.resolver.Resolve(context.Background(), "yes")
	require.ErrorIs(t, err, ErrNoPendingAction)
	assert.ErrorIs(t, err, pending.ErrEmptyStore)
	assert.Empty(t, tr.Messages())
}

func TestResolveOldestFirst(t *testing.T) {
	f := newFixture(t)
	runA := f.queue(t, "rg-a")
	runB := f.queue(t, "rg-b")
	require.Equal(t, 2, f.store.Len())

	_, err := f.resolver.Resolve(context.Background(), "yes")
	require.NoError(t, err)

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "rg-a", calls[0].Args["resource_group_name"])

	left := f.store.PeekAll()
	require.Len(t, left, 1)
	assert.Equal(t, runB, left[0].Run)

	subs := f.runtime.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, runA, subs[0].Run)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.Zero(t, f.resolver.Sweep(ctx))

	runA := f.queue(t, "rg-a")
	runB := f.queue(t, "rg-b")
	f.store.Append(pending.NewAction(runA, []assistant.ToolCall{
		{ID: "extra", Name: "delete_resource_group", Arguments: json.RawMessage(`{"resource_group_name":"rg-a"}`)},
	}))

	assert.Equal(t, 2, f.resolver.Sweep(ctx))
	assert.Zero(t, f.store.Len())
	assert.ElementsMatch(t, []assistant.RunContext{runA, runB}, f.runtime.Cancelled())
	assert.Empty(t, f.backend.Calls())
	assert.Equal(t, inmem.Message{Role: assistant.RoleAssistant, Content: SweptNotice}, f.lastMessage())

	assert.Zero(t, f.resolver.Sweep(ctx))
	assert.Len(t, f.runtime.Cancelled(), 2)
}

func TestSweepSkipsExpiredRuns(t *testing.T) {
	f := newFixture(t)
	run := f.queue(t, "rg1")
	f.runtime.Expire(run.RunID)

	assert.Zero(t, f.resolver.Sweep(context.Background()))
	assert.Empty(t, f.runtime.Cancelled())
	assert.Zero(t, f.store.Len())
	assert.Contains(t, f.bus.Subjects(), events.ActionExpiredEventName)
}

func TestSweepClearsUnknownRuns(t *testing.T) {
	f := newFixture(t)
	f.store.Append(pending.NewAction(assistant.RunContext{RunID: "run_gone", ThreadID: f.thread}, nil))

	assert.Zero(t, f.resolver.Sweep(context.Background()))
	assert.Zero(t, f.store.Len())
}
