package assistant

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requiresActionStream = `event: thread.run.created
data: {"id":"run_1","thread_id":"thread_1","status":"queued"}

event: thread.run.step.created
data: {"id":"step_1"}

event: thread.message.completed
data: {"id":"msg_1","thread_id":"thread_1","run_id":"run_1","role":"assistant","content":[{"type":"text","text":{"value":"Checking."}},{"type":"image_file"},{"type":"text","text":{"value":"One moment."}}]}

event: thread.run.requires_action
data: {"id":"run_1","thread_id":"thread_1","status":"requires_action","required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_resource_group_info","arguments":"{\"resource_group_name\":\"rg1\"}"}},{"id":"call_2","type":"function","function":{"name":"list_resource_groups","arguments":""}}]}}}

event: done
data: [DONE]

event: thread.run.completed
data: {"id":"run_1","thread_id":"thread_1","status":"completed"}
`

func stream(body string) Stream {
	return newEventStream(io.NopCloser(strings.NewReader(body)))
}

func TestEventStream(t *testing.T) {
	events, err := Drain(context.Background(), stream(requiresActionStream))
	require.NoError(t, err)
	require.Len(t, events, 4, "events after done are not read")

	run := RunContext{RunID: "run_1", ThreadID: "thread_1"}

	assert.Equal(t, EventRunCreated, events[0].Kind)
	assert.Equal(t, run, events[0].Run)
	assert.Equal(t, StatusQueued, events[0].Status)

	assert.Equal(t, EventOther, events[1].Kind)

	assert.Equal(t, EventMessageCompleted, events[2].Kind)
	assert.Equal(t, run, events[2].Run)
	assert.Equal(t, "Checking.\nOne moment.", events[2].Text)

	ra := events[3]
	assert.Equal(t, EventRequiresAction, ra.Kind)
	assert.Equal(t, StatusRequiresAction, ra.Status)
	require.Len(t, ra.ToolCalls, 2)
	assert.Equal(t, "call_1", ra.ToolCalls[0].ID)
	assert.Equal(t, "get_resource_group_info", ra.ToolCalls[0].Name)
	assert.JSONEq(t, `{"resource_group_name":"rg1"}`, string(ra.ToolCalls[0].Arguments))
	assert.Equal(t, json.RawMessage("{}"), ra.ToolCalls[1].Arguments)

	args, err := ra.ToolCalls[0].Args()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"resource_group_name": "rg1"}, args)
}

func TestEventStreamTerminalEvents(t *testing.T) {
	body := "event: thread.run.expired\ndata: {\"id\":\"r\",\"thread_id\":\"t\",\"status\":\"expired\"}\n\n" +
		"event: thread.run.cancelled\ndata: {\"id\":\"r\",\"thread_id\":\"t\",\"status\":\"cancelled\"}\n\n" +
		"event: thread.run.failed\ndata: {\"id\":\"r\",\"thread_id\":\"t\",\"status\":\"failed\"}\n\n"

	events, err := Drain(context.Background(), stream(body))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventRunExpired, events[0].Kind)
	assert.Equal(t, EventRunCancelled, events[1].Kind)
	assert.Equal(t, EventRunFailed, events[2].Kind)
}

func TestEventStreamErrors(t *testing.T) {
	_, err := Drain(context.Background(), stream("event: error\ndata: {\"message\":\"boom\"}\n\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = Drain(context.Background(), stream("event: thread.run.created\ndata: {not json\n\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thread.run.created")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream(requiresActionStream).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventStreamEOF(t *testing.T) {
	s := stream("")
	_, err := s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, s.Close())
}

func TestToolCallArgs(t *testing.T) {
	args, err := ToolCall{}.Args()
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = ToolCall{Arguments: json.RawMessage(`[1,2]`)}.Args()
	assert.Error(t, err)
}
