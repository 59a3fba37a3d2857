package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/clue/log"

	"github.com/cugtyt/azure-deployer/internal/assistant/inmem"
	"github.com/cugtyt/azure-deployer/internal/events"
	"github.com/cugtyt/azure-deployer/internal/server"
	"github.com/cugtyt/azure-deployer/internal/session"
	"github.com/cugtyt/azure-deployer/internal/tools"
	"github.com/cugtyt/azure-deployer/pkg/api"
)

func TestPrintTools(t *testing.T) {
	schemas, err := tools.Catalog()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printTools(&out, schemas, "table"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(schemas)+1)
	assert.Contains(t, lines[0], "CONFIRM")
	assert.Regexp(t, `^create_resource_group\s+yes\s+`, lines[1])

	out.Reset()
	require.NoError(t, printTools(&out, schemas, "json"))
	var decoded []tools.Schema
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Len(t, decoded, len(schemas))

	out.Reset()
	require.NoError(t, printTools(&out, schemas, "yaml"))
	assert.Contains(t, out.String(), "name: get_resource_group_info")

	assert.Error(t, printTools(&out, schemas, "xml"))
}

func TestDescribeEvent(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	data, err := json.Marshal(events.ActionQueuedEvent{ActionID: "a1", RunID: "r1", ToolNames: []string{"create_x", "delete_y"}, Timestamp: ts})
	require.NoError(t, err)
	line, ok := describeEvent(ctx, events.ActionQueuedEventName, data)
	require.True(t, ok)
	assert.Equal(t, "15:04:05 deployer.action.queued run=r1 action=a1 tools=create_x,delete_y", line)

	data, err = json.Marshal(events.RunCancelledEvent{RunID: "r1", Reason: events.ReasonStale, Timestamp: ts})
	require.NoError(t, err)
	line, ok = describeEvent(ctx, events.RunCancelledEventName, data)
	require.True(t, ok)
	assert.Equal(t, "15:04:05 deployer.run.cancelled run=r1 reason=stale", line)

	_, ok = describeEvent(ctx, events.ToolExecStartEventName, []byte("{broken"))
	assert.False(t, ok)
	_, ok = describeEvent(ctx, "deployer.unknown", []byte("{}"))
	assert.False(t, ok)
}

func TestChat(t *testing.T) {
	registry, err := tools.NewCatalogRegistry(tools.BackendFunc(func(ctx context.Context, name string, args map[string]any) (string, error) {
		return "Created " + args["resource_group_name"].(string) + ".", nil
	}))
	require.NoError(t, err)
	sess := session.New(session.Options{Client: inmem.New(inmem.Commands{}), AssistantID: "offline", Registry: registry})
	ts := httptest.NewServer(server.New(sess, registry.Schemas(), nil).Handler(log.Context(context.Background())))
	defer ts.Close()

	in := strings.NewReader(strings.Join([]string{
		`create_resource_group {"resource_group_name":"rg1","location":"eastus"}`,
		"yes",
		"hello",
		`create_resource_group {"resource_group_name":"rg2","location":"eastus"}`,
		"no",
		"exit",
		"ignored",
	}, "\n"))
	var out bytes.Buffer
	require.NoError(t, chat(context.Background(), api.NewClient(ts.URL), in, &out))

	got := out.String()
	assert.Contains(t, got, "Do you want to proceed?")
	assert.Contains(t, got, "Created rg1.")
	assert.Contains(t, got, "Received: hello")
	assert.NotContains(t, got, "Created rg2.")
	assert.Contains(t, got, "No actions were executed.")
	assert.NotContains(t, got, "ignored")
}
