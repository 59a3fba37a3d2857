package dispatch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/cugtyt/azure-deployer/internal/assistant"
	"github.com/cugtyt/azure-deployer/internal/tools"
)

func toolNameGen() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("create_", "delete_", "get_", "list_", "start_", "stop_", "run_", "Create_", "delete", ""),
		gen.AlphaString(),
	).Map(func(parts []interface{}) string {
		return parts[0].(string) + parts[1].(string)
	})
}

func callsFrom(names []string) []assistant.ToolCall {
	calls := make([]assistant.ToolCall, len(names))
	for i, n := range names {
		calls[i] = assistant.ToolCall{ID: fmt.Sprintf("call_%d", i), Name: n}
	}
	return calls
}

func TestClassifyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("deferred iff create_ or delete_ prefix", prop.ForAll(
		func(name string) bool {
			mutating := strings.HasPrefix(name, "create_") || strings.HasPrefix(name, "delete_")
			return IsMutating(name) == mutating
		},
		toolNameGen(),
	))

	properties.Property("partition is total", prop.ForAll(
		func(names []string) bool {
			calls := callsFrom(names)
			immediate, deferred := Classify(calls)
			if len(immediate)+len(deferred) != len(calls) {
				return false
			}
			for _, tc := range immediate {
				if IsMutating(tc.Name) {
					return false
				}
			}
			for _, tc := range deferred {
				if !IsMutating(tc.Name) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(toolNameGen()),
	))

	properties.Property("order is preserved in both partitions", prop.ForAll(
		func(names []string) bool {
			calls := callsFrom(names)
			immediate, deferred := Classify(calls)
			i, d := 0, 0
			for _, tc := range calls {
				if IsMutating(tc.Name) {
					if d >= len(deferred) || deferred[d].ID != tc.ID {
						return false
					}
					d++
				} else {
					if i >= len(immediate) || immediate[i].ID != tc.ID {
						return false
					}
					i++
				}
			}
			return i == len(immediate) && d == len(deferred)
		},
		gen.SliceOf(toolNameGen()),
	))

	properties.TestingRun(t)
}

func TestIsMutatingCatalog(t *testing.T) {
	schemas, err := tools.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range schemas {
		want := strings.HasPrefix(s.Name, "create_") || strings.HasPrefix(s.Name, "delete_")
		assert.Equal(t, want, IsMutating(s.Name), s.Name)
	}

	assert.False(t, IsMutating("Create_resource_group"))
	assert.False(t, IsMutating("deleted"))
	assert.False(t, IsMutating("start_virtual_machine"))
	assert.False(t, IsMutating(""))
}

func TestClassifyEmpty(t *testing.T) {
	immediate, deferred := Classify(nil)
	assert.Empty(t, immediate)
	assert.Empty(t, deferred)
}
