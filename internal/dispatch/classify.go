package dispatch

import (
	"strings"

	"github.com/cugtyt/azure-deployer/internal/assistant"
)

// Names with these prefixes change cloud resources and need confirmation.
var mutatingPrefixes = []string{"create_", "delete_"}

func IsMutating(name string) bool {
	for _, p := range mutatingPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Classify splits calls into those that run right away and those that wait
// for confirmation. Relative order is kept in both.
func Classify(calls []assistant.ToolCall) (immediate, deferred []assistant.ToolCall) {
	for _, tc := range calls {
		if IsMutating(tc.Name) {
			deferred = append(deferred, tc)
		} else {
			immediate = append(immediate, tc)
		}
	}
	return immediate, deferred
}
