package dispatch

import (
	"strings"
	"sync"

	"github.com/cugtyt/azure-deployer/internal/assistant"
)

// Transcript accumulates the assistant-visible output of one request in
// arrival order.
type Transcript struct {
	mu       sync.Mutex
	messages []string
}

func (t *Transcript) Append(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

func (t *Transcript) Messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.messages...)
}

func (t *Transcript) String() string {
	return strings.Join(t.Messages(), "\n")
}

// UnconfirmableNotice replaces the prompt when the run ended before its
// deferred calls could be queued.
const UnconfirmableNotice = "The run ended before the actions could be confirmed. No actions were executed."

// ConfirmationPrompt lists the deferred calls and asks for a yes/no reply.
func ConfirmationPrompt(calls []assistant.ToolCall) string {
	var b strings.Builder
	b.WriteString("The following actions will be performed:\n")
	for _, tc := range calls {
		b.WriteString(tc.Name)
		b.WriteString(" with arguments: ")
		b.Write(tc.Arguments)
		b.WriteString("\n")
	}
	b.WriteString("Do you want to proceed?")
	return b.String()
}
