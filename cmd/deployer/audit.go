package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/cugtyt/azure-deployer/internal/eventbus"
	"github.com/cugtyt/azure-deployer/internal/events"
)

var auditDurable = "deployer-audit"

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Follow the audit events published by the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.NATSURL == "" {
			return fmt.Errorf("NATS URL is required")
		}
		return audit(cmd.Context(), cfg.NATSURL, cmd.OutOrStdout())
	},
}

func init() {
	f := auditCmd.Flags()
	f.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS URL")
	f.StringVar(&auditDurable, "durable", auditDurable, "Durable consumer name")
}

func audit(ctx context.Context, natsURL string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := eventbus.NewDistributedEventBus(ctx, natsURL)
	if err != nil {
		return err
	}
	defer bus.Close()

	err = bus.Subscribe(ctx, events.SubjectAll, auditDurable, func(ctx context.Context, subject string, data []byte) error {
		line, ok := describeEvent(ctx, subject, data)
		if ok {
			fmt.Fprintln(out, line)
		}
		return nil
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func unmarshalEvent[T any](ctx context.Context, data []byte, subject string) (T, bool) {
	var event T
	if err := json.Unmarshal(data, &event); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to unmarshal event"}, log.KV{K: "subject", V: subject})
		return event, false
	}
	return event, true
}

// describeEvent renders one audit event as a single line. Events that fail
// to decode are logged and skipped.
func describeEvent(ctx context.Context, subject string, data []byte) (string, bool) {
	switch subject {
	case events.ToolExecStartEventName:
		e, ok := unmarshalEvent[events.ToolExecStartEvent](ctx, data, subject)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s run=%s tool=%s args=%s", e.Timestamp.Format("15:04:05"), subject, e.RunID, e.ToolName, e.Arguments), true

	case events.ToolExecFinishEventName:
		e, ok := unmarshalEvent[events.ToolExecFinishEvent](ctx, data, subject)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s run=%s tool=%s result=%q", e.Timestamp.Format("15:04:05"), subject, e.RunID, e.ToolName, e.Result), true

	case events.ActionQueuedEventName:
		e, ok := unmarshalEvent[events.ActionQueuedEvent](ctx, data, subject)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s run=%s action=%s tools=%s", e.Timestamp.Format("15:04:05"), subject, e.RunID, e.ActionID, strings.Join(e.ToolNames, ",")), true

	case events.ActionApprovedEventName, events.ActionRejectedEventName, events.ActionExpiredEventName:
		e, ok := unmarshalEvent[events.ActionResolvedEvent](ctx, data, subject)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s run=%s action=%s", e.Timestamp.Format("15:04:05"), subject, e.RunID, e.ActionID), true

	case events.RunCancelledEventName:
		e, ok := unmarshalEvent[events.RunCancelledEvent](ctx, data, subject)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s run=%s reason=%s", e.Timestamp.Format("15:04:05"), subject, e.RunID, e.Reason), true

	default:
		log.Debug(ctx, log.KV{K: "msg", V: "unhandled event"}, log.KV{K: "subject", V: subject})
		return "", false
	}
}
