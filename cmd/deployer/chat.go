package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cugtyt/azure-deployer/pkg/api"
)

var serverURL = "http://localhost:8080"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running deployer server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return chat(cmd.Context(), api.NewClient(serverURL), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&serverURL, "server", serverURL, "Deployer server URL")
}

// chat reads one line at a time. Lines are sent as messages unless an
// action is pending, in which case the line answers it.
func chat(ctx context.Context, client *api.Client, in io.Reader, out io.Writer) error {
	if _, err := client.GetHealth(ctx); err != nil {
		return err
	}

	threadID, err := client.NewThread(ctx)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	fmt.Fprintf(out, "Thread %s. Type \"exit\" to quit.\n", threadID)

	scanner := bufio.NewScanner(in)
	pending := 0
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			break
		}

		var reply *api.Reply
		if pending > 0 {
			reply, err = client.Confirm(ctx, api.ConfirmRequest{ThreadID: threadID, Reply: line})
		} else {
			reply, err = client.SendMessage(ctx, api.SendMessageRequest{ThreadID: threadID, Message: line})
		}

		var apiErr *api.Error
		switch {
		case err == nil:
			printMessages(out, reply.Messages)
			pending = reply.Pending
		case errors.As(err, &apiErr):
			printMessages(out, apiErr.Messages)
			fmt.Fprintf(out, "error: %s\n", apiErr.Message)
			if pending > 0 {
				pending--
			}
		default:
			return err
		}
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func printMessages(out io.Writer, msgs []string) {
	for _, m := range msgs {
		fmt.Fprintln(out, m)
	}
}
