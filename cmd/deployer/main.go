package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/cugtyt/azure-deployer/internal/config"
)

var (
	cfg   = config.Load()
	debug = cfg.Debug
)

var rootCmd = &cobra.Command{
	Use:   "deployer",
	Short: "Chat with an assistant that deploys Azure resources, confirming every change",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmd.SetContext(logContext(cmd.Context()))
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", debug, "Enable debug logs")
	rootCmd.AddCommand(serveCmd, chatCmd, toolsCmd, auditCmd)
}

func logContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
