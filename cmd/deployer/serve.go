package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/cugtyt/azure-deployer/internal/assistant"
	"github.com/cugtyt/azure-deployer/internal/assistant/inmem"
	"github.com/cugtyt/azure-deployer/internal/config"
	"github.com/cugtyt/azure-deployer/internal/eventbus"
	"github.com/cugtyt/azure-deployer/internal/server"
	"github.com/cugtyt/azure-deployer/internal/session"
	"github.com/cugtyt/azure-deployer/internal/store"
	"github.com/cugtyt/azure-deployer/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	f.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", cfg.OpenAIAPIKey, "OpenAI API key")
	f.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", cfg.OpenAIBaseURL, "OpenAI API base URL")
	f.StringVar(&cfg.AssistantID, "assistant-id", cfg.AssistantID, "Assistant to run; created with the tool catalog when empty")
	f.StringVar(&cfg.Model, "model", cfg.Model, "Model of a newly created assistant")
	f.StringVar(&cfg.ToolsURL, "tools-url", cfg.ToolsURL, "Base URL of the resource-management service")
	f.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for chat history; history stays in memory when empty")
	f.DurationVar(&cfg.HistoryTTL, "history-ttl", cfg.HistoryTTL, "How long chat history is kept after the last message")
	f.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS URL for audit events; disabled when empty")
	f.BoolVar(&cfg.Offline, "offline", cfg.Offline, "Use the in-process assistant instead of OpenAI")
}

func serve(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	registry, err := tools.NewCatalogRegistry(tools.NewHTTPBackend(cfg.ToolsURL))
	if err != nil {
		return err
	}

	client, assistantID, err := newAssistantClient(ctx, cfg, registry.Schemas())
	if err != nil {
		return err
	}

	opts := session.Options{
		Client:      client,
		AssistantID: assistantID,
		Registry:    registry,
	}

	if cfg.RedisURL != "" {
		redisClient, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		opts.History = store.NewRedisHistory(redisClient, cfg.HistoryTTL)
	}

	var status server.StatusReporter
	if cfg.NATSURL != "" {
		bus, err := eventbus.NewDistributedEventBus(ctx, cfg.NATSURL)
		if err != nil {
			return err
		}
		defer bus.Close()
		opts.EventBus = bus
		status = bus
	}

	srv := server.New(session.New(opts), registry.Schemas(), status)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Print(ctx, log.KV{K: "msg", V: "deployer starting"}, log.KV{K: "port", V: cfg.Port}, log.KV{K: "offline", V: cfg.Offline})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Print(ctx, log.KV{K: "msg", V: "shutting down"})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Print(ctx, log.KV{K: "msg", V: "deployer stopped"})
	return nil
}

func newAssistantClient(ctx context.Context, cfg config.Config, schemas []tools.Schema) (assistant.Client, string, error) {
	if cfg.Offline {
		return inmem.New(inmem.Commands{}), "offline", nil
	}

	client := assistant.NewOpenAIClient(cfg.OpenAIAPIKey)
	client.SetAPIBase(cfg.OpenAIBaseURL)

	functions := make([]assistant.FunctionTool, 0, len(schemas))
	for _, s := range schemas {
		functions = append(functions, assistant.FunctionTool{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	id, err := client.EnsureAssistant(ctx, cfg.AssistantID, assistant.AssistantSpec{
		Name:         config.DefaultAssistantName,
		Instructions: config.DefaultAssistantInstructions,
		Model:        cfg.Model,
		Tools:        functions,
	})
	if err != nil {
		return nil, "", err
	}
	if cfg.AssistantID == "" {
		log.Print(ctx, log.KV{K: "msg", V: "set ASSISTANT_ID to reuse the new assistant"}, log.KV{K: "assistant", V: id})
	}
	return client, id, nil
}
