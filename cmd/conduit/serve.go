package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/conduit/internal/budget"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/convstore"
	"github.com/haasonsaas/conduit/internal/dispatch"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/orchestrator"
	"github.com/haasonsaas/conduit/internal/provider"
	"github.com/haasonsaas/conduit/internal/repair"
	"github.com/haasonsaas/conduit/internal/tokenizer"
	"github.com/haasonsaas/conduit/internal/tools"
	"github.com/haasonsaas/conduit/internal/tools/commerce"
	"github.com/haasonsaas/conduit/internal/transport"
	"github.com/haasonsaas/conduit/internal/web"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg.Logging)
	metrics := observability.NewMetrics(nil)

	// Persistence.
	var kv convstore.KV
	var sqliteKV *convstore.SQLiteKV
	if strings.EqualFold(cfg.Store.Backend, "memory") {
		kv = convstore.NewMemoryKV()
	} else {
		var err error
		sqliteKV, err = convstore.NewSQLiteKV(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer sqliteKV.Close()
		kv = sqliteKV
	}
	store := convstore.NewConversations(kv, convstore.Options{
		TTL:         cfg.Store.TTL,
		MaxMessages: cfg.Context.MaxMessages,
		Logger:      logger,
	})

	// Tools.
	catalog := seedCatalog()
	toolReg := tools.NewRegistry()
	if err := commerce.RegisterAll(toolReg, catalog); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	// Session transport and tool event handlers.
	sessions := transport.NewRegistry(logger)
	dispatchReg := dispatch.NewRegistry(logger)
	registerHandlers(dispatchReg, sessions, logger)

	// Model provider, repair loop, orchestrator.
	modelProvider, err := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:     cfg.Model.APIKey,
		Model:      cfg.Model.Model,
		BaseURL:    cfg.Model.BaseURL,
		MaxRetries: cfg.Model.MaxRetries,
		RetryDelay: cfg.Model.RetryDelay,
	}, logger)
	if err != nil {
		return err
	}
	repairer := repair.New(modelProvider, logger)

	orch := orchestrator.New(
		modelProvider,
		toolReg,
		dispatchReg,
		repairer,
		store,
		budget.New(tokenizer.NewHeuristic(), cfg.Context),
		metrics,
		logger,
		orchestrator.Options{
			MaxSteps:     cfg.Model.MaxSteps,
			SystemPrompt: cfg.Chat.SystemPrompt,
		},
	)

	server, err := web.NewServer(orch, store, sessions, logger, web.Config{
		CookieSecret: cfg.Chat.CookieSecret,
		Welcome:      cfg.Chat.Welcome,
	})
	if err != nil {
		return err
	}

	// Periodic sweep of expired conversation rows.
	sweeper := cron.New()
	if sqliteKV != nil && cfg.Store.SweepSchedule != "" {
		_, err := sweeper.AddFunc(cfg.Store.SweepSchedule, func() {
			n, err := sqliteKV.Sweep(context.Background())
			if err != nil {
				logger.Warn("store sweep failed", "error", err)
				return
			}
			if n > 0 {
				metrics.StoreSweeps.Add(float64(n))
				logger.Info("store sweep removed expired rows", "rows", n)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule store sweep: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Routes(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "version", version)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if active, ok := sessions.Active(); ok {
		active.Release()
	}
	return nil
}

// registerHandlers wires the tool event listeners: product mutations push a
// notification to the active streaming session, and every event is traced.
func registerHandlers(reg *dispatch.Registry, sessions *transport.Registry, logger *slog.Logger) {
	push := func(ctx context.Context, evt dispatch.Event) error {
		payload, err := json.Marshal(map[string]any{
			"type":           "tool-event",
			"conversationId": evt.ConversationID,
			"toolInvocation": evt.Invocation,
		})
		if err != nil {
			return err
		}
		return sessions.Push(ctx, payload)
	}
	reg.Register("update-", push)
	reg.Register("adjust-inventory", push)
	reg.RegisterWildcard(func(ctx context.Context, evt dispatch.Event) error {
		logger.Debug("tool event",
			"tool", evt.Invocation.ToolName,
			"state", string(evt.Invocation.State),
			"conversation_id", evt.ConversationID,
		)
		return nil
	})
}

// seedCatalog provides demo inventory until a real commerce backend is
// configured.
func seedCatalog() *commerce.MemoryCatalog {
	catalog := commerce.NewMemoryCatalog()
	products := []*commerce.Product{
		{
			ID:      "prod_basic-tee",
			Title:   "Basic Tee",
			Options: []string{"Size", "Color"},
			Variants: []commerce.Variant{
				{Title: "Small / Red", Price: "19.00", Options: map[string]string{"Size": "Small", "Color": "Red"}, InventoryQuantity: 24},
				{Title: "Small / Blue", Price: "19.00", Options: map[string]string{"Size": "Small", "Color": "Blue"}, InventoryQuantity: 18},
				{Title: "Large / Red", Price: "21.00", Options: map[string]string{"Size": "Large", "Color": "Red"}, InventoryQuantity: 9},
			},
		},
		{
			ID:      "prod_mug",
			Title:   "Enamel Mug",
			Options: []string{"Color"},
			Variants: []commerce.Variant{
				{Title: "White", Price: "12.50", Options: map[string]string{"Color": "White"}, InventoryQuantity: 40},
			},
		},
	}
	for _, p := range products {
		_ = catalog.UpdateProduct(context.Background(), p)
	}
	return catalog
}
