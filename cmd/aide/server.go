package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kalambet/aide/internal/agent"
	"github.com/kalambet/aide/internal/api"
	"github.com/kalambet/aide/internal/config"
	"github.com/kalambet/aide/internal/engine"
	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/ingest"
	"github.com/kalambet/aide/internal/metrics"
	"github.com/kalambet/aide/internal/monitor"
	"github.com/kalambet/aide/internal/retrieval"
	"github.com/kalambet/aide/internal/storage"
	"github.com/kalambet/aide/internal/tools"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the aide server, mailbox monitor and sync scheduler (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aide system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assistant over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

// app is the wired core shared by the HTTP server and the MCP command.
type app struct {
	cfg       config.Config
	store     *storage.Store
	metrics   *metrics.Metrics
	retriever *retrieval.Retriever
	clients   *gateway.Clients
	agent     *agent.Orchestrator
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func buildApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*app, error) {
	backend, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.LLM.Provider,
		EmbedProvider: cfg.LLM.EmbedProvider,
		ChatModel:     cfg.LLM.ChatModel,
		EmbedModel:    cfg.LLM.EmbedModel,
		Timeout:       cfg.LLM.Timeout,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		AnthropicKey:  cfg.Anthropic.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring model backend: %w", err)
	}
	if backend.Local != nil {
		if err := engine.EnsureReady(ctx, backend.Local, backend.LocalModels, os.Stderr); err != nil {
			return nil, err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	m := metrics.New(reg)

	retriever := retrieval.NewRetriever(
		retrieval.NewEmbedder(backend.Embedder),
		retrieval.NewSQLiteStore(store.DB()),
		cfg.Retrieval.MaxTokens*retrieval.CharsPerToken,
	)
	retriever.OnIndexed = func(kind retrieval.Kind) { m.RecordIndexed(string(kind)) }

	clients := gateway.NewClients(gateway.ClientsConfig{
		HubSpotURL:  cfg.HubSpot.BaseURL,
		HubSpotRate: cfg.HubSpot.RateLimit,
		HubSpotHTTP: &http.Client{Timeout: 30 * time.Second},
	})

	orchestrator := agent.New(backend.Completer, store, tools.Deps{
		Tasks:       store,
		Knowledge:   retriever,
		Connector:   clients,
		SearchLimit: cfg.Retrieval.TopK,
		Timeout:     cfg.Agent.ToolTimeout,
		Metrics:     m,
	}, agent.Config{
		MaxDepth:     cfg.Agent.MaxDepth,
		HistoryLimit: cfg.Agent.HistoryLimit,
	})

	return &app{
		cfg:       cfg,
		store:     store,
		metrics:   m,
		retriever: retriever,
		clients:   clients,
		agent:     orchestrator,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.Server.APIToken == "" {
		slog.Warn("server.api_token is empty; every /v1 request will be rejected")
	}

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("aide is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Monitor.Enabled {
		mon := monitor.New(a.store, a.clients, a.agent, a.retriever, a.metrics, monitor.Config{
			MailInterval:     cfg.Monitor.MailInterval,
			CalendarInterval: cfg.Monitor.CalendarInterval,
			SeenCapacity:     cfg.Monitor.SeenCapacity,
		})
		if err := mon.Start(ctx); err != nil {
			return fmt.Errorf("starting monitor: %w", err)
		}
		defer func() {
			if err := mon.Stop(); err != nil {
				slog.Warn("stopping monitor", "error", err)
			}
		}()
	}

	if cfg.Sync.Enabled {
		worker := ingest.NewWorker(a.store, a.clients, a.retriever, cfg.Sync.MailBatch, 500*time.Millisecond)
		go worker.Run(ctx)

		sched := ingest.NewScheduler(a.store, cfg.Sync.Interval)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("starting sync scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				slog.Warn("stopping sync scheduler", "error", err)
			}
		}()
		slog.Info("sync scheduler started", "interval", cfg.Sync.Interval)
	}

	handler := api.NewRouter(api.Deps{
		Store:     a.store,
		Assistant: a.agent,
		Token:     cfg.Server.APIToken,
		Gatherer:  prometheus.DefaultGatherer,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("aide listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: a.store, Assistant: a.agent})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s (embeddings: %s)", cfg.LLM.Provider, cfg.LLM.EmbedProvider)
	if cfg.LLM.Provider == engine.ProviderOllama || cfg.LLM.EmbedProvider == engine.ProviderOllama {
		ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			var v struct {
				Version string `json:"version"`
			}
			json.NewDecoder(ollamaResp.Body).Decode(&v)
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s %s", cfg.Ollama.BaseURL, v.Version)
		}
	}
	printStatus("Chat model", "%s", orDefault(cfg.LLM.ChatModel, "(provider default)"))
	printStatus("Embed model", "%s", orDefault(cfg.LLM.EmbedModel, "(provider default)"))
	printStatus("Monitor", "%s", enabledLabel(cfg.Monitor.Enabled))
	printStatus("Sync", "%s", enabledLabel(cfg.Sync.Enabled))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
