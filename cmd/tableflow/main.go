// Tableflow server — a conversational orchestrator for tabular file
// operations: chat, intent classification, workflow confirmation, async
// execution, and WebSocket progress streaming.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tableflow/tableflow/pkg/api"
	"github.com/tableflow/tableflow/pkg/config"
	"github.com/tableflow/tableflow/pkg/database"
	"github.com/tableflow/tableflow/pkg/events"
	"github.com/tableflow/tableflow/pkg/intent"
	"github.com/tableflow/tableflow/pkg/notify"
	"github.com/tableflow/tableflow/pkg/ops"
	"github.com/tableflow/tableflow/pkg/queue"
	"github.com/tableflow/tableflow/pkg/repository"
	"github.com/tableflow/tableflow/pkg/services"
	"github.com/tableflow/tableflow/pkg/storage"
	"github.com/tableflow/tableflow/pkg/version"
	"github.com/tableflow/tableflow/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting tableflow",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs embedded migrations)
	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", dbClient.Path())

	// 3. File storage
	store, err := storage.NewStore(cfg.Storage.BaseDir)
	if err != nil {
		slog.Error("Failed to initialize file storage", "error", err)
		os.Exit(1)
	}
	slog.Info("File storage ready", "base_dir", store.BaseDir())

	repo := repository.New(dbClient, store, cfg.Partition)

	// 4. Event streaming: hub + bridge
	hub := events.NewHub(cfg.Server.MaxWSConnections, cfg.Server.WSWriteTimeout)
	bridge := events.NewBridge()
	bridge.Install(hub)
	defer bridge.Shutdown()

	// 5. Operation catalog, classifier, workflow executor
	registry := ops.NewRegistry(ops.Builtin()...)
	classifier := intent.NewClassifier()
	executor := workflow.NewExecutor(registry, repo, bridge, cfg.Execution)
	slog.Info("Operation catalog loaded", "operations", registry.Len())

	// 6. Background job pool
	jobs := queue.NewJobManager(cfg.Jobs)
	defer jobs.Stop()

	// Periodic cleanup of terminal jobs.
	cleanupStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Jobs.MaxAge / 2)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupStop:
				return
			case <-ticker.C:
				jobs.Cleanup(cfg.Jobs.MaxAge)
			}
		}
	}()
	defer close(cleanupStop)

	// 7. Conversation contexts + optional Slack notifier
	contexts := services.NewContextManager(repo, cfg.Context.IdleTTL)
	contexts.StartJanitor()
	defer contexts.Stop()

	notifier := notify.NewNotifier(cfg.Slack)
	if notifier != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
	}

	chatService := services.NewChatService(repo, registry, classifier, jobs, executor, contexts, notifier)
	slog.Info("Services initialized")

	// 8. HTTP server
	httpServer := api.NewServer(cfg, chatService, hub, dbClient)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Tableflow started successfully", "workers", cfg.Jobs.MaxWorkers)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting HTTP, then drain workers.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	jobs.Stop()
	slog.Info("Shutdown complete")
}
