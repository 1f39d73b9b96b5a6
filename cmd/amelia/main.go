// Amelia orchestrator server — provides the HTTP API, supervises workflow
// execution, and streams progress events over WebSockets.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/amelia-dev/amelia/pkg/agent"
	"github.com/amelia-dev/amelia/pkg/api"
	"github.com/amelia-dev/amelia/pkg/bus"
	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/scheduler"
	"github.com/amelia-dev/amelia/pkg/services"
	"github.com/amelia-dev/amelia/pkg/store"
	"github.com/amelia-dev/amelia/pkg/version"
)

const (
	httpShutdownTimeout = 5 * time.Second
	wsWriteTimeout      = 10 * time.Second
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("AMELIA_ENV_FILE", ".env"),
		"Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	ctx := context.Background()

	// 1. Bootstrap configuration
	bootstrap, err := config.LoadBootstrapFromEnv()
	if err != nil {
		slog.Error("Failed to load bootstrap configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting Amelia",
		"version", version.Full(),
		"addr", bootstrap.Addr(), "database", bootstrap.DatabasePath)

	// 2. Database
	dbClient, err := database.NewClient(ctx, bootstrap.DatabasePath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()

	// 3. Repositories and seed data
	st := store.New(dbClient.DB())
	if err := st.Settings.EnsureDefaults(ctx); err != nil {
		slog.Error("Failed to seed server settings", "error", err)
		os.Exit(1)
	}
	if err := st.Profiles.EnsureDefault(ctx); err != nil {
		slog.Error("Failed to seed default profile", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", dbClient.Path())

	// 4. Event bus
	eventBus := bus.New(st.Events)

	// 5. Drivers
	cliCommand := getEnv("AMELIA_CLI_COMMAND", "claude")
	cliDriver := driver.NewCLIDriver(cliCommand,
		"--dangerously-skip-permissions")
	apiDriver := driver.NewAPIDriver(
		getEnv("AMELIA_API_URL", "http://localhost:8000"),
		os.Getenv("AMELIA_API_KEY"))
	drivers := driver.NewRegistry(cliDriver, apiDriver)
	slog.Info("Drivers initialized", "cli_command", cliCommand)

	// 6. Scheduler
	settings, err := st.Settings.Get(ctx)
	if err != nil {
		slog.Error("Failed to read server settings", "error", err)
		os.Exit(1)
	}
	deps := &agent.Deps{
		Drivers:           drivers,
		Bus:               eventBus,
		Workflows:         st.Workflows,
		TokenUsage:        st.TokenUsage,
		StreamToolResults: settings.StreamToolResults,
	}
	sched := scheduler.New(st, eventBus, deps, *config.DefaultSchedulerConfig())
	if err := sched.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	slog.Info("Scheduler started",
		"max_concurrent", settings.MaxConcurrent,
		"restart_policy", settings.RestartPolicy)

	// 7. HTTP server
	connManager := api.NewConnectionManager(eventBus, wsWriteTimeout)
	httpServer := api.NewServer(
		bootstrap,
		dbClient,
		st,
		sched,
		services.NewProfileService(st.Profiles),
		services.NewSettingsService(st.Settings),
		connManager,
	)

	errCh := make(chan error, 1)
	go func() {
		addr := bootstrap.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Amelia started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: drain the scheduler first so running workflows
	// finish or checkpoint, then close the HTTP server.
	drainCtx, drainCancel := context.WithTimeout(ctx, config.DefaultSchedulerConfig().DrainTimeout+30*time.Second)
	defer drainCancel()
	if err := sched.Shutdown(drainCtx); err != nil {
		slog.Warn("Scheduler shutdown incomplete", "error", err)
	} else {
		slog.Info("Scheduler drained")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, httpShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}

	slog.Info("Amelia stopped")
}
