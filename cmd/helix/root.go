package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/helix/internal/api"
	"github.com/hyperengineering/helix/internal/config"
	"github.com/hyperengineering/helix/internal/engine"
	"github.com/hyperengineering/helix/internal/scheduler"
	"github.com/hyperengineering/helix/internal/scoring"
	"github.com/hyperengineering/helix/internal/session"
	"github.com/hyperengineering/helix/internal/snapshot"
	"github.com/hyperengineering/helix/internal/store"
	"github.com/hyperengineering/helix/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "helix",
	Short: "Helix - Adaptive Practice Delivery Service",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(curriculumCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := slog.New(newLogHandler(cfg.Log))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize curriculum store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Initialize session store
	sessions := session.NewStore(cfg.Redis)
	if err := sessions.Ping(ctx); err != nil {
		slog.Warn("session store unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
	} else {
		slog.Info("session store initialized", "addr", cfg.Redis.Addr)
	}

	// 6. Load bonus ladders and build the scoring engine
	ladders, err := scoring.LoadLadders(cfg.Scoring.LadderPath)
	if err != nil {
		return fmt.Errorf("load ladders: %w", err)
	}
	scorer := scoring.NewEngine(ladders, db)
	slog.Info("scoring engine initialized", "ladders", cfg.Scoring.LadderPath)

	// 7. Build the practice engine
	sched := scheduler.New(cfg.Scheduler)
	eng := engine.New(db, sessions, sched, scorer, cfg)
	eng.Start(ctx)
	slog.Info("practice engine initialized")

	// 8. Initialize snapshot uploader (no-op when bucket unset)
	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		return fmt.Errorf("snapshot uploader: %w", err)
	}

	// 9. Initialize HTTP router
	handler := api.NewHandler(eng, uploader, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 10. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 11. Background workers
	var wg sync.WaitGroup
	snapshotWorker := worker.NewSnapshotCoordinator(db,
		time.Duration(cfg.SnapshotStorage.Interval), uploader)
	startWorker(ctx, &wg, "snapshot", snapshotWorker.Run)
	evictionWorker := worker.NewEvictionCoordinator(eng,
		time.Duration(cfg.Pipeline.EvictionInterval))
	startWorker(ctx, &wg, "eviction", evictionWorker.Run)

	// 12. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 13. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 14. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 14a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 14b. Wait for workers to complete
	wg.Wait()

	// 14c. Close stores
	if err := sessions.Close(); err != nil {
		slog.Error("session store close error", "error", err)
	}
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newLogHandler builds a slog handler from log config. Format "text" is for
// local development; anything else gets JSON.
func newLogHandler(cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
