// Package worker contains the background coordinators: periodic user-state
// snapshot upload and assembly-cache eviction.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/helix/internal/snapshot"
	"github.com/hyperengineering/helix/internal/types"
)

// StateSource enumerates user states for snapshot upload.
// Implemented by store.SQLiteStore.
type StateSource interface {
	ListUserIDs(ctx context.Context, updatedSince time.Time) ([]string, error)
	LoadUserState(ctx context.Context, userID string) (*types.UserState, error)
}

// SnapshotCoordinator periodically uploads changed user states to S3.
// Each cycle covers the states updated since the previous cycle, so a quiet
// deployment uploads nothing.
type SnapshotCoordinator struct {
	source   StateSource
	uploader snapshot.Uploader
	interval time.Duration

	lastCycle time.Time
}

// NewSnapshotCoordinator creates a coordinator over the given state source.
// The uploader parameter is required; pass a NoopUploader when S3 is not
// configured.
func NewSnapshotCoordinator(source StateSource, interval time.Duration, uploader snapshot.Uploader) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		source:   source,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the coordinator loop.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Upload immediately on start to cover anything missed before the last
	// shutdown.
	c.uploadChangedStates(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.uploadChangedStates(ctx)
		}
	}
}

// uploadChangedStates uploads every state updated since the previous cycle.
func (c *SnapshotCoordinator) uploadChangedStates(ctx context.Context) {
	cycleStart := time.Now().UTC()
	userIDs, err := c.source.ListUserIDs(ctx, c.lastCycle)
	if err != nil {
		slog.Error("failed to list users for snapshot upload",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "list_users_failed",
			"error", err,
		)
		return
	}

	var succeeded, failed int
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log summary
		}
		if c.uploadState(ctx, userID) {
			succeeded++
		} else {
			failed++
		}
	}
	c.lastCycle = cycleStart

	// Log summary only if we processed users (not during shutdown)
	if succeeded > 0 || failed > 0 {
		slog.Info("snapshot upload cycle completed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "cycle_complete",
			"total", len(userIDs),
			"succeeded", succeeded,
			"failed", failed,
		)
	}
}

// uploadState uploads a single user's state snapshot.
// Upload failures are logged as warnings but are NOT fatal — the durable
// copy in the store remains valid and the next cycle retries.
func (c *SnapshotCoordinator) uploadState(ctx context.Context, userID string) bool {
	state, err := c.source.LoadUserState(ctx, userID)
	if err != nil {
		slog.Warn("failed to load state for snapshot",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"user_id", userID,
			"error", err,
		)
		return false
	}

	if err := c.uploader.Upload(ctx, state); err != nil {
		if ctx.Err() != nil {
			return false // Graceful shutdown, don't log as error
		}
		slog.Warn("snapshot upload to S3 failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_upload_failed",
			"user_id", userID,
			"error", err,
		)
		return false
	}

	slog.Info("snapshot uploaded to S3",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "snapshot_uploaded",
		"user_id", userID,
	)
	return true
}
