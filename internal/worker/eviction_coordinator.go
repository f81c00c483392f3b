package worker

import (
	"context"
	"log/slog"
	"time"
)

// CacheEvictor trims assembly caches across loaded runtimes.
// Implemented by engine.Engine.
type CacheEvictor interface {
	EvictCaches() int
	LoadedRuntimes() int
}

// EvictionCoordinator periodically trims every runtime's assembly cache
// back to its bound. Put-driven eviction handles the steady state; this
// loop reclaims entries demoted out of the protected window between
// sessions.
type EvictionCoordinator struct {
	evictor  CacheEvictor
	interval time.Duration
}

// NewEvictionCoordinator creates a coordinator over the given evictor.
func NewEvictionCoordinator(evictor CacheEvictor, interval time.Duration) *EvictionCoordinator {
	return &EvictionCoordinator{
		evictor:  evictor,
		interval: interval,
	}
}

// Run starts the eviction loop. It blocks until ctx is cancelled.
//
// The first cycle waits a full interval: caches are empty at startup and an
// immediate pass would only scan freshly loaded runtimes.
func (c *EvictionCoordinator) Run(ctx context.Context) {
	slog.Info("eviction coordinator started",
		"component", "worker",
		"worker", "eviction-coordinator",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("eviction coordinator stopped",
				"component", "worker",
				"worker", "eviction-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.evictAll(ctx)
		}
	}
}

// evictAll runs one eviction pass and logs what it reclaimed.
func (c *EvictionCoordinator) evictAll(ctx context.Context) {
	if ctx.Err() != nil {
		return // Graceful shutdown
	}

	start := time.Now()
	evicted := c.evictor.EvictCaches()
	if evicted == 0 {
		return
	}

	slog.Info("eviction cycle completed",
		"component", "worker",
		"worker", "eviction-coordinator",
		"runtimes", c.evictor.LoadedRuntimes(),
		"entries_evicted", evicted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
