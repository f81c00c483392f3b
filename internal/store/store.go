package store

import (
	"context"
	"time"

	"github.com/hyperengineering/helix/internal/types"
)

// Store defines the interface contract for curriculum, user-state, and
// valid-session storage. The curriculum side is read-only; authoring happens
// upstream of this service.
type Store interface {
	// Curriculum (read-only).
	GetStitch(ctx context.Context, id string) (*types.Stitch, error)
	ListStitches(ctx context.Context, tube types.TubeID) ([]types.Stitch, error)
	GetFacts(ctx context.Context, ids []string) ([]types.Fact, error)
	DefaultPositions(ctx context.Context, tube types.TubeID) (types.TubePositionMap, error)

	// User state, persisted as a blob at session boundaries.
	LoadUserState(ctx context.Context, userID string) (*types.UserState, error)
	SaveUserState(ctx context.Context, state *types.UserState) error

	// Valid session log, append-only.
	AppendValidSession(ctx context.Context, rec types.ValidSessionRecord) error
	CountValidSessions(ctx context.Context, userID string, since time.Time) (int, error)

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats holds aggregate store counts for health reporting.
type Stats struct {
	StitchCount  int64
	FactCount    int64
	SessionCount int64
}
