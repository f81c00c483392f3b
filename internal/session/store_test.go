package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/helix/internal/types"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStoreWithClient(rdb, 12*time.Hour)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func activeSession(sessionID, userID string) *types.SessionState {
	return &types.SessionState{
		SessionID: sessionID,
		UserID:    userID,
		StitchID:  "stitch-1",
		Questions: []types.Question{
			{FactID: "mult-2-1", Statement: "2 × 1", CorrectAnswer: "2", Distractor: "4", BoundaryLevel: 1},
		},
		Status:    types.SessionActive,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := activeSession("sess-1", "user-1")
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, state.SessionID, got.SessionID)
	assert.Equal(t, state.UserID, got.UserID)
	assert.Equal(t, state.StitchID, got.StitchID)
	assert.Len(t, got.Questions, 1)
	assert.Equal(t, types.SessionActive, got.Status)
}

func TestGetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestActiveForUserTracksIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, activeSession("sess-1", "user-1")))

	got, err := store.ActiveForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)

	_, err = store.ActiveForUser(ctx, "user-2")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestCompletedSessionClearsUserIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := activeSession("sess-1", "user-1")
	require.NoError(t, store.Save(ctx, state))

	// Completing the session keeps the record but frees the user slot.
	state.Status = types.SessionCompleted
	require.NoError(t, store.Save(ctx, state))

	_, err := store.ActiveForUser(ctx, "user-1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, got.Status)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, activeSession("sess-1", "user-1")))

	mr.FastForward(13 * time.Hour)

	_, err := store.Get(ctx, "sess-1")
	assert.True(t, errors.Is(err, ErrSessionNotFound), "expired session is gone")
	_, err = store.ActiveForUser(ctx, "user-1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestScoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	score := types.ScoreResult{BasePoints: 56, Multiplier: 5, TotalPoints: 280, WinningCategory: "excellence"}
	require.NoError(t, store.SaveScore(ctx, "sess-1", score))

	got, err := store.GetScore(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, score, got)

	_, err = store.GetScore(ctx, "never-scored")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestDeleteRemovesSessionAndIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := activeSession("sess-1", "user-1")
	require.NoError(t, store.Save(ctx, state))
	require.NoError(t, store.Delete(ctx, state))

	_, err := store.Get(ctx, "sess-1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = store.ActiveForUser(ctx, "user-1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}
