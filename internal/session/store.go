// Package session persists live session state in Redis. Sessions are
// short-lived and mutable at question cadence, which is why they live in
// Redis with a TTL rather than in the durable SQLite store; an expired key
// is an abandoned session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyperengineering/helix/internal/config"
	"github.com/hyperengineering/helix/internal/types"
)

// ErrSessionNotFound indicates the session id is unknown or its key expired.
var ErrSessionNotFound = errors.New("session: not found")

// Store reads and writes session state. All keys are namespaced under
// helix:session: so the database can be shared.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore connects to Redis with the given settings. The connection is not
// verified here; call Ping for a health check.
func NewStore(cfg config.RedisConfig) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: time.Duration(cfg.SessionTTL),
	}
}

// NewStoreWithClient wraps an existing client, used by tests with miniredis.
func NewStoreWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func sessionKey(sessionID string) string {
	return "helix:session:" + sessionID
}

func userIndexKey(userID string) string {
	return "helix:user-session:" + userID
}

// Save writes the session state and refreshes its TTL. The per-user index
// key lets ActiveForUser find the session without scanning.
func (s *Store) Save(ctx context.Context, state *types.SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", state.SessionID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(state.SessionID), payload, s.ttl)
	if state.Status == types.SessionActive {
		pipe.Set(ctx, userIndexKey(state.UserID), state.SessionID, s.ttl)
	} else {
		pipe.Del(ctx, userIndexKey(state.UserID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write session %s: %w", state.SessionID, err)
	}
	return nil
}

// Get fetches a session by id.
func (s *Store) Get(ctx context.Context, sessionID string) (*types.SessionState, error) {
	payload, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var state types.SessionState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &state, nil
}

// ActiveForUser returns the user's active session, if any.
func (s *Store) ActiveForUser(ctx context.Context, userID string) (*types.SessionState, error) {
	sessionID, err := s.rdb.Get(ctx, userIndexKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read user session index %s: %w", userID, err)
	}
	return s.Get(ctx, sessionID)
}

func scoreKey(sessionID string) string {
	return "helix:score:" + sessionID
}

// SaveScore records the final score of a completed session. Scores share
// the session TTL so a score never outlives its session record.
func (s *Store) SaveScore(ctx context.Context, sessionID string, score types.ScoreResult) error {
	payload, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("marshal score %s: %w", sessionID, err)
	}
	if err := s.rdb.Set(ctx, scoreKey(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("write score %s: %w", sessionID, err)
	}
	return nil
}

// GetScore fetches the recorded score of a completed session.
func (s *Store) GetScore(ctx context.Context, sessionID string) (types.ScoreResult, error) {
	payload, err := s.rdb.Get(ctx, scoreKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.ScoreResult{}, ErrSessionNotFound
	}
	if err != nil {
		return types.ScoreResult{}, fmt.Errorf("read score %s: %w", sessionID, err)
	}

	var score types.ScoreResult
	if err := json.Unmarshal(payload, &score); err != nil {
		return types.ScoreResult{}, fmt.Errorf("decode score %s: %w", sessionID, err)
	}
	return score, nil
}

// Delete removes a session and its user index entry.
func (s *Store) Delete(ctx context.Context, state *types.SessionState) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(state.SessionID))
	pipe.Del(ctx, userIndexKey(state.UserID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", state.SessionID, err)
	}
	return nil
}
