package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/helix/internal/types"
)

// SQLiteStore is the SQLite-backed curriculum and user-state database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetStitch returns a single stitch by id.
func (s *SQLiteStore) GetStitch(ctx context.Context, id string) (*types.Stitch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tube, concept, sequence, operand, range_start, range_end,
		       question_count, surprise_weight, premium
		FROM stitches WHERE id = ?
	`, id)

	st, err := scanStitch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stitch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ListStitches returns stitches for a tube ordered by sequence.
// Tube 0 lists all tubes.
func (s *SQLiteStore) ListStitches(ctx context.Context, tube types.TubeID) ([]types.Stitch, error) {
	query := `
		SELECT id, tube, concept, sequence, operand, range_start, range_end,
		       question_count, surprise_weight, premium
		FROM stitches`
	args := []any{}
	if tube != 0 {
		query += " WHERE tube = ?"
		args = append(args, int(tube))
	}
	query += " ORDER BY tube, sequence"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stitches: %w", err)
	}
	defer rows.Close()

	var out []types.Stitch
	for rows.Next() {
		st, err := scanStitch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// GetFacts returns the facts for the given ids. Missing ids are simply
// absent from the result; callers decide whether that is fatal.
func (s *SQLiteStore) GetFacts(ctx context.Context, ids []string) ([]types.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, statement, answer, operation, operand_a, operand_b, difficulty, tags
		FROM facts WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]types.Fact, len(ids))
	for rows.Next() {
		var f types.Fact
		var tagsJSON string
		if err := rows.Scan(&f.ID, &f.Statement, &f.Answer, &f.Operation,
			&f.OperandA, &f.OperandB, &f.Difficulty, &tagsJSON); err != nil {
			return nil, err
		}
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &f.Tags); err != nil {
				return nil, fmt.Errorf("parse tags JSON for fact %s: %w", f.ID, err)
			}
		}
		byID[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve request order for deterministic question sequences.
	out := make([]types.Fact, 0, len(byID))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// DefaultPositions returns the default curriculum ordering for a tube.
func (s *SQLiteStore) DefaultPositions(ctx context.Context, tube types.TubeID) (types.TubePositionMap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, stitch_id FROM default_positions WHERE tube = ? ORDER BY position
	`, int(tube))
	if err != nil {
		return nil, fmt.Errorf("default positions: %w", err)
	}
	defer rows.Close()

	m := make(types.TubePositionMap)
	for rows.Next() {
		var pos int
		var stitchID string
		if err := rows.Scan(&pos, &stitchID); err != nil {
			return nil, err
		}
		m[pos] = stitchID
	}
	return m, rows.Err()
}

// LoadUserState loads and validates a persisted user state.
// Returns ErrNotFound for unknown users and ErrStateCorruption when the
// stored blob fails schema validation.
func (s *SQLiteStore) LoadUserState(ctx context.Context, userID string) (*types.UserState, error) {
	var blob string
	var premium int
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT state, premium, updated_at FROM user_states WHERE user_id = ?
	`, userID).Scan(&blob, &premium, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load user state: %w", err)
	}

	var state types.UserState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("user %s: %w: %v", userID, ErrStateCorruption, err)
	}
	if err := ValidateUserState(&state); err != nil {
		// Any invariant failure in a persisted blob is corruption: the
		// caller recovers by reinitializing, whatever the specific breakage.
		if !errors.Is(err, ErrStateCorruption) {
			err = fmt.Errorf("%w: %w", ErrStateCorruption, err)
		}
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}

	state.UserID = userID
	state.Premium = premium != 0
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		state.UpdatedAt = t
	}
	return &state, nil
}

// SaveUserState persists a user state blob. The state is validated first;
// out-of-range values are rejected and the stored state is left untouched.
func (s *SQLiteStore) SaveUserState(ctx context.Context, state *types.UserState) error {
	if err := ValidateUserState(state); err != nil {
		return err
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal user state: %w", err)
	}

	premium := 0
	if state.Premium {
		premium = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_states (user_id, state, premium, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state = excluded.state,
			premium = excluded.premium,
			updated_at = excluded.updated_at
	`, state.UserID, string(blob), premium, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save user state: %w", err)
	}
	return nil
}

// ListUserIDs returns the ids of users whose state changed since the given
// time. A zero time lists every user.
func (s *SQLiteStore) ListUserIDs(ctx context.Context, updatedSince time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM user_states WHERE updated_at >= ? ORDER BY user_id
	`, updatedSince.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendValidSession appends one record to the valid session log.
func (s *SQLiteStore) AppendValidSession(ctx context.Context, rec types.ValidSessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO valid_sessions (id, user_id, session_id, question_count, completed_at)
		VALUES (?, ?, ?, ?, ?)
	`, ulid.Make().String(), rec.UserID, rec.SessionID, rec.QuestionCount,
		rec.CompletedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append valid session: %w", err)
	}
	return nil
}

// CountValidSessions counts qualifying sessions for a user since the given
// time. Qualification: more than 100 questions in a completed session.
func (s *SQLiteStore) CountValidSessions(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM valid_sessions
		WHERE user_id = ? AND question_count > 100 AND completed_at >= ?
	`, userID, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count valid sessions: %w", err)
	}
	return count, nil
}

// GetStats returns aggregate store counts.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stitches").Scan(&stats.StitchCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facts").Scan(&stats.FactCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM valid_sessions").Scan(&stats.SessionCount); err != nil {
		return nil, err
	}
	return &stats, nil
}

// scanStitch scans a row into a Stitch.
func scanStitch(scanner interface{ Scan(...any) error }) (*types.Stitch, error) {
	var st types.Stitch
	var tube, premium int
	err := scanner.Scan(
		&st.ID,
		&tube,
		&st.Concept,
		&st.Sequence,
		&st.Params.Operand,
		&st.Params.RangeStart,
		&st.Params.RangeEnd,
		&st.Params.QuestionCount,
		&st.SurpriseWeight,
		&premium,
	)
	if err != nil {
		return nil, err
	}
	st.Tube = types.TubeID(tube)
	st.Premium = premium != 0
	return &st, nil
}

// ValidateUserState checks the structural invariants of a persisted state:
// a valid active tube, positive positions unique per tube, skip numbers from
// the fixed sequence, and boundary levels in [1,5]. A failure anywhere is
// reported as state corruption so callers can reinitialize.
func ValidateUserState(state *types.UserState) error {
	if state.Helix.ActiveTube < 1 || state.Helix.ActiveTube > types.TubeCount {
		return fmt.Errorf("%w: active tube %d out of range", ErrStateCorruption, state.Helix.ActiveTube)
	}
	for tube, positions := range state.Tubes {
		if tube < 1 || tube > types.TubeCount {
			return fmt.Errorf("%w: tube %d out of range", ErrStateCorruption, tube)
		}
		seen := make(map[string]int, len(positions))
		for pos, stitchID := range positions {
			if pos < 1 {
				return fmt.Errorf("%w: tube %d position %d", ErrStateCorruption, tube, pos)
			}
			if prev, dup := seen[stitchID]; dup {
				return fmt.Errorf("%w: stitch %s at both %d and %d in tube %d",
					ErrPositionConflict, stitchID, prev, pos, tube)
			}
			seen[stitchID] = pos
		}
	}
	for id, progress := range state.Progress {
		if !validSkip(progress.SkipNumber) {
			return fmt.Errorf("%w: stitch %s skip %d", ErrInvalidSkipNumber, id, progress.SkipNumber)
		}
		if progress.BoundaryLevel < 1 || progress.BoundaryLevel > 5 {
			return fmt.Errorf("%w: stitch %s level %d", ErrInvalidBoundaryLevel, id, progress.BoundaryLevel)
		}
	}
	return nil
}

func validSkip(n int) bool {
	switch n {
	case 4, 8, 15, 30, 100, 1000:
		return true
	}
	return false
}
