package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/helix/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "helix.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCurriculum(t *testing.T, s *SQLiteStore) {
	t.Helper()
	stitches := []struct {
		id       string
		tube     int
		concept  string
		sequence int
		operand  int
	}{
		{"t1-mult-2-001", 1, "multiplication", 1, 2},
		{"t1-mult-3-002", 1, "multiplication", 2, 3},
		{"t2-add-5-001", 2, "addition", 1, 5},
		{"t3-doub-001", 3, "doubling", 1, 0},
	}
	for _, st := range stitches {
		_, err := s.db.Exec(`
			INSERT INTO stitches (id, tube, concept, sequence, operand, range_start, range_end, question_count, surprise_weight, premium)
			VALUES (?, ?, ?, ?, ?, 1, 12, 20, 0, 0)
		`, st.id, st.tube, st.concept, st.sequence, st.operand)
		if err != nil {
			t.Fatalf("seed stitch %s: %v", st.id, err)
		}
		_, err = s.db.Exec(`
			INSERT INTO default_positions (tube, position, stitch_id) VALUES (?, ?, ?)
		`, st.tube, st.sequence, st.id)
		if err != nil {
			t.Fatalf("seed position for %s: %v", st.id, err)
		}
	}

	facts := []struct {
		id        string
		statement string
		answer    string
		a, b      int
	}{
		{"mult-2-1", "2 × 1", "2", 2, 1},
		{"mult-2-2", "2 × 2", "4", 2, 2},
		{"mult-2-3", "2 × 3", "6", 2, 3},
	}
	for _, f := range facts {
		_, err := s.db.Exec(`
			INSERT INTO facts (id, statement, answer, operation, operand_a, operand_b, difficulty, tags)
			VALUES (?, ?, ?, 'multiplication', ?, ?, 1, '[]')
		`, f.id, f.statement, f.answer, f.a, f.b)
		if err != nil {
			t.Fatalf("seed fact %s: %v", f.id, err)
		}
	}
}

func TestGetStitch(t *testing.T) {
	s := newTestStore(t)
	seedCurriculum(t, s)
	ctx := context.Background()

	// When: fetching a seeded stitch
	st, err := s.GetStitch(ctx, "t1-mult-2-001")
	if err != nil {
		t.Fatalf("GetStitch: %v", err)
	}

	// Then: fields round-trip
	if st.Tube != types.Tube1 {
		t.Errorf("tube = %d, want 1", st.Tube)
	}
	if st.Concept != types.ConceptMultiplication {
		t.Errorf("concept = %q, want multiplication", st.Concept)
	}
	if st.Params.Operand != 2 {
		t.Errorf("operand = %d, want 2", st.Params.Operand)
	}
}

func TestGetStitchNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetStitch(ctx, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetFactsPreservesRequestOrder(t *testing.T) {
	s := newTestStore(t)
	seedCurriculum(t, s)
	ctx := context.Background()

	// When: requesting ids out of storage order, including a missing one
	facts, err := s.GetFacts(ctx, []string{"mult-2-3", "missing", "mult-2-1"})
	if err != nil {
		t.Fatalf("GetFacts: %v", err)
	}

	// Then: found facts come back in request order, missing excluded
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(facts))
	}
	if facts[0].ID != "mult-2-3" || facts[1].ID != "mult-2-1" {
		t.Errorf("order = [%s, %s], want [mult-2-3, mult-2-1]", facts[0].ID, facts[1].ID)
	}
}

func TestDefaultPositions(t *testing.T) {
	s := newTestStore(t)
	seedCurriculum(t, s)
	ctx := context.Background()

	m, err := s.DefaultPositions(ctx, types.Tube1)
	if err != nil {
		t.Fatalf("DefaultPositions: %v", err)
	}

	if len(m) != 2 {
		t.Fatalf("got %d positions, want 2", len(m))
	}
	if m[1] != "t1-mult-2-001" || m[2] != "t1-mult-3-002" {
		t.Errorf("unexpected map: %v", m)
	}
}

func TestUserStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &types.UserState{
		UserID: "u1",
		Tubes: map[types.TubeID]types.TubePositionMap{
			types.Tube1: {1: "a", 4: "b"},
			types.Tube2: {1: "c"},
			types.Tube3: {1: "d"},
		},
		Progress: map[string]types.StitchProgress{
			"a": {StitchID: "a", SkipNumber: 8, BoundaryLevel: 2},
		},
		Helix:   types.TripleHelixState{ActiveTube: types.Tube2, Rotations: 7},
		Premium: true,
	}

	if err := s.SaveUserState(ctx, state); err != nil {
		t.Fatalf("SaveUserState: %v", err)
	}

	loaded, err := s.LoadUserState(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadUserState: %v", err)
	}

	if loaded.Helix.ActiveTube != types.Tube2 || loaded.Helix.Rotations != 7 {
		t.Errorf("helix = %+v", loaded.Helix)
	}
	if loaded.Tubes[types.Tube1][4] != "b" {
		t.Errorf("tube1 position 4 = %q, want b", loaded.Tubes[types.Tube1][4])
	}
	if !loaded.Premium {
		t.Error("premium flag lost")
	}
	if loaded.Progress["a"].SkipNumber != 8 {
		t.Errorf("skip = %d, want 8", loaded.Progress["a"].SkipNumber)
	}
}

func TestLoadUserStateUnknownUser(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadUserState(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadUserStateCorruptBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a blob that is not valid JSON
	_, err := s.db.Exec(`
		INSERT INTO user_states (user_id, state, premium, updated_at)
		VALUES ('u1', '{not json', 0, ?)
	`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("seed corrupt state: %v", err)
	}

	_, err = s.LoadUserState(ctx, "u1")
	if !errors.Is(err, ErrStateCorruption) {
		t.Errorf("err = %v, want ErrStateCorruption", err)
	}
}

func TestLoadUserStateInvariantFailureIsCorruption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: well-formed JSON whose values break the state invariants
	blobs := map[string]string{
		"skip-7":     `{"tubes":{"1":{"1":"a"}},"progress":{"a":{"stitch_id":"a","skip_number":7,"boundary_level":1}},"helix":{"active_tube":1}}`,
		"level-9":    `{"tubes":{"1":{"1":"a"}},"progress":{"a":{"stitch_id":"a","skip_number":4,"boundary_level":9}},"helix":{"active_tube":1}}`,
		"dup-stitch": `{"tubes":{"1":{"1":"a","5":"a"}},"helix":{"active_tube":1}}`,
	}

	i := 0
	for name, blob := range blobs {
		userID := fmt.Sprintf("u%d", i)
		i++
		_, err := s.db.Exec(`
			INSERT INTO user_states (user_id, state, premium, updated_at)
			VALUES (?, ?, 0, ?)
		`, userID, blob, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}

		// Then: the load classifies the failure as corruption so callers
		// recover by reinitializing.
		_, err = s.LoadUserState(ctx, userID)
		if !errors.Is(err, ErrStateCorruption) {
			t.Errorf("%s: err = %v, want ErrStateCorruption", name, err)
		}
	}
}

func TestSaveUserStateRejectsInvalidSkip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &types.UserState{
		UserID: "u1",
		Tubes:  map[types.TubeID]types.TubePositionMap{types.Tube1: {1: "a"}},
		Progress: map[string]types.StitchProgress{
			"a": {StitchID: "a", SkipNumber: 7, BoundaryLevel: 1}, // 7 not in sequence
		},
		Helix: types.TripleHelixState{ActiveTube: types.Tube1},
	}

	err := s.SaveUserState(ctx, state)
	if !errors.Is(err, ErrInvalidSkipNumber) {
		t.Errorf("err = %v, want ErrInvalidSkipNumber", err)
	}

	// And: nothing was written
	if _, err := s.LoadUserState(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("prior state should be retained (absent), got %v", err)
	}
}

func TestValidateUserStateDetectsPositionConflict(t *testing.T) {
	state := &types.UserState{
		UserID: "u1",
		Tubes: map[types.TubeID]types.TubePositionMap{
			types.Tube1: {1: "a", 5: "a"}, // same stitch twice
		},
		Helix: types.TripleHelixState{ActiveTube: types.Tube1},
	}

	err := ValidateUserState(state)
	if !errors.Is(err, ErrPositionConflict) {
		t.Errorf("err = %v, want ErrPositionConflict", err)
	}
}

func TestValidSessionLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []types.ValidSessionRecord{
		{UserID: "u1", SessionID: "s1", QuestionCount: 150, CompletedAt: now.Add(-24 * time.Hour)},
		{UserID: "u1", SessionID: "s2", QuestionCount: 80, CompletedAt: now.Add(-24 * time.Hour)},
		{UserID: "u1", SessionID: "s3", QuestionCount: 120, CompletedAt: now.Add(-20 * 24 * time.Hour)},
		{UserID: "u2", SessionID: "s4", QuestionCount: 200, CompletedAt: now},
	}
	for _, rec := range records {
		if err := s.AppendValidSession(ctx, rec); err != nil {
			t.Fatalf("append %s: %v", rec.SessionID, err)
		}
	}

	// 3-day window: only s1 qualifies for u1 (s2 is under the count floor)
	count, err := s.CountValidSessions(ctx, "u1", now.Add(-3*24*time.Hour))
	if err != nil {
		t.Fatalf("CountValidSessions: %v", err)
	}
	if count != 1 {
		t.Errorf("3-day count = %d, want 1", count)
	}

	// 35-day window picks up s3 as well
	count, err = s.CountValidSessions(ctx, "u1", now.Add(-35*24*time.Hour))
	if err != nil {
		t.Fatalf("CountValidSessions: %v", err)
	}
	if count != 2 {
		t.Errorf("35-day count = %d, want 2", count)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	seedCurriculum(t, s)

	stats, err := s.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.StitchCount != 4 {
		t.Errorf("stitch count = %d, want 4", stats.StitchCount)
	}
	if stats.FactCount != 3 {
		t.Errorf("fact count = %d, want 3", stats.FactCount)
	}
}
