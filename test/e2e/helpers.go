// Package e2e exercises the full service stack over HTTP: real SQLite
// curriculum store, redis-backed sessions, the practice engine, the chi
// router, and the public client package.
package e2e

import (
	"database/sql"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hyperengineering/helix/internal/api"
	"github.com/hyperengineering/helix/internal/config"
	"github.com/hyperengineering/helix/internal/engine"
	"github.com/hyperengineering/helix/internal/scheduler"
	"github.com/hyperengineering/helix/internal/scoring"
	"github.com/hyperengineering/helix/internal/session"
	"github.com/hyperengineering/helix/internal/snapshot"
	"github.com/hyperengineering/helix/internal/store"
	"github.com/hyperengineering/helix/pkg/helixclient"
	"github.com/redis/go-redis/v9"
)

const testAPIKey = "e2e-test-key"

// seededStitch is one curriculum row plus the facts its recipe derives.
type seededStitch struct {
	id       string
	tube     int
	sequence int
	operand  int
}

var curriculum = []seededStitch{
	{"t1-mult-2-001", 1, 1, 2},
	{"t1-mult-3-002", 1, 2, 3},
	{"t2-mult-4-001", 2, 1, 4},
	{"t3-mult-5-001", 3, 1, 5},
}

// newCurriculumStore creates a migrated SQLite store seeded with a small
// multiplication curriculum. Each stitch covers the range 1..3, so every
// session serves three questions.
func newCurriculumStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "helix.db")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	for _, st := range curriculum {
		_, err := db.Exec(`
			INSERT INTO stitches (id, tube, concept, sequence, operand, range_start, range_end, question_count, surprise_weight, premium)
			VALUES (?, ?, 'multiplication', ?, ?, 1, 3, 20, 0, 0)
		`, st.id, st.tube, st.sequence, st.operand)
		if err != nil {
			t.Fatalf("seed stitch %s: %v", st.id, err)
		}
		_, err = db.Exec(`
			INSERT INTO default_positions (tube, position, stitch_id) VALUES (?, ?, ?)
		`, st.tube, st.sequence, st.id)
		if err != nil {
			t.Fatalf("seed position for %s: %v", st.id, err)
		}

		for n := 1; n <= 3; n++ {
			_, err := db.Exec(`
				INSERT INTO facts (id, statement, answer, operation, operand_a, operand_b, difficulty, tags)
				VALUES (?, ?, ?, 'multiplication', ?, ?, 1, '[]')
			`, fmt.Sprintf("mult-%d-%d", st.operand, n),
				fmt.Sprintf("%d × %d", st.operand, n),
				fmt.Sprintf("%d", st.operand*n),
				st.operand, n)
			if err != nil {
				t.Fatalf("seed fact mult-%d-%d: %v", st.operand, n, err)
			}
		}
	}

	return s
}

// startService boots the full stack and returns a client pointed at it,
// plus the server's base URL for tests that need their own client.
func startService(t *testing.T) (*helixclient.Client, string) {
	t.Helper()

	db := newCurriculumStore(t)

	mr := miniredis.RunT(t)
	sessions := session.NewStoreWithClient(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}), 12*time.Hour)
	t.Cleanup(func() { _ = sessions.Close() })

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{
			RegressionPolicy:      config.RegressionReset,
			BoundaryAdvanceStreak: 3,
		},
		Pipeline: config.PipelineConfig{
			Workers:          1,
			FactChunkSize:    50,
			BufferStitches:   2,
			RecipeBuffer:     6,
			CacheMaxEntries:  100,
			RetryMaxAttempts: 1,
			RetryBaseDelay:   config.Duration(time.Millisecond),
		},
	}

	scorer := scoring.NewEngine(scoring.DefaultLadders(), db)
	eng := engine.New(db, sessions, scheduler.New(cfg.Scheduler), scorer, cfg)

	h := api.NewHandler(eng, &snapshot.NoopUploader{}, testAPIKey, "e2e")
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)

	c, err := helixclient.New(helixclient.Config{BaseURL: srv.URL, APIKey: testAPIKey})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv.URL
}
