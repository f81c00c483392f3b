// Package scheduler implements the spaced-repetition position scheduler.
// Each tube carries a sparse position map; completing the live stitch moves
// it deeper into the tube by its skip number, shifting the intervening
// stitches forward by one.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hyperengineering/helix/internal/config"
	"github.com/hyperengineering/helix/internal/types"
)

// SkipSequence is the fixed ordered spacing sequence. A mastered stitch is
// reinserted at its skip-number position; the sequence caps at 1000.
var SkipSequence = []int{4, 8, 15, 30, 100, 1000}

// MaxBoundaryLevel caps the difficulty tier.
const MaxBoundaryLevel = 5

var (
	// ErrStitchNotLive indicates the completed stitch was not at position 1
	// of any tube, so there is nothing to reschedule.
	ErrStitchNotLive = errors.New("scheduler: stitch not at position 1")
)

// NextSkip returns the next member of the skip sequence after current.
// Once 1000 is reached it stays there; values below the sequence start at 4.
func NextSkip(current int) int {
	for _, s := range SkipSequence {
		if s > current {
			return s
		}
	}
	return SkipSequence[len(SkipSequence)-1]
}

// prevSkip returns the member one step down, or the floor of the sequence.
func prevSkip(current int) int {
	prev := SkipSequence[0]
	for _, s := range SkipSequence {
		if s >= current {
			break
		}
		prev = s
	}
	return prev
}

// Scheduler owns the position and spacing algebra for one user's tubes.
// It mutates the injected UserState; persistence is the caller's concern.
type Scheduler struct {
	regression    config.RegressionPolicy
	advanceStreak int
	now           func() time.Time
}

// New creates a Scheduler with the given tuning parameters.
func New(cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		regression:    cfg.RegressionPolicy,
		advanceStreak: cfg.BoundaryAdvanceStreak,
		now:           time.Now,
	}
}

// CompleteStitch applies a finished stitch's performance to the user state
// and returns the stitch's new logical position in its tube.
//
// On success the skip number advances along the sequence and the stitch is
// reinserted that far down the tube. On failure the skip number regresses
// per the configured policy and the stitch is reinserted near the front.
func (s *Scheduler) CompleteStitch(state *types.UserState, stitchID string, perf types.Performance) (int, error) {
	tube, positions, err := findLiveTube(state, stitchID)
	if err != nil {
		return 0, err
	}

	progress := state.Progress[stitchID]
	if progress.StitchID == "" {
		progress = types.StitchProgress{StitchID: stitchID, SkipNumber: SkipSequence[0], BoundaryLevel: 1}
	}

	if perf.Success() {
		progress.SkipNumber = NextSkip(progress.SkipNumber)
		progress.FTCStreak++
		if progress.FTCStreak >= s.advanceStreak && progress.BoundaryLevel < MaxBoundaryLevel {
			progress.BoundaryLevel++
			progress.FTCStreak = 0
		}
	} else {
		progress.SkipNumber = s.regress(progress.SkipNumber)
		progress.FTCStreak = 0
	}

	completed := s.now()
	progress.LastCompleted = &completed

	shiftAndPlace(positions, stitchID, progress.SkipNumber)
	state.Progress[stitchID] = progress
	state.Tubes[tube] = positions

	return progress.SkipNumber, nil
}

// regress applies the configured failure policy to a skip number.
func (s *Scheduler) regress(current int) int {
	if s.regression == config.RegressionStepDown {
		return prevSkip(current)
	}
	return SkipSequence[0]
}

// NextStitch returns the stitch at position 1 of the given tube, or "" when
// the tube is empty.
func NextStitch(state *types.UserState, tube types.TubeID) string {
	return state.Tubes[tube][1]
}

// UpcomingStitches returns up to n stitch ids from the front of a tube in
// position order, for prefetch lookahead.
func UpcomingStitches(state *types.UserState, tube types.TubeID, n int) []string {
	positions := state.Tubes[tube]
	keys := make([]int, 0, len(positions))
	for p := range positions {
		keys = append(keys, p)
	}
	sort.Ints(keys)

	out := make([]string, 0, n)
	for _, p := range keys {
		if len(out) == n {
			break
		}
		out = append(out, positions[p])
	}
	return out
}

// findLiveTube locates the tube whose position 1 holds the stitch.
func findLiveTube(state *types.UserState, stitchID string) (types.TubeID, types.TubePositionMap, error) {
	for tube, positions := range state.Tubes {
		if positions[1] == stitchID {
			return tube, positions, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: %s", ErrStitchNotLive, stitchID)
}

// shiftAndPlace removes the stitch from position 1, shifts every occupied
// position p in [2, skip] down to p-1, and places the stitch at skip.
//
// The shift is a bijection: iterating ascending moves each occupant into a
// slot vacated by the previous step, so no position is ever doubly occupied
// and position skip ends up holding exactly the moved stitch.
func shiftAndPlace(positions types.TubePositionMap, stitchID string, skip int) {
	delete(positions, 1)
	for p := 2; p <= skip; p++ {
		if id, ok := positions[p]; ok {
			positions[p-1] = id
			delete(positions, p)
		}
	}
	positions[skip] = stitchID
}

// CompressPositions reindexes a tube's occupied positions to the contiguous
// range [1..N], preserving relative order. Idempotent when already
// contiguous. Runs only at session-boundary commit, never mid-play, so
// in-flight prefetch references stay valid during a session.
func CompressPositions(positions types.TubePositionMap) types.TubePositionMap {
	keys := make([]int, 0, len(positions))
	for p := range positions {
		keys = append(keys, p)
	}
	sort.Ints(keys)

	out := make(types.TubePositionMap, len(positions))
	for i, p := range keys {
		out[i+1] = positions[p]
	}
	return out
}

// CompressAll compresses every tube in the state. Called at session end
// before the state is persisted.
func CompressAll(state *types.UserState) {
	for tube, positions := range state.Tubes {
		state.Tubes[tube] = CompressPositions(positions)
	}
}
