// Package scoring computes session scores: base points from answer outcomes
// and a bonus multiplier from three independent metric tracks combined by
// MAX. Thresholds live in versioned ladder configuration and never leave
// this package; callers see only the winning category and the multiplier.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/helix/internal/types"
)

// Point values for answer outcomes.
const (
	ftcPoints = 3
	ecPoints  = 1
)

// Bonus category names exposed across the boundary.
const (
	CategoryNone        = "none"
	CategoryConsistency = "consistency"
	CategoryExcellence  = "excellence"
	CategorySpeed       = "speed"
)

// History answers rolling-window queries over the valid session log.
// Implemented by store.SQLiteStore.
type History interface {
	CountValidSessions(ctx context.Context, userID string, since time.Time) (int, error)
}

// Engine computes scores against one immutable ladder set.
type Engine struct {
	ladders *Ladders
	history History
	now     func() time.Time
}

// NewEngine creates a scoring engine. The ladder set is treated as immutable
// for the engine's lifetime; swap ladders by building a new engine.
func NewEngine(ladders *Ladders, history History) *Engine {
	return &Engine{ladders: ladders, history: history, now: time.Now}
}

// Tally summarizes a session's answer outcomes for scoring.
type Tally struct {
	FTCCount       int
	ECCount        int
	TotalQuestions int
	Duration       time.Duration
}

// TallySession derives the scoring tally from a session's response log.
// First-time-correct means correct on attempt one; eventually-correct means
// correct on a later attempt. Incorrect answers contribute nothing.
func TallySession(session *types.SessionState, duration time.Duration) Tally {
	tally := Tally{TotalQuestions: len(session.Questions), Duration: duration}
	for _, r := range session.Responses {
		if !r.Correct {
			continue
		}
		if r.Attempt == 1 {
			tally.FTCCount++
		} else {
			tally.ECCount++
		}
	}
	return tally
}

// BasePoints is ftc×3 + ec×1.
func (t Tally) BasePoints() int {
	return t.FTCCount*ftcPoints + t.ECCount*ecPoints
}

// FTCPercent is the session's first-time-correct percentage.
func (t Tally) FTCPercent() float64 {
	if t.TotalQuestions == 0 {
		return 0
	}
	return float64(t.FTCCount) / float64(t.TotalQuestions) * 100
}

// BlinkMs is the mean response time per first-time-correct answer in
// milliseconds. Zero ftc yields zero, which unlocks no speed tier.
func (t Tally) BlinkMs() int64 {
	if t.FTCCount == 0 {
		return 0
	}
	return t.Duration.Milliseconds() / int64(t.FTCCount)
}

// ComputeSessionScore scores a completed session. The three tracks are
// evaluated independently and combined by MAX, never summed or averaged.
func (e *Engine) ComputeSessionScore(ctx context.Context, session *types.SessionState, tally Tally) (types.ScoreResult, error) {
	consistency, err := e.consistencyMultiplier(ctx, session.UserID)
	if err != nil {
		return types.ScoreResult{}, fmt.Errorf("consistency track: %w", err)
	}
	excellence := e.excellenceMultiplier(tally)
	speed := e.speedMultiplier(tally)

	multiplier, category := combine(consistency, excellence, speed)

	base := tally.BasePoints()
	return types.ScoreResult{
		BasePoints:      base,
		Multiplier:      multiplier,
		TotalPoints:     int(float64(base) * multiplier),
		WinningCategory: category,
	}, nil
}

// combine takes the MAX of the three tracks. Ties resolve in track order
// (consistency, excellence, speed) so the result is deterministic. A session
// unlocking nothing scores at ×1 with no winning category.
func combine(consistency, excellence, speed float64) (float64, string) {
	multiplier := 1.0
	category := CategoryNone

	for _, track := range []struct {
		value float64
		name  string
	}{
		{consistency, CategoryConsistency},
		{excellence, CategoryExcellence},
		{speed, CategorySpeed},
	} {
		if track.value > multiplier {
			multiplier = track.value
			category = track.name
		}
	}
	return multiplier, category
}

// consistencyMultiplier takes the highest tier unlocked across all rolling
// windows, each window queried against the valid session log.
func (e *Engine) consistencyMultiplier(ctx context.Context, userID string) (float64, error) {
	best := 0.0
	now := e.now()
	for _, window := range e.ladders.Consistency {
		since := now.Add(-time.Duration(window.Days) * 24 * time.Hour)
		count, err := e.history.CountValidSessions(ctx, userID, since)
		if err != nil {
			return 0, err
		}
		for _, tier := range window.Tiers {
			if count >= tier.MinSessions && tier.Multiplier > best {
				best = tier.Multiplier
			}
		}
	}
	return best, nil
}

// excellenceMultiplier takes the highest percentage threshold met.
func (e *Engine) excellenceMultiplier(tally Tally) float64 {
	if tally.TotalQuestions == 0 {
		return 0
	}
	percent := tally.FTCPercent()
	best := 0.0
	for _, tier := range e.ladders.Excellence {
		if percent >= tier.MinPercent && tier.Multiplier > best {
			best = tier.Multiplier
		}
	}
	return best
}

// speedMultiplier takes the strictest maximum-time threshold met. Lower
// blink speed is better.
func (e *Engine) speedMultiplier(tally Tally) float64 {
	blink := tally.BlinkMs()
	if blink <= 0 {
		return 0
	}
	best := 0.0
	for _, tier := range e.ladders.Speed {
		if blink <= tier.MaxBlinkMs && tier.Multiplier > best {
			best = tier.Multiplier
		}
	}
	return best
}
