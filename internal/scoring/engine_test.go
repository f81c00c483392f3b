package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/hyperengineering/helix/internal/types"
)

// fakeHistory returns a fixed qualifying-session count per window length.
type fakeHistory struct {
	countsByDays map[int]int
	now          time.Time
}

func (f *fakeHistory) CountValidSessions(_ context.Context, _ string, since time.Time) (int, error) {
	days := int(f.now.Sub(since).Hours() / 24)
	return f.countsByDays[days], nil
}

func newTestEngine(t *testing.T, counts map[int]int) *Engine {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(DefaultLadders(), &fakeHistory{countsByDays: counts, now: now})
	e.now = func() time.Time { return now }
	return e
}

func sessionWithResponses(responses []types.Response, questionCount int) *types.SessionState {
	s := &types.SessionState{
		SessionID: "s1",
		UserID:    "u1",
		Questions: make([]types.Question, questionCount),
		Responses: responses,
	}
	return s
}

func TestTallySession(t *testing.T) {
	// Given: 18 first-time-correct, 2 eventually-correct (second attempt)
	var responses []types.Response
	for i := 0; i < 18; i++ {
		responses = append(responses, types.Response{QuestionIndex: i, Correct: true, Attempt: 1})
	}
	for i := 18; i < 20; i++ {
		responses = append(responses, types.Response{QuestionIndex: i, Correct: false, Attempt: 1})
		responses = append(responses, types.Response{QuestionIndex: i, Correct: true, Attempt: 2})
	}
	session := sessionWithResponses(responses, 20)

	tally := TallySession(session, 90*time.Second)

	if tally.FTCCount != 18 {
		t.Errorf("ftc = %d, want 18", tally.FTCCount)
	}
	if tally.ECCount != 2 {
		t.Errorf("ec = %d, want 2", tally.ECCount)
	}
	// Base points: 18×3 + 2×1 = 56
	if tally.BasePoints() != 56 {
		t.Errorf("base points = %d, want 56", tally.BasePoints())
	}
	// 18/20 = 90%
	if tally.FTCPercent() != 90 {
		t.Errorf("ftc%% = %v, want 90", tally.FTCPercent())
	}
	// 90s / 18 ftc = 5000ms blink
	if tally.BlinkMs() != 5000 {
		t.Errorf("blink = %dms, want 5000", tally.BlinkMs())
	}
}

func TestCombineTakesMax(t *testing.T) {
	// Given: consistency=3, excellence=5, speed=1
	multiplier, category := combine(3, 5, 1)

	// Then: MAX wins, never a sum or average
	if multiplier != 5 {
		t.Errorf("multiplier = %v, want 5", multiplier)
	}
	if category != CategoryExcellence {
		t.Errorf("category = %q, want excellence", category)
	}
}

func TestCombineTieKeepsTrackOrder(t *testing.T) {
	multiplier, category := combine(3, 3, 3)
	if multiplier != 3 {
		t.Errorf("multiplier = %v, want 3", multiplier)
	}
	if category != CategoryConsistency {
		t.Errorf("tie should resolve to the first track, got %q", category)
	}
}

func TestCombineNothingUnlocked(t *testing.T) {
	multiplier, category := combine(0, 0, 0)
	if multiplier != 1 {
		t.Errorf("multiplier = %v, want floor 1", multiplier)
	}
	if category != CategoryNone {
		t.Errorf("category = %q, want none", category)
	}
}

func TestComputeSessionScoreExcellenceWins(t *testing.T) {
	// Given: no consistency history and a 90% ftc session at a slow pace
	e := newTestEngine(t, map[int]int{})

	var responses []types.Response
	for i := 0; i < 18; i++ {
		responses = append(responses, types.Response{QuestionIndex: i, Correct: true, Attempt: 1})
	}
	for i := 18; i < 20; i++ {
		responses = append(responses, types.Response{QuestionIndex: i, Correct: true, Attempt: 2})
	}
	session := sessionWithResponses(responses, 20)
	tally := TallySession(session, 200*time.Second) // blink ≈ 11s, no speed tier

	result, err := e.ComputeSessionScore(context.Background(), session, tally)
	if err != nil {
		t.Fatalf("ComputeSessionScore: %v", err)
	}

	// Then: base 56, the >90% excellence tier (×3) wins
	if result.BasePoints != 56 {
		t.Errorf("base = %d, want 56", result.BasePoints)
	}
	if result.WinningCategory != CategoryExcellence {
		t.Errorf("category = %q, want excellence", result.WinningCategory)
	}
	if result.Multiplier != 3 {
		t.Errorf("multiplier = %v, want 3", result.Multiplier)
	}
	if result.TotalPoints != 168 {
		t.Errorf("total = %d, want 56×3 = 168", result.TotalPoints)
	}
}

func TestComputeSessionScorePerfectSession(t *testing.T) {
	e := newTestEngine(t, map[int]int{})

	var responses []types.Response
	for i := 0; i < 20; i++ {
		responses = append(responses, types.Response{QuestionIndex: i, Correct: true, Attempt: 1})
	}
	session := sessionWithResponses(responses, 20)
	// 20 ftc in 24s → blink 1200ms: unlocks both 100% excellence (×5) and
	// the strictest speed tier (×5); tie resolves to excellence.
	tally := TallySession(session, 24*time.Second)

	result, err := e.ComputeSessionScore(context.Background(), session, tally)
	if err != nil {
		t.Fatalf("ComputeSessionScore: %v", err)
	}

	if result.Multiplier != 5 {
		t.Errorf("multiplier = %v, want 5", result.Multiplier)
	}
	if result.WinningCategory != CategoryExcellence {
		t.Errorf("category = %q, want excellence", result.WinningCategory)
	}
}

func TestComputeSessionScoreConsistencyWindow(t *testing.T) {
	// Given: 35 qualifying sessions in the 35-day window (×10 tier)
	e := newTestEngine(t, map[int]int{35: 35})

	var responses []types.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, types.Response{QuestionIndex: i, Correct: false, Attempt: 1})
	}
	session := sessionWithResponses(responses, 10)
	tally := TallySession(session, time.Minute)

	result, err := e.ComputeSessionScore(context.Background(), session, tally)
	if err != nil {
		t.Fatalf("ComputeSessionScore: %v", err)
	}

	if result.WinningCategory != CategoryConsistency {
		t.Errorf("category = %q, want consistency", result.WinningCategory)
	}
	if result.Multiplier != 10 {
		t.Errorf("multiplier = %v, want 10", result.Multiplier)
	}
	// All-wrong session: base 0, total 0 regardless of multiplier
	if result.BasePoints != 0 || result.TotalPoints != 0 {
		t.Errorf("base/total = %d/%d, want 0/0", result.BasePoints, result.TotalPoints)
	}
}

func TestSpeedTrackStrictestTier(t *testing.T) {
	e := newTestEngine(t, map[int]int{})

	var responses []types.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, types.Response{QuestionIndex: i, Correct: true, Attempt: 2})
	}
	// Eventually-correct only: ftc=0, blink undefined → no speed tier
	session := sessionWithResponses(responses, 10)
	tally := TallySession(session, time.Second)

	if got := e.speedMultiplier(tally); got != 0 {
		t.Errorf("speed multiplier with no ftc = %v, want 0", got)
	}

	// 10 ftc in 10s → 1000ms blink → strictest tier ×5
	fast := Tally{FTCCount: 10, TotalQuestions: 10, Duration: 10 * time.Second}
	if got := e.speedMultiplier(fast); got != 5 {
		t.Errorf("speed multiplier = %v, want 5", got)
	}
}

func TestScoreResultExposesNoThresholds(t *testing.T) {
	// The boundary contract: the result carries only the four public fields.
	result := types.ScoreResult{BasePoints: 56, Multiplier: 3, TotalPoints: 168, WinningCategory: "excellence"}
	_ = result
	// Compile-time shape check; threshold data has no path into ScoreResult.
}
