package assembly

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/helix/internal/config"
	"github.com/hyperengineering/helix/internal/store"
	"github.com/hyperengineering/helix/internal/types"
)

// fakeCurriculum is an in-memory CurriculumStore.
type fakeCurriculum struct {
	mu        sync.Mutex
	stitches  map[string]*types.Stitch
	facts     map[string]types.Fact
	factCalls int
}

func newFakeCurriculum() *fakeCurriculum {
	return &fakeCurriculum{
		stitches: make(map[string]*types.Stitch),
		facts:    make(map[string]types.Fact),
	}
}

func (f *fakeCurriculum) addTimesTable(stitchID string, operand, rangeEnd int, premium bool) {
	f.stitches[stitchID] = &types.Stitch{
		ID:      stitchID,
		Tube:    types.Tube1,
		Concept: types.ConceptMultiplication,
		Params:  types.ConceptParams{Operand: operand, RangeStart: 1, RangeEnd: rangeEnd},
		Premium: premium,
	}
	for n := 1; n <= rangeEnd; n++ {
		id := fmt.Sprintf("mult-%d-%d", operand, n)
		f.facts[id] = types.Fact{
			ID:        id,
			Statement: fmt.Sprintf("%d × %d", operand, n),
			Answer:    strconv.Itoa(operand * n),
			Operation: types.ConceptMultiplication,
			OperandA:  operand,
			OperandB:  n,
		}
	}
}

func (f *fakeCurriculum) GetStitch(_ context.Context, id string) (*types.Stitch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stitches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeCurriculum) GetFacts(_ context.Context, ids []string) ([]types.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factCalls++
	out := make([]types.Fact, 0, len(ids))
	for _, id := range ids {
		if fact, ok := f.facts[id]; ok {
			out = append(out, fact)
		}
	}
	return out, nil
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:          2,
		FactChunkSize:    2,
		BufferStitches:   2,
		RecipeBuffer:     6,
		CacheMaxEntries:  100,
		RetryMaxAttempts: 2,
		RetryBaseDelay:   config.Duration(time.Millisecond),
	}
}

func TestQuestionsAssemblesSynchronously(t *testing.T) {
	curriculum := newFakeCurriculum()
	curriculum.addTimesTable("s-m2", 2, 3, false)
	p := New(curriculum, testPipelineConfig(), "user-1", false)

	// When the question set is requested before any prefetch ran.
	questions, err := p.Questions(context.Background(), "s-m2")
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}

	// Then the full set is assembled in place: one distractor per fact, at
	// the default boundary level.
	if len(questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(questions))
	}
	for _, q := range questions {
		if q.BoundaryLevel != 1 {
			t.Errorf("%s: BoundaryLevel = %d, want 1", q.FactID, q.BoundaryLevel)
		}
		if q.Distractor == "" || q.Distractor == q.CorrectAnswer {
			t.Errorf("%s: bad distractor %q for answer %q", q.FactID, q.Distractor, q.CorrectAnswer)
		}
	}
	if questions[0].Statement != "2 × 1" || questions[0].CorrectAnswer != "2" {
		t.Errorf("unexpected first question %+v", questions[0])
	}

	// And all three resource kinds are now cached.
	for _, kind := range []ResourceKind{KindRecipe, KindFactSet, KindQuestionSet} {
		if !p.Cache().Has(kind, "s-m2") {
			t.Errorf("missing cached %s", kind)
		}
	}

	// A second request is served from cache without another fact fetch.
	calls := curriculum.factCalls
	if _, err := p.Questions(context.Background(), "s-m2"); err != nil {
		t.Fatalf("cached Questions: %v", err)
	}
	if curriculum.factCalls != calls {
		t.Error("cached request should not hit the store")
	}
}

func TestQuestionsChunksFactFetches(t *testing.T) {
	curriculum := newFakeCurriculum()
	curriculum.addTimesTable("s-m3", 3, 5, false)
	p := New(curriculum, testPipelineConfig(), "user-1", false) // chunk size 2

	if _, err := p.Questions(context.Background(), "s-m3"); err != nil {
		t.Fatalf("Questions: %v", err)
	}
	// 5 fact ids at chunk size 2 → 3 fetches.
	if curriculum.factCalls != 3 {
		t.Errorf("factCalls = %d, want 3", curriculum.factCalls)
	}
}

func TestPremiumStitchRequiresEntitlement(t *testing.T) {
	curriculum := newFakeCurriculum()
	curriculum.addTimesTable("s-premium", 7, 3, true)

	// Given a user without the premium flag.
	p := New(curriculum, testPipelineConfig(), "user-1", false)
	_, err := p.Questions(context.Background(), "s-premium")
	if !errors.Is(err, ErrEntitlementRequired) {
		t.Fatalf("err = %v, want ErrEntitlementRequired", err)
	}
	if p.Cache().Has(KindRecipe, "s-premium") {
		t.Error("entitlement failure must not cache content")
	}

	// A premium user assembles the same stitch fine.
	p = New(curriculum, testPipelineConfig(), "user-2", true)
	if _, err := p.Questions(context.Background(), "s-premium"); err != nil {
		t.Fatalf("premium user: %v", err)
	}
}

func TestMissingFactsAreExcluded(t *testing.T) {
	curriculum := newFakeCurriculum()
	curriculum.addTimesTable("s-m4", 4, 3, false)
	delete(curriculum.facts, "mult-4-2")

	p := New(curriculum, testPipelineConfig(), "user-1", false)
	questions, err := p.Questions(context.Background(), "s-m4")
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	for _, q := range questions {
		if q.FactID == "mult-4-2" {
			t.Error("missing fact must be excluded, not fabricated")
		}
	}
}

func TestEmptyFactSetIsAnError(t *testing.T) {
	curriculum := newFakeCurriculum()
	curriculum.addTimesTable("s-empty", 9, 3, false)
	curriculum.facts = map[string]types.Fact{}

	p := New(curriculum, testPipelineConfig(), "user-1", false)
	_, err := p.Questions(context.Background(), "s-empty")
	if !errors.Is(err, ErrNoFacts) {
		t.Fatalf("err = %v, want ErrNoFacts", err)
	}
}

func TestUnknownStitchFailsWithoutRetryBudget(t *testing.T) {
	p := New(newFakeCurriculum(), testPipelineConfig(), "user-1", false)
	_, err := p.Questions(context.Background(), "no-such-stitch")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func testState() *types.UserState {
	return &types.UserState{
		UserID: "user-1",
		Tubes: map[types.TubeID]types.TubePositionMap{
			types.Tube1: {1: "t1-a", 2: "t1-b", 3: "t1-c", 4: "t1-d"},
			types.Tube2: {1: "t2-a", 2: "t2-b"},
			types.Tube3: {1: "t3-a"},
		},
		Progress: map[string]types.StitchProgress{
			"t1-a": {StitchID: "t1-a", SkipNumber: 4, BoundaryLevel: 3},
		},
		Helix: types.TripleHelixState{ActiveTube: types.Tube1},
	}
}

func TestScheduleEnqueuesStrictPriorityOrder(t *testing.T) {
	p := New(newFakeCurriculum(), testPipelineConfig(), "user-1", false)
	state := testState()

	p.Schedule(state, types.Tube1)

	// The three tube heads come first in rotation-role order.
	head, _ := p.queue.pop()
	if head.stitchID != "t1-a" || head.tier != TierLive {
		t.Errorf("first task = %q at %s, want t1-a at live", head.stitchID, head.tier)
	}
	next, _ := p.queue.pop()
	if next.stitchID != "t2-a" || next.tier != TierReady {
		t.Errorf("second task = %q at %s, want t2-a at ready", next.stitchID, next.tier)
	}
	prep, _ := p.queue.pop()
	if prep.stitchID != "t3-a" || prep.tier != TierPreparing {
		t.Errorf("third task = %q at %s, want t3-a at preparing", prep.stitchID, prep.tier)
	}

	// Then the fact buffer for upcoming stitches, before any recipe-only work.
	seenRecipeTier := false
	for {
		task, ok := p.queue.pop()
		if !ok {
			break
		}
		switch task.tier {
		case TierBufferFacts:
			if seenRecipeTier {
				t.Errorf("fact-buffer task %q popped after recipe-buffer work", task.stitchID)
			}
		case TierBufferRecipes:
			seenRecipeTier = true
		default:
			t.Errorf("unexpected tier %s for %q after heads", task.tier, task.stitchID)
		}
	}

	// Heads carry their progress boundary level; unseen stitches default to 1.
	if got := p.levelFor("t1-a"); got != 3 {
		t.Errorf("levelFor(t1-a) = %d, want 3", got)
	}
	if got := p.levelFor("t2-a"); got != 1 {
		t.Errorf("levelFor(t2-a) = %d, want 1", got)
	}
}

func TestScheduleSetsRotationTargets(t *testing.T) {
	p := New(newFakeCurriculum(), testPipelineConfig(), "user-1", false)
	p.Schedule(testState(), types.Tube2)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.targets[types.Tube2] != "t2-a" {
		t.Errorf("live target = %q, want t2-a", p.targets[types.Tube2])
	}
	if p.targets[types.Tube3] != "t3-a" {
		t.Errorf("ready target = %q, want t3-a", p.targets[types.Tube3])
	}
	if p.targets[types.Tube1] != "t1-a" {
		t.Errorf("preparing target = %q, want t1-a", p.targets[types.Tube1])
	}
}

func TestEnsureReadyForcesSynchronousAssembly(t *testing.T) {
	curriculum := newFakeCurriculum()
	curriculum.addTimesTable("t1-a", 2, 3, false)
	p := New(curriculum, testPipelineConfig(), "user-1", false)
	p.Schedule(testState(), types.Tube1)

	// No workers running: EnsureReady must assemble in place.
	if err := p.EnsureReady(context.Background(), types.Tube1); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !p.Cache().Has(KindQuestionSet, "t1-a") {
		t.Error("question set should be cached after EnsureReady")
	}

	// Head carries its recorded boundary level into the questions.
	entry, _ := p.Cache().Get(KindQuestionSet, "t1-a")
	if entry.Questions[0].BoundaryLevel != 3 {
		t.Errorf("BoundaryLevel = %d, want 3", entry.Questions[0].BoundaryLevel)
	}
}

func TestEnsureReadyEmptyTubeIsNoop(t *testing.T) {
	p := New(newFakeCurriculum(), testPipelineConfig(), "user-1", false)
	state := testState()
	state.Tubes[types.Tube3] = types.TubePositionMap{}
	p.Schedule(state, types.Tube2)

	// Tube3 is READY but empty; the gate passes without assembling anything.
	if err := p.EnsureReady(context.Background(), types.Tube3); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
}

func TestWorkersDrainScheduledWork(t *testing.T) {
	curriculum := newFakeCurriculum()
	curriculum.addTimesTable("t1-a", 2, 3, false)
	curriculum.addTimesTable("t2-a", 3, 3, false)
	curriculum.addTimesTable("t3-a", 4, 3, false)
	curriculum.addTimesTable("t1-b", 5, 3, false)
	curriculum.addTimesTable("t1-c", 6, 3, false)
	curriculum.addTimesTable("t1-d", 7, 3, false)
	curriculum.addTimesTable("t2-b", 8, 3, false)

	p := New(curriculum, testPipelineConfig(), "user-1", false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Schedule(testState(), types.Tube1)

	// Wait for the blocking tiers to land.
	deadline := time.After(2 * time.Second)
	for !p.Cache().Has(KindQuestionSet, "t1-a") || !p.Cache().Has(KindQuestionSet, "t2-a") {
		select {
		case <-deadline:
			t.Fatal("workers did not assemble LIVE and READY in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	p.Wait()
}

func TestAbandonDropsQueuedWork(t *testing.T) {
	p := New(newFakeCurriculum(), testPipelineConfig(), "user-1", false)
	p.queue.push(task{stitchID: "t1-a", tube: types.Tube1, tier: TierLive})
	p.queue.push(task{stitchID: "t1-b", tube: types.Tube1, tier: TierBufferFacts})

	p.Abandon("t1-a")

	if p.queue.len() != 1 {
		t.Fatalf("queue len = %d, want 1", p.queue.len())
	}
	remaining, _ := p.queue.pop()
	if remaining.stitchID != "t1-b" {
		t.Errorf("remaining task = %q, want t1-b", remaining.stitchID)
	}
}
