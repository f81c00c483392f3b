// Package assembly turns scheduled stitches into ready-to-serve question
// sets ahead of need. Background workers drain a strict five-tier priority
// queue; assembled resources land in a per-user cache whose eviction never
// touches the protected window.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/helix/internal/config"
	"github.com/hyperengineering/helix/internal/distractor"
	"github.com/hyperengineering/helix/internal/scheduler"
	"github.com/hyperengineering/helix/internal/store"
	"github.com/hyperengineering/helix/internal/types"
)

var (
	// ErrEntitlementRequired indicates a premium stitch was scheduled for a
	// user without the premium flag. Checked before any prefetch happens.
	ErrEntitlementRequired = errors.New("assembly: premium entitlement required")

	// ErrNoFacts indicates a stitch's recipe resolved to no available facts.
	ErrNoFacts = errors.New("assembly: no facts available for stitch")
)

// CurriculumStore is the read-only curriculum access the pipeline needs.
// Implemented by store.SQLiteStore.
type CurriculumStore interface {
	GetStitch(ctx context.Context, id string) (*types.Stitch, error)
	GetFacts(ctx context.Context, ids []string) ([]types.Fact, error)
}

// Pipeline assembles content for one user. All state is scoped to the user
// and injected; nothing here is process-global.
type Pipeline struct {
	store   CurriculumStore
	cache   *Cache
	queue   *queue
	cfg     config.PipelineConfig
	userID  string
	premium bool

	mu      sync.Mutex
	targets map[types.TubeID]string // live stitch per tube, from last Schedule
	levels  map[string]int          // boundary level per scheduled stitch

	wg sync.WaitGroup
}

// New creates a pipeline for one user. premium gates access to premium
// stitches before any prefetch is issued for them.
func New(curriculum CurriculumStore, cfg config.PipelineConfig, userID string, premium bool) *Pipeline {
	return &Pipeline{
		store:   curriculum,
		cache:   NewCache(cfg.CacheMaxEntries),
		queue:   newQueue(),
		cfg:     cfg,
		userID:  userID,
		premium: premium,
		targets: make(map[types.TubeID]string),
		levels:  make(map[string]int),
	}
}

// Cache exposes the pipeline's cache for the eviction coordinator.
func (p *Pipeline) Cache() *Cache {
	return p.cache
}

// Start launches the background workers. They exit when ctx is cancelled;
// Wait blocks until they have drained.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.run(ctx, worker)
		}(i)
	}
}

// Wait blocks until all workers have stopped.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// run is the worker loop: drain the queue, then sleep until woken.
func (p *Pipeline) run(ctx context.Context, worker int) {
	slog.Info("assembly worker started",
		"component", "assembly",
		"worker", worker,
		"user_id", p.userID,
	)

	for {
		t, ok := p.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				slog.Info("assembly worker stopped",
					"component", "assembly",
					"worker", worker,
					"user_id", p.userID,
					"reason", "context_cancelled",
				)
				return
			case <-p.queue.notify:
				continue
			}
		}

		if ctx.Err() != nil {
			return
		}
		p.runTask(ctx, t)
	}
}

// runTask executes one task with tier-appropriate failure semantics:
// LIVE/READY retry with backoff, lower tiers are best-effort and retried on
// the next prefetch cycle.
func (p *Pipeline) runTask(ctx context.Context, t task) {
	var err error
	if t.tier.blocking() {
		err = p.withBackoff(ctx, func(ctx context.Context) error {
			return p.process(ctx, t)
		})
	} else {
		err = p.process(ctx, t)
	}

	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	if t.tier.blocking() {
		slog.Error("assembly failed after retries",
			"component", "assembly",
			"user_id", p.userID,
			"stitch_id", t.stitchID,
			"tier", t.tier.String(),
			"error", err,
		)
		return
	}

	// Buffer-tier failures degrade silently: logged, picked up again on the
	// next Schedule pass.
	slog.Debug("buffer assembly deferred",
		"component", "assembly",
		"user_id", p.userID,
		"stitch_id", t.stitchID,
		"tier", t.tier.String(),
		"error", err,
	)
}

// withBackoff wraps fn in the retry budget configured for blocking tiers.
func (p *Pipeline) withBackoff(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.NewExponential(time.Duration(p.cfg.RetryBaseDelay))
	backoff = retry.WithMaxRetries(uint64(p.cfg.RetryMaxAttempts), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrEntitlementRequired) || errors.Is(err, store.ErrNotFound) {
				return err // not transient, do not burn the retry budget
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}

// process brings the stitch's resources up to its tier's requirement.
func (p *Pipeline) process(ctx context.Context, t task) error {
	switch t.tier {
	case TierBufferRecipes:
		_, err := p.ensureRecipe(ctx, t.stitchID, t.tier)
		return err
	case TierBufferFacts, TierPreparing:
		_, _, err := p.ensureFacts(ctx, t.stitchID, t.tier)
		return err
	default:
		_, err := p.ensureQuestions(ctx, t.stitchID, t.tier)
		return err
	}
}

// ensureRecipe resolves a stitch's recipe, consulting the cache first.
// The entitlement gate runs here, before any content is fetched.
func (p *Pipeline) ensureRecipe(ctx context.Context, stitchID string, tier Tier) (*types.Recipe, error) {
	if entry, ok := p.cache.Get(KindRecipe, stitchID); ok {
		return entry.Recipe, nil
	}

	stitch, err := p.store.GetStitch(ctx, stitchID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipe for %s: %w", stitchID, err)
	}
	if stitch.Premium && !p.premium {
		return nil, fmt.Errorf("stitch %s: %w", stitchID, ErrEntitlementRequired)
	}

	generate, ok := GeneratorFor(stitch.Concept)
	if !ok {
		return nil, fmt.Errorf("stitch %s concept %q: %w", stitchID, stitch.Concept, store.ErrNotFound)
	}

	recipe := &types.Recipe{
		StitchID:      stitchID,
		FactIDs:       generate(stitch.Params),
		BoundaryLevel: p.levelFor(stitchID),
	}
	p.cache.Put(&CacheEntry{
		Key:    cacheKey(KindRecipe, stitchID),
		Kind:   KindRecipe,
		Recipe: recipe,
		Tier:   tier,
	})
	return recipe, nil
}

// ensureFacts fetches the recipe's facts in chunks. Individual missing facts
// are excluded and logged; a recipe with no resolvable facts is an error.
func (p *Pipeline) ensureFacts(ctx context.Context, stitchID string, tier Tier) (*types.Recipe, []types.Fact, error) {
	recipe, err := p.ensureRecipe(ctx, stitchID, tier)
	if err != nil {
		return nil, nil, err
	}

	if entry, ok := p.cache.Get(KindFactSet, stitchID); ok {
		return recipe, entry.Facts, nil
	}

	var facts []types.Fact
	for start := 0; start < len(recipe.FactIDs); start += p.cfg.FactChunkSize {
		end := start + p.cfg.FactChunkSize
		if end > len(recipe.FactIDs) {
			end = len(recipe.FactIDs)
		}
		chunk, err := p.store.GetFacts(ctx, recipe.FactIDs[start:end])
		if err != nil {
			return nil, nil, fmt.Errorf("fetch facts for %s: %w", stitchID, err)
		}
		facts = append(facts, chunk...)
	}

	if missing := len(recipe.FactIDs) - len(facts); missing > 0 {
		slog.Warn("facts missing from curriculum",
			"component", "assembly",
			"user_id", p.userID,
			"stitch_id", stitchID,
			"missing", missing,
		)
	}
	if len(facts) == 0 {
		return nil, nil, fmt.Errorf("stitch %s: %w", stitchID, ErrNoFacts)
	}

	p.cache.Put(&CacheEntry{
		Key:   cacheKey(KindFactSet, stitchID),
		Kind:  KindFactSet,
		Facts: facts,
		Tier:  tier,
	})
	return recipe, facts, nil
}

// ensureQuestions synthesizes the question set: each fact paired with
// exactly one distractor at the stitch's boundary level.
func (p *Pipeline) ensureQuestions(ctx context.Context, stitchID string, tier Tier) ([]types.Question, error) {
	if entry, ok := p.cache.Get(KindQuestionSet, stitchID); ok {
		return entry.Questions, nil
	}

	recipe, facts, err := p.ensureFacts(ctx, stitchID, tier)
	if err != nil {
		return nil, err
	}

	questions := make([]types.Question, 0, len(facts))
	for _, fact := range facts {
		questions = append(questions, types.Question{
			FactID:        fact.ID,
			Statement:     fact.Statement,
			CorrectAnswer: fact.Answer,
			Distractor:    distractor.For(fact, recipe.BoundaryLevel),
			BoundaryLevel: recipe.BoundaryLevel,
		})
	}

	p.cache.Put(&CacheEntry{
		Key:       cacheKey(KindQuestionSet, stitchID),
		Kind:      KindQuestionSet,
		Questions: questions,
		Tier:      tier,
	})
	return questions, nil
}

// Schedule recomputes the pipeline's task set from the user's current
// position maps: the three tubes' live stitches at tiers 1–3, then the fact
// and recipe buffers. Already-satisfied work is skipped by the cache checks
// inside each task. Also refreshes the cache's protected window.
func (p *Pipeline) Schedule(state *types.UserState, active types.TubeID) {
	window := make(map[string]Tier)

	p.mu.Lock()
	p.targets = make(map[types.TubeID]string, types.TubeCount)
	p.levels = make(map[string]int)

	roles := []struct {
		tube types.TubeID
		tier Tier
	}{
		{active, TierLive},
		{active%types.TubeCount + 1, TierReady},
		{(active+1)%types.TubeCount + 1, TierPreparing},
	}

	for _, role := range roles {
		stitchID := scheduler.NextStitch(state, role.tube)
		p.targets[role.tube] = stitchID
		if stitchID == "" {
			continue
		}
		p.levels[stitchID] = boundaryLevel(state, stitchID)
		for _, kind := range []ResourceKind{KindRecipe, KindFactSet, KindQuestionSet} {
			window[cacheKey(kind, stitchID)] = role.tier
		}
		p.queue.push(task{stitchID: stitchID, tube: role.tube, tier: role.tier})
	}

	// Fact buffer: the next stitches of every tube.
	for _, role := range roles {
		for _, stitchID := range scheduler.UpcomingStitches(state, role.tube, p.cfg.BufferStitches) {
			if _, scheduled := p.levels[stitchID]; scheduled {
				continue
			}
			p.levels[stitchID] = boundaryLevel(state, stitchID)
			window[cacheKey(KindRecipe, stitchID)] = TierBufferFacts
			window[cacheKey(KindFactSet, stitchID)] = TierBufferFacts
			p.queue.push(task{stitchID: stitchID, tube: role.tube, tier: TierBufferFacts})
		}
	}

	// Recipe buffer: further lookahead, split across tubes.
	recipeDepth := p.cfg.RecipeBuffer / types.TubeCount
	for _, role := range roles {
		for _, stitchID := range scheduler.UpcomingStitches(state, role.tube, p.cfg.BufferStitches+recipeDepth) {
			if _, scheduled := p.levels[stitchID]; scheduled {
				continue
			}
			p.levels[stitchID] = boundaryLevel(state, stitchID)
			window[cacheKey(KindRecipe, stitchID)] = TierBufferRecipes
			p.queue.push(task{stitchID: stitchID, tube: role.tube, tier: TierBufferRecipes})
		}
	}
	p.mu.Unlock()

	p.cache.Retier(window)
}

// Promote raises a stitch's queued priority, e.g. PREPARING → READY as
// rotation approaches. Partial results fetched so far stay in the cache.
func (p *Pipeline) Promote(stitchID string, tube types.TubeID, tier Tier) {
	p.queue.promote(stitchID, tube, tier)
}

// EnsureReady implements the rotation gate: it guarantees the tube's live
// stitch has a fully materialized question set before rotation exposes it,
// forcing synchronous completion when the background workers have not
// finished.
func (p *Pipeline) EnsureReady(ctx context.Context, tube types.TubeID) error {
	p.mu.Lock()
	stitchID := p.targets[tube]
	p.mu.Unlock()

	if stitchID == "" {
		return nil // empty tube exposes nothing
	}
	if p.cache.Has(KindQuestionSet, stitchID) {
		return nil
	}

	return p.withBackoff(ctx, func(ctx context.Context) error {
		_, err := p.ensureQuestions(ctx, stitchID, TierLive)
		return err
	})
}

// Questions returns the assembled question set for a stitch, assembling
// synchronously with LIVE semantics when the prefetch has not landed yet.
func (p *Pipeline) Questions(ctx context.Context, stitchID string) ([]types.Question, error) {
	if entry, ok := p.cache.Get(KindQuestionSet, stitchID); ok {
		return entry.Questions, nil
	}
	var questions []types.Question
	err := p.withBackoff(ctx, func(ctx context.Context) error {
		var err error
		questions, err = p.ensureQuestions(ctx, stitchID, TierLive)
		return err
	})
	return questions, err
}

// Abandon drops queued LIVE/READY work for a stitch when its session is
// abandoned. Cached partial results are retained for potential revisit, and
// buffer-tier prefetch for other stitches is untouched.
func (p *Pipeline) Abandon(stitchID string) {
	p.queue.drop(stitchID)
}

// levelFor returns the boundary level recorded for a scheduled stitch.
func (p *Pipeline) levelFor(stitchID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level, ok := p.levels[stitchID]; ok {
		return level
	}
	return 1
}

func boundaryLevel(state *types.UserState, stitchID string) int {
	if progress, ok := state.Progress[stitchID]; ok && progress.BoundaryLevel >= 1 {
		return progress.BoundaryLevel
	}
	return 1
}
