// Package engine orchestrates practice sessions: it owns the per-user
// runtimes and drives the scheduler, rotation, assembly pipeline, and
// scoring through the session lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/helix/internal/assembly"
	"github.com/hyperengineering/helix/internal/config"
	"github.com/hyperengineering/helix/internal/rotation"
	"github.com/hyperengineering/helix/internal/scheduler"
	"github.com/hyperengineering/helix/internal/scoring"
	"github.com/hyperengineering/helix/internal/session"
	"github.com/hyperengineering/helix/internal/store"
	"github.com/hyperengineering/helix/internal/types"
)

// Engine manages per-user runtimes with lazy loading. A runtime is built on
// a user's first request of the process lifetime, from the persisted state
// blob or from the default curriculum for new users.
type Engine struct {
	store    store.Store
	sessions *session.Store
	sched    *scheduler.Scheduler
	scorer   *scoring.Engine
	cfg      *config.Config
	now      func() time.Time

	runCtx context.Context // lifetime for pipeline workers, set by Start

	mu       sync.RWMutex
	runtimes map[string]*userRuntime
}

// New wires an engine from its collaborators.
func New(st store.Store, sessions *session.Store, sched *scheduler.Scheduler, scorer *scoring.Engine, cfg *config.Config) *Engine {
	return &Engine{
		store:    st,
		sessions: sessions,
		sched:    sched,
		scorer:   scorer,
		cfg:      cfg,
		now:      time.Now,
		runCtx:   context.Background(),
		runtimes: make(map[string]*userRuntime),
	}
}

// Start binds the engine to its run context. Pipeline workers for runtimes
// loaded after this point stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx = ctx
}

// runtimeFor returns the user's runtime, loading it if necessary.
func (e *Engine) runtimeFor(ctx context.Context, userID string) (*userRuntime, error) {
	e.mu.RLock()
	if rt, ok := e.runtimes[userID]; ok {
		e.mu.RUnlock()
		rt.touch(e.now())
		return rt, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if rt, ok := e.runtimes[userID]; ok {
		rt.touch(e.now())
		return rt, nil
	}

	state, err := e.loadOrInitState(ctx, userID)
	if err != nil {
		return nil, err
	}

	rt := &userRuntime{
		userID:   userID,
		state:    state,
		helix:    rotation.NewController(state.Helix),
		pipeline: assembly.New(e.store, e.cfg.Pipeline, userID, state.Premium),
	}
	rt.pipeline.Start(e.runCtx)
	rt.pipeline.Schedule(state, rt.helix.Active())
	rt.touch(e.now())
	e.runtimes[userID] = rt

	slog.Info("user runtime loaded",
		"component", "engine",
		"action", "runtime_loaded",
		"user_id", userID,
		"active_tube", int(rt.helix.Active()),
	)
	return rt, nil
}

// loadOrInitState fetches the persisted state, initializing from the
// default curriculum for new users. Corrupted state is replaced the same
// way: resetting a drill profile beats serving undefined positions.
func (e *Engine) loadOrInitState(ctx context.Context, userID string) (*types.UserState, error) {
	state, err := e.store.LoadUserState(ctx, userID)
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, store.ErrStateCorruption):
		slog.Error("user state corrupted, reinitializing",
			"component", "engine",
			"user_id", userID,
			"error", err,
		)
	case errors.Is(err, store.ErrNotFound):
		// First session for this user.
	default:
		return nil, fmt.Errorf("load user state %s: %w", userID, err)
	}

	state, err = e.defaultState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveUserState(ctx, state); err != nil {
		return nil, fmt.Errorf("persist initial state %s: %w", userID, err)
	}
	return state, nil
}

// defaultState builds a fresh user state from the curriculum's default
// position maps.
func (e *Engine) defaultState(ctx context.Context, userID string) (*types.UserState, error) {
	tubes := make(map[types.TubeID]types.TubePositionMap, types.TubeCount)
	for tube := types.Tube1; tube <= types.Tube3; tube++ {
		positions, err := e.store.DefaultPositions(ctx, tube)
		if err != nil {
			return nil, fmt.Errorf("default positions for tube %d: %w", tube, err)
		}
		tubes[tube] = positions
	}

	return &types.UserState{
		UserID:    userID,
		Tubes:     tubes,
		Progress:  make(map[string]types.StitchProgress),
		Helix:     types.TripleHelixState{ActiveTube: types.Tube1},
		UpdatedAt: e.now().UTC(),
	}, nil
}

// StartSession begins (or resumes) the user's practice session on the
// active tube's live stitch. The question set is served from the pipeline
// cache, assembling synchronously only when prefetch has not landed.
func (e *Engine) StartSession(ctx context.Context, userID string) (*types.SessionState, error) {
	rt, err := e.runtimeFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	// One active session per user: resume rather than fork.
	if existing, err := e.sessions.ActiveForUser(ctx, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	active := rt.helix.Active()
	stitchID := scheduler.NextStitch(rt.state, active)
	if stitchID == "" {
		return nil, ErrNoActiveStitch
	}

	questions, err := rt.pipeline.Questions(ctx, stitchID)
	if err != nil {
		return nil, fmt.Errorf("assemble session for %s: %w", stitchID, err)
	}

	sess := &types.SessionState{
		SessionID: ulid.Make().String(),
		UserID:    userID,
		StitchID:  stitchID,
		Questions: questions,
		Status:    types.SessionActive,
		StartedAt: e.now().UTC(),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	slog.Info("session started",
		"component", "engine",
		"action", "session_started",
		"user_id", userID,
		"session_id", sess.SessionID,
		"stitch_id", stitchID,
		"questions", len(questions),
	)
	return sess, nil
}

// NextQuestion returns the session's next question and its index. Fresh
// questions cycle in order; wrong answers queue for re-asking at the end of
// each pass.
func (e *Engine) NextQuestion(ctx context.Context, sessionID string) (types.Question, int, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return types.Question{}, 0, err
	}
	if sess.Status != types.SessionActive {
		return types.Question{}, 0, ErrSessionNotActive
	}
	if len(sess.Questions) == 0 {
		return types.Question{}, 0, ErrNoActiveStitch
	}

	question, index := advance(sess)
	if err := e.sessions.Save(ctx, sess); err != nil {
		return types.Question{}, 0, err
	}
	return question, index, nil
}

// advance picks the next question, draining the repeat queue at pass
// boundaries so missed questions come back before a new pass begins.
func advance(sess *types.SessionState) (types.Question, int) {
	n := len(sess.Questions)
	atPassBoundary := sess.NextIndex > 0 && sess.NextIndex%n == 0
	if atPassBoundary && len(sess.RepeatQueue) > 0 {
		index := sess.RepeatQueue[0]
		sess.RepeatQueue = sess.RepeatQueue[1:]
		return sess.Questions[index], index
	}

	index := sess.NextIndex % n
	sess.NextIndex++
	return sess.Questions[index], index
}

// SubmitAnswer judges one answer and records it. First-attempt correct
// earns 3 points, eventually-correct 1; a wrong answer queues the question
// for repetition.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID string, questionIndex int, answer string, responseTimeMs int64) (types.Response, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return types.Response{}, err
	}
	if sess.Status != types.SessionActive {
		return types.Response{}, ErrSessionNotActive
	}
	if questionIndex < 0 || questionIndex >= len(sess.Questions) {
		return types.Response{}, ErrInvalidQuestionIndex
	}

	question := sess.Questions[questionIndex]
	attempt := 1
	for _, r := range sess.Responses {
		if r.QuestionIndex == questionIndex {
			attempt++
		}
	}

	resp := types.Response{
		QuestionIndex:  questionIndex,
		Answer:         answer,
		Correct:        answer == question.CorrectAnswer,
		ResponseTimeMs: responseTimeMs,
		Attempt:        attempt,
	}
	switch {
	case resp.Correct && attempt == 1:
		resp.Points = 3
	case resp.Correct:
		resp.Points = 1
	default:
		if !queued(sess.RepeatQueue, questionIndex) {
			sess.RepeatQueue = append(sess.RepeatQueue, questionIndex)
		}
	}

	sess.Responses = append(sess.Responses, resp)
	sess.Points += resp.Points
	if err := e.sessions.Save(ctx, sess); err != nil {
		return types.Response{}, err
	}
	return resp, nil
}

func queued(queue []int, index int) bool {
	for _, i := range queue {
		if i == index {
			return true
		}
	}
	return false
}

// CompleteSession ends a session: the stitch result feeds the scheduler,
// the helix rotates behind the readiness gate, the new state persists, and
// the final score is computed and recorded.
func (e *Engine) CompleteSession(ctx context.Context, sessionID string) (types.ScoreResult, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return types.ScoreResult{}, err
	}
	if sess.Status != types.SessionActive {
		return types.ScoreResult{}, ErrSessionNotActive
	}

	rt, err := e.runtimeFor(ctx, sess.UserID)
	if err != nil {
		return types.ScoreResult{}, err
	}

	completedAt := e.now().UTC()
	tally := scoring.TallySession(sess, completedAt.Sub(sess.StartedAt))
	perf := types.Performance{
		FirstTimeCorrect: tally.FTCCount,
		TotalQuestions:   tally.TotalQuestions,
	}

	rt.mu.Lock()
	prev := rt.state.Clone()
	newSkip, err := e.sched.CompleteStitch(rt.state, sess.StitchID, perf)
	if err != nil {
		rt.mu.Unlock()
		return types.ScoreResult{}, fmt.Errorf("advance stitch %s: %w", sess.StitchID, err)
	}
	scheduler.CompressAll(rt.state)

	newActive, rotateErr := rt.helix.Rotate(ctx, rt.pipeline)
	rt.state.Helix = rt.helix.Snapshot()
	rt.pipeline.Schedule(rt.state, rt.helix.Active())
	rt.state.UpdatedAt = completedAt
	saveErr := e.store.SaveUserState(ctx, rt.state)
	if saveErr != nil {
		// Roll the runtime back: the session stays ACTIVE, and a retried
		// completion must find the stitch still live rather than already
		// advanced in memory with no persisted counterpart.
		rt.state = prev
		rt.helix = rotation.NewController(prev.Helix)
		rt.pipeline.Schedule(rt.state, rt.helix.Active())
		rt.mu.Unlock()
		return types.ScoreResult{}, fmt.Errorf("persist state for %s: %w", sess.UserID, saveErr)
	}
	rt.mu.Unlock()
	if rotateErr != nil {
		// Progress is committed; the helix rotates on the next completion.
		slog.Warn("rotation deferred",
			"component", "engine",
			"user_id", sess.UserID,
			"error", rotateErr,
		)
	}

	sess.Status = types.SessionCompleted
	if err := e.sessions.Save(ctx, sess); err != nil {
		return types.ScoreResult{}, err
	}

	answered := len(sess.Responses)
	if types.Qualifies(answered, sess.Status) {
		rec := types.ValidSessionRecord{
			UserID:        sess.UserID,
			SessionID:     sess.SessionID,
			QuestionCount: answered,
			CompletedAt:   completedAt,
		}
		if err := e.store.AppendValidSession(ctx, rec); err != nil {
			return types.ScoreResult{}, fmt.Errorf("record valid session: %w", err)
		}
	}

	score, err := e.scorer.ComputeSessionScore(ctx, sess, tally)
	if err != nil {
		return types.ScoreResult{}, err
	}
	if err := e.sessions.SaveScore(ctx, sess.SessionID, score); err != nil {
		return types.ScoreResult{}, err
	}

	slog.Info("session completed",
		"component", "engine",
		"action", "session_completed",
		"user_id", sess.UserID,
		"session_id", sess.SessionID,
		"stitch_id", sess.StitchID,
		"answered", answered,
		"base_points", score.BasePoints,
		"multiplier", score.Multiplier,
		"new_skip", newSkip,
		"active_tube", int(newActive),
	)
	return score, nil
}

// AbandonSession marks a session abandoned. No scheduler or rotation effect;
// queued assembly for the stitch is cancelled, cached partials stay.
func (e *Engine) AbandonSession(ctx context.Context, sessionID string) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != types.SessionActive {
		return ErrSessionNotActive
	}

	if rt, err := e.runtimeFor(ctx, sess.UserID); err == nil {
		rt.pipeline.Abandon(sess.StitchID)
	}

	sess.Status = types.SessionAbandoned
	return e.sessions.Save(ctx, sess)
}

// SessionScore returns the recorded score of a completed session.
func (e *Engine) SessionScore(ctx context.Context, sessionID string) (types.ScoreResult, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return types.ScoreResult{}, err
	}
	if sess.Status != types.SessionCompleted {
		return types.ScoreResult{}, ErrSessionNotComplete
	}
	return e.sessions.GetScore(ctx, sessionID)
}

// EvictCaches trims every loaded runtime's assembly cache to its bound.
// Called by the eviction coordinator.
func (e *Engine) EvictCaches() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	evicted := 0
	for _, rt := range e.runtimes {
		evicted += rt.pipeline.Cache().Evict()
	}
	return evicted
}

// LoadedRuntimes reports how many user runtimes are resident.
func (e *Engine) LoadedRuntimes() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.runtimes)
}

// Health reports storage counts and session-store reachability.
func (e *Engine) Health(ctx context.Context, version string) (*types.HealthResponse, error) {
	stats, err := e.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	status := "ok"
	if err := e.sessions.Ping(ctx); err != nil {
		status = "degraded"
	}
	return &types.HealthResponse{
		Status:       status,
		Version:      version,
		StitchCount:  stats.StitchCount,
		FactCount:    stats.FactCount,
		SessionCount: stats.SessionCount,
	}, nil
}
