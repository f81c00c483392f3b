package types

import (
	"time"
)

// TubeID identifies one of the three parallel content streams.
type TubeID int

const (
	Tube1 TubeID = 1
	Tube2 TubeID = 2
	Tube3 TubeID = 3
)

// TubeCount is the fixed number of tubes in the triple helix model.
const TubeCount = 3

// ConceptType classifies the arithmetic operation a stitch drills.
type ConceptType string

const (
	ConceptAddition       ConceptType = "addition"
	ConceptSubtraction    ConceptType = "subtraction"
	ConceptMultiplication ConceptType = "multiplication"
	ConceptDivision       ConceptType = "division"
	ConceptDoubling       ConceptType = "doubling"
	ConceptHalving        ConceptType = "halving"
)

// Stitch is an atomic parameterized practice unit bound to one concept.
// Immutable once authored.
type Stitch struct {
	ID             string        `json:"id"`
	Tube           TubeID        `json:"tube"`
	Concept        ConceptType   `json:"concept"`
	Sequence       int           `json:"sequence"`
	Params         ConceptParams `json:"params"`
	SurpriseWeight float64       `json:"surprise_weight,omitempty"`
	Premium        bool          `json:"premium,omitempty"`
}

// ConceptParams parameterizes fact-id derivation for a stitch's concept.
type ConceptParams struct {
	Operand       int `json:"operand"` // e.g. the times-table or fixed addend
	RangeStart    int `json:"range_start"`
	RangeEnd      int `json:"range_end"`
	QuestionCount int `json:"question_count"`
}

// Fact is a single externally authored arithmetic fact. Immutable.
type Fact struct {
	ID         string      `json:"id"`
	Statement  string      `json:"statement"`
	Answer     string      `json:"answer"`
	Operation  ConceptType `json:"operation"`
	OperandA   int         `json:"operand_a"`
	OperandB   int         `json:"operand_b"`
	Difficulty int         `json:"difficulty"`
	Tags       []string    `json:"tags,omitempty"`
}

// Recipe describes how a stitch's question set is assembled: the fact ids it
// needs and the boundary level to generate distractors at.
type Recipe struct {
	StitchID      string   `json:"stitch_id"`
	FactIDs       []string `json:"fact_ids"`
	BoundaryLevel int      `json:"boundary_level"`
}

// Question pairs a fact with exactly one distractor. Ephemeral, derived.
type Question struct {
	FactID        string `json:"fact_id"`
	Statement     string `json:"statement"`
	CorrectAnswer string `json:"correct_answer"`
	Distractor    string `json:"distractor"`
	BoundaryLevel int    `json:"boundary_level"`
}

// TubePositionMap is a sparse mapping of logical position to stitch id for
// one tube. Each position holds at most one stitch; gaps are permitted.
type TubePositionMap map[int]string

// StitchProgress is per-user spacing and difficulty state for one stitch.
type StitchProgress struct {
	StitchID      string     `json:"stitch_id"`
	SkipNumber    int        `json:"skip_number"`
	BoundaryLevel int        `json:"boundary_level"`
	FTCStreak     int        `json:"ftc_streak"`
	LastCompleted *time.Time `json:"last_completed,omitempty"`
}

// TripleHelixState records which tube is live for a user.
type TripleHelixState struct {
	ActiveTube TubeID `json:"active_tube"`
	Rotations  int    `json:"rotations"`
}

// UserState is the persisted per-user scheduling state: one position map per
// tube, per-stitch progress, and the helix rotation pointer.
type UserState struct {
	UserID    string                     `json:"user_id"`
	Tubes     map[TubeID]TubePositionMap `json:"tubes"`
	Progress  map[string]StitchProgress  `json:"progress"`
	Helix     TripleHelixState           `json:"helix"`
	Premium   bool                       `json:"premium"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Clone returns a deep copy of the state. Position and progress maps are
// copied so mutations to the clone never reach the original.
func (s *UserState) Clone() *UserState {
	c := *s
	c.Tubes = make(map[TubeID]TubePositionMap, len(s.Tubes))
	for tube, positions := range s.Tubes {
		m := make(TubePositionMap, len(positions))
		for pos, id := range positions {
			m[pos] = id
		}
		c.Tubes[tube] = m
	}
	c.Progress = make(map[string]StitchProgress, len(s.Progress))
	for id, p := range s.Progress {
		c.Progress[id] = p
	}
	return &c
}

// Performance summarizes how a learner did on one completed stitch.
type Performance struct {
	FirstTimeCorrect int `json:"first_time_correct"`
	TotalQuestions   int `json:"total_questions"`
}

// Success reports whether the stitch performance counts as mastered.
// A perfect first-time-correct run advances spacing; anything less regresses.
func (p Performance) Success() bool {
	return p.TotalQuestions > 0 && p.FirstTimeCorrect == p.TotalQuestions
}

// Response is one recorded answer within a session.
type Response struct {
	QuestionIndex  int    `json:"question_index"`
	Answer         string `json:"answer"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Attempt        int    `json:"attempt"`
	Points         int    `json:"points"`
}

// SessionStatus tracks the lifecycle of a practice session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// SessionState is the ephemeral state of one practice session.
type SessionState struct {
	SessionID   string        `json:"session_id"`
	UserID      string        `json:"user_id"`
	StitchID    string        `json:"stitch_id"`
	Questions   []Question    `json:"questions"`
	Responses   []Response    `json:"responses"`
	RepeatQueue []int         `json:"repeat_queue"`
	NextIndex   int           `json:"next_index"`
	Points      int           `json:"points"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
}

// ValidSessionRecord is one append-only row in the valid-session log.
type ValidSessionRecord struct {
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	QuestionCount int       `json:"question_count"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Qualifies reports whether a completed session counts toward consistency
// bonuses: more than 100 questions answered, session completed.
func Qualifies(questionCount int, status SessionStatus) bool {
	return questionCount > 100 && status == SessionCompleted
}

// ScoreResult is what the scoring engine exposes across the presentation
// boundary. Ladder thresholds never appear here.
type ScoreResult struct {
	BasePoints      int     `json:"base_points"`
	Multiplier      float64 `json:"multiplier"`
	TotalPoints     int     `json:"total_points"`
	WinningCategory string  `json:"winning_category"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	StitchCount  int64  `json:"stitch_count"`
	FactCount    int64  `json:"fact_count"`
	SessionCount int64  `json:"session_count"`
}
