package scoring

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Ladders holds the versioned bonus threshold configuration. Loaded once per
// session and treated as immutable for the duration of a scoring
// computation. Ladder contents never cross the presentation boundary.
type Ladders struct {
	Version     int            `yaml:"version"`
	Consistency []WindowLadder `yaml:"consistency"`
	Excellence  []PercentTier  `yaml:"excellence"`
	Speed       []SpeedTier    `yaml:"speed"`
}

// WindowLadder is one rolling-window threshold ladder for the consistency
// track.
type WindowLadder struct {
	Days  int           `yaml:"days"`
	Tiers []SessionTier `yaml:"tiers"`
}

// SessionTier unlocks a multiplier at a qualifying-session count.
type SessionTier struct {
	MinSessions int     `yaml:"min_sessions"`
	Multiplier  float64 `yaml:"multiplier"`
}

// PercentTier unlocks a multiplier at a first-time-correct percentage.
type PercentTier struct {
	MinPercent float64 `yaml:"min_percent"`
	Multiplier float64 `yaml:"multiplier"`
}

// SpeedTier unlocks a multiplier below a maximum blink speed.
type SpeedTier struct {
	MaxBlinkMs int64   `yaml:"max_blink_ms"`
	Multiplier float64 `yaml:"multiplier"`
}

// DefaultLadders returns the built-in ladder set used when no ladder file is
// configured. Production deployments ship their own versioned file.
func DefaultLadders() *Ladders {
	return &Ladders{
		Version: 1,
		Consistency: []WindowLadder{
			{Days: 3, Tiers: []SessionTier{
				{MinSessions: 2, Multiplier: 2},
				{MinSessions: 3, Multiplier: 3},
			}},
			{Days: 12, Tiers: []SessionTier{
				{MinSessions: 8, Multiplier: 4},
				{MinSessions: 12, Multiplier: 5},
			}},
			{Days: 35, Tiers: []SessionTier{
				{MinSessions: 25, Multiplier: 8},
				{MinSessions: 35, Multiplier: 10},
			}},
		},
		Excellence: []PercentTier{
			{MinPercent: 80, Multiplier: 2},
			{MinPercent: 90, Multiplier: 3},
			{MinPercent: 100, Multiplier: 5},
		},
		Speed: []SpeedTier{
			{MaxBlinkMs: 5000, Multiplier: 2},
			{MaxBlinkMs: 3000, Multiplier: 3},
			{MaxBlinkMs: 1500, Multiplier: 5},
		},
	}
}

// LoadLadders reads a ladder file. A missing path falls back to the default
// set; a present but unparsable file is an error.
func LoadLadders(path string) (*Ladders, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultLadders(), nil
		}
		return nil, fmt.Errorf("reading ladder file: %w", err)
	}

	var l Ladders
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing ladder file: %w", err)
	}
	if err := l.validate(); err != nil {
		return nil, err
	}
	l.normalize()
	return &l, nil
}

// validate rejects ladders that could produce non-monotonic multipliers.
func (l *Ladders) validate() error {
	if l.Version < 1 {
		return errors.New("ladder file must declare a version >= 1")
	}
	for _, w := range l.Consistency {
		if w.Days < 1 {
			return fmt.Errorf("consistency window days must be >= 1, got %d", w.Days)
		}
		for _, t := range w.Tiers {
			if t.Multiplier < 1 {
				return fmt.Errorf("consistency multiplier %v below 1", t.Multiplier)
			}
		}
	}
	for _, t := range l.Excellence {
		if t.Multiplier < 1 {
			return fmt.Errorf("excellence multiplier %v below 1", t.Multiplier)
		}
	}
	for _, t := range l.Speed {
		if t.Multiplier < 1 {
			return fmt.Errorf("speed multiplier %v below 1", t.Multiplier)
		}
		if t.MaxBlinkMs <= 0 {
			return fmt.Errorf("speed tier max_blink_ms must be positive, got %d", t.MaxBlinkMs)
		}
	}
	return nil
}

// normalize sorts tiers so evaluation can walk them in threshold order.
func (l *Ladders) normalize() {
	for i := range l.Consistency {
		tiers := l.Consistency[i].Tiers
		sort.Slice(tiers, func(a, b int) bool { return tiers[a].MinSessions < tiers[b].MinSessions })
	}
	sort.Slice(l.Excellence, func(a, b int) bool { return l.Excellence[a].MinPercent < l.Excellence[b].MinPercent })
	// Speed tiers: strictest (lowest max) last, matching "highest threshold met".
	sort.Slice(l.Speed, func(a, b int) bool { return l.Speed[a].MaxBlinkMs > l.Speed[b].MaxBlinkMs })
}
