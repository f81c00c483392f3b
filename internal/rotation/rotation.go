// Package rotation implements the triple helix rotation controller: a state
// machine over three tubes where exactly one is PLAYING, one READY, and one
// PREPARING at any time. Rotation advances the pointers and never exposes a
// tube whose content is not fully assembled.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperengineering/helix/internal/types"
)

// TubeState is the rotation role a tube currently carries.
type TubeState string

const (
	// Playing is the tube the learner is answering right now.
	Playing TubeState = "PLAYING"
	// Ready is the next tube; its stitch must be fully assembled before
	// rotation promotes it.
	Ready TubeState = "READY"
	// Preparing is the tube after next; background assembly fills it.
	Preparing TubeState = "PREPARING"
)

// ErrNotReady indicates the incoming tube's content could not be made ready
// within the rotation wait budget.
var ErrNotReady = errors.New("rotation: incoming tube not ready")

// ReadyGate guarantees a tube's live stitch is fully assembled. EnsureReady
// blocks until assembly completes or ctx expires; it must force synchronous
// completion of an outstanding load rather than report partial content.
type ReadyGate interface {
	EnsureReady(ctx context.Context, tube types.TubeID) error
}

// Controller tracks the rotation roles of the three tubes for one user.
// Safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	active types.TubeID
	count  int
}

// NewController restores a controller from persisted helix state.
// An out-of-range active tube falls back to tube 1.
func NewController(state types.TripleHelixState) *Controller {
	active := state.ActiveTube
	if active < 1 || active > types.TubeCount {
		active = types.Tube1
	}
	return &Controller{active: active, count: state.Rotations}
}

// Active returns the PLAYING tube.
func (c *Controller) Active() types.TubeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// ReadyTube returns the tube currently in the READY role.
func (c *Controller) ReadyTube() types.TubeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return nextTube(c.active)
}

// PreparingTube returns the tube currently in the PREPARING role.
func (c *Controller) PreparingTube() types.TubeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return nextTube(nextTube(c.active))
}

// StateOf returns the role of a tube. The mapping is derived from the
// active pointer alone, so the one-PLAYING invariant holds by construction.
func (c *Controller) StateOf(tube types.TubeID) TubeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch tube {
	case c.active:
		return Playing
	case nextTube(c.active):
		return Ready
	default:
		return Preparing
	}
}

// Rotate advances the active tube at a stitch boundary: READY becomes
// PLAYING, PREPARING becomes READY, and the vacated tube becomes the new
// PREPARING target. The gate is consulted first; if the incoming tube's
// assembly cannot complete within ctx, rotation does not happen and the
// previous roles stay in force.
func (c *Controller) Rotate(ctx context.Context, gate ReadyGate) (types.TubeID, error) {
	c.mu.Lock()
	incoming := nextTube(c.active)
	c.mu.Unlock()

	if gate != nil {
		if err := gate.EnsureReady(ctx, incoming); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = incoming
	c.count++
	return c.active, nil
}

// Snapshot returns the persistable helix state.
func (c *Controller) Snapshot() types.TripleHelixState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.TripleHelixState{ActiveTube: c.active, Rotations: c.count}
}

// nextTube follows the fixed 1 → 2 → 3 → 1 cycle.
func nextTube(t types.TubeID) types.TubeID {
	return t%types.TubeCount + 1
}
