package engine

import (
	"sync"
	"time"

	"github.com/hyperengineering/helix/internal/assembly"
	"github.com/hyperengineering/helix/internal/rotation"
	"github.com/hyperengineering/helix/internal/types"
)

// userRuntime is one user's in-memory practice state: position maps,
// rotation roles, and the assembly pipeline feeding their sessions. Loaded
// lazily on first use and kept until the process exits; the durable copy
// lives in the store and is written at session boundaries.
type userRuntime struct {
	userID string

	mu       sync.Mutex
	state    *types.UserState
	helix    *rotation.Controller
	pipeline *assembly.Pipeline

	accessMu     sync.Mutex
	lastAccessed time.Time
}

// touch records an access for idle reporting.
func (rt *userRuntime) touch(now time.Time) {
	rt.accessMu.Lock()
	rt.lastAccessed = now
	rt.accessMu.Unlock()
}

// idleSince returns the time of the runtime's last access.
func (rt *userRuntime) idleSince() time.Time {
	rt.accessMu.Lock()
	defer rt.accessMu.Unlock()
	return rt.lastAccessed
}
