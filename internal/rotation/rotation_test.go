package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/helix/internal/types"
)

// fakeGate is a ReadyGate whose behavior is scripted per test.
type fakeGate struct {
	mu     sync.Mutex
	calls  []types.TubeID
	delay  time.Duration
	err    error
}

func (g *fakeGate) EnsureReady(ctx context.Context, tube types.TubeID) error {
	g.mu.Lock()
	g.calls = append(g.calls, tube)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.err
}

func TestRolesPartitionTubes(t *testing.T) {
	c := NewController(types.TripleHelixState{ActiveTube: types.Tube2})

	// Then: exactly one tube holds each role
	counts := map[TubeState]int{}
	for _, tube := range []types.TubeID{types.Tube1, types.Tube2, types.Tube3} {
		counts[c.StateOf(tube)]++
	}
	for _, role := range []TubeState{Playing, Ready, Preparing} {
		if counts[role] != 1 {
			t.Errorf("%s held by %d tubes, want exactly 1", role, counts[role])
		}
	}
	if c.StateOf(types.Tube2) != Playing {
		t.Errorf("tube 2 = %s, want PLAYING", c.StateOf(types.Tube2))
	}
	if c.StateOf(types.Tube3) != Ready {
		t.Errorf("tube 3 = %s, want READY", c.StateOf(types.Tube3))
	}
}

func TestRotateCycles(t *testing.T) {
	c := NewController(types.TripleHelixState{ActiveTube: types.Tube1})
	gate := &fakeGate{}
	ctx := context.Background()

	// When: rotating three times
	want := []types.TubeID{types.Tube2, types.Tube3, types.Tube1}
	for i, w := range want {
		got, err := c.Rotate(ctx, gate)
		if err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
		if got != w {
			t.Errorf("rotation %d active = %d, want %d", i, got, w)
		}
	}

	// Then: the rotation counter advanced and the gate saw each incoming tube
	if snap := c.Snapshot(); snap.Rotations != 3 {
		t.Errorf("rotations = %d, want 3", snap.Rotations)
	}
	if len(gate.calls) != 3 {
		t.Fatalf("gate called %d times, want 3", len(gate.calls))
	}
	for i, w := range want {
		if gate.calls[i] != w {
			t.Errorf("gate call %d = %d, want %d", i, gate.calls[i], w)
		}
	}
}

func TestRotateBlocksUntilReady(t *testing.T) {
	c := NewController(types.TripleHelixState{ActiveTube: types.Tube1})
	gate := &fakeGate{delay: 50 * time.Millisecond}

	start := time.Now()
	if _, err := c.Rotate(context.Background(), gate); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// Then: rotation waited for the gate rather than flipping early
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("rotation returned after %v, want >= 50ms", elapsed)
	}
}

func TestRotateFailureKeepsRoles(t *testing.T) {
	c := NewController(types.TripleHelixState{ActiveTube: types.Tube1})
	gate := &fakeGate{err: errors.New("assembly incomplete")}

	_, err := c.Rotate(context.Background(), gate)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}

	// Then: the active tube did not change and no rotation was counted
	if c.Active() != types.Tube1 {
		t.Errorf("active = %d, want unchanged 1", c.Active())
	}
	if snap := c.Snapshot(); snap.Rotations != 0 {
		t.Errorf("rotations = %d, want 0", snap.Rotations)
	}
}

func TestRotateHonorsContext(t *testing.T) {
	c := NewController(types.TripleHelixState{ActiveTube: types.Tube1})
	gate := &fakeGate{delay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Rotate(ctx, gate)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady wrapping context deadline", err)
	}
	if c.Active() != types.Tube1 {
		t.Errorf("active = %d, want unchanged after timeout", c.Active())
	}
}

func TestNewControllerRecoversBadTube(t *testing.T) {
	c := NewController(types.TripleHelixState{ActiveTube: 9})
	if c.Active() != types.Tube1 {
		t.Errorf("active = %d, want fallback to 1", c.Active())
	}
}
