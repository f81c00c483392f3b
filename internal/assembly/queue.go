package assembly

import (
	"sync"

	"github.com/hyperengineering/helix/internal/types"
)

// task is one unit of assembly work: bring a stitch's resources up to the
// requirements of its tier.
type task struct {
	stitchID string
	tube     types.TubeID
	tier     Tier
}

// queue is a strict five-tier priority queue. Pop always drains the highest
// tier first, FIFO within a tier, so a lower tier never starts ahead of
// outstanding higher-tier work.
type queue struct {
	mu     sync.Mutex
	tiers  [tierCount][]task
	byID   map[string]int // stitchID → tier index, for promotion and dedupe
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{
		byID:   make(map[string]int),
		notify: make(chan struct{}, 1),
	}
}

// push enqueues a task. A stitch already queued at an equal or higher tier
// is left alone; one queued lower is promoted. Promotion requeues at the new
// tier without discarding partial results — those live in the cache.
func (q *queue) push(t task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := int(t.tier) - 1
	if existing, ok := q.byID[t.stitchID]; ok {
		if existing <= idx {
			return
		}
		q.removeLocked(t.stitchID, existing)
	}

	q.tiers[idx] = append(q.tiers[idx], t)
	q.byID[t.stitchID] = idx
	q.wake()
}

// promote moves a queued stitch to a higher tier. A stitch not in the queue
// is enqueued fresh.
func (q *queue) promote(stitchID string, tube types.TubeID, tier Tier) {
	q.push(task{stitchID: stitchID, tube: tube, tier: tier})
}

// pop removes and returns the most urgent task. ok is false when the queue
// is empty.
func (q *queue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for idx := 0; idx < tierCount; idx++ {
		if len(q.tiers[idx]) == 0 {
			continue
		}
		t := q.tiers[idx][0]
		q.tiers[idx] = q.tiers[idx][1:]
		delete(q.byID, t.stitchID)
		return t, true
	}
	return task{}, false
}

// drop removes any queued task for the stitch. Used when a session is
// abandoned: LIVE/READY work for it may be cancelled, buffer work carries on
// independently.
func (q *queue) drop(stitchID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if idx, ok := q.byID[stitchID]; ok {
		q.removeLocked(stitchID, idx)
	}
}

func (q *queue) removeLocked(stitchID string, idx int) {
	tier := q.tiers[idx]
	for i, t := range tier {
		if t.stitchID == stitchID {
			q.tiers[idx] = append(tier[:i:i], tier[i+1:]...)
			break
		}
	}
	delete(q.byID, stitchID)
}

// len returns the number of queued tasks across all tiers.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for idx := range q.tiers {
		n += len(q.tiers[idx])
	}
	return n
}

// wake signals waiting workers without blocking.
func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
