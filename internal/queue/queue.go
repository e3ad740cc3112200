// Package queue provides the bounded packet queues connecting the
// packet source to the decoders. Producers never block: on overflow the
// oldest packets are discarded down to half capacity and the queue
// enters drop mode, which consumers use to skip non-key packets until
// pressure clears.
package queue

import (
	"sync"
	"time"

	"github.com/smazurov/rtsppull/internal/media"
)

// DefaultCap is the packet bound applied to both stream queues.
const DefaultCap = 100

// PacketQueue is a mutex-and-condition bounded FIFO of compressed
// packets. Single writer, single reader.
type PacketQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*media.Packet
	cap    int
	closed bool

	dropMode bool

	// OnOverflow is called (outside hot paths, still under the lock)
	// with the number of packets discarded by one overflow event.
	OnOverflow func(discarded int)
	// OnDropMode is called on each transition into or out of drop mode.
	OnDropMode func(entered bool)
}

// New creates a queue bounded at cap packets. Non-positive caps fall
// back to DefaultCap.
func New(capacity int) *PacketQueue {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	q := &PacketQueue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a packet. It never blocks: when the queue is full the
// oldest non-sentinel packets are dropped down to cap/2 and drop mode
// is set. End-of-stream sentinels are always retained.
func (q *PacketQueue) Push(p *media.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	if len(q.items) >= q.cap {
		discarded := q.shedLocked(q.cap / 2)
		if discarded > 0 {
			if q.OnOverflow != nil {
				q.OnOverflow(discarded)
			}
			if !q.dropMode {
				q.dropMode = true
				if q.OnDropMode != nil {
					q.OnDropMode(true)
				}
			}
		}
	}

	q.items = append(q.items, p)
	q.cond.Signal()
}

// shedLocked discards oldest packets until depth target, keeping EOS
// sentinels. Returns the number discarded.
func (q *PacketQueue) shedLocked(target int) int {
	discarded := 0
	kept := q.items[:0]
	for i, p := range q.items {
		if len(q.items)-i+len(kept) <= target || p.IsEOS() {
			kept = append(kept, p)
			continue
		}
		discarded++
	}
	q.items = kept
	return discarded
}

// Pop removes the head packet, waiting up to timeout for one to
// arrive. It returns ok=false on timeout or when the queue is closed
// and empty. Drop mode clears once depth falls below cap/4.
func (q *PacketQueue) Pop(timeout time.Duration) (*media.Packet, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		q.waitLocked(remaining)
	}

	p := q.items[0]
	q.items = q.items[1:]

	if q.dropMode && len(q.items) < q.cap/4 {
		q.dropMode = false
		if q.OnDropMode != nil {
			q.OnDropMode(false)
		}
	}
	return p, true
}

// waitLocked blocks on the condition for at most d. The timer wakes the
// condition so Pop can re-check its deadline.
func (q *PacketQueue) waitLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	q.cond.Wait()
	timer.Stop()
}

// Len returns the current depth.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DropMode reports whether the queue is shedding load.
func (q *PacketQueue) DropMode() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropMode
}

// Close wakes all waiters; subsequent pushes are discarded and pops
// drain the remaining items then fail.
func (q *PacketQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Clear discards all queued packets and resets drop mode. The queue
// stays usable.
func (q *PacketQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.dropMode = false
	q.closed = false
}
