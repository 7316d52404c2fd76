package reactor

import (
	"container/heap"
	"time"
)

// timeoutEntry is one scheduled deadline, carrying an opaque token handed
// back to the caller on expiry.
type timeoutEntry struct {
	deadline time.Time
	token    any
	seq      uint64 // insertion order, for stable tie-breaking
	index    int    // heap index, maintained by container/heap
}

// timeoutHeap implements container/heap.Interface, ordering by deadline
// and breaking ties by insertion order — earliest deadline first, equal
// deadlines in the order they were registered.
type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int { return len(h) }

func (h timeoutHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timeoutHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timeoutHeap) Push(x any) {
	e := x.(*timeoutEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimeoutManager is a monotonic priority queue of timer registrations. It
// tells the Runtime how long to block in the next Poller.Wait call, and
// yields the tokens of any timers that have expired since it was last
// asked.
//
// TimeoutManager is not safe for concurrent use; it is owned exclusively
// by the Runtime goroutine, like the resource registry and IOManager.
type TimeoutManager struct {
	heap timeoutHeap
	seq  uint64
}

// NewTimeoutManager returns an empty TimeoutManager.
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{}
}

// Register schedules token to expire at now+after.
func (m *TimeoutManager) Register(after time.Duration, token any) {
	m.seq++
	heap.Push(&m.heap, &timeoutEntry{
		deadline: time.Now().Add(after),
		token:    token,
		seq:      m.seq,
	})
}

// Next reports how long the caller should wait before the earliest
// deadline elapses, relative to now. It returns (0, true) if a deadline
// has already passed, and (0, false) if there are no pending timers
// (meaning the caller may block indefinitely).
func (m *TimeoutManager) Next(now time.Time) (time.Duration, bool) {
	if len(m.heap) == 0 {
		return 0, false
	}
	d := m.heap[0].deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Expired removes and returns, in deadline order, the tokens of every
// timer whose deadline is at or before now.
func (m *TimeoutManager) Expired(now time.Time) []any {
	var out []any
	for len(m.heap) > 0 && !m.heap[0].deadline.After(now) {
		e := heap.Pop(&m.heap).(*timeoutEntry)
		out = append(out, e.token)
	}
	return out
}

// Len reports the number of pending timers.
func (m *TimeoutManager) Len() int { return len(m.heap) }
