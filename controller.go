package reactor

import (
	"sync"
	"time"
)

// controlKind discriminates controlEvent. Go has no sum types, so a
// flat struct with a kind discriminant stands in for one here.
type controlKind uint8

const (
	controlConnect controlKind = iota
	controlDisconnect
	controlSetTimer
	controlSend
	controlRequestWritable
)

// controlEvent is one message sent from a Controller to the Runtime. It
// may be created on any goroutine and is consumed exclusively by the
// runtime goroutine.
type controlEvent[ID comparable] struct {
	kind controlKind

	connectCtx any

	disconnectID ID

	timerAfter time.Duration
	timerToken any

	sendID  ID
	sendCmd any

	writableID   ID
	writableWant bool
}

// controlQueue is an unbounded multi-producer, single-consumer queue of
// control events. Go channels are fixed-capacity, so a mutex-guarded
// slice, swapped wholesale on drain, is used instead — a producer never
// blocks on a full buffer, and the consumer drains everything queued
// since the last pass in one cheap swap.
type controlQueue[ID comparable] struct {
	mu     sync.Mutex
	items  []controlEvent[ID]
	closed bool
}

func (q *controlQueue[ID]) push(ev controlEvent[ID]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrControlChannelBroken
	}
	q.items = append(q.items, ev)
	return nil
}

// drain removes and returns every event currently queued, in the order
// they were pushed relative to any single producer.
func (q *controlQueue[ID]) drain() []controlEvent[ID] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// close marks the queue broken: further pushes fail with
// ErrControlChannelBroken. It does not discard whatever is already
// queued.
func (q *controlQueue[ID]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Controller is a cheaply cloneable, thread-safe handle on a Runtime's
// control queue. It is the only sanctioned way for code outside the
// runtime goroutine — including a Resource reacting to its own I/O
// inside the loop — to mutate reactor state.
type Controller[R Resource[ID], ID comparable] struct {
	q *controlQueue[ID]
}

// Connect asks the Runtime to construct a new resource from ctx via the
// Reactor's Factory, and register it.
func (c Controller[R, ID]) Connect(ctx any) error {
	return c.q.push(controlEvent[ID]{kind: controlConnect, connectCtx: ctx})
}

// Disconnect asks the Runtime to unregister and drop the resource
// identified by id. Disconnecting an id that is not registered is a
// no-op.
func (c Controller[R, ID]) Disconnect(id ID) error {
	return c.q.push(controlEvent[ID]{kind: controlDisconnect, disconnectID: id})
}

// SetTimer asks the Runtime to fire token, via the loop's timer-expiry
// phase, once after has elapsed. A token of type func() is invoked on the
// runtime goroutine; any other token is delivered to the Broker as a
// TimerFired.
func (c Controller[R, ID]) SetTimer(after time.Duration, token any) error {
	return c.q.push(controlEvent[ID]{kind: controlSetTimer, timerAfter: after, timerToken: token})
}

// Send asks the Runtime to deliver cmd to the resource identified by id
// via HandleCmd. Sending to an id that is not registered is a silent
// no-op — the resource may have disconnected concurrently.
func (c Controller[R, ID]) Send(id ID, cmd any) error {
	return c.q.push(controlEvent[ID]{kind: controlSend, sendID: id, sendCmd: cmd})
}

// RequestWritable asks the Runtime to toggle writable interest for the
// resource identified by id, letting a Resource manage its own
// poll-writable registration (e.g. a stream with nothing left to flush
// turning writable interest off, and back on once it buffers more
// outbound bytes) from within IOReady or HandleCmd.
func (c Controller[R, ID]) RequestWritable(id ID, want bool) error {
	return c.q.push(controlEvent[ID]{kind: controlRequestWritable, writableID: id, writableWant: want})
}
