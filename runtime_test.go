package reactor_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyphernet-wg/reactor"
)

// memID is a small comparable resource id for tests that don't need a
// real socket, letting the core loop's concurrency and timer behavior be
// exercised without depending on the host's poller backend.
type memID int

// memResource is a minimal reactor.Resource that counts the commands it
// receives, standing in for a real protocol resource the way a fake
// implementation of a narrow interface normally would in this style of
// test.
type memResource struct {
	id    memID
	count *atomic.Int64
}

func (r *memResource) ID() memID                          { return r.id }
func (r *memResource) IOReady(reactor.IOEvent) error       { return nil }
func (r *memResource) HandleCmd(cmd any) error             { r.count.Add(1); return nil }
func (r *memResource) HandleErr(err error) error           { return err }

// memIOManager is a fake IOManager that never produces I/O events,
// letting these tests exercise the control/timer paths of the loop in
// isolation from any real Poller backend.
type memIOManager struct {
	mu        sync.Mutex
	resources map[memID]*memResource
	pollErr   error
}

func newMemIOManager() *memIOManager {
	return &memIOManager{resources: make(map[memID]*memResource)}
}

// failNextPoll arranges for the next call to IOEvents to return err
// instead of its usual nil, so a test can exercise the loop's poll-error
// path without a real Poller backend.
func (m *memIOManager) failNextPoll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollErr = err
}

func (m *memIOManager) HasResource(id memID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.resources[id]
	return ok
}

func (m *memIOManager) RegisterResource(r *memResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID()] = r
	return nil
}

func (m *memIOManager) UnregisterResource(id memID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, id)
	return nil
}

func (m *memIOManager) RequestWritable(memID, bool) error { return nil }

func (m *memIOManager) IOEvents(timeout time.Duration, hasTimeout bool) (bool, error) {
	m.mu.Lock()
	err := m.pollErr
	m.pollErr = nil
	m.mu.Unlock()

	// Sleep for (a bounded slice of) the requested timeout instead of
	// busy-spinning, so the runtime's loop still yields CPU the way a
	// real Poller.Wait would, without needing a real fd to block on.
	if hasTimeout {
		if timeout > 20*time.Millisecond {
			timeout = 20 * time.Millisecond
		}
		time.Sleep(timeout)
	} else {
		time.Sleep(5 * time.Millisecond)
	}
	return true, err
}

func (m *memIOManager) Drain(yield func(reactor.IOSource[memID]) bool) {}

func (m *memIOManager) Close() error { return nil }

type recordingBroker struct {
	mu     sync.Mutex
	errs   []error
	timers []reactor.TimerFired
}

func (b *recordingBroker) HandleErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tf, ok := err.(reactor.TimerFired); ok {
		b.timers = append(b.timers, tf)
		return
	}
	b.errs = append(b.errs, err)
}

func (b *recordingBroker) timerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

// S2 (Command): many goroutines sending concurrently all land, in full,
// on the single resource they target — the control queue must never
// drop or corrupt a push under concurrent producers.
func TestConcurrentSendsAllDeliver(t *testing.T) {
	io := newMemIOManager()
	broker := &recordingBroker{}
	var count atomic.Int64

	factory := func(ctx any, ctrl reactor.Controller[*memResource, memID]) (*memResource, error) {
		return &memResource{id: ctx.(memID), count: &count}, nil
	}

	rt := reactor.With[*memResource, memID](io, broker, factory)
	defer rt.Shutdown()

	require.NoError(t, rt.Connect(memID(1)))
	require.Eventually(t, func() bool { return io.HasResource(1) }, time.Second, 2*time.Millisecond)

	const goroutines = 8
	const perGoroutine = 125 // 8 * 125 = 1000

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				require.NoError(t, rt.Send(memID(1), j))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return count.Load() == goroutines*perGoroutine
	}, 2*time.Second, 5*time.Millisecond, "expected all 1000 sends to be delivered")
}

// S3 (Timer): a timer registered via SetTimer fires and is delivered to
// the Broker as a TimerFired carrying the original token.
func TestTimerFiresAndDelivers(t *testing.T) {
	io := newMemIOManager()
	broker := &recordingBroker{}
	factory := func(ctx any, ctrl reactor.Controller[*memResource, memID]) (*memResource, error) {
		return nil, nil
	}

	rt := reactor.With[*memResource, memID](io, broker, factory)
	defer rt.Shutdown()

	require.NoError(t, rt.SetTimer(30*time.Millisecond, "wake-up"))

	require.Eventually(t, func() bool { return broker.timerCount() == 1 }, time.Second, 5*time.Millisecond)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	require.Equal(t, "wake-up", broker.timers[0].Token)
}

// S5 (Shutdown): Shutdown waits for the loop to exit and tears down
// every registered resource; a concurrent Join unblocks at the same
// point.
func TestShutdownUnblocksJoin(t *testing.T) {
	io := newMemIOManager()
	broker := &recordingBroker{}
	var count atomic.Int64
	factory := func(ctx any, ctrl reactor.Controller[*memResource, memID]) (*memResource, error) {
		return &memResource{id: ctx.(memID), count: &count}, nil
	}

	rt := reactor.With[*memResource, memID](io, broker, factory)
	require.NoError(t, rt.Connect(memID(1)))
	require.Eventually(t, func() bool { return io.HasResource(1) }, time.Second, 2*time.Millisecond)

	joined := make(chan struct{})
	go func() {
		_ = rt.Join()
		close(joined)
	}()

	require.NoError(t, rt.Shutdown())

	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("Join never unblocked after Shutdown")
	}

	require.False(t, io.HasResource(1), "resource should be unregistered on shutdown")
}

// S6 (Poller error): a single IOEvents failure is wrapped and handed to
// the Broker as a plain error (not a TimerFired), and the loop keeps
// running afterward rather than getting stuck.
func TestPollErrorSurfacesAndLoopContinues(t *testing.T) {
	io := newMemIOManager()
	broker := &recordingBroker{}
	var count atomic.Int64
	factory := func(ctx any, ctrl reactor.Controller[*memResource, memID]) (*memResource, error) {
		return &memResource{id: ctx.(memID), count: &count}, nil
	}

	rt := reactor.With[*memResource, memID](io, broker, factory)
	defer rt.Shutdown()

	require.NoError(t, rt.Connect(memID(1)))
	require.Eventually(t, func() bool { return io.HasResource(1) }, time.Second, 2*time.Millisecond)

	io.failNextPoll(errors.New("simulated poll failure"))

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.errs) == 1
	}, time.Second, 5*time.Millisecond, "poll error never reached the broker")

	broker.mu.Lock()
	require.ErrorContains(t, broker.errs[0], "simulated poll failure")
	broker.mu.Unlock()

	require.NoError(t, rt.Send(memID(1), "still alive"))
	require.Eventually(t, func() bool {
		return count.Load() == 1
	}, time.Second, 5*time.Millisecond, "loop stopped processing control events after a poll error")

	broker.mu.Lock()
	defer broker.mu.Unlock()
	require.Len(t, broker.errs, 1, "loop must not keep re-reporting the same resolved poll error")
}
