package reactor

import (
	"fmt"
	"time"
)

// TimerFired is delivered to the Broker when a timer registered via
// Controller.SetTimer expires. The core has no concrete Resource type to
// address the token back to, so it hands the token back uninterpreted;
// callers that need a timer result routed to a specific resource encode
// the target ID into the token itself and dispatch inside their Broker.
type TimerFired struct {
	Token any
}

func (TimerFired) Error() string { return "reactor: timer fired" }

// runtime is the event loop: it owns the resource registry, the
// IOManager, the TimeoutManager, the control queue, and the Broker. It
// runs on a single dedicated goroutine for its entire life and is never
// touched from any other goroutine.
type runtime[R Resource[ID], ID comparable] struct {
	io       IOManager[R, ID]
	broker   Broker
	factory  Factory[R, ID]
	control  *controlQueue[ID]
	timeouts *TimeoutManager
	logger   Logger

	resources map[ID]R

	shutdown <-chan struct{}
	stopped  chan struct{}
}

func newRuntime[R Resource[ID], ID comparable](
	io IOManager[R, ID],
	broker Broker,
	factory Factory[R, ID],
	control *controlQueue[ID],
	logger Logger,
	shutdown <-chan struct{},
) *runtime[R, ID] {
	return &runtime[R, ID]{
		io:        io,
		broker:    broker,
		factory:   factory,
		control:   control,
		timeouts:  NewTimeoutManager(),
		logger:    logger,
		resources: make(map[ID]R),
		shutdown:  shutdown,
		stopped:   make(chan struct{}),
	}
}

// run executes the loop until shutdown is signaled. Phase order within
// one iteration is fixed: readiness, then timers, then control, then the
// shutdown check — I/O strictly precedes control, so every readiness
// notification of an iteration is delivered before any control event is
// processed; control events a resource queues while reacting to its own
// readiness are processed later in the same iteration.
func (rt *runtime[R, ID]) run() {
	defer close(rt.stopped)
	defer rt.teardown()

	for {
		now := time.Now()
		wait, hasTimeout := rt.timeouts.Next(now)

		if _, err := rt.io.IOEvents(wait, hasTimeout); err != nil {
			rt.broker.HandleErr(fmt.Errorf("reactor: poll: %w", err))
		}

		rt.drainIO()
		rt.drainTimers()
		rt.drainControl()

		if rt.checkShutdown() {
			return
		}
	}
}

func (rt *runtime[R, ID]) drainIO() {
	rt.io.Drain(func(src IOSource[ID]) bool {
		res, ok := rt.resources[src.ID]
		if !ok {
			panic(fmt.Sprintf("reactor: resource management inconsistency: %v ready but not registered", src.ID))
		}
		rt.dispatchResourceErr(res, res.IOReady(src.IO))
		return true
	})
}

// drainTimers delivers every expired timer. A token of type func() is a
// self-contained callback — the Go rendering of gaio's own aiocb
// completion-on-timeout shape — and is invoked directly on this
// goroutine rather than routed through the Broker, letting a Resource
// (e.g. reactor/tcp's idle-timeout tracking) manage its own timers
// without a Broker implementation needing to know about them. Any other
// token is handed to the Broker as a TimerFired.
func (rt *runtime[R, ID]) drainTimers() {
	for _, token := range rt.timeouts.Expired(time.Now()) {
		if fn, ok := token.(func()); ok {
			fn()
			continue
		}
		rt.logger.Log(LogEntry{Level: LevelDebug, Category: "timer", Message: "timer fired"})
		rt.broker.HandleErr(TimerFired{Token: token})
	}
}

func (rt *runtime[R, ID]) drainControl() {
	for _, ev := range rt.control.drain() {
		switch ev.kind {
		case controlConnect:
			rt.handleConnect(ev.connectCtx)
		case controlDisconnect:
			rt.handleDisconnect(ev.disconnectID)
		case controlSetTimer:
			rt.timeouts.Register(ev.timerAfter, ev.timerToken)
		case controlSend:
			rt.handleSend(ev.sendID, ev.sendCmd)
		case controlRequestWritable:
			if err := rt.io.RequestWritable(ev.writableID, ev.writableWant); err != nil {
				rt.broker.HandleErr(fmt.Errorf("reactor: requesting writable interest for %v: %w", ev.writableID, err))
			}
		}
	}
}

func (rt *runtime[R, ID]) handleConnect(ctx any) {
	ctrl := Controller[R, ID]{q: rt.control}
	res, err := rt.factory(ctx, ctrl)
	if err != nil {
		rt.broker.HandleErr(fmt.Errorf("reactor: constructing resource: %w", err))
		return
	}

	id := res.ID()
	if _, replaced := rt.resources[id]; replaced {
		// The old fd must come off the IOManager before the new one goes
		// on: RegisterResource below overwrites idToFd[id] in place but
		// leaves the previous fd's fdToID entry dangling otherwise, so a
		// readiness event on that now-orphaned fd would resolve back to
		// id and get dispatched to the wrong resource.
		if err := rt.io.UnregisterResource(id); err != nil {
			rt.broker.HandleErr(fmt.Errorf("reactor: unregistering replaced resource %v: %w", id, err))
		}
		rt.logger.Log(LogEntry{Level: LevelWarn, Category: "connect", Message: fmt.Sprintf("replacing existing resource %v", id)})
	}

	if err := rt.io.RegisterResource(res); err != nil {
		rt.dispatchResourceErr(res, res.HandleErr(fmt.Errorf("reactor: registering resource: %w", err)))
		return
	}

	rt.resources[id] = res
}

func (rt *runtime[R, ID]) handleDisconnect(id ID) {
	if err := rt.io.UnregisterResource(id); err != nil {
		rt.broker.HandleErr(fmt.Errorf("reactor: unregistering resource %v: %w", id, err))
	}
	delete(rt.resources, id)
}

func (rt *runtime[R, ID]) handleSend(id ID, cmd any) {
	res, ok := rt.resources[id]
	if !ok {
		return
	}
	rt.dispatchResourceErr(res, res.HandleCmd(cmd))
}

// dispatchResourceErr offers a non-nil error to the resource's own
// HandleErr for local recovery first; whatever that returns (if
// anything) escalates to the Broker.
func (rt *runtime[R, ID]) dispatchResourceErr(res R, err error) {
	if err == nil {
		return
	}
	if err2 := res.HandleErr(err); err2 != nil {
		rt.broker.HandleErr(err2)
	}
}

func (rt *runtime[R, ID]) checkShutdown() bool {
	select {
	case <-rt.shutdown:
		return true
	default:
		return false
	}
}

// teardown unregisters and drops every resource on shutdown, then
// releases the IOManager and closes the control queue to further
// pushes.
func (rt *runtime[R, ID]) teardown() {
	for id := range rt.resources {
		_ = rt.io.UnregisterResource(id)
		delete(rt.resources, id)
	}
	_ = rt.io.Close()
	rt.control.close()
}
