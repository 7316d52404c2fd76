package reactor

import (
	"sync/atomic"
	"time"
)

// ReactorOption configures a Reactor at construction time.
type ReactorOption func(*reactorOptions)

type reactorOptions struct {
	logger Logger
}

// WithLogger attaches a Logger the Runtime will use for low-stakes
// operational diagnostics (see Logger for how this differs from
// Broker). The default is NoOpLogger.
func WithLogger(l Logger) ReactorOption {
	return func(o *reactorOptions) { o.logger = l }
}

// Reactor owns the worker goroutine running a Runtime, and the sending
// side of its control queue. It is the entry point for this package:
// construct one with With, obtain Controllers from it, and Shutdown or
// Join it when done.
type Reactor[R Resource[ID], ID comparable] struct {
	control      *controlQueue[ID]
	shutdownCh   chan struct{}
	rt           *runtime[R, ID]
	shuttingDown atomic.Bool
}

// With constructs a Reactor and spawns its Runtime on a new goroutine.
// io owns the Poller and binds Resources to it; broker receives errors
// the Runtime cannot resolve locally; factory constructs a Resource from
// the context passed to Controller.Connect.
func With[R Resource[ID], ID comparable](io IOManager[R, ID], broker Broker, factory Factory[R, ID], opts ...ReactorOption) *Reactor[R, ID] {
	cfg := reactorOptions{logger: NoOpLogger{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	control := &controlQueue[ID]{}
	shutdownCh := make(chan struct{})
	rt := newRuntime[R, ID](io, broker, factory, control, cfg.logger, shutdownCh)

	go rt.run()

	return &Reactor[R, ID]{
		control:    control,
		shutdownCh: shutdownCh,
		rt:         rt,
	}
}

// Controller returns a fresh handle on this Reactor's control queue.
// Controllers are cheap to create and safe to share across goroutines.
func (r *Reactor[R, ID]) Controller() Controller[R, ID] {
	return Controller[R, ID]{q: r.control}
}

// Connect implements ReactorAPI by delegating to a fresh Controller.
func (r *Reactor[R, ID]) Connect(ctx any) error { return r.Controller().Connect(ctx) }

// Disconnect implements ReactorAPI by delegating to a fresh Controller.
func (r *Reactor[R, ID]) Disconnect(id ID) error { return r.Controller().Disconnect(id) }

// SetTimer implements ReactorAPI by delegating to a fresh Controller.
func (r *Reactor[R, ID]) SetTimer(after time.Duration, token any) error {
	return r.Controller().SetTimer(after, token)
}

// Send implements ReactorAPI by delegating to a fresh Controller.
func (r *Reactor[R, ID]) Send(id ID, cmd any) error { return r.Controller().Send(id, cmd) }

// RequestWritable implements ReactorAPI by delegating to a fresh Controller.
func (r *Reactor[R, ID]) RequestWritable(id ID, want bool) error {
	return r.Controller().RequestWritable(id, want)
}

// Join blocks until the Runtime goroutine terminates naturally (i.e.
// until some call to Shutdown is observed by the loop).
func (r *Reactor[R, ID]) Join() error {
	<-r.rt.stopped
	return nil
}

// Shutdown signals the Runtime to unregister and drop every resource and
// terminate, then waits for it to do so. It is idempotent in effect: a
// second call returns ErrShutdownChannelBroken rather than panicking on
// a double-close.
func (r *Reactor[R, ID]) Shutdown() error {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return ErrShutdownChannelBroken
	}
	close(r.shutdownCh)
	return r.Join()
}
