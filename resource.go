package reactor

// Resource is a protocol-specific state machine operating one I/O
// endpoint (or a stack built atop one), advanced exclusively by the
// Runtime in a synchronous, demultiplexed fashion. While a Resource is
// registered with a Runtime, the Runtime is its sole mutator: no other
// goroutine may call its methods or touch its state directly. Any
// outbound action a Resource needs to take against the reactor (connect
// a new resource, disconnect another, set a timer, send to a peer) must
// go through the Controller it was constructed with.
//
// ID must be comparable so it can key the resource registry; the source
// design additionally required a total order, but nothing in the core
// algorithm needs it, so Go's built-in map-key constraint is sufficient.
type Resource[ID comparable] interface {
	// ID returns this resource's stable identity.
	ID() ID

	// IOReady is invoked exactly once per readiness notification. It
	// must not block on I/O or synchronization; CPU-bound or blocking
	// work belongs on a worker pool the Resource talks to over a
	// channel of its own choosing.
	IOReady(ev IOEvent) error

	// HandleCmd is invoked when a Send control event targets this
	// resource. It must not block.
	HandleCmd(cmd any) error

	// HandleErr is the resource's local recovery hook for errors
	// returned by IOReady or HandleCmd. Returning nil swallows the
	// error; returning a non-nil error (the same one, or a different
	// one) escalates it to the reactor's Broker.
	HandleErr(err error) error
}

// FDResource is implemented by Resources whose identity is backed by a
// single OS file descriptor, which is what the default IOManager
// requires in order to register them with a Poller.
type FDResource interface {
	// Fd returns the underlying file descriptor. It must remain stable
	// for the lifetime of the resource's registration.
	Fd() int
}

// Factory constructs a Resource given the context supplied to
// Controller.Connect and a Controller the resource may use to act on the
// reactor. Go has no static interface methods, so the constructor is
// supplied once, to Reactor.With, instead of being part of the Resource
// interface itself.
type Factory[R Resource[ID], ID comparable] func(ctx any, ctrl Controller[R, ID]) (R, error)

// Broker is the user-supplied sink for errors the Runtime cannot handle
// locally: unrecovered Resource errors, and IOManager/Poller failures.
// It is owned by the Runtime and called only from the runtime goroutine;
// an implementation that needs to publish errors to other goroutines
// must arrange that internally (e.g. with its own channel).
type Broker interface {
	HandleErr(err error)
}

// BrokerFunc adapts a function to a Broker.
type BrokerFunc func(err error)

// HandleErr implements Broker.
func (f BrokerFunc) HandleErr(err error) { f(err) }
