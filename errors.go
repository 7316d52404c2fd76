package reactor

import "errors"

// Errors returned by Poller implementations.
var (
	ErrFDAlreadyRegistered = errors.New("reactor: fd already registered")
	ErrFDNotRegistered     = errors.New("reactor: fd not registered")
)

// InternalError values are returned when the Runtime itself is
// unreachable: by ReactorAPI operations once its control queue is closed,
// and by Reactor.Shutdown once shutdown has already been signaled. They
// are checked with errors.Is.
var (
	// ErrControlChannelBroken is returned when a control event cannot be
	// delivered because the Runtime has already shut down.
	ErrControlChannelBroken = errors.New("reactor: control channel broken")

	// ErrShutdownChannelBroken is returned by every call to
	// Reactor.Shutdown after the first.
	ErrShutdownChannelBroken = errors.New("reactor: shutdown channel broken")
)
