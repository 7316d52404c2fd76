// Package reactor implements the core of a non-blocking I/O reactor: a
// single-threaded event loop, running on a dedicated goroutine, that
// multiplexes heterogeneous I/O endpoints (TCP listeners, TCP streams, and
// higher-level sessions built atop them) via a pluggable OS readiness
// poller, and dispatches readiness events and external commands to
// protocol-specific state machines called Resources.
//
// The loop itself never blocks on anything but the poller's Wait call; all
// other mutation of reactor state happens through a Controller, which may be
// held and used concurrently from any number of goroutines.
package reactor
