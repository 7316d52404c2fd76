// Package tcp adapts raw socket readiness, as dispatched by package
// reactor, into a byte-stream session/listener abstraction. It moves
// bytes; it does not interpret them — framing and handshakes are a
// caller concern.
package tcp

import "net"

// LocatorKind discriminates a TCPLocator between a listening socket and
// an established connection.
type LocatorKind uint8

const (
	// KindListener identifies a socket bound and listening for inbound
	// connections.
	KindListener LocatorKind = iota
	// KindConnection identifies one established stream, inbound or
	// outbound.
	KindConnection
)

// TCPLocator is the identity of a TCPResource. It keys the reactor's
// resource registry, so it must be comparable; net.TCPAddr is not
// comparable directly (it is a struct containing a []byte IP), so the
// address is normalized to its string form.
type TCPLocator struct {
	Kind LocatorKind
	Addr string
}

// ListenerLocator identifies the listening socket bound to addr.
func ListenerLocator(addr net.Addr) TCPLocator {
	return TCPLocator{Kind: KindListener, Addr: addr.String()}
}

// ConnectionLocator identifies the connection whose remote endpoint is
// addr. Inbound connections are located by their peer's remote address;
// outbound connections are located the same way once dialed.
func ConnectionLocator(addr net.Addr) TCPLocator {
	return TCPLocator{Kind: KindConnection, Addr: addr.String()}
}

func (l TCPLocator) String() string {
	switch l.Kind {
	case KindListener:
		return "listener:" + l.Addr
	default:
		return "conn:" + l.Addr
	}
}
