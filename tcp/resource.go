package tcp

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cyphernet-wg/reactor"
	"github.com/cyphernet-wg/reactor/internal/netutil"
)

const (
	// ReadTimeout bounds how long a stream may sit idle without
	// delivering a byte before it is disconnected.
	ReadTimeout = 6 * time.Second
	// WriteTimeout bounds how long a partially-flushed outbound buffer
	// may go without making further progress before the stream is
	// disconnected.
	WriteTimeout = 3 * time.Second
	// ReadBufferSize is the size of the per-read scratch buffer.
	ReadBufferSize = 65535
)

// ListenContext, passed to Controller.Connect, asks the factory to bind
// and register a listening socket.
type ListenContext struct {
	Addr string
}

// DialContext, passed to Controller.Connect, asks the factory to begin a
// non-blocking outbound connection.
type DialContext struct {
	Addr string
}

// acceptedContext is pushed internally by a listener's own accept loop;
// applications never construct one directly.
type acceptedContext struct {
	fd    int
	raddr net.Addr
}

// TCPResource is a reactor.Resource driving either a listening socket or
// one stream connection (inbound or outbound), identified by TCPLocator.
// It implements reactor.FDResource so the default fd-based IOManager can
// register it directly.
type TCPResource struct {
	locator TCPLocator
	fd      int

	isListener bool
	connecting bool

	ctrl reactor.Controller[*TCPResource, TCPLocator]
	sink reactor.Broker

	out        bytes.Buffer
	writableOn bool

	readGen  uint64
	writeGen uint64

	closed bool
}

var (
	_ reactor.Resource[TCPLocator] = (*TCPResource)(nil)
	_ reactor.FDResource           = (*TCPResource)(nil)
)

// NewFactory returns a reactor.Factory constructing TCPResource values.
// sink receives Listening, Accepted, Received and Disconnected
// notifications for every resource the factory builds. Errors a resource
// hits are reported to sink as a Disconnected carrying that error.
func NewFactory(sink reactor.Broker) reactor.Factory[*TCPResource, TCPLocator] {
	return func(ctx any, ctrl reactor.Controller[*TCPResource, TCPLocator]) (*TCPResource, error) {
		switch c := ctx.(type) {
		case ListenContext:
			fd, laddr, err := netutil.ListenNonblocking("tcp", c.Addr)
			if err != nil {
				return nil, err
			}
			r := &TCPResource{
				locator:    ListenerLocator(laddr),
				fd:         fd,
				isListener: true,
				ctrl:       ctrl,
				sink:       sink,
			}
			sink.HandleErr(Listening{Locator: r.locator})
			return r, nil

		case DialContext:
			fd, raddr, inProgress, err := netutil.DialNonblocking("tcp", c.Addr)
			if err != nil {
				sink.HandleErr(Disconnected{Reason: DialError(err)})
				return nil, err
			}
			r := &TCPResource{
				locator:    ConnectionLocator(raddr),
				fd:         fd,
				connecting: inProgress,
				ctrl:       ctrl,
				sink:       sink,
			}
			if !inProgress {
				r.armReadTimeout()
				sink.HandleErr(Accepted{Locator: r.locator, Direction: Outbound})
			}
			return r, nil

		case acceptedContext:
			r := &TCPResource{
				locator: ConnectionLocator(c.raddr),
				fd:      c.fd,
				ctrl:    ctrl,
				sink:    sink,
			}
			r.armReadTimeout()
			sink.HandleErr(Accepted{Locator: r.locator, Direction: Inbound})
			return r, nil

		default:
			return nil, fmt.Errorf("tcp: unrecognized connect context %T", ctx)
		}
	}
}

// ID implements reactor.Resource.
func (r *TCPResource) ID() TCPLocator { return r.locator }

// Fd implements reactor.FDResource.
func (r *TCPResource) Fd() int { return r.fd }

// IOReady implements reactor.Resource.
func (r *TCPResource) IOReady(ev reactor.IOEvent) error {
	if r.isListener {
		if ev.Writable {
			return r.acceptLoop()
		}
		return nil
	}

	if r.connecting && ev.Writable {
		if err := netutil.ConnectError(r.fd); err != nil {
			return DialError(err)
		}
		r.connecting = false
		r.armReadTimeout()
		r.sink.HandleErr(Accepted{Locator: r.locator, Direction: Outbound})
	}

	if ev.Readable {
		if err := r.readLoop(); err != nil {
			return err
		}
	}
	if ev.Writable && !r.connecting {
		if err := r.flush(); err != nil {
			return err
		}
	}
	return nil
}

// HandleCmd implements reactor.Resource. A []byte command is queued as
// outbound data; any other command type is rejected.
func (r *TCPResource) HandleCmd(cmd any) error {
	switch c := cmd.(type) {
	case []byte:
		return r.queueWrite(c)
	case checkReadTimeoutCmd:
		if c.generation == r.readGen {
			return ConnectionError(fmt.Errorf("tcp: read timeout after %s", ReadTimeout))
		}
		return nil
	case checkWriteTimeoutCmd:
		if c.generation == r.writeGen && r.out.Len() > 0 {
			return ConnectionError(fmt.Errorf("tcp: write timeout after %s", WriteTimeout))
		}
		return nil
	default:
		return fmt.Errorf("tcp: unrecognized command %T for %v", cmd, r.locator)
	}
}

// HandleErr implements reactor.Resource. TCPResource recovers every
// error locally by tearing itself down and reporting a Disconnected to
// sink; nothing ever escalates past it to the core Broker, since by the
// time HandleErr runs there is no more protocol-specific context a
// generic Broker could act on.
func (r *TCPResource) HandleErr(err error) error {
	reason := ConnectionError(err)
	var de DisconnectReason
	if errors.As(err, &de) {
		reason = de
	}
	r.teardown(reason)
	return nil
}

func (r *TCPResource) teardown(reason DisconnectReason) {
	if r.closed {
		return
	}
	r.closed = true
	unix.Close(r.fd)
	_ = r.ctrl.Disconnect(r.locator)
	r.sink.HandleErr(Disconnected{Locator: r.locator, Reason: reason})
}

func (r *TCPResource) acceptLoop() error {
	for {
		fd, raddr, ok, err := netutil.AcceptNonblocking(r.fd)
		if err != nil {
			return fmt.Errorf("tcp: accept on %v: %w", r.locator, err)
		}
		if !ok {
			return nil
		}
		if err := r.ctrl.Connect(acceptedContext{fd: fd, raddr: raddr}); err != nil {
			unix.Close(fd)
			return err
		}
	}
}

func (r *TCPResource) readLoop() error {
	buf := make([]byte, ReadBufferSize)
	for {
		n, err := unix.Read(r.fd, buf)
		switch {
		case n > 0:
			r.readGen++
			r.armReadTimeout()
			data := make([]byte, n)
			copy(data, buf[:n])
			r.sink.HandleErr(Received{Locator: r.locator, Data: data})
			if n < len(buf) {
				return nil
			}
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return nil
		case err == unix.EINTR:
			continue
		case n == 0 && err == nil:
			return ConnectionError(fmt.Errorf("tcp: connection closed by peer"))
		default:
			return ConnectionError(fmt.Errorf("tcp: read: %w", err))
		}
	}
}

func (r *TCPResource) queueWrite(b []byte) error {
	r.out.Write(b)
	if !r.writableOn {
		r.writableOn = true
		if err := r.ctrl.RequestWritable(r.locator, true); err != nil {
			return err
		}
	}
	r.armWriteTimeout()
	return r.flush()
}

func (r *TCPResource) flush() error {
	for r.out.Len() > 0 {
		n, err := unix.Write(r.fd, r.out.Bytes())
		switch {
		case n > 0:
			r.out.Next(n)
			r.writeGen++
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			r.armWriteTimeout()
			return nil
		case err == unix.EINTR:
			continue
		default:
			return ConnectionError(fmt.Errorf("tcp: write: %w", err))
		}
	}
	if r.writableOn {
		r.writableOn = false
		return r.ctrl.RequestWritable(r.locator, false)
	}
	return nil
}

// armReadTimeout schedules a callback timer, run directly on the runtime
// goroutine when it fires (see runtime.go's treatment of func() tokens),
// that disconnects the stream if no read has advanced readGen by then.
func (r *TCPResource) armReadTimeout() {
	r.readGen++
	gen := r.readGen
	_ = r.ctrl.SetTimer(ReadTimeout, func() {
		if err := r.HandleCmd(checkReadTimeoutCmd{generation: gen}); err != nil {
			_ = r.HandleErr(err)
		}
	})
}

func (r *TCPResource) armWriteTimeout() {
	r.writeGen++
	gen := r.writeGen
	_ = r.ctrl.SetTimer(WriteTimeout, func() {
		if err := r.HandleCmd(checkWriteTimeoutCmd{generation: gen}); err != nil {
			_ = r.HandleErr(err)
		}
	})
}

type checkReadTimeoutCmd struct{ generation uint64 }
type checkWriteTimeoutCmd struct{ generation uint64 }
