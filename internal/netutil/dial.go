// Package netutil holds small socket helpers shared by reactor adapter
// packages. It operates on raw file descriptors via golang.org/x/sys/unix
// rather than net.Conn/net.Listener, the same layer gaio's own dupconn
// helper works at, because resources registered with a reactor Poller
// must own a non-blocking fd directly instead of going through the Go
// runtime's netpoller.
package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sockaddr converts a resolved *net.TCPAddr into the unix.Sockaddr form
// the raw socket syscalls need, and reports which address family to use.
func sockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	ip4 := addr.IP.To4()
	if ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		// A zero net.TCPAddr.IP (bind-to-all-interfaces shorthand) resolves
		// to neither form; treat it as IPv4 any-address, matching Go's own
		// net package default for "":port.
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		return &sa, unix.AF_INET, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip6)
	return &sa, unix.AF_INET6, nil
}

func addrFromSockaddr(sa unix.Sockaddr) net.Addr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}
	default:
		return nil
	}
}

// ListenNonblocking binds and listens on addr, returning a non-blocking
// fd ready to register with a Poller for readable/writable (accept)
// interest.
func ListenNonblocking(network, addr string) (fd int, laddr *net.TCPAddr, err error) {
	resolved, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return -1, nil, err
	}
	sa, family, err := sockaddr(resolved)
	if err != nil {
		return -1, nil, err
	}

	fd, err = unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("netutil: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("netutil: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("netutil: bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("netutil: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("netutil: set nonblocking: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("netutil: getsockname: %w", err)
	}
	if a, ok := addrFromSockaddr(bound).(*net.TCPAddr); ok {
		laddr = a
	} else {
		laddr = resolved
	}
	return fd, laddr, nil
}

// DialNonblocking begins a non-blocking connect to addr. inProgress
// reports whether the connect is still under way (the common case for a
// non-blocking socket): the caller should register fd for writable
// interest and call ConnectError once it fires.
func DialNonblocking(network, addr string) (fd int, raddr *net.TCPAddr, inProgress bool, err error) {
	resolved, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return -1, nil, false, err
	}
	sa, family, err := sockaddr(resolved)
	if err != nil {
		return -1, nil, false, err
	}

	fd, err = unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, false, fmt.Errorf("netutil: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, false, fmt.Errorf("netutil: set nonblocking: %w", err)
	}

	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return fd, resolved, false, nil
	case unix.EINPROGRESS:
		return fd, resolved, true, nil
	default:
		unix.Close(fd)
		return -1, nil, false, fmt.Errorf("netutil: connect: %w", err)
	}
}

// ConnectError reports the final outcome of a non-blocking connect once
// fd has fired writable, via SO_ERROR. A nil return means the connect
// succeeded.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("netutil: getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return fmt.Errorf("netutil: connect: %w", unix.Errno(errno))
	}
	return nil
}

// AcceptNonblocking accepts one pending connection on listenFd. ok is
// false (with err nil) when there is nothing left to accept (EAGAIN),
// the signal to stop an accept loop for this readiness notification.
//
// unix.Accept4 (which could set SOCK_NONBLOCK atomically at accept time)
// is not available on every platform this package targets (notably
// Darwin), so the nonblocking flag is set in a separate step instead,
// same as plain accept(2) plus fcntl(2) would require in C.
func AcceptNonblocking(listenFd int) (fd int, raddr net.Addr, ok bool, err error) {
	nfd, sa, err := unix.Accept(listenFd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.ECONNABORTED || err == unix.EINTR {
			return -1, nil, false, nil
		}
		return -1, nil, false, fmt.Errorf("netutil: accept: %w", err)
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, nil, false, fmt.Errorf("netutil: set nonblocking: %w", err)
	}
	return nfd, addrFromSockaddr(sa), true, nil
}

// LocalAddr reads the address a connected fd is bound to.
func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("netutil: getsockname: %w", err)
	}
	return addrFromSockaddr(sa), nil
}

// RemoteAddr reads the address a connected fd is talking to.
func RemoteAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, fmt.Errorf("netutil: getpeername: %w", err)
	}
	return addrFromSockaddr(sa), nil
}
