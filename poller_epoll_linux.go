//go:build linux

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// maxEpollEvents bounds the batch size read from a single epoll_wait call.
const maxEpollEvents = 256

// epollPoller is the Linux Poller backend, built on epoll(7).
type epollPoller struct {
	fd int

	mu    sync.Mutex
	buf   [maxEpollEvents]unix.EpollEvent
	ready []unix.EpollEvent
}

// NewPoller constructs the default Poller backend for the current
// platform (epoll on Linux).
func NewPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func (p *epollPoller) Register(fd int, readable, writable bool) error {
	ev := &unix.EpollEvent{Fd: int32(fd), Events: epollFlags(readable, writable)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Modify(fd int, readable, writable bool) error {
	ev := &unix.EpollEvent{Fd: int32(fd), Events: epollFlags(readable, writable)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Unregister(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeout time.Duration, hasTimeout bool) (bool, error) {
	ms := -1
	if hasTimeout {
		ms = int(timeout / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := unix.EpollWait(p.fd, p.buf[:], ms)
	if err != nil {
		if err == unix.EINTR {
			p.ready = nil
			return false, nil
		}
		return false, err
	}
	p.ready = p.buf[:n]
	return n == 0, nil
}

func (p *epollPoller) Events(yield func(fd int, ev IOEvent) bool) {
	p.mu.Lock()
	ready := p.ready
	p.ready = nil
	p.mu.Unlock()

	for _, e := range ready {
		ev := IOEvent{
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0,
			Writable: e.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0,
		}
		if !yield(int(e.Fd), ev) {
			return
		}
	}
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}

func epollFlags(readable, writable bool) uint32 {
	var f uint32
	if readable {
		f |= unix.EPOLLIN
	}
	if writable {
		f |= unix.EPOLLOUT
	}
	return f
}
