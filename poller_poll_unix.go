//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable Poller backend, built on poll(2). Every
// platform the reactor supports also has a faster native backend
// (epoll or kqueue, selected by default via NewPoller); pollPoller is
// exported as NewPollPoller for callers that want the portable
// implementation specifically, e.g. for testing a poller-agnostic
// IOManager against more than one backend.
type pollPoller struct {
	mu     sync.Mutex
	fds    map[int]*unix.PollFd
	order  []int
	ready  []unix.PollFd
	closed bool
}

// NewPollPoller constructs a poll(2)-based Poller.
func NewPollPoller() (Poller, error) {
	return &pollPoller{fds: make(map[int]*unix.PollFd)}, nil
}

func (p *pollPoller) Register(fd int, readable, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = &unix.PollFd{Fd: int32(fd), Events: pollFlags(readable, writable)}
	p.order = append(p.order, fd)
	return nil
}

func (p *pollPoller) Modify(fd int, readable, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pfd, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	pfd.Events = pollFlags(readable, writable)
	return nil
}

func (p *pollPoller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return nil
	}
	delete(p.fds, fd)
	for i, v := range p.order {
		if v == fd {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration, hasTimeout bool) (bool, error) {
	p.mu.Lock()
	set := make([]unix.PollFd, len(p.order))
	for i, fd := range p.order {
		set[i] = *p.fds[fd]
	}
	p.mu.Unlock()

	ms := -1
	if hasTimeout {
		ms = int(timeout / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
	}

	n, err := unix.Poll(set, ms)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}

	p.mu.Lock()
	p.ready = set
	p.mu.Unlock()

	return n == 0, nil
}

func (p *pollPoller) Events(yield func(fd int, ev IOEvent) bool) {
	p.mu.Lock()
	ready := p.ready
	p.ready = nil
	p.mu.Unlock()

	for _, pfd := range ready {
		if pfd.Revents == 0 {
			continue
		}
		ev := IOEvent{
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0,
			Writable: pfd.Revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0,
		}
		if !yield(int(pfd.Fd), ev) {
			return
		}
	}
}

func (p *pollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.fds = nil
	p.order = nil
	return nil
}

func pollFlags(readable, writable bool) int16 {
	var f int16
	if readable {
		f |= unix.POLLIN
	}
	if writable {
		f |= unix.POLLOUT
	}
	return f
}
