//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// maxKqueueEvents bounds the batch size read from a single kevent call.
const maxKqueueEvents = 256

// kqueuePoller is the Poller backend for BSD-family kernels (including
// Darwin), built on kqueue(2).
type kqueuePoller struct {
	fd int

	mu    sync.Mutex
	buf   [maxKqueueEvents]unix.Kevent_t
	ready []unix.Kevent_t
}

// NewPoller constructs the default Poller backend for the current
// platform (kqueue on BSD-family kernels).
func NewPoller() (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return &kqueuePoller{fd: fd}, nil
}

func (p *kqueuePoller) Register(fd int, readable, writable bool) error {
	changes := kqueueChanges(fd, readable, writable, unix.EV_ADD|unix.EV_ENABLE)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Modify(fd int, readable, writable bool) error {
	// kqueue has no single "replace interest" call; delete both filters
	// unconditionally (ignoring ENOENT-style failures) then re-add the
	// ones that are wanted.
	_, _ = unix.Kevent(p.fd, kqueueFilters(fd, true, true, unix.EV_DELETE), nil, nil)
	changes := kqueueChanges(fd, readable, writable, unix.EV_ADD|unix.EV_ENABLE)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Unregister(fd int) error {
	changes := kqueueFilters(fd, true, true, unix.EV_DELETE)
	_, _ = unix.Kevent(p.fd, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) Wait(timeout time.Duration, hasTimeout bool) (bool, error) {
	var ts *unix.Timespec
	if hasTimeout {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := unix.Kevent(p.fd, nil, p.buf[:], ts)
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

func (p *kqueuePoller) Events(yield func(fd int, ev IOEvent) bool) {
	p.mu.Lock()
	ready := p.ready
	p.ready = nil
	p.mu.Unlock()

	// kqueue reports read and write readiness as separate events sharing
	// the same ident; coalesce them per fd before yielding, to match the
	// "exactly once per fd" contract of Poller.Events.
	merged := make(map[int]IOEvent, len(ready))
	order := make([]int, 0, len(ready))
	for _, e := range ready {
		fd := int(e.Ident)
		cur, seen := merged[fd]
		if !seen {
			order = append(order, fd)
		}
		switch e.Filter {
		case unix.EVFILT_READ:
			cur.Readable = true
		case unix.EVFILT_WRITE:
			cur.Writable = true
		}
		if e.Flags&unix.EV_ERROR != 0 || e.Flags&unix.EV_EOF != 0 {
			cur.Readable = true
			cur.Writable = true
		}
		merged[fd] = cur
	}

	for _, fd := range order {
		if !yield(fd, merged[fd]) {
			return
		}
	}
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.fd)
}

func kqueueFilters(fd int, readable, writable bool, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if readable {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if writable {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func kqueueChanges(fd int, readable, writable bool, flags uint16) []unix.Kevent_t {
	return kqueueFilters(fd, readable, writable, flags)
}
