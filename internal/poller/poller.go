// Package poller is a thin, edge-triggered abstraction over epoll: the
// reactor's only file-descriptor readiness primitive.
//
// Grounded on docker-compose's vendored archutils/epoll.go (the
// syscall.Epoll* wrapper shape) and monitor/monitor_linux.go (the
// receivers-keyed-by-fd idiom), generalized from hangup-only
// monitoring to full readable/writable/error interest.
package poller

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Interest is a bitmask of the readiness a caller wants notified about.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one readiness notification returned by Wait.
type Event struct {
	Token    int // equal to the registered fd
	Readable bool
	Writable bool
	Error    bool
	Hangup   bool
}

// ErrAlreadyRegistered is returned by Register for a duplicate fd.
var ErrAlreadyRegistered = errors.New("poller: fd already registered")

// ErrNotFound is returned by Reinterest/Deregister for an unknown fd.
var ErrNotFound = errors.New("poller: fd not registered")

// Poller wraps one epoll instance. It is not safe for concurrent use;
// the reactor is the only caller and it is single-threaded by design.
type Poller struct {
	epfd      int
	registered map[int]struct{}
}

// New creates a fresh epoll instance.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "poller: epoll_create1")
	}
	return &Poller{epfd: fd, registered: make(map[int]struct{})}, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32 = unix.EPOLLET | unix.EPOLLRDHUP
	if i&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Register adds fd with the given interest. fd itself is carried back
// in Event.Token, since the reactor identifies each listener,
// connection and CGI pipe by its own fd.
func (p *Poller) Register(fd int, interest Interest) error {
	if _, ok := p.registered[fd]; ok {
		return ErrAlreadyRegistered
	}
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrap(err, "poller: epoll_ctl add")
	}
	p.registered[fd] = struct{}{}
	return nil
}

// Reinterest changes the interest set for an already-registered fd.
// Required after every partial read/write under edge-triggered
// semantics so readiness re-arms for the next transition.
func (p *Poller) Reinterest(fd int, interest Interest) error {
	if _, ok := p.registered[fd]; !ok {
		return ErrNotFound
	}
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errors.Wrap(err, "poller: epoll_ctl mod")
	}
	return nil
}

// Deregister removes fd. Idempotent: removing an fd twice, or one that
// was never registered, is not an error.
func (p *Poller) Deregister(fd int) error {
	if _, ok := p.registered[fd]; !ok {
		return nil
	}
	delete(p.registered, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err != unix.ENOENT && err != unix.EBADF {
			return errors.Wrap(err, "poller: epoll_ctl del")
		}
	}
	return nil
}

// Wait blocks for up to timeoutMs (0 returns immediately, -1 blocks
// forever) and appends ready events into buf, returning the events
// observed this call.
func (p *Poller) Wait(buf []unix.EpollEvent, timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, "poller: epoll_wait")
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := buf[i]
		out = append(out, Event{
			Token:    int(e.Fd),
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&unix.EPOLLERR != 0,
			Hangup:   e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return out, nil
}

// Close releases the epoll fd.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
