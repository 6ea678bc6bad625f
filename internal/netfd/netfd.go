// Package netfd wraps a single raw file descriptor: owns it, closes it
// exactly once, and exposes non-blocking read/write with a result type
// that distinguishes bytes-transferred, would-block, peer-closed, and
// error.
//
// Grounded on the EAGAIN-handling shape of a typical reverse-proxy
// event loop: read/write loops that stop cleanly on EAGAIN and treat a
// zero-byte read as peer-closed, not error.
package netfd

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Result is the outcome of one Read or Write call.
type Result struct {
	N          int
	WouldBlock bool
	PeerClosed bool
	Err        error
}

// FD owns one raw non-blocking file descriptor.
type FD struct {
	mu     sync.Mutex
	raw    int
	closed bool
}

// New wraps fd, which must already be set non-blocking by the caller
// (accept/open/pipe sites do this once at creation).
func New(fd int) *FD {
	return &FD{raw: fd}
}

// SetNonblock is a helper for call sites that receive a blocking fd
// (e.g. freshly accept()ed sockets) and need it flipped before wrapping.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// Fd returns the raw descriptor.
func (f *FD) Fd() int { return f.raw }

// Read drains up to len(buf) bytes without blocking.
func (f *FD) Read(buf []byte) Result {
	n, err := unix.Read(f.raw, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return Result{WouldBlock: true}
	case err == unix.EINTR:
		return Result{WouldBlock: true}
	case err != nil:
		return Result{Err: errors.Wrap(err, "netfd: read")}
	case n == 0:
		return Result{PeerClosed: true}
	default:
		return Result{N: n}
	}
}

// Write writes up to len(buf) bytes without blocking.
func (f *FD) Write(buf []byte) Result {
	n, err := unix.Write(f.raw, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return Result{WouldBlock: true}
	case err == unix.EINTR:
		return Result{WouldBlock: true}
	case err != nil:
		return Result{Err: errors.Wrap(err, "netfd: write")}
	default:
		return Result{N: n}
	}
}

// Close closes the descriptor exactly once; subsequent calls are a
// cheap no-op, since a closed fd number can be reused by the kernel for
// an unrelated descriptor and a second close() would hit that one.
func (f *FD) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return unix.Close(f.raw)
}
