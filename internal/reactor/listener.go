package reactor

import (
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/helouazizi/localserver/internal/config"
)

// listenerSet is one bound (host, port) pair and the virtual servers a
// request landing on it can be routed to by Host header.
type listenerSet struct {
	file    *os.File // kept alive so its fd's finalizer never fires early
	fd      int
	port    uint16
	servers []*config.Server
}

// newListener opens a TCP listener on host:port and takes over its raw
// fd for our own epoll registration, the way a hand-rolled reactor
// must: net.Listen does the bind/listen syscalls correctly, then
// (*net.TCPListener).File() hands back a dup'd, already non-blocking
// descriptor (Go's runtime always opens listening sockets non-blocking
// for its own netpoller) that outlives the original net.Listener.
func newListener(host string, port uint16, servers []*config.Server) (*listenerSet, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "reactor: listen %s", addr)
	}
	tcpLn := ln.(*net.TCPListener)
	file, err := tcpLn.File()
	ln.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "reactor: dup listener fd %s", addr)
	}
	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "reactor: set listener non-blocking")
	}
	return &listenerSet{file: file, fd: fd, port: port, servers: servers}, nil
}

func (l *listenerSet) Close() error {
	return l.file.Close()
}

// groupBound groups config.Expand's flattened triples back by (host,
// port), since several Server blocks can share one listener and are
// disambiguated at request time by Host header.
func groupBound(bounds []config.Bound) map[string][]*config.Server {
	groups := make(map[string][]*config.Server)
	for _, b := range bounds {
		key := net.JoinHostPort(b.Host, strconv.Itoa(int(b.Port)))
		groups[key] = append(groups[key], b.Server)
	}
	return groups
}
