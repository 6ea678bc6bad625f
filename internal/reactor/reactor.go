// Package reactor drives the single-threaded, readiness-based event
// loop: one epoll instance, accepted connections, and the CGI pipes
// those connections spawn, all multiplexed through poller.Poller.Wait
// and never a blocking read/write outside the pipe-reaper goroutine
// internal/cgi already owns.
//
// The loop shape (a receivers-map keyed by fd, one epoll_wait per
// iteration, a wait error the poller itself can't recover from logged
// and returned from Run) is grounded on docker-compose's monitor/monitor_linux.go;
// generalized here from hangup-only notification to full
// readable/writable interest and from one receiver type to three
// (listener, connection, CGI pipe).
package reactor

import (
	"context"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/config"
	"github.com/helouazizi/localserver/internal/errpage"
	"github.com/helouazizi/localserver/internal/httpmsg"
	"github.com/helouazizi/localserver/internal/httpparse"
	"github.com/helouazizi/localserver/internal/poller"
	"github.com/helouazizi/localserver/internal/respwrite"
	"github.com/helouazizi/localserver/internal/router"
)

// BindError wraps any failure during listener setup, distinguishing it
// (exit code 2) from a runtime error encountered once
// the loop is already serving traffic.
type BindError struct{ Err error }

func (e *BindError) Error() string { return e.Err.Error() }
func (e *BindError) Unwrap() error { return e.Err }

// waitTimeoutMs bounds how long one epoll_wait blocks, so the loop can
// still notice ctx cancellation and sweep idle connections/CGI jobs
// between bursts of readiness.
const waitTimeoutMs = 1000

// Reactor owns one epoll instance, every listener bound to it, every
// accepted connection, and an index from a CGI job's pipe fds back to
// the connection that spawned it.
type Reactor struct {
	poller    *poller.Poller
	listeners map[int]*listenerSet
	conns     map[int]*Connection
	cgiIndex  map[int]*Connection

	cfg         *config.Global
	idleTimeout time.Duration
	cgiTimeout  time.Duration
}

// Run binds every configured server, then drives the event loop until
// ctx is canceled or an unrecoverable poller error occurs.
func Run(ctx context.Context, cfg *config.Global) error {
	p, err := poller.New()
	if err != nil {
		return &BindError{Err: err}
	}
	r := &Reactor{
		poller:      p,
		listeners:   make(map[int]*listenerSet),
		conns:       make(map[int]*Connection),
		cgiIndex:    make(map[int]*Connection),
		cfg:         cfg,
		idleTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		cgiTimeout:  time.Duration(cfg.CGITimeoutSeconds) * time.Second,
	}
	defer r.closeAll()

	for addr, servers := range groupBound(config.Expand(cfg)) {
		ls, err := newListenerAddr(addr, servers)
		if err != nil {
			return &BindError{Err: err}
		}
		if err := r.poller.Register(ls.fd, poller.Readable); err != nil {
			ls.Close()
			return &BindError{Err: err}
		}
		r.listeners[ls.fd] = ls
		logrus.WithField("addr", addr).Info("localserver: listening")
	}

	events := make([]unix.EpollEvent, 256)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		evs, err := r.poller.Wait(events, waitTimeoutMs)
		if err != nil {
			logrus.WithField("error", err).Error("reactor: epoll wait")
			return err
		}
		for _, ev := range evs {
			r.dispatchEvent(ev)
		}
		r.sweep(time.Now())
	}
}

func newListenerAddr(addr string, servers []*config.Server) (*listenerSet, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, err
	}
	return newListener(host, port, servers)
}

func (r *Reactor) dispatchEvent(ev poller.Event) {
	if ls, ok := r.listeners[ev.Token]; ok {
		r.accept(ls)
		return
	}
	if c, ok := r.conns[ev.Token]; ok {
		r.handleConnEvent(c, ev)
		return
	}
	if c, ok := r.cgiIndex[ev.Token]; ok {
		r.handleCGIEvent(c, ev.Token, ev)
		return
	}
}

// accept drains every pending connection on ls, since edge-triggered
// readiness only fires once per burst.
func (r *Reactor) accept(ls *listenerSet) {
	for {
		fd, sa, err := unix.Accept4(ls.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			logrus.WithField("error", err).Warn("reactor: accept")
			return
		}
		c := newConnection(fd, remoteAddrOf(sa), ls.servers, time.Now())
		c.localPort = ls.port
		if err := r.poller.Register(fd, poller.Readable); err != nil {
			c.fd.Close()
			continue
		}
		r.conns[fd] = c
	}
}

func (r *Reactor) handleConnEvent(c *Connection, ev poller.Event) {
	if ev.Error {
		r.closeConn(c)
		return
	}
	if ev.Readable {
		r.onConnReadable(c)
		if c.state == stateClosing {
			return
		}
	}
	if ev.Hangup {
		// Edge-triggered EPOLLRDHUP can arrive alongside a final
		// readable burst; drain it above before honoring the hangup.
		r.closeConn(c)
		return
	}
	if ev.Writable {
		r.flush(c)
	}
}

func (r *Reactor) onConnReadable(c *Connection) {
	buf := make([]byte, 64<<10)
	for {
		res := c.fd.Read(buf)
		switch {
		case res.WouldBlock:
			return
		case res.PeerClosed:
			r.closeConn(c)
			return
		case res.Err != nil:
			r.closeConn(c)
			return
		default:
			c.touch(time.Now())
			r.feed(c, buf[:res.N])
			if c.state == stateClosing {
				return
			}
		}
	}
}

// feed advances the connection's state machine with newly-read bytes:
// head accumulation, then body admission, then dispatch once the body
// is complete. A request that arrives on an already-busy connection
// (pipelined past a CGI dispatch still in flight) is buffered in
// readBuf and replayed once the connection returns to ReadingRequest.
func (r *Reactor) feed(c *Connection, data []byte) {
	for {
		switch c.state {
		case stateReadingHead:
			if data != nil {
				c.head.Feed(data)
				data = nil
			}
			head, ok, err := c.head.Parse()
			if err != nil {
				r.respondParseError(c, err)
				return
			}
			if !ok {
				return
			}
			c.reqHead = head
			data = c.head.Remainder()
			r.beginBody(c, head)
			continue
		case stateReadingBody:
			if data != nil {
				n, err := c.body.Feed(data)
				if err != nil {
					r.respondParseError(c, err)
					return
				}
				data = data[n:]
			}
			if !c.body.Done() {
				return
			}
			// Bytes past the end of this body belong to the next
			// pipelined request; keep them for finishResponse to replay.
			if len(data) > 0 {
				c.readBuf = append(c.readBuf, data...)
			}
			r.dispatch(c)
			return
		default:
			c.readBuf = append(c.readBuf, data...)
			return
		}
	}
}

// beginBody selects the virtual server and (if one matches) the route
// up front, purely to settle the effective max-body-size a BodyDecoder
// must enforce while bytes are still arriving; the real routing
// decision is made again, fully, once the body is complete.
func (r *Reactor) beginBody(c *Connection, head *httpparse.RequestHead) {
	server := router.SelectServer(c.servers, head.Header.Get(hdr.Host))
	c.server = server

	var sink httpparse.Sink
	maxBody := r.cfg.MaxServerSize
	if server != nil {
		if server.MaxBodySize > 0 {
			maxBody = server.MaxBodySize
		}
		if route, ok := router.SelectRoute(server, head.Path); ok {
			c.route = route
			if route.MaxBodySize > 0 {
				maxBody = route.MaxBodySize
			}
		}
	}
	if c.route == nil {
		sink = discardSink{}
	} else {
		mem := &memSink{}
		c.bodySink = mem
		sink = mem
	}

	decoder, err := httpparse.NewBodyDecoder(head.Framing, head.ContentLength, maxBody, sink)
	if err != nil {
		r.respondParseError(c, err)
		return
	}
	c.body = decoder
	c.state = stateReadingBody
}

func (r *Reactor) respondParseError(c *Connection, err error) {
	status := 400
	if pe, ok := err.(*httpparse.ParseError); ok {
		status = int(pe.Status)
	}
	resp := errpage.Response(errorPagesFor(c), status, err.Error())
	resp.CloseAfter = true
	r.beginWrite(c, resp)
}

func (r *Reactor) dispatch(c *Connection) {
	req := c.buildRequest()
	maxFileNameLength := 255
	if c.server != nil && c.server.UploadOptions != nil && c.server.UploadOptions.MaxFileNameLength > 0 {
		maxFileNameLength = c.server.UploadOptions.MaxFileNameLength
	}
	decision := router.Dispatch(c.server, req, maxFileNameLength)
	switch decision.Kind {
	case router.KindCGI:
		r.startCGI(c, decision.CGI, req)
	default:
		r.beginWrite(c, decision.Response)
	}
}

func sessionCookieFor(req *httpmsg.Request) string {
	if _, ok := req.Cookie("SESSION_ID"); ok {
		return ""
	}
	return uuid.New().String()
}

func (r *Reactor) beginWrite(c *Connection, resp *httpmsg.Response) {
	var keepAlive bool
	var cookie string
	if c.reqHead != nil {
		keepAlive = wantsKeepAlive(c.reqHead) && !resp.CloseAfter
		cookie = sessionCookieFor(c.buildRequest())
	}
	c.writer = respwrite.New(resp, keepAlive, cookie)
	c.state = stateWriting
	if err := r.poller.Reinterest(c.fd.Fd(), poller.Readable|poller.Writable); err != nil {
		r.closeConn(c)
		return
	}
	r.flush(c)
}

// flush drains as much of the writer's pending bytes to the socket as
// it will currently accept, pumping more from a streaming Source (CGI
// output, a large static file) whenever the pending buffer runs dry.
// Called from a socket-writable event, right after dispatch, and right
// after new CGI stdout bytes arrive, since none of those is guaranteed
// to coincide with the next edge-triggered EPOLLOUT.
func (r *Reactor) flush(c *Connection) {
	w := c.writer
	if w == nil {
		return
	}
	for {
		if pending := w.Pending(); len(pending) > 0 {
			res := c.fd.Write(pending)
			switch {
			case res.WouldBlock:
				return
			case res.PeerClosed, res.Err != nil:
				r.closeConn(c)
				return
			default:
				w.Advance(res.N)
				continue
			}
		}
		if w.NeedsMore() {
			if err := w.PumpMore(); err != nil {
				r.closeConn(c)
				return
			}
			if len(w.Pending()) == 0 && !w.Done() {
				return
			}
			continue
		}
		if w.Done() {
			r.finishResponse(c)
			return
		}
		return
	}
}

func (r *Reactor) finishResponse(c *Connection) {
	if c.cgiJob != nil {
		r.teardownCGI(c)
	}
	if !c.writer.KeepAlive() {
		r.closeConn(c)
		return
	}
	if err := r.poller.Reinterest(c.fd.Fd(), poller.Readable); err != nil {
		r.closeConn(c)
		return
	}
	pending := c.readBuf
	c.readBuf = nil
	c.resetForNextRequest()
	if len(pending) > 0 {
		r.feed(c, pending)
	}
}

func (r *Reactor) closeConn(c *Connection) {
	c.state = stateClosing
	if c.cgiJob != nil {
		r.teardownCGI(c)
	}
	r.poller.Deregister(c.fd.Fd())
	c.fd.Close()
	delete(r.conns, c.id)
}

// sweep closes connections idle past the configured timeout and
// escalates CGI jobs that have overrun cgiTimeout from SIGTERM to
// SIGKILL, reaping any job whose reaper goroutine has already posted
// an exit.
func (r *Reactor) sweep(now time.Time) {
	for _, c := range r.conns {
		if c.cgiJob != nil {
			r.sweepCGI(c, now)
			continue
		}
		if c.state == stateWriting || c.state == stateAwaitingCGI {
			continue
		}
		if r.idleTimeout > 0 && now.Sub(c.lastActivity) > r.idleTimeout {
			r.timeoutConn(c)
		}
	}
}

// timeoutConn closes c after an idle-timeout sweep. A connection that
// had already started sending a request (a partial head, or a head
// parsed and a body still filling in) gets a best-effort 408 before
// the close; one that is merely idle between keep-alive requests, with
// nothing yet buffered, is closed silently.
func (r *Reactor) timeoutConn(c *Connection) {
	midRequest := c.state == stateReadingBody || (c.state == stateReadingHead && c.head.Buffered() > 0)
	if midRequest {
		resp := errpage.Response(errorPagesFor(c), 408, "request timeout")
		resp.CloseAfter = true
		w := respwrite.New(resp, false, "")
		c.fd.Write(w.Pending())
	}
	r.closeConn(c)
}

func (r *Reactor) sweepCGI(c *Connection, now time.Time) {
	job := c.cgiJob
	if _, reaped := job.TryReap(); reaped {
		if !job.HeadersParsed() {
			r.cgiFail(c, errCGIChildFailed)
		}
		return
	}
	if r.cgiTimeout > 0 && now.Sub(job.StartedAt()) > r.cgiTimeout {
		c.cgiTimedOut = true
		job.Signal(syscall.SIGTERM)
		if now.Sub(job.StartedAt()) > r.cgiTimeout+5*time.Second {
			job.Signal(syscall.SIGKILL)
		}
	}
}

func (r *Reactor) closeAll() {
	for _, c := range r.conns {
		r.closeConn(c)
	}
	for _, ls := range r.listeners {
		r.poller.Deregister(ls.fd)
		ls.Close()
	}
	r.poller.Close()
}
