package reactor

import (
	"time"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/cgi"
	"github.com/helouazizi/localserver/internal/config"
	"github.com/helouazizi/localserver/internal/httpmsg"
	"github.com/helouazizi/localserver/internal/httpparse"
	"github.com/helouazizi/localserver/internal/netfd"
	"github.com/helouazizi/localserver/internal/respwrite"
)

// connState is the per-connection state machine:
// ReadingRequest -> Dispatched -> WritingResponse -> (KeepAlive | Closing).
// Dispatched splits into awaiting-CGI when the route is a CGI script,
// since that leg can span many readiness events before a response
// exists to write.
type connState int

const (
	stateReadingHead connState = iota
	stateReadingBody
	stateAwaitingCGI
	stateWriting
	stateClosing
)

// memSink buffers a request body fully in memory. Every route kind in
// this implementation dispatches against a fully-buffered body
// (static/upload/delete policy reads route.MaxBodySize the same way
// regardless of kind); no body is streamed straight to a file-backed
// Sink.
type memSink struct{ buf []byte }

func (s *memSink) Write(p []byte) error {
	s.buf = append(s.buf, p...)
	return nil
}

// discardSink drains a body whose route never resolved (so there is
// nowhere useful to put it) without holding it in memory; the request
// still needs its body fully consumed off the wire before the
// connection can serve its error response and move on.
type discardSink struct{}

func (discardSink) Write(p []byte) error { return nil }

// Connection is one accepted client socket and everything needed to
// carry it from raw bytes to a dispatched response and back to
// ReadingRequest (or Closing).
type Connection struct {
	fd         *netfd.FD
	id         int // == fd
	remoteAddr string
	servers    []*config.Server

	state        connState
	lastActivity time.Time
	localPort    uint16

	readBuf []byte

	head    *httpparse.HeadParser
	reqHead *httpparse.RequestHead

	body     *httpparse.BodyDecoder
	bodySink *memSink

	server *config.Server
	route  *config.Route

	writer *respwrite.Writer

	cgiJob      *cgi.Job
	cgiBody     []byte
	cgiSent     int
	cgiStdinEOF bool
	cgiTimedOut bool // set by sweepCGI once the job runs past cgiTimeout
}

func newConnection(fd int, remoteAddr string, servers []*config.Server, now time.Time) *Connection {
	return &Connection{
		fd:           netfd.New(fd),
		id:           fd,
		remoteAddr:   remoteAddr,
		servers:      servers,
		state:        stateReadingHead,
		lastActivity: now,
		head:         httpparse.NewHeadParser(0, 0),
	}
}

// touch records I/O activity for the idle-timeout sweep.
func (c *Connection) touch(now time.Time) { c.lastActivity = now }

// resetForNextRequest returns the connection to ReadingRequest after a
// fully-written keep-alive response. Any bytes already pipelined onto
// readBuf are left untouched for the caller to replay through feed,
// since replaying them here too would double-feed the next request's
// head parser.
func (c *Connection) resetForNextRequest() {
	c.head = httpparse.NewHeadParser(0, 0)
	c.reqHead = nil
	c.body = nil
	c.bodySink = nil
	c.server = nil
	c.route = nil
	c.writer = nil
	c.cgiJob = nil
	c.cgiBody = nil
	c.cgiSent = 0
	c.cgiStdinEOF = false
	c.cgiTimedOut = false
	c.state = stateReadingHead
}

// buildRequest assembles an httpmsg.Request from the parsed head and
// buffered body once both are complete.
func (c *Connection) buildRequest() *httpmsg.Request {
	var body []byte
	if c.bodySink != nil {
		body = c.bodySink.buf
	}
	var trailer hdr.Header
	if c.body != nil {
		trailer = c.body.Trailer
	}
	host := hostOf(c.reqHead.Header)
	return &httpmsg.Request{
		Method:     c.reqHead.Method,
		Path:       c.reqHead.Path,
		Query:      c.reqHead.Query,
		RawTarget:  c.reqHead.RawTarget,
		Major:      c.reqHead.Major,
		Minor:      c.reqHead.Minor,
		Header:     c.reqHead.Header,
		Trailer:    trailer,
		Host:       host,
		RemoteAddr: c.remoteAddr,
		Body:       body,
	}
}

func hostOf(h hdr.Header) string {
	return config.StripPort(h.Get(hdr.Host))
}

// wantsKeepAlive decides the keep-alive default for the parsed
// request's HTTP version and Connection header.
func wantsKeepAlive(head *httpparse.RequestHead) bool {
	conn := head.Header.Get(hdr.Connection)
	switch {
	case conn == "close":
		return false
	case head.Major == 1 && head.Minor == 0:
		return conn == "keep-alive"
	default:
		return true
	}
}
