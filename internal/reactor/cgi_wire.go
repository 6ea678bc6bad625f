package reactor

import (
	"github.com/pkg/errors"

	"github.com/helouazizi/localserver/internal/cgi"
	"github.com/helouazizi/localserver/internal/errpage"
	"github.com/helouazizi/localserver/internal/httpmsg"
	"github.com/helouazizi/localserver/internal/poller"
	"github.com/helouazizi/localserver/internal/respwrite"
	"github.com/helouazizi/localserver/internal/router"
)

// errCGIChildFailed stands in as the response body whenever a CGI
// child exits (or the reactor gives up on it) before producing a
// parseable response head.
var errCGIChildFailed = errors.New("cgi: child exited without producing a response")

// errCGITimedOut is the response body for a job the reactor itself
// killed after it ran past cgiTimeout without emitting headers.
var errCGITimedOut = errors.New("cgi: timed out before producing a response")

// startCGI spawns dispatch's interpreter/script, registers its pipes
// with the poller, and moves c into AwaitingCGI. The request body, if
// any, is forwarded to the child's stdin as its write end reports
// writable (or immediately closed if there is none).
func (r *Reactor) startCGI(c *Connection, dispatch *router.CGIDispatch, req *httpmsg.Request) {
	env := cgi.Env(req, dispatch.ScriptName, dispatch.PathInfo, req.Host, c.localPort)
	job, err := cgi.Start(dispatch.Interpreter, dispatch.ScriptPath, env)
	if err != nil {
		resp := errpage.Response(errorPagesFor(c), 502, "cgi: "+err.Error())
		r.beginWrite(c, resp)
		return
	}

	c.cgiJob = job
	c.cgiBody = req.Body
	c.state = stateAwaitingCGI

	r.poller.Register(job.StdoutFD(), poller.Readable)
	r.cgiIndex[job.StdoutFD()] = c
	r.poller.Register(job.StderrFD(), poller.Readable)
	r.cgiIndex[job.StderrFD()] = c

	if len(c.cgiBody) == 0 {
		job.CloseStdin()
		c.cgiStdinEOF = true
		return
	}
	r.poller.Register(job.StdinFD(), poller.Writable)
	r.cgiIndex[job.StdinFD()] = c
}

func (r *Reactor) handleCGIEvent(c *Connection, fd int, ev poller.Event) {
	job := c.cgiJob
	if job == nil {
		return
	}
	switch fd {
	case job.StdoutFD():
		eof, err := job.PumpStdout()
		if err != nil {
			r.cgiFail(c, err)
			return
		}
		if job.HeadersParsed() && c.writer == nil {
			r.beginCGIWrite(c, job)
		} else if c.writer != nil {
			r.flush(c)
		}
		if eof {
			r.poller.Deregister(fd)
			delete(r.cgiIndex, fd)
			if !job.HeadersParsed() {
				r.cgiFail(c, errCGIChildFailed)
			}
		}
	case job.StderrFD():
		eof, _ := job.PumpStderr()
		if eof {
			r.poller.Deregister(fd)
			delete(r.cgiIndex, fd)
		}
	case job.StdinFD():
		r.pumpCGIStdin(c, job)
	}
}

func (r *Reactor) pumpCGIStdin(c *Connection, job *cgi.Job) {
	remaining := c.cgiBody[c.cgiSent:]
	if len(remaining) == 0 {
		r.closeCGIStdin(c, job)
		return
	}
	res := job.WriteStdin(remaining)
	switch {
	case res.WouldBlock:
		return
	case res.Err != nil:
		r.cgiFail(c, res.Err)
		return
	default:
		c.cgiSent += res.N
		if c.cgiSent >= len(c.cgiBody) {
			r.closeCGIStdin(c, job)
		}
	}
}

func (r *Reactor) closeCGIStdin(c *Connection, job *cgi.Job) {
	if c.cgiStdinEOF {
		return
	}
	job.CloseStdin()
	c.cgiStdinEOF = true
	r.poller.Deregister(job.StdinFD())
	delete(r.cgiIndex, job.StdinFD())
}

// beginCGIWrite turns a CGI job's parsed head into a response and
// hands it to the same writer path a static/upload response uses,
// streaming the remaining body through cgi.Source as it arrives.
func (r *Reactor) beginCGIWrite(c *Connection, job *cgi.Job) {
	head := job.ParsedHead()
	resp := &httpmsg.Response{
		Status:               head.Status,
		Header:               head.Header,
		Source:               cgi.NewSource(job),
		ContentLengthUnknown: true,
	}
	keepAlive := wantsKeepAlive(c.reqHead) && !resp.CloseAfter
	var cookie string
	if c.reqHead != nil {
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

// cgiFail answers a CGI job that died before producing headers. A job
// the reactor itself killed after cgiTimeout (c.cgiTimedOut) answers
// 504; any other death (crash, broken pipe) answers 502.
func (r *Reactor) cgiFail(c *Connection, err error) {
	r.teardownCGI(c)
	if c.writer != nil {
		// Body streaming had already started; nothing sane to send but
		// to drop the connection once what was already buffered drains.
		r.closeConn(c)
		return
	}
	status := 502
	if c.cgiTimedOut {
		status = 504
		err = errCGITimedOut
	}
	resp := errpage.Response(errorPagesFor(c), status, err.Error())
	r.beginWrite(c, resp)
}

// errorPagesFor returns the error_pages map of the virtual server
// selected for c, or nil if none was (a malformed request line can
// fail before server selection runs).
func errorPagesFor(c *Connection) map[int]string {
	if c.server == nil {
		return nil
	}
	return c.server.ErrorPages
}

// teardownCGI deregisters whatever of a job's three pipes are still in
// the poller and releases the Job; called once the response has been
// fully written, on a hard CGI failure, or when the connection itself
// is closing out from under an in-flight job.
func (r *Reactor) teardownCGI(c *Connection) {
	job := c.cgiJob
	if job == nil {
		return
	}
	for _, fd := range []int{job.StdinFD(), job.StdoutFD(), job.StderrFD()} {
		r.poller.Deregister(fd)
		delete(r.cgiIndex, fd)
	}
	job.Close()
	c.cgiJob = nil
}
