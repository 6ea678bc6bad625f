// Package httpparse is the incremental HTTP/1.1 byte consumer. It is
// deliberately not built on bufio.Reader: a bufio.Reader's
// ReadString/ReadSlice block for more data, which is incompatible with
// a reactor that must never suspend anywhere but its single poller
// wait. Instead each parser is a value advanced by repeated Feed calls
// as bytes arrive off the socket.
//
// The request-line/header grammar and the chunk-line/chunk-extension
// stripping rules are grounded on the prior implementation's transfer
// code (utils_chunks.go's readChunkLine/removeChunkExtension), ported
// from a blocking bufio.Reader pull model to this push/accumulate one.
package httpparse

import (
	"strconv"
	"strings"

	"github.com/helouazizi/localserver/hdr"
)

// Framing identifies how a request's body is delimited.
type Framing int

const (
	FramingNone Framing = iota
	FramingFixed
	FramingChunked
)

// Status is a coarse HTTP error classification a parse failure maps to.
type Status int

const (
	StatusBadRequest         Status = 400
	StatusHeaderTooLarge     Status = 431
	StatusPayloadTooLarge    Status = 413
	StatusNotImplementedEnc  Status = 501
)

// ParseError is returned by parser methods on malformed input; Status
// is the HTTP status the connection must answer with.
type ParseError struct {
	Status Status
	Msg    string
}

func (e *ParseError) Error() string { return e.Msg }

func newErr(s Status, msg string) error { return &ParseError{Status: s, Msg: msg} }

// RequestHead is everything parsed before the body: request line plus
// headers, and the body framing decision derived from them.
type RequestHead struct {
	Method        string
	RawTarget     string
	Path          string
	Query         string
	Major, Minor  int
	Header        hdr.Header
	Framing       Framing
	ContentLength int64 // valid when Framing == FramingFixed
}

type headState int

const (
	stateRequestLine headState = iota
	stateHeaders
	stateHeadDone
)

// HeadParser accumulates bytes until a full request-line+headers block
// is available, enforcing its configured header size/count limits.
type HeadParser struct {
	buf            []byte
	state          headState
	maxHeaderBytes int
	maxHeaderCount int
	headerBytes    int

	head RequestHead
}

// NewHeadParser returns a parser enforcing the given header limits.
// maxHeaderBytes <= 0 means "use the 8 KiB default".
func NewHeadParser(maxHeaderBytes, maxHeaderCount int) *HeadParser {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = 8 << 10
	}
	if maxHeaderCount <= 0 {
		maxHeaderCount = 100
	}
	return &HeadParser{
		maxHeaderBytes: maxHeaderBytes,
		maxHeaderCount: maxHeaderCount,
		head:           RequestHead{Header: hdr.Header{}},
	}
}

// Feed appends newly-read bytes to the parser's accumulation buffer.
func (p *HeadParser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// Buffered reports how many bytes of a request line/headers have been
// accumulated so far, so a caller can tell a connection that has
// started sending a request from one that is merely idle between
// requests.
func (p *HeadParser) Buffered() int { return len(p.buf) }

// Parse advances as far as the currently-buffered bytes allow. It
// returns (head, true, nil) once the blank line terminating headers has
// been seen; (nil, false, nil) if more bytes are needed; or a
// *ParseError mapping to the status the caller must answer with.
func (p *HeadParser) Parse() (*RequestHead, bool, error) {
	for {
		switch p.state {
		case stateRequestLine:
			line, ok, err := p.takeLine()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			if err := p.parseRequestLine(line); err != nil {
				return nil, false, err
			}
			p.state = stateHeaders
		case stateHeaders:
			line, ok, err := p.takeLine()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			if len(line) == 0 {
				p.state = stateHeadDone
				p.head.Framing, p.head.ContentLength, err = decideFraming(p.head.Header)
				if err != nil {
					return nil, false, err
				}
				return &p.head, true, nil
			}
			if err := p.parseHeaderLine(line); err != nil {
				return nil, false, err
			}
		case stateHeadDone:
			return &p.head, true, nil
		}
	}
}

// Remainder returns and clears bytes already read past the header block
// (the start of the body, possibly pipelined onto the next request).
func (p *HeadParser) Remainder() []byte {
	rest := p.buf
	p.buf = nil
	return rest
}

// takeLine extracts one CRLF-terminated line (without the CRLF) from
// the front of the buffer, honoring the header byte/line-count budget.
func (p *HeadParser) takeLine() (line []byte, ok bool, err error) {
	idx := indexCRLF(p.buf)
	if idx < 0 {
		if len(p.buf) > p.maxHeaderBytes {
			return nil, false, newErr(StatusHeaderTooLarge, "header line exceeds limit")
		}
		return nil, false, nil
	}
	line = p.buf[:idx]
	p.buf = p.buf[idx+2:]
	p.headerBytes += idx + 2
	if p.headerBytes > p.maxHeaderBytes {
		return nil, false, newErr(StatusHeaderTooLarge, "headers exceed byte limit")
	}
	return line, true, nil
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func (p *HeadParser) parseRequestLine(line []byte) error {
	s := string(line)
	parts := strings.SplitN(s, " ", 3)
	if len(parts) != 3 {
		return newErr(StatusBadRequest, "malformed request line")
	}
	method, target, version := parts[0], parts[1], parts[2]
	if method == "" || target == "" {
		return newErr(StatusBadRequest, "malformed request line")
	}
	major, minor, ok := parseHTTPVersion(version)
	if !ok {
		return newErr(StatusBadRequest, "malformed HTTP version")
	}
	path, query := target, ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path, query = target[:i], target[i+1:]
	}
	p.head.Method = method
	p.head.RawTarget = target
	p.head.Path = path
	p.head.Query = query
	p.head.Major, p.head.Minor = major, minor
	return nil
}

func parseHTTPVersion(s string) (major, minor int, ok bool) {
	if !strings.HasPrefix(s, "HTTP/") || len(s) != len("HTTP/1.1") {
		return 0, 0, false
	}
	if s[6] != '.' {
		return 0, 0, false
	}
	major = int(s[5] - '0')
	minor = int(s[7] - '0')
	if major < 0 || major > 9 || minor < 0 || minor > 9 {
		return 0, 0, false
	}
	return major, minor, true
}

func (p *HeadParser) parseHeaderLine(line []byte) error {
	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		// obsolete line folding: rejected
		return newErr(StatusBadRequest, "obsolete line folding not supported")
	}
	colon := indexByte(line, ':')
	if colon < 0 {
		return newErr(StatusBadRequest, "malformed header line")
	}
	name := string(line[:colon])
	if !hdr.ValidHeaderFieldName(name) {
		return newErr(StatusBadRequest, "invalid header field name")
	}
	value := strings.TrimSpace(string(line[colon+1:]))
	if !hdr.ValidHeaderFieldValue(value) {
		return newErr(StatusBadRequest, "invalid header field value")
	}
	p.head.Header.Add(name, value)
	if len(p.head.Header) > p.maxHeaderCount {
		return newErr(StatusHeaderTooLarge, "too many headers")
	}
	return nil
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// decideFraming picks the body framing: chunked wins over
// fixed; absent both, there's no body.
func decideFraming(h hdr.Header) (Framing, int64, error) {
	if te := h.Get(hdr.TransferEncoding); te != "" {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return FramingNone, 0, newErr(StatusNotImplementedEnc, "unsupported transfer-encoding")
		}
		return FramingChunked, 0, nil
	}
	if cl := h.Get(hdr.ContentLength); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return FramingNone, 0, newErr(StatusBadRequest, "malformed Content-Length")
		}
		return FramingFixed, n, nil
	}
	return FramingNone, 0, nil
}
