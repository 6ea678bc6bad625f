package hdr

import (
	"bufio"
	"strings"

	"github.com/pkg/errors"
)

// HeaderReader reads a block of MIME-style header lines (a multipart
// part's own header, distinct from the request/response head
// internal/httpparse and internal/respwrite own) off a buffered
// stream, terminated by a blank line.
type HeaderReader struct {
	R *bufio.Reader
}

// NewHeaderReader returns a Reader reading header lines from r. r
// should already be bounded (multipart parts are read from a
// bytes.Reader sized to the already-buffered request body, so an
// unbounded header block can't stall the reactor).
func NewHeaderReader(r *bufio.Reader) *HeaderReader {
	return &HeaderReader{R: r}
}

// ReadHeader reads lines until a blank line or EOF, splitting each on
// its first colon and canonicalizing the key the same way Header.Set
// does. Obsolete header-line folding (a continuation line starting
// with whitespace) is rejected rather than joined, matching the
// request head parser's policy.
func (r *HeaderReader) ReadHeader() (Header, error) {
	h := make(Header)
	for {
		line, err := r.readLine()
		if err != nil {
			return h, err
		}
		if line == "" {
			return h, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return h, errors.New("hdr: obsolete line folding not supported")
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return h, errors.Errorf("hdr: malformed MIME header line: %q", line)
		}
		key := CanonicalHeaderKey(TrimString(line[:colon]))
		if key == "" {
			return h, errors.New("hdr: empty MIME header name")
		}
		value := TrimString(line[colon+1:])
		h[key] = append(h[key], value)
	}
}

func (r *HeaderReader) readLine() (string, error) {
	line, err := r.R.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
