package httpparse

import (
	"strconv"
	"strings"

	"github.com/helouazizi/localserver/hdr"
)

// Sink receives decoded body bytes as they arrive. Implementations are
// either an in-memory accumulator (small bodies) or a streaming
// destination — an upload file or a CGI child's stdin pipe — chosen by
// the route that matched the request.
type Sink interface {
	Write(p []byte) error
}

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkCRLF
	chunkTrailer
	chunkDone
)

// BodyDecoder drains a request body per the framing HeadParser decided,
// enforcing the effective max_body_size limit byte-for-byte: no body
// byte is ever admitted to the sink once the running total exceeds the
// limit, and the check happens before Sink.Write, not after.
type BodyDecoder struct {
	framing  Framing
	sink     Sink
	maxBody  uint64
	consumed uint64

	fixedRemaining int64

	chunkSt        chunkState
	chunkRemaining int64
	lineBuf        []byte
	Trailer        hdr.Header
}

// NewBodyDecoder constructs a decoder for one request body. For
// FramingFixed, contentLength must already have been checked against
// maxBody by the caller so that an oversized declared length is
// rejected before a single body byte is read; NewBodyDecoder re-checks
// defensively and returns a *ParseError if it wasn't.
func NewBodyDecoder(framing Framing, contentLength int64, maxBody uint64, sink Sink) (*BodyDecoder, error) {
	d := &BodyDecoder{framing: framing, sink: sink, maxBody: maxBody}
	switch framing {
	case FramingFixed:
		if maxBody > 0 && uint64(contentLength) > maxBody {
			return nil, newErr(StatusPayloadTooLarge, "declared Content-Length exceeds route limit")
		}
		d.fixedRemaining = contentLength
	case FramingChunked:
		d.chunkSt = chunkSize
	}
	return d, nil
}

// Done reports whether the body (and, for chunked, its trailers) has
// been fully decoded.
func (d *BodyDecoder) Done() bool {
	switch d.framing {
	case FramingNone:
		return true
	case FramingFixed:
		return d.fixedRemaining == 0
	case FramingChunked:
		return d.chunkSt == chunkDone
	}
	return true
}

// Feed consumes as much of data as the current state allows, returning
// the number of bytes consumed. Call repeatedly, once per readiness
// event, until Done or an error.
func (d *BodyDecoder) Feed(data []byte) (consumed int, err error) {
	switch d.framing {
	case FramingFixed:
		return d.feedFixed(data)
	case FramingChunked:
		return d.feedChunked(data)
	default:
		return 0, nil
	}
}

func (d *BodyDecoder) admit(p []byte) error {
	d.consumed += uint64(len(p))
	if d.maxBody > 0 && d.consumed > d.maxBody {
		return newErr(StatusPayloadTooLarge, "body exceeds route limit")
	}
	if len(p) == 0 {
		return nil
	}
	return d.sink.Write(p)
}

func (d *BodyDecoder) feedFixed(data []byte) (int, error) {
	if d.fixedRemaining == 0 {
		return 0, nil
	}
	n := int64(len(data))
	if n > d.fixedRemaining {
		n = d.fixedRemaining
	}
	if err := d.admit(data[:n]); err != nil {
		return 0, err
	}
	d.fixedRemaining -= n
	return int(n), nil
}

func (d *BodyDecoder) feedChunked(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		rest := data[total:]
		switch d.chunkSt {
		case chunkSize:
			line, n, ok, err := d.takeChunkLine(rest)
			total += n
			if err != nil {
				return total, err
			}
			if !ok {
				return total, nil
			}
			size, err := parseChunkSizeLine(line)
			if err != nil {
				return total, err
			}
			if size == 0 {
				d.chunkSt = chunkTrailer
			} else {
				d.chunkRemaining = size
				d.chunkSt = chunkData
			}
		case chunkData:
			n := int64(len(rest))
			if n > d.chunkRemaining {
				n = d.chunkRemaining
			}
			if err := d.admit(rest[:n]); err != nil {
				return total, err
			}
			total += int(n)
			d.chunkRemaining -= n
			if d.chunkRemaining == 0 {
				d.chunkSt = chunkCRLF
			}
			if n == 0 {
				return total, nil
			}
		case chunkCRLF:
			// The terminator may arrive split across Feed calls; lineBuf
			// holds its '\r' until the '\n' shows up.
			if rest[0] != "\r\n"[len(d.lineBuf)] {
				return total, newErr(StatusBadRequest, "malformed chunk terminator")
			}
			total++
			if len(d.lineBuf) == 0 {
				d.lineBuf = append(d.lineBuf, '\r')
				continue
			}
			d.lineBuf = nil
			d.chunkSt = chunkSize
		case chunkTrailer:
			line, n, ok, err := d.takeChunkLine(rest)
			total += n
			if err != nil {
				return total, err
			}
			if !ok {
				return total, nil
			}
			if len(line) == 0 {
				d.chunkSt = chunkDone
				return total, nil
			}
			if d.Trailer == nil {
				d.Trailer = hdr.Header{}
			}
			if colon := indexByte(line, ':'); colon >= 0 {
				d.Trailer.Add(string(line[:colon]), strings.TrimSpace(string(line[colon+1:])))
			}
		case chunkDone:
			return total, nil
		}
	}
	return total, nil
}

// takeChunkLine looks for a CRLF within rest, returning the assembled
// line (without CRLF, including any previously-buffered partial line)
// and how many bytes of rest were consumed.
func (d *BodyDecoder) takeChunkLine(rest []byte) (line []byte, consumed int, ok bool, err error) {
	// A CRLF split across two Feed calls leaves its '\r' at the end of
	// lineBuf and its '\n' at the front of rest.
	if n := len(d.lineBuf); n > 0 && d.lineBuf[n-1] == '\r' && len(rest) > 0 && rest[0] == '\n' {
		line = d.lineBuf[:n-1]
		d.lineBuf = nil
		return line, 1, true, nil
	}
	idx := indexCRLF(rest)
	if idx < 0 {
		if len(d.lineBuf)+len(rest) > 8<<10 {
			return nil, 0, false, newErr(StatusBadRequest, "chunk line too long")
		}
		d.lineBuf = append(d.lineBuf, rest...)
		return nil, len(rest), false, nil
	}
	d.lineBuf = append(d.lineBuf, rest[:idx]...)
	line = d.lineBuf
	d.lineBuf = nil
	return line, idx + 2, true, nil
}

// parseChunkSizeLine parses a hex chunk-size line, discarding any
// chunk-extension after ';' — chunk extensions are accepted and
// discarded without interpretation, matching net/http's
// removeChunkExtension behavior.
func parseChunkSizeLine(line []byte) (int64, error) {
	if semi := indexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = trimASCIISpace(line)
	if len(line) == 0 {
		return 0, newErr(StatusBadRequest, "empty chunk size")
	}
	n, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || n < 0 {
		return 0, newErr(StatusBadRequest, "malformed chunk size")
	}
	return n, nil
}

func trimASCIISpace(b []byte) []byte {
	for len(b) > 0 && isSpace(b[0]) {
		b = b[1:]
	}
	for len(b) > 0 && isSpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\r' || c == '\n' }
