// Package respwrite serializes an httpmsg.Response into the bytes the
// reactor drains onto a connection's socket on writable readiness.
// Status-line/header sequencing and the chunked-encoding wire format
// are grounded on the prior implementation's chunk_writer.go,
// restructured around a pull-based Source instead of chunk_writer's
// push-based io.Writer, since nothing here may block.
package respwrite

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/httpmsg"
)

// Writer incrementally serializes one Response. Callers drain Pending,
// advance by however many bytes the socket accepted, and call PumpMore
// when Pending is empty and !Done to fetch more body bytes.
type Writer struct {
	resp      *httpmsg.Response
	keepAlive bool
	chunked   bool

	pending []byte // bytes not yet handed to the socket
	bodyDone bool
	closed   bool
}

// New builds a writer for resp. keepAlive reflects the connection
// decision the caller already made (Connection: close honored, etc);
// New finalizes headers (Date, Server, Content-Length/Transfer-Encoding,
// Connection, Set-Cookie) accordingly.
func New(resp *httpmsg.Response, keepAlive bool, sessionCookie string) *Writer {
	if resp.Header == nil {
		resp.Header = hdr.Header{}
	}
	w := &Writer{resp: resp, keepAlive: keepAlive && !resp.CloseAfter}

	resp.Header.Set(hdr.Date, time.Now().UTC().Format(hdr.TimeFormat))
	if resp.Header.Get(hdr.ServerHeader) == "" {
		resp.Header.Set(hdr.ServerHeader, "localserver")
	}
	if sessionCookie != "" {
		resp.Header.Add(hdr.SetCookieHeader, "SESSION_ID="+sessionCookie+"; Path=/; HttpOnly")
	}

	switch {
	case resp.Source != nil && resp.ContentLengthUnknown:
		w.chunked = true
		resp.Header.Set(hdr.TransferEncoding, "chunked")
		resp.Header.Del(hdr.ContentLength)
	case resp.Source != nil:
		// caller already set Content-Length for a known-size stream
	default:
		// A bodiless response that already names its length (HEAD on a
		// static file) keeps it.
		if resp.Body != nil || resp.Header.Get(hdr.ContentLength) == "" {
			resp.Header.Set(hdr.ContentLength, strconv.Itoa(len(resp.Body)))
		}
	}

	if w.keepAlive {
		resp.Header.Set(hdr.Connection, "keep-alive")
	} else {
		resp.Header.Set(hdr.Connection, "close")
	}

	w.pending = append(w.pending, buildHead(resp)...)
	if resp.Source == nil {
		w.pending = append(w.pending, resp.Body...)
		w.bodyDone = true
	}
	return w
}

func buildHead(resp *httpmsg.Response) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", resp.Status, StatusText(resp.Status))
	for k, vv := range resp.Header {
		for _, v := range vv {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// KeepAlive reports the final keep-alive decision baked into the
// headers already written.
func (w *Writer) KeepAlive() bool { return w.keepAlive }

// Pending returns bytes ready to be written to the socket.
func (w *Writer) Pending() []byte { return w.pending }

// Advance removes n written bytes from the front of Pending.
func (w *Writer) Advance(n int) {
	w.pending = w.pending[n:]
}

// Done reports whether every byte of the response (and, for a
// streaming body, its source) has been fully handed to Pending and
// drained.
func (w *Writer) Done() bool {
	return w.bodyDone && len(w.pending) == 0
}

// NeedsMore reports whether PumpMore should be called: the pending
// buffer is empty but the body source isn't finished yet.
func (w *Writer) NeedsMore() bool {
	return len(w.pending) == 0 && !w.bodyDone
}

// PumpMore pulls the next chunk from the response's Source and encodes
// it into Pending (chunk-framed if chunked, raw otherwise).
func (w *Writer) PumpMore() error {
	if w.resp.Source == nil || w.bodyDone {
		return nil
	}
	chunk, done, err := w.resp.Source.Next()
	if err != nil {
		return err
	}
	if len(chunk) > 0 {
		if w.chunked {
			w.pending = append(w.pending, chunkFrame(chunk)...)
		} else {
			w.pending = append(w.pending, chunk...)
		}
	}
	if done {
		if w.chunked {
			w.pending = append(w.pending, []byte("0\r\n\r\n")...)
		}
		w.bodyDone = true
		if closeErr := w.resp.Source.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func chunkFrame(p []byte) []byte {
	out := make([]byte, 0, len(p)+16)
	out = append(out, []byte(strconv.FormatInt(int64(len(p)), 16))...)
	out = append(out, '\r', '\n')
	out = append(out, p...)
	out = append(out, '\r', '\n')
	return out
}
