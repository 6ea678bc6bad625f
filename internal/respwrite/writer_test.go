package respwrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/httpmsg"
)

type fakeSource struct {
	chunks [][]byte
	i      int
}

func (s *fakeSource) Next() ([]byte, bool, error) {
	if s.i >= len(s.chunks) {
		return nil, true, nil
	}
	p := s.chunks[s.i]
	s.i++
	return p, s.i == len(s.chunks), nil
}

func (s *fakeSource) Close() error { return nil }

func TestWriterBufferedBodyIsImmediatelyDone(t *testing.T) {
	resp := httpmsg.NewResponse(200, []byte("hello"))
	w := New(resp, true, "")

	pending := string(w.Pending())
	assert.True(t, strings.HasPrefix(pending, "HTTP/1.1 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(pending, "\r\n\r\nhello"))
	assert.Contains(t, pending, "Content-Length: 5\r\n")
	assert.Contains(t, pending, "Connection: keep-alive\r\n")

	// No PumpMore is needed: once the bytes are written it is done.
	w.Advance(len(w.Pending()))
	assert.True(t, w.Done())
}

func TestWriterCloseAfterForcesConnectionClose(t *testing.T) {
	resp := httpmsg.NewResponse(400, nil)
	resp.CloseAfter = true
	w := New(resp, true, "")

	assert.False(t, w.KeepAlive())
	assert.Contains(t, string(w.Pending()), "Connection: close\r\n")
}

func TestWriterSessionCookieSet(t *testing.T) {
	resp := httpmsg.NewResponse(200, nil)
	w := New(resp, true, "abc-123")
	_ = w
	assert.Equal(t, "SESSION_ID=abc-123; Path=/; HttpOnly", resp.Header.Get(hdr.SetCookieHeader))
}

func TestWriterStreamedSourceChunked(t *testing.T) {
	resp := &httpmsg.Response{
		Status:                200,
		Header:                hdr.Header{},
		Source:               &fakeSource{chunks: [][]byte{[]byte("abc"), []byte("de")}},
		ContentLengthUnknown: true,
	}
	w := New(resp, true, "")
	assert.False(t, w.Done())
	assert.Equal(t, "chunked", resp.Header.Get(hdr.TransferEncoding))
	assert.Equal(t, "", resp.Header.Get(hdr.ContentLength))

	w.Advance(len(w.Pending()))
	require.True(t, w.NeedsMore())
	require.NoError(t, w.PumpMore())
	assert.Equal(t, "3\r\nabc\r\n", string(w.Pending()))

	w.Advance(len(w.Pending()))
	require.NoError(t, w.PumpMore())
	assert.Equal(t, "2\r\nde\r\n0\r\n\r\n", string(w.Pending()))
	w.Advance(len(w.Pending()))
	assert.True(t, w.Done())
}

func TestWriterStreamedSourceKnownLength(t *testing.T) {
	resp := &httpmsg.Response{
		Status: 200,
		Header: hdr.Header{hdr.ContentLength: []string{"5"}},
		Source: &fakeSource{chunks: [][]byte{[]byte("hello")}},
	}
	w := New(resp, true, "")
	assert.Equal(t, "", resp.Header.Get(hdr.TransferEncoding))
	assert.Equal(t, "5", resp.Header.Get(hdr.ContentLength))

	w.Advance(len(w.Pending()))
	require.NoError(t, w.PumpMore())
	assert.Equal(t, "hello", string(w.Pending()))
	w.Advance(len(w.Pending()))
	assert.True(t, w.Done())
}
