package httpparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helouazizi/localserver/hdr"
)

type collectSink struct{ got []byte }

func (s *collectSink) Write(p []byte) error {
	s.got = append(s.got, p...)
	return nil
}

func TestHeadParserSimpleRequest(t *testing.T) {
	p := NewHeadParser(0, 0)
	p.Feed([]byte("GET /a/b?x=1 HTTP/1.1\r\nHost: example.com\r\nX-Foo: bar\r\n\r\nleftover"))

	head, ok, err := p.Parse()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "GET", head.Method)
	assert.Equal(t, "/a/b", head.Path)
	assert.Equal(t, "x=1", head.Query)
	assert.Equal(t, 1, head.Major)
	assert.Equal(t, 1, head.Minor)
	assert.Equal(t, "example.com", head.Header.Get(hdr.Host))
	assert.Equal(t, "bar", head.Header.Get("X-Foo"))
	assert.Equal(t, []byte("leftover"), p.Remainder())
}

func TestHeadParserFeedAcrossCalls(t *testing.T) {
	p := NewHeadParser(0, 0)
	p.Feed([]byte("GET / HTTP/1.1\r\nHost: "))
	_, ok, err := p.Parse()
	require.NoError(t, err)
	require.False(t, ok)

	p.Feed([]byte("example.com\r\n\r\n"))
	head, ok, err := p.Parse()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "example.com", head.Header.Get(hdr.Host))
}

func TestHeadParserMalformedRequestLine(t *testing.T) {
	p := NewHeadParser(0, 0)
	p.Feed([]byte("GET /\r\n\r\n"))
	_, _, err := p.Parse()
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusBadRequest, pe.Status)
}

func TestHeadParserRejectsLineFolding(t *testing.T) {
	p := NewHeadParser(0, 0)
	p.Feed([]byte("GET / HTTP/1.1\r\nX-Foo: bar\r\n baz\r\n\r\n"))
	_, _, err := p.Parse()
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusBadRequest, pe.Status)
}

func TestHeadParserHeaderTooLarge(t *testing.T) {
	p := NewHeadParser(16, 0)
	p.Feed([]byte("GET / HTTP/1.1\r\nX-Long-Header-Name: some-long-value\r\n\r\n"))
	_, _, err := p.Parse()
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusHeaderTooLarge, pe.Status)
}

func TestHeadParserChunkedFraming(t *testing.T) {
	p := NewHeadParser(0, 0)
	p.Feed([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"))
	head, ok, err := p.Parse()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FramingChunked, head.Framing)
}

func TestHeadParserUnsupportedEncoding(t *testing.T) {
	p := NewHeadParser(0, 0)
	p.Feed([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n"))
	_, _, err := p.Parse()
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusNotImplementedEnc, pe.Status)
}

func TestBodyDecoderFixedLength(t *testing.T) {
	sink := &collectSink{}
	d, err := NewBodyDecoder(FramingFixed, 5, 0, sink)
	require.NoError(t, err)

	n, err := d.Feed([]byte("hel"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, d.Done())

	n, err = d.Feed([]byte("lo"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, d.Done())
	assert.Equal(t, "hello", string(sink.got))
}

func TestBodyDecoderFixedLengthOversizedContentLength(t *testing.T) {
	sink := &collectSink{}
	_, err := NewBodyDecoder(FramingFixed, 100, 10, sink)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusPayloadTooLarge, pe.Status)
}

func TestBodyDecoderFixedLengthOverLimitMidStream(t *testing.T) {
	sink := &collectSink{}
	d, err := NewBodyDecoder(FramingFixed, 10, 4, sink)
	require.NoError(t, err)
	_, err = d.Feed([]byte("12345678"))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusPayloadTooLarge, pe.Status)
}

func TestBodyDecoderChunked(t *testing.T) {
	sink := &collectSink{}
	d, err := NewBodyDecoder(FramingChunked, 0, 0, sink)
	require.NoError(t, err)

	raw := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	n, err := d.Feed([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.True(t, d.Done())
	assert.Equal(t, "Wikipedia", string(sink.got))
}

func TestBodyDecoderChunkedWithExtensionAndTrailer(t *testing.T) {
	sink := &collectSink{}
	d, err := NewBodyDecoder(FramingChunked, 0, 0, sink)
	require.NoError(t, err)

	raw := "3;foo=bar\r\nabc\r\n0\r\nX-Trailer: done\r\n\r\n"
	_, err = d.Feed([]byte(raw))
	require.NoError(t, err)
	assert.True(t, d.Done())
	assert.Equal(t, "abc", string(sink.got))
	assert.Equal(t, "done", d.Trailer.Get("X-Trailer"))
}

func TestBodyDecoderChunkedFedByteAtATime(t *testing.T) {
	sink := &collectSink{}
	d, err := NewBodyDecoder(FramingChunked, 0, 0, sink)
	require.NoError(t, err)

	raw := []byte("2\r\nhi\r\n0\r\n\r\n")
	for _, b := range raw {
		_, err := d.Feed([]byte{b})
		require.NoError(t, err)
	}
	assert.True(t, d.Done())
	assert.Equal(t, "hi", string(sink.got))
}

func TestBodyDecoderChunkedMalformedTerminator(t *testing.T) {
	sink := &collectSink{}
	d, err := NewBodyDecoder(FramingChunked, 0, 0, sink)
	require.NoError(t, err)
	_, err = d.Feed([]byte("2\r\nhiXX"))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusBadRequest, pe.Status)
}

func TestBodyDecoderNoneFraming(t *testing.T) {
	sink := &collectSink{}
	d, err := NewBodyDecoder(FramingNone, 0, 0, sink)
	require.NoError(t, err)
	assert.True(t, d.Done())
	n, err := d.Feed([]byte("ignored"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
