package static

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/config"
	"github.com/helouazizi/localserver/internal/httpmsg"
)

func TestSanitizeRejectsEscape(t *testing.T) {
	_, err := Sanitize("../../etc/passwd")
	assert.ErrorIs(t, err, ErrEscape)
}

func TestSanitizeCleansDotSegments(t *testing.T) {
	got, err := Sanitize("a/./b/../c")
	require.NoError(t, err)
	assert.Equal(t, "a/c", got)
}

func TestRouteRelative(t *testing.T) {
	assert.Equal(t, "b.txt", RouteRelative("/static/b.txt", "/static"))
	assert.Equal(t, "", RouteRelative("/static", "/static"))
}

func TestServeFileReadsSmallFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))

	route := &config.Route{PathPrefix: "/", Root: dir}
	req := &httpmsg.Request{Method: "GET", Path: "/hello.txt", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	require.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("hello world"), resp.Body)
}

func TestServeFileNotFound(t *testing.T) {
	route := &config.Route{PathPrefix: "/", Root: t.TempDir()}
	req := &httpmsg.Request{Method: "GET", Path: "/missing.txt", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	assert.Equal(t, 404, resp.Status)
}

func TestServeRejectsPathEscape(t *testing.T) {
	route := &config.Route{PathPrefix: "/", Root: t.TempDir()}
	req := &httpmsg.Request{Method: "GET", Path: "/../../etc/passwd", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	assert.Equal(t, 400, resp.Status)
}

func TestServeDirectoryWithoutTrailingSlashRedirects(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	route := &config.Route{PathPrefix: "/", Root: dir}
	req := &httpmsg.Request{Method: "GET", Path: "/sub", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	assert.Equal(t, 301, resp.Status)
	assert.Equal(t, "/sub/", resp.Header.Get(hdr.Location))
}

func TestServeDirectoryListingDisabledByDefault(t *testing.T) {
	dir := t.TempDir()

	route := &config.Route{PathPrefix: "/", Root: dir}
	req := &httpmsg.Request{Method: "GET", Path: "/", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	assert.Equal(t, 403, resp.Status)
}

func TestServeDirectoryAutoindex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	route := &config.Route{PathPrefix: "/", Root: dir, Autoindex: true}
	req := &httpmsg.Request{Method: "GET", Path: "/", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	assert.Equal(t, 200, resp.Status)
	assert.Contains(t, string(resp.Body), "a.txt")
}

func TestServeFileMethodNotAllowed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	route := &config.Route{PathPrefix: "/", Root: dir}
	req := &httpmsg.Request{Method: "POST", Path: "/a.txt", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	assert.Equal(t, 405, resp.Status)
}

func TestServeFileHeadOmitsBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	route := &config.Route{PathPrefix: "/", Root: dir}
	req := &httpmsg.Request{Method: "HEAD", Path: "/a.txt", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	assert.Equal(t, 200, resp.Status)
	assert.Nil(t, resp.Body)
	assert.Equal(t, "5", resp.Header.Get(hdr.ContentLength))
}

func TestServeLargeFileUsesSource(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, streamThreshold+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), big, 0o644))

	route := &config.Route{PathPrefix: "/", Root: dir}
	req := &httpmsg.Request{Method: "GET", Path: "/big.bin", Header: hdr.Header{}}

	resp := Serve(route, req, nil)
	assert.Equal(t, 200, resp.Status)
	assert.NotNil(t, resp.Source)
	assert.Nil(t, resp.Body)
	defer resp.Source.Close()
}
