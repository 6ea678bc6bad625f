package router

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

func TestSelectServerByHostHeader(t *testing.T) {
	a := &config.Server{ServerNames: []string{"a.example.com"}}
	b := &config.Server{ServerNames: []string{"b.example.com"}}
	servers := []*config.Server{a, b}

	assert.Same(t, b, SelectServer(servers, "b.example.com:8080"))
	assert.Same(t, a, SelectServer(servers, "A.EXAMPLE.COM"))
}

func TestSelectServerDefaultsToFirst(t *testing.T) {
	a := &config.Server{ServerNames: []string{"a.example.com"}}
	b := &config.Server{ServerNames: []string{"b.example.com"}}
	servers := []*config.Server{a, b}

	assert.Same(t, a, SelectServer(servers, "unknown.example.com"))
}

func TestSelectServerEmpty(t *testing.T) {
	assert.Nil(t, SelectServer(nil, "anything"))
}

func TestSelectRouteLongestPrefixWins(t *testing.T) {
	server := &config.Server{Routes: []config.Route{
		{PathPrefix: "/"},
		{PathPrefix: "/api"},
		{PathPrefix: "/api/v2"},
	}}

	route, ok := SelectRoute(server, "/api/v2/widgets")
	require.True(t, ok)
	assert.Equal(t, "/api/v2", route.PathPrefix)
}

func TestSelectRouteSegmentAligned(t *testing.T) {
	server := &config.Server{Routes: []config.Route{
		{PathPrefix: "/a"},
	}}

	_, ok := SelectRoute(server, "/ab")
	assert.False(t, ok)

	route, ok := SelectRoute(server, "/a/b")
	require.True(t, ok)
	assert.Equal(t, "/a", route.PathPrefix)
}

func TestSelectRouteNoMatch(t *testing.T) {
	server := &config.Server{Routes: []config.Route{{PathPrefix: "/api"}}}
	_, ok := SelectRoute(server, "/other")
	assert.False(t, ok)
}

func TestDispatchNoRoute404(t *testing.T) {
	server := &config.Server{}
	req := &httpmsg.Request{Method: "GET", Path: "/missing", Header: hdr.Header{}}
	decision := Dispatch(server, req, 0)
	require.Equal(t, KindResponse, decision.Kind)
	assert.Equal(t, 404, decision.Response.Status)
}

func TestDispatchRedirect(t *testing.T) {
	server := &config.Server{Routes: []config.Route{
		{PathPrefix: "/old", Redirect: "/new"},
	}}
	req := &httpmsg.Request{Method: "GET", Path: "/old", Header: hdr.Header{}}
	decision := Dispatch(server, req, 0)
	require.Equal(t, KindResponse, decision.Kind)
	assert.Equal(t, 301, decision.Response.Status)
	assert.Equal(t, "/new", decision.Response.Header.Get(hdr.Location))
}

func TestDispatchMethodNotAllowed(t *testing.T) {
	server := &config.Server{Routes: []config.Route{
		{PathPrefix: "/", Methods: []string{"GET"}, Root: t.TempDir()},
	}}
	req := &httpmsg.Request{Method: "POST", Path: "/", Header: hdr.Header{}}
	decision := Dispatch(server, req, 0)
	require.Equal(t, KindResponse, decision.Kind)
	assert.Equal(t, 405, decision.Response.Status)
	assert.Equal(t, "GET", decision.Response.Header.Get("Allow"))
}

func TestDispatchStaticServe(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))

	server := &config.Server{Routes: []config.Route{
		{PathPrefix: "/", Methods: []string{"GET"}, Root: dir},
	}}
	req := &httpmsg.Request{Method: "GET", Path: "/hello.txt", Header: hdr.Header{}}
	decision := Dispatch(server, req, 0)
	require.Equal(t, KindResponse, decision.Kind)
	assert.Equal(t, 200, decision.Response.Status)
	assert.Equal(t, []byte("hi"), decision.Response.Body)
}

func TestDispatchUploadPost(t *testing.T) {
	dir := t.TempDir()
	server := &config.Server{Routes: []config.Route{
		{PathPrefix: "/upload", Methods: []string{"POST"}, UploadDir: dir},
	}}
	req := &httpmsg.Request{
		Method: "POST",
		Path:   "/upload",
		Header: hdr.Header{"X-Filename": []string{"a.txt"}},
		Body:   []byte("content"),
	}
	decision := Dispatch(server, req, 0)
	require.Equal(t, KindResponse, decision.Kind)
	assert.Equal(t, 201, decision.Response.Status)
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestDispatchCGITrigger(t *testing.T) {
	dir := t.TempDir()
	server := &config.Server{Routes: []config.Route{
		{
			PathPrefix:     "/cgi-bin",
			Methods:        []string{"GET"},
			Root:           dir,
			CGIExtension:   ".py",
			CGIInterpreter: "/usr/bin/python3",
		},
	}}
	req := &httpmsg.Request{Method: "GET", Path: "/cgi-bin/hello.py/extra", Header: hdr.Header{}}
	decision := Dispatch(server, req, 0)
	require.Equal(t, KindCGI, decision.Kind)
	require.NotNil(t, decision.CGI)
	assert.Equal(t, "/usr/bin/python3", decision.CGI.Interpreter)
	assert.Equal(t, "/cgi-bin/hello.py", decision.CGI.ScriptName)
	assert.Equal(t, "extra", decision.CGI.PathInfo)
	assert.Equal(t, filepath.Join(dir, "hello.py"), decision.CGI.ScriptPath)
}
