package cgi

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/httpmsg"
)

func TestParseHeadDefaultsTo200(t *testing.T) {
	h := parseHead([]byte("Content-Type: text/plain\r\n"))
	assert.Equal(t, 200, h.Status)
	assert.Equal(t, "text/plain", h.Header.Get(hdr.ContentType))
}

func TestParseHeadExplicitStatus(t *testing.T) {
	h := parseHead([]byte("Status: 404 Not Found\r\nContent-Type: text/plain\r\n"))
	assert.Equal(t, 404, h.Status)
}

func TestParseHeadLocationImplies302(t *testing.T) {
	h := parseHead([]byte("Location: /elsewhere\r\n"))
	assert.Equal(t, 302, h.Status)
	assert.Equal(t, "/elsewhere", h.Header.Get(hdr.Location))
}

func TestFindHeaderEndCRLF(t *testing.T) {
	idx, sepLen := findHeaderEnd([]byte("Content-Type: text/plain\r\n\r\nbody"))
	assert.Equal(t, 24, idx)
	assert.Equal(t, 4, sepLen)
}

func TestFindHeaderEndLF(t *testing.T) {
	idx, sepLen := findHeaderEnd([]byte("Content-Type: text/plain\n\nbody"))
	assert.Equal(t, 24, idx)
	assert.Equal(t, 2, sepLen)
}

func TestBuildEnvMinimumVariables(t *testing.T) {
	req := &httpmsg.Request{
		Method:     "GET",
		Query:      "x=1",
		RemoteAddr: "127.0.0.1:5000",
		Header:     hdr.Header{},
	}
	env := buildEnv(req, "hello.py", "extra", "localhost", 8080)
	assert.Contains(t, env, "REQUEST_METHOD=GET")
	assert.Contains(t, env, "SERVER_PROTOCOL=HTTP/1.1")
	assert.Contains(t, env, "SERVER_NAME=localhost")
	assert.Contains(t, env, "SERVER_PORT=8080")
	assert.Contains(t, env, "SCRIPT_NAME=hello.py")
	assert.Contains(t, env, "PATH_INFO=extra")
	assert.Contains(t, env, "QUERY_STRING=x=1")
	assert.Contains(t, env, "GATEWAY_INTERFACE=CGI/1.1")
}

func TestBuildEnvForwardsHeadersAsHTTPVars(t *testing.T) {
	req := &httpmsg.Request{Method: "GET", Header: hdr.Header{}}
	req.Header.Set("X-Custom-Token", "abc")
	env := buildEnv(req, "a.py", "", "localhost", 80)
	assert.Contains(t, env, "HTTP_X_CUSTOM_TOKEN=abc")
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := filepathLookSh()
	if err != nil {
		t.Skip("no /bin/sh available")
	}
	return sh
}

func filepathLookSh() (string, error) {
	for _, p := range []string{"/bin/sh", "/usr/bin/sh"} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", os.ErrNotExist
}

func TestJobStartPumpAndReap(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()
	script := filepath.Join(dir, "echo.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf 'Content-Type: text/plain\\r\\n\\r\\nhello from cgi'\n"), 0o755))

	job, err := Start(sh, script, []string{"PATH=/usr/bin:/bin"})
	require.NoError(t, err)
	defer job.Close()

	job.CloseStdin()

	deadline := time.Now().Add(5 * time.Second)
	for !job.HeadersParsed() && time.Now().Before(deadline) {
		job.PumpStdout()
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, job.HeadersParsed())
	assert.Equal(t, 200, job.ParsedHead().Status)

	src := NewSource(job)
	var body []byte
	for {
		p, done, err := src.Next()
		require.NoError(t, err)
		body = append(body, p...)
		if done {
			break
		}
		if len(p) == 0 {
			job.PumpStdout()
			time.Sleep(10 * time.Millisecond)
		}
	}
	assert.Equal(t, "hello from cgi", string(body))

	for {
		if _, ok := job.TryReap(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}
