package reactor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helouazizi/localserver/internal/config"
)

// freePort asks the kernel for an ephemeral port and immediately
// releases it, narrowing but not eliminating the race against another
// process grabbing it before Run binds — acceptable for a local test.
func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func runTestServer(t *testing.T, cfg *config.Global) (ctx context.Context, cancel context.CancelFunc, done chan error) {
	t.Helper()
	ctx, cancel = context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reactor did not shut down in time")
		}
	})
	return ctx, cancel, done
}

func waitForPort(t *testing.T, port uint16) net.Conn {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never came up on %s", addr)
	return nil
}

func TestReactorServesStaticFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello reactor"), 0o644))

	port := freePort(t)
	cfg := &config.Global{
		TimeoutSeconds: 5,
		Servers: []config.Server{{
			Host:  "127.0.0.1",
			Ports: []uint16{port},
			Routes: []config.Route{
				{PathPrefix: "/", Root: dir, Index: "index.html", Methods: []string{"GET"}},
			},
		}},
	}
	runTestServer(t, cfg)

	conn := waitForPort(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "200")

	var body []byte
	for {
		b, err := reader.ReadByte()
		if err != nil {
			break
		}
		body = append(body, b)
	}
	require.Contains(t, string(body), "hello reactor")
}

func TestReactorKeepAliveServesTwoSequentialRequests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("AAA"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("BBBB"), 0o644))

	port := freePort(t)
	cfg := &config.Global{
		TimeoutSeconds: 5,
		Servers: []config.Server{{
			Host:   "127.0.0.1",
			Ports:  []uint16{port},
			Routes: []config.Route{{PathPrefix: "/", Root: dir, Methods: []string{"GET"}}},
		}},
	}
	runTestServer(t, cfg)

	conn := waitForPort(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /a.txt HTTP/1.1\r\nHost: localhost\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "200")
	for {
		l, err := reader.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}
	body := make([]byte, 3)
	_, err = io.ReadFull(reader, body)
	require.NoError(t, err)
	require.Equal(t, "AAA", string(body))

	_, err = conn.Write([]byte("GET /b.txt HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "200")
}

func TestReactorMethodNotAllowed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("AAA"), 0o644))

	port := freePort(t)
	cfg := &config.Global{
		TimeoutSeconds: 5,
		Servers: []config.Server{{
			Host:   "127.0.0.1",
			Ports:  []uint16{port},
			Routes: []config.Route{{PathPrefix: "/", Root: dir, Methods: []string{"GET"}}},
		}},
	}
	runTestServer(t, cfg)

	conn := waitForPort(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("DELETE /a.txt HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "405")
}

func TestReactorCleanShutdownOnContextCancel(t *testing.T) {
	port := freePort(t)
	cfg := &config.Global{
		TimeoutSeconds: 5,
		Servers: []config.Server{{
			Host:   "127.0.0.1",
			Ports:  []uint16{port},
			Routes: []config.Route{{PathPrefix: "/", Root: t.TempDir(), Methods: []string{"GET"}}},
		}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()
	waitForPort(t, port).Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
