package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "localserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
servers:
  - host: "0.0.0.0"
    ports: [8080]
    routes:
      - path: /
        root: /var/www
        methods: [GET]
`)
	g, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 60, g.TimeoutSeconds)
	assert.EqualValues(t, 60, g.CGITimeoutSeconds)
	assert.EqualValues(t, 1024, g.MaxServerSize)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
servers:
  - host: "0.0.0.0"
    bogus_field: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingPathPrefix(t *testing.T) {
	path := writeConfig(t, `
servers:
  - routes:
      - root: /var/www
        methods: [GET]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsRouteWithoutMethodsUnlessRedirect(t *testing.T) {
	path := writeConfig(t, `
servers:
  - routes:
      - path: /old
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, `
servers:
  - routes:
      - path: /old
        redirect: /new
`)
	_, err = Load(path)
	assert.NoError(t, err)
}

func TestLoadRejectsCGIExtensionWithoutInterpreter(t *testing.T) {
	path := writeConfig(t, `
servers:
  - routes:
      - path: /cgi-bin
        methods: [GET]
        root: /var/www
        cgi_extension: .py
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandFlattensPortsAndDefaults(t *testing.T) {
	g := &Global{
		Servers: []Server{
			{Host: "127.0.0.1", Ports: []uint16{8080, 8081}},
			{},
		},
	}
	bounds := Expand(g)
	require.Len(t, bounds, 3)
	assert.Equal(t, "127.0.0.1", bounds[0].Host)
	assert.EqualValues(t, 8080, bounds[0].Port)
	assert.EqualValues(t, 8081, bounds[1].Port)
	assert.Equal(t, "0.0.0.0", bounds[2].Host)
	assert.EqualValues(t, 80, bounds[2].Port)
}

func TestMatchServerNameCaseInsensitive(t *testing.T) {
	assert.True(t, MatchServerName([]string{"Example.com"}, "example.com"))
	assert.False(t, MatchServerName([]string{"example.com"}, "other.com"))
}

func TestStripPort(t *testing.T) {
	assert.Equal(t, "example.com", StripPort("example.com:8080"))
	assert.Equal(t, "example.com", StripPort("example.com"))
}

func TestRouteMethodSetAndRedirect(t *testing.T) {
	r := Route{Methods: []string{"get", "Post"}}
	set := r.MethodSet()
	assert.True(t, set["GET"])
	assert.True(t, set["POST"])
	assert.False(t, r.IsRedirect())

	r2 := Route{Redirect: "/new"}
	assert.True(t, r2.IsRedirect())
}
