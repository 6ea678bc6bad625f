// Package config decodes the YAML configuration file into the typed,
// read-only tree the reactor consumes. The core never touches the
// filesystem path itself; Load is the sole collaborator entry point.
package config

import (
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Global is the root of the configuration tree.
type Global struct {
	TimeoutSeconds    uint32   `yaml:"timeout_seconds"`
	CGITimeoutSeconds uint32   `yaml:"cgi_timeout_seconds"`
	MaxServerSize     uint64   `yaml:"max_server_size"`
	Servers           []Server `yaml:"servers"`
}

// Server is one `server { ... }` block, before per-port expansion.
type Server struct {
	Host          string           `yaml:"host"`
	Ports         []uint16         `yaml:"ports"`
	ServerNames   []string         `yaml:"server_names"`
	MaxBodySize   uint64           `yaml:"max_body_size"`
	ErrorPages    map[int]string   `yaml:"error_pages"`
	Routes        []Route          `yaml:"routes"`
	UploadOptions *UploadOptions   `yaml:"upload,omitempty"`
}

// UploadOptions tunes the upload/delete behavior of routes with an
// UploadDir.
type UploadOptions struct {
	MaxFileNameLength int `yaml:"max_filename_length"`
}

// Route is one location block within a Server.
type Route struct {
	PathPrefix     string   `yaml:"path"`
	Root           string   `yaml:"root"`
	Methods        []string `yaml:"methods"`
	Index          string   `yaml:"index"`
	Autoindex      bool     `yaml:"autoindex"`
	Redirect       string   `yaml:"redirect"`
	UploadDir      string   `yaml:"upload_dir"`
	CGIExtension   string   `yaml:"cgi_extension"`
	CGIInterpreter string   `yaml:"cgi_interpreter"`
	MaxBodySize    uint64   `yaml:"max_body_size"`

	// compiledIndex caches, at load time, whether Root+Index exists on
	// disk. A miss here is not fatal to load. When it is false the
	// static responder never tries the index, even if the file appears
	// later, and falls through to autoindex or 403; when it is true the
	// index is still stat'ed on each request.
	compiledIndex bool
}

// HasIndexOnDisk reports the load-time existence check recorded for
// this route's configured Index file.
func (r Route) HasIndexOnDisk() bool { return r.compiledIndex }

// MethodSet returns the route's permitted methods as a set.
func (r Route) MethodSet() map[string]bool {
	set := make(map[string]bool, len(r.Methods))
	for _, m := range r.Methods {
		set[strings.ToUpper(m)] = true
	}
	return set
}

// IsRedirect reports whether this route is a pure redirect.
func (r Route) IsRedirect() bool { return r.Redirect != "" }

// Bound is one expanded (host, port, server) triple a listener binds.
type Bound struct {
	Host   string
	Port   uint16
	Server *Server
}

// Load reads and decodes path, validates the configured routes, and
// returns the typed tree. A non-nil error here must map to the CLI's
// invalid-config exit code.
func Load(path string) (*Global, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: open")
	}
	defer f.Close()

	var g Global
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}

	if g.TimeoutSeconds == 0 {
		g.TimeoutSeconds = 60
	}
	if g.CGITimeoutSeconds == 0 {
		g.CGITimeoutSeconds = g.TimeoutSeconds
	}
	if g.MaxServerSize == 0 {
		g.MaxServerSize = 1024
	}

	for si := range g.Servers {
		srv := &g.Servers[si]
		for ri := range srv.Routes {
			route := &srv.Routes[ri]
			if err := validateRoute(*route); err != nil {
				return nil, errors.Wrapf(err, "config: server %d route %q", si, route.PathPrefix)
			}
			if route.Root != "" && route.Index != "" {
				if _, err := os.Stat(route.Root + "/" + route.Index); err == nil {
					route.compiledIndex = true
				}
			}
		}
	}

	return &g, nil
}

func validateRoute(r Route) error {
	if r.PathPrefix == "" || r.PathPrefix[0] != '/' {
		return errors.New("path_prefix must be non-empty and start with /")
	}
	if !r.IsRedirect() && len(r.Methods) == 0 {
		return errors.New("route must declare at least one method unless it is a redirect")
	}
	if r.CGIExtension != "" && r.CGIInterpreter == "" {
		return errors.New("cgi_extension requires cgi_interpreter")
	}
	return nil
}

// Expand flattens every Server's Ports into individual (host, port,
// server) triples: a server block with multiple ports becomes multiple
// bindings, each owning its own listener but sharing the same routes.
func Expand(g *Global) []Bound {
	var out []Bound
	for i := range g.Servers {
		srv := &g.Servers[i]
		host := srv.Host
		if host == "" {
			host = "0.0.0.0"
		}
		ports := srv.Ports
		if len(ports) == 0 {
			ports = []uint16{80}
		}
		for _, p := range ports {
			out = append(out, Bound{Host: host, Port: p, Server: srv})
		}
	}
	return out
}

// MatchServerName reports whether host (the request's Host header,
// port already stripped, lowercased) is named by names.
func MatchServerName(names []string, host string) bool {
	host = strings.ToLower(host)
	for _, n := range names {
		if strings.EqualFold(n, host) {
			return true
		}
	}
	return false
}

// StripPort removes a trailing ":port" from a Host header value before
// virtual-server selection matches it against server_names.
func StripPort(hostHeader string) string {
	h, _, err := net.SplitHostPort(hostHeader)
	if err != nil {
		return hostHeader
	}
	return h
}
