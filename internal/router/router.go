// Package router selects a virtual server by Host header, matches a
// route by longest path-prefix, and decides how the request should be
// answered: a synchronous Response (static file, upload, delete,
// redirect, or an error) or a CGI dispatch the reactor must drive
// asynchronously.
//
// Virtual-server/route selection is grounded on mux/types.go's
// ServeMux: longest-registered-pattern-wins and host-specific patterns
// taking precedence over general ones are the same shape
// asks for, generalized from a single global map to the per-listener
// server list config.Expand produces, and from mux's arbitrary pattern
// strings to path-segment-aligned prefixes.
package router

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/config"
	"github.com/helouazizi/localserver/internal/errpage"
	"github.com/helouazizi/localserver/internal/httpmsg"
	"github.com/helouazizi/localserver/internal/static"
	"github.com/helouazizi/localserver/internal/upload"
)

// Kind identifies how a Decision should be carried out.
type Kind int

const (
	KindResponse Kind = iota
	KindCGI
)

// CGIDispatch carries what the reactor needs to spawn and wire a CGI
// job; router itself never touches os/exec or the poller.
type CGIDispatch struct {
	Interpreter string
	ScriptPath  string
	ScriptName  string // SCRIPT_NAME: URL path to the script, route prefix included
	PathInfo    string // PATH_INFO: anything past the script name
	Route       *config.Route
}

// Decision is what Dispatch produces for one request: either a
// complete Response ready to serialize, or a CGI job to spawn.
type Decision struct {
	Kind     Kind
	Response *httpmsg.Response
	CGI      *CGIDispatch
}

// SelectServer picks the virtual server whose server_names contains
// hostHeader (port stripped, case-insensitive); if none matches, the
// first server bound to this listener is the default, the
// first-match-wins Open Question decision recorded in DESIGN.md.
func SelectServer(servers []*config.Server, hostHeader string) *config.Server {
	if len(servers) == 0 {
		return nil
	}
	host := config.StripPort(hostHeader)
	for _, srv := range servers {
		if config.MatchServerName(srv.ServerNames, host) {
			return srv
		}
	}
	return servers[0]
}

// SelectRoute finds the longest path-prefix match among server's
// routes for reqPath, where a prefix matches either exactly or as a
// path-segment boundary ("/a" matches "/a" and "/a/b", not "/ab").
// Ties on length resolve to configuration order (first listed wins).
func SelectRoute(server *config.Server, reqPath string) (*config.Route, bool) {
	var best *config.Route
	bestLen := -1
	for i := range server.Routes {
		r := &server.Routes[i]
		if !prefixMatches(r.PathPrefix, reqPath) {
			continue
		}
		if len(r.PathPrefix) > bestLen {
			best = r
			bestLen = len(r.PathPrefix)
		}
	}
	return best, best != nil
}

func prefixMatches(prefix, reqPath string) bool {
	if !strings.HasPrefix(reqPath, prefix) {
		return false
	}
	if len(reqPath) == len(prefix) {
		return true
	}
	// Segment-aligned: the byte right after the shared prefix must be
	// a '/' (or the prefix itself must already end in one), otherwise
	// "/a" would wrongly match "/ab".
	if strings.HasSuffix(prefix, "/") {
		return true
	}
	return reqPath[len(prefix)] == '/'
}

// Dispatch routes req against server: method gate, redirect, CGI
// trigger, or one of static/upload/delete.
func Dispatch(server *config.Server, req *httpmsg.Request, maxFileNameLength int) Decision {
	errorPages := server.ErrorPages
	route, ok := SelectRoute(server, req.Path)
	if !ok {
		return Decision{Kind: KindResponse, Response: errorResponse(errorPages, 404, "no matching route")}
	}

	if route.IsRedirect() {
		return Decision{Kind: KindResponse, Response: redirectResponse(route.Redirect)}
	}

	methods := route.MethodSet()
	if !methods[req.Method] && !(req.Method == "HEAD" && methods["GET"]) {
		resp := errorResponse(errorPages, 405, "method not allowed")
		resp.Header.Set(hdr.Allow, strings.Join(route.Methods, ", "))
		return Decision{Kind: KindResponse, Response: resp}
	}

	if cgi, ok := cgiTrigger(route, req); ok {
		return Decision{Kind: KindCGI, CGI: cgi}
	}

	switch {
	case req.Method == "DELETE" && route.UploadDir != "":
		return Decision{Kind: KindResponse, Response: upload.Delete(route, req, errorPages)}
	case req.Method == "POST" && route.UploadDir != "":
		return Decision{Kind: KindResponse, Response: upload.Handle(route, req, maxFileNameLength, errorPages)}
	default:
		return Decision{Kind: KindResponse, Response: static.Serve(route, req, errorPages)}
	}
}

// cgiTrigger reports whether route is CGI-capable and req's target
// extension matches.
func cgiTrigger(route *config.Route, req *httpmsg.Request) (*CGIDispatch, bool) {
	if route.CGIExtension == "" || route.CGIInterpreter == "" {
		return nil, false
	}
	rel := static.RouteRelative(req.Path, route.PathPrefix)
	sanitized, err := static.Sanitize(rel)
	if err != nil {
		return nil, false
	}

	scriptName, pathInfo := splitScriptPath(sanitized, route.CGIExtension)
	if scriptName == "" {
		return nil, false
	}

	return &CGIDispatch{
		Interpreter: route.CGIInterpreter,
		ScriptPath:  filepath.Join(route.Root, scriptName),
		ScriptName:  path.Join(route.PathPrefix, scriptName),
		PathInfo:    pathInfo,
		Route:       route,
	}, true
}

// splitScriptPath walks rel's path segments looking for the first one
// ending in ext; everything up to and including it is the script name,
// everything after is PATH_INFO (allowing URLs like
// /cgi-bin/a.py/extra/path).
func splitScriptPath(rel, ext string) (scriptName, pathInfo string) {
	segs := strings.Split(rel, "/")
	for i, seg := range segs {
		if strings.HasSuffix(seg, ext) {
			return path.Join(segs[:i+1]...), path.Join(segs[i+1:]...)
		}
	}
	return "", ""
}

func redirectResponse(location string) *httpmsg.Response {
	resp := httpmsg.NewResponse(301, nil)
	resp.Header.Set(hdr.Location, location)
	return resp
}

func errorResponse(errorPages map[int]string, status int, msg string) *httpmsg.Response {
	return errpage.Response(errorPages, status, msg)
}
