// Package static serves files and directories out of a route's root,
// the non-blocking-reactor equivalent of the filetransport package's
// fileHandler/fileTransport pair. Directory listing markup reuses
// filetransport/types.go's html-escaping replacer (htmlReplacer);
// If-Modified-Since handling reuses its condResult three-state result
// shape. serveFile/dirList/ServeContent themselves were never present
// in the retrieved sources, so the resolution, listing and streaming
// logic below is new, built the way a net/http fileserver does it but
// adapted to a pull-based Source instead of a blocking io.Writer.
package static

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/config"
	"github.com/helouazizi/localserver/internal/errpage"
	"github.com/helouazizi/localserver/internal/httpmsg"
	"github.com/helouazizi/localserver/mime"
	"github.com/helouazizi/localserver/sniff"
)

// streamThreshold is the file size above which Serve streams the body
// through a Source instead of buffering it whole into Response.Body.
const streamThreshold = 256 << 10

// Serve resolves req against route's root and returns the response: a
// directory index/autoindex, a served file, or a 4xx on a bad path.
// errorPages is the owning server's error_pages map (may be nil); every
// error branch here answers through it so a configured page for that
// status overrides the built-in text body.
func Serve(route *config.Route, req *httpmsg.Request, errorPages map[int]string) *httpmsg.Response {
	rel := RouteRelative(req.Path, route.PathPrefix)
	sanitized, err := Sanitize(rel)
	if err != nil {
		return errorResponse(errorPages, 400, "bad request path")
	}

	root, err := canonicalRoot(route.Root)
	if err != nil {
		return errorResponse(errorPages, 500, "route root unavailable")
	}
	full := filepath.Join(root, sanitized)
	if !withinRoot(root, full) {
		return errorResponse(errorPages, 403, "forbidden")
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return errorResponse(errorPages, 404, "not found")
		}
		return errorResponse(errorPages, 500, "stat failed")
	}

	if info.IsDir() {
		return serveDir(route, req, root, full, req.Path, errorPages)
	}
	return serveFile(req, full, info, errorPages)
}

func canonicalRoot(root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return filepath.Clean(root), nil
	}
	return resolved, nil
}

// withinRoot reports whether full, after resolving any symlinks it
// contains, still lives under root. A path that escapes root via a
// symlink (rather than a ".." component, already rejected by Sanitize)
// is rejected here.
func withinRoot(root, full string) bool {
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		// Doesn't exist yet (e.g. upload target) or a dangling symlink;
		// fall back to a lexical check.
		resolved = filepath.Clean(full)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func serveDir(route *config.Route, req *httpmsg.Request, root, full, reqPath string, errorPages map[int]string) *httpmsg.Response {
	if !strings.HasSuffix(reqPath, "/") {
		return redirectResponse(reqPath + "/")
	}
	if route.Index != "" && route.HasIndexOnDisk() {
		indexPath := filepath.Join(full, route.Index)
		if info, err := os.Stat(indexPath); err == nil && !info.IsDir() {
			return serveFile(req, indexPath, info, errorPages)
		}
	}
	if route.Autoindex {
		return autoindex(full, reqPath, errorPages)
	}
	return errorResponse(errorPages, 403, "directory listing disabled")
}

func redirectResponse(location string) *httpmsg.Response {
	resp := httpmsg.NewResponse(301, nil)
	resp.Header.Set(hdr.Location, location)
	return resp
}

func autoindex(dir, reqPath string, errorPages map[int]string) *httpmsg.Response {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errorResponse(errorPages, 500, "directory read failed")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html><html><head><title>Index of %s</title></head><body>\n", html(reqPath))
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", html(reqPath))
	if reqPath != "/" {
		fmt.Fprintf(&b, "<li><a href=\"../\">../</a></li>\n")
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", html(name), html(name))
	}
	b.WriteString("</ul>\n</body></html>\n")

	resp := httpmsg.NewResponse(200, []byte(b.String()))
	resp.Header.Set(hdr.ContentType, "text/html; charset=utf-8")
	return resp
}

func html(s string) string {
	return htmlReplacer.Replace(s)
}

func serveFile(req *httpmsg.Request, full string, info os.FileInfo, errorPages map[int]string) *httpmsg.Response {
	if req.Method != "GET" && req.Method != "HEAD" {
		resp := errorResponse(errorPages, 405, "method not allowed")
		resp.Header.Set(hdr.Allow, "GET, HEAD")
		return resp
	}

	modTime := info.ModTime()
	if checkIfModifiedSince(req, modTime) == condFalse {
		resp := httpmsg.NewResponse(304, nil)
		resp.Header.Set(hdr.LastModified, modTime.UTC().Format(hdr.TimeFormat))
		return resp
	}

	f, err := os.Open(full)
	if err != nil {
		return errorResponse(errorPages, 500, "open failed")
	}

	ctype := mime.MIMETypeByExtension(filepath.Ext(full))

	resp := &httpmsg.Response{Status: 200, Header: hdr.Header{}}
	resp.Header.Set(hdr.LastModified, modTime.UTC().Format(hdr.TimeFormat))

	if req.Method == "HEAD" {
		f.Close()
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		resp.Header.Set(hdr.ContentType, ctype)
		resp.Header.Set(hdr.ContentLength, fmt.Sprint(info.Size()))
		return resp
	}

	if info.Size() <= streamThreshold {
		body, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return errorResponse(errorPages, 500, "read failed")
		}
		if ctype == "" {
			ctype = sniff.DetectContentType(body)
		}
		resp.Header.Set(hdr.ContentType, ctype)
		resp.Body = body
		return resp
	}

	prefix := make([]byte, 512)
	n, _ := io.ReadFull(f, prefix)
	prefix = prefix[:n]
	if ctype == "" {
		ctype = sniff.DetectContentType(prefix)
	}
	resp.Header.Set(hdr.ContentType, ctype)
	resp.Header.Set(hdr.ContentLength, fmt.Sprint(info.Size()))
	resp.Source = &FileSource{file: f, prefix: prefix}
	return resp
}

// checkIfModifiedSince evaluates the request's If-Modified-Since
// header against modTime, mirroring filetransport's three-state
// condResult shape for precondition checks.
func checkIfModifiedSince(req *httpmsg.Request, modTime time.Time) condResult {
	raw := req.Header.Get(hdr.IfModifiedSince)
	if raw == "" || modTime.IsZero() {
		return condNone
	}
	t, err := hdr.ParseTime(raw)
	if err != nil {
		return condNone
	}
	if modTime.Truncate(time.Second).After(t) {
		return condTrue
	}
	return condFalse
}

func errorResponse(errorPages map[int]string, status int, msg string) *httpmsg.Response {
	return errpage.Response(errorPages, status, msg)
}
