// Package static implements the static file responder: path
// sanitization, directory/index/autoindex handling, and file serving.
// Grounded on the filetransport package's path.Clean + root-join shape
// (file_handler.go, file_transport.go), rewritten to a reject-on-underflow
// component stack since the prior version assumed a blocking
// io.Reader-backed ResponseWriter and never had to reason about a
// symlink/".."-escape invariant on its own.
package static

import (
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ErrEscape is returned by Sanitize when a ".." would pop past the
// route root.
var ErrEscape = errors.New("static: path escapes root")

// Sanitize percent-decodes routeRelativePath, splits it on '/', and
// walks a component stack where ".." pops, "." and "" are skipped, and
// anything else is pushed. It rejects if a pop would underflow, which
// the caller must answer with 400.
func Sanitize(routeRelativePath string) (string, error) {
	decoded, err := url.PathUnescape(routeRelativePath)
	if err != nil {
		return "", errors.Wrap(ErrEscape, "invalid percent-encoding")
	}
	parts := strings.Split(decoded, "/")
	stack := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", ErrEscape
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, p)
		}
	}
	return path.Join(stack...), nil
}

// RouteRelative strips prefix from reqPath to compute the
// route-relative path that Sanitize then resolves against the route's
// root.
func RouteRelative(reqPath, prefix string) string {
	rel := strings.TrimPrefix(reqPath, prefix)
	return strings.TrimPrefix(rel, "/")
}
