// Package errpage resolves a status code against a server's configured
// error_pages map, serving the file on disk when one is set for that
// status and falling back to a generic text body otherwise. Every
// error-producing path in router, static, upload and reactor's CGI
// wiring answers through this one place so error_pages stays a single
// effective lookup rather than five divergent ones.
package errpage

import (
	"os"
	"path/filepath"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/httpmsg"
	"github.com/helouazizi/localserver/mime"
	"github.com/helouazizi/localserver/sniff"
)

// Response builds the response for status. If pages[status] names a
// readable file, its contents become the body (content type guessed
// from the file's extension, falling back to sniffing); otherwise the
// response is the plain-text fallback message callers already built
// for that path.
func Response(pages map[int]string, status int, fallback string) *httpmsg.Response {
	if path := pages[status]; path != "" {
		if body, err := os.ReadFile(path); err == nil {
			resp := httpmsg.NewResponse(status, body)
			ctype := mime.MIMETypeByExtension(filepath.Ext(path))
			if ctype == "" {
				ctype = sniff.DetectContentType(body)
			}
			resp.Header.Set(hdr.ContentType, ctype)
			return resp
		}
	}
	resp := httpmsg.NewResponse(status, []byte(fallback))
	resp.Header.Set(hdr.ContentType, "text/plain; charset=utf-8")
	return resp
}
