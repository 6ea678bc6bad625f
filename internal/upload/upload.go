// Package upload implements the upload/delete route kind: POST bodies
// (multipart/form-data or raw) are written under a route's UploadDir,
// and DELETE removes a previously stored file. Multipart parsing reuses
// the mime package's MultipartReader/SinglePart (grounded on
// mime/multipart_reader.go, single_part.go); file placement follows the
// write-to-temp-then-rename discipline required for atomic
// uploads, the same shape filetransport used for serving rather than
// writing files.
package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/helouazizi/localserver/hdr"
	"github.com/helouazizi/localserver/internal/config"
	"github.com/helouazizi/localserver/internal/errpage"
	"github.com/helouazizi/localserver/internal/httpmsg"
	"github.com/helouazizi/localserver/internal/static"
	"github.com/helouazizi/localserver/mime"
)

const defaultMaxFileNameLength = 255

// Handle services a POST into route (which must have UploadDir set):
// multipart/form-data is parsed part by part, a non-multipart body is
// stored as a single file named from Content-Disposition/X-Filename or a
// generated id. On success it answers 201 with a short text body
// listing the stored names.
func Handle(route *config.Route, req *httpmsg.Request, maxFileNameLength int, errorPages map[int]string) *httpmsg.Response {
	if route.UploadDir == "" {
		return errorResponse(errorPages, 500, "route has no upload_dir configured")
	}
	if maxFileNameLength <= 0 {
		maxFileNameLength = defaultMaxFileNameLength
	}
	if err := os.MkdirAll(route.UploadDir, 0o755); err != nil {
		return errorResponse(errorPages, 500, "upload directory unavailable")
	}

	ctype := req.Header.Get(hdr.ContentType)
	mediaType, params, _ := mime.MIMEParseMediaType(ctype)
	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return errorResponse(errorPages, 400, "missing multipart boundary")
		}
		return handleMultipart(route, req.Body, boundary, maxFileNameLength, errorPages)
	}
	return handleRaw(route, req, maxFileNameLength, errorPages)
}

func handleMultipart(route *config.Route, body []byte, boundary string, maxFileNameLength int, errorPages map[int]string) *httpmsg.Response {
	reader := mime.NewMultipartReader(bytes.NewReader(body), boundary)

	var stored []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			rollback(route, stored)
			return errorResponse(errorPages, 400, "malformed multipart body")
		}
		filename := part.FileName()
		if filename == "" {
			io.Copy(io.Discard, part)
			part.Close()
			continue
		}
		name := SanitizeFilename(filename, maxFileNameLength)
		if err := writeAtomic(route.UploadDir, name, part); err != nil {
			part.Close()
			rollback(route, stored)
			return errorResponse(errorPages, 500, "failed to store upload")
		}
		part.Close()
		stored = append(stored, name)
	}

	if len(stored) == 0 {
		return errorResponse(errorPages, 400, "no file parts in upload")
	}
	return storedResponse(stored)
}

func handleRaw(route *config.Route, req *httpmsg.Request, maxFileNameLength int, errorPages map[int]string) *httpmsg.Response {
	name := filenameFromRequest(req)
	name = SanitizeFilename(name, maxFileNameLength)

	if err := writeAtomic(route.UploadDir, name, bytes.NewReader(req.Body)); err != nil {
		return errorResponse(errorPages, 500, "failed to store upload")
	}
	return storedResponse([]string{name})
}

// filenameFromRequest derives a name for a non-multipart upload from
// Content-Disposition's filename parameter, falling back to an
// X-Filename header, falling back to a generated id.
func filenameFromRequest(req *httpmsg.Request) string {
	if cd := req.Header.Get(hdr.ContentDisposition); cd != "" {
		if _, params, err := mime.MIMEParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				return fn
			}
		}
	}
	if fn := req.Header.Get(hdr.XFilename); fn != "" {
		return fn
	}
	return uuid.New().String()
}

// writeAtomic writes src into dir/name by first writing to a temp file
// in dir and renaming it into place, so a reader can never observe a
// partially-written file. On any failure the temp file is removed.
func writeAtomic(dir, name string, src io.Reader) error {
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return errors.Wrap(err, "upload: create temp")
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "upload: write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "upload: close")
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "upload: rename")
	}
	return nil
}

// rollback deletes every file already stored in this request before an
// error aborted the rest of the multipart stream.
func rollback(route *config.Route, stored []string) {
	for _, name := range stored {
		os.Remove(filepath.Join(route.UploadDir, name))
	}
}

// SanitizeFilename strips any directory components from name (so a
// crafted Content-Disposition filename can't escape UploadDir),
// replaces path separators and NUL bytes that survive filepath.Base on
// some platforms, and truncates to maxLen bytes.
func SanitizeFilename(name string, maxLen int) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\x00", "")
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = uuid.New().String()
	}
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

// Delete services a DELETE under an upload-capable route: req.Path has
// already been matched to route by the router. The target is sanitized
// the same way a static GET would be, then unlinked.
func Delete(route *config.Route, req *httpmsg.Request, errorPages map[int]string) *httpmsg.Response {
	if route.UploadDir == "" {
		return errorResponse(errorPages, 500, "route has no upload_dir configured")
	}
	rel := static.RouteRelative(req.Path, route.PathPrefix)
	sanitized, err := static.Sanitize(rel)
	if err != nil {
		return errorResponse(errorPages, 400, "bad request path")
	}
	full := filepath.Join(route.UploadDir, sanitized)

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return errorResponse(errorPages, 404, "not found")
		}
		if os.IsPermission(err) {
			return errorResponse(errorPages, 403, "forbidden")
		}
		return errorResponse(errorPages, 500, "delete failed")
	}
	return &httpmsg.Response{Status: 204, Header: hdr.Header{}}
}

func storedResponse(names []string) *httpmsg.Response {
	var b strings.Builder
	b.WriteString("stored " + strconv.Itoa(len(names)) + " file(s):\n")
	for _, n := range names {
		b.WriteString(n)
		b.WriteString("\n")
	}
	resp := httpmsg.NewResponse(201, []byte(b.String()))
	resp.Header.Set(hdr.ContentType, "text/plain; charset=utf-8")
	return resp
}

func errorResponse(errorPages map[int]string, status int, msg string) *httpmsg.Response {
	return errpage.Response(errorPages, status, fmt.Sprintf("%s\n", msg))
}
