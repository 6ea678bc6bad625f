/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mime

import (
	"bufio"
	"io"
	"mime"
)

func MIMETypeByExtension(ext string) string {
	return mime.TypeByExtension(ext)
}

func MIMEParseMediaType(v string) (string, map[string]string, error) {
	return mime.ParseMediaType(v)
}

// NewMultipartReader creates a new multipart Reader reading from r
// using the given MIME boundary.
//
// The boundary is usually obtained from the "boundary" parameter of
// the message's "Content-Type" header. Use MIMEParseMediaType to
// parse such headers.
func NewMultipartReader(r io.Reader, boundary string) *MultipartReader {
	b := []byte("\r\n--" + boundary + "--")
	return &MultipartReader{
		bufReader:        bufio.NewReaderSize(&stickyErrorReader{r: r}, peekBufferSize),
		newLine:          b[:2],
		nlDashBoundary:   b[:len(b)-2],
		dashBoundaryDash: b[2:],
		dashBoundary:     b[2 : len(b)-2],
	}
}

// NewQuotedReader returns a quoted-printable reader, decoding from r.
func NewQuotedReader(r io.Reader) *QuotedReader {
	return &QuotedReader{
		br: bufio.NewReader(r),
	}
}

// Read returns the first error seen from the underlying reader on every
// call after that error, instead of calling Read again; bufio.Reader's
// fill loop otherwise re-enters a reader it has already been told is
// done, which an *os.File past EOF tolerates but a once-only body
// source wouldn't.
func (r *stickyErrorReader) Read(p []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	n, r.err = r.r.Read(p)
	return n, r.err
}
