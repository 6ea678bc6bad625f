/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mime

import (
	"io"

	"github.com/helouazizi/localserver/hdr"
)

// readerFunc adapts a plain read function to io.Reader, avoiding a
// dedicated wrapper type for the one boundary-aware reader every part
// starts out with.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// FormName returns the name parameter if part has a Content-Disposition
// of type "form-data".  Otherwise it returns the empty string.
func (p *SinglePart) FormName() string {
	// See http://tools.ietf.org/html/rfc2183 section 2 for EBNF
	// of Content-Disposition value format.
	if p.dispositionParams == nil {
		p.parseContentDisposition()
	}
	if p.disposition != "form-data" {
		return ""
	}
	return p.dispositionParams["name"]
}

// FileName returns the filename parameter of the Part's
// Content-Disposition header.
func (p *SinglePart) FileName() string {
	if p.dispositionParams == nil {
		p.parseContentDisposition()
	}
	return p.dispositionParams["filename"]
}

func (p *SinglePart) parseContentDisposition() {
	v := p.Header.Get(hdr.ContentDisposition)
	var err error
	p.disposition, p.dispositionParams, err = MIMEParseMediaType(v)
	if err != nil {
		p.dispositionParams = emptyParams
	}
}

func (bp *SinglePart) populateHeaders() error {
	r := hdr.NewHeaderReader(bp.reader.bufReader)
	header, err := r.ReadHeader()
	if err == nil {
		bp.Header = header
	}
	return err
}

// Read reads the body of a part, after its headers and before the
// next part (if any) begins.
func (p *SinglePart) Read(d []byte) (n int, err error) {
	return p.r.Read(d)
}

// readRaw reads directly off the multipart stream up to the next
// boundary, without any Content-Transfer-Encoding decoding; it's the
// Read a part gets by default, before quoted-printable wrapping (if
// any) is layered on top in newPart.
func (p *SinglePart) readRaw(d []byte) (int, error) {
	br := p.reader.bufReader

	// Read into buffer until we identify some data to return,
	// or we find a reason to stop (boundary or read error).
	for p.n == 0 && p.err == nil {
		peek, _ := br.Peek(br.Buffered())
		p.n, p.err = scanUntilBoundary(peek, p.reader.dashBoundary, p.reader.nlDashBoundary, p.total, p.readErr)
		if p.n == 0 && p.err == nil {
			// Force buffered I/O to read more into buffer.
			_, p.readErr = br.Peek(len(peek) + 1)
			if p.readErr == io.EOF {
				p.readErr = io.ErrUnexpectedEOF
			}
		}
	}

	// Read out from "data to return" part of buffer.
	if p.n == 0 {
		return 0, p.err
	}
	n := len(d)
	if n > p.n {
		n = p.n
	}
	n, _ = br.Read(d[:n])
	p.total += int64(n)
	p.n -= n
	if p.n == 0 {
		return n, p.err
	}
	return n, nil
}

func (p *SinglePart) Close() error {
	io.Copy(io.Discard, p)
	return nil
}
