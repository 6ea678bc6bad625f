/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package mime parses multipart/form-data bodies one part at a time so
// upload.Handle can stream each file straight to disk: a part is never
// buffered whole, and nothing here builds an in-memory Form, since the
// only caller ever does NextPart followed by a direct copy to a temp
// file.
package mime

import (
	"bufio"
	"io"

	"github.com/helouazizi/localserver/hdr"
)

type (
	// SinglePart represents a single part in a multipart body, as
	// produced by MultipartReader.NextPart.
	SinglePart struct {
		// Header holds the part's headers, keyed canonically. As a
		// special case, if the "Content-Transfer-Encoding" header has a
		// value of "quoted-printable", that header is instead hidden
		// from this map and the body is transparently decoded during
		// Read calls.
		Header hdr.Header

		reader *MultipartReader

		disposition       string
		dispositionParams map[string]string

		// r is either readerFunc(p.readRaw) (reading raw
		// boundary-delimited bytes), or a wrapper around that decoding
		// Content-Transfer-Encoding.
		r io.Reader

		n       int   // known data bytes waiting in reader.bufReader
		total   int64 // total data bytes read already
		err     error // error to return when n == 0
		readErr error // read error observed from reader.bufReader
	}

	// stickyErrorReader is an io.Reader which never calls Read on its
	// underlying Reader once an error has been seen. (the io.Reader
	// interface's contract promises nothing about the return values of
	// Read calls after an error, yet this package does do multiple Reads
	// after error)
	stickyErrorReader struct {
		r   io.Reader
		err error
	}

	// MultipartReader is an iterator over parts in a multipart body.
	// Its underlying parser consumes its input as needed. Seeking
	// isn't supported.
	MultipartReader struct {
		bufReader *bufio.Reader

		currentPart *SinglePart
		partsRead   int

		newLine          []byte // "\r\n" or "\n" (set after seeing first boundary line)
		nlDashBoundary   []byte // newLine + "--boundary"
		dashBoundaryDash []byte // "--boundary--"
		dashBoundary     []byte // "--boundary"
	}

	// QuotedReader is a quoted-printable decoder.
	QuotedReader struct {
		br   *bufio.Reader
		rerr error  // last read error
		line []byte // to be consumed before more of br
	}
)

var (
	emptyParams = make(map[string]string)

	crlf       = []byte("\r\n")
	lf         = []byte("\n")
	softSuffix = []byte("=")
)

const (
	// This constant needs to be at least 76 for this package to work correctly.
	// This is because \r\n--separator_of_len_70- would fill the buffer and it
	// wouldn't be safe to consume a single byte from it.
	peekBufferSize = 4096
	upperhex       = "0123456789ABCDEF"
	lineMaxLen     = 76
)
