/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import (
	"strings"
	"sync"
	"time"
)

// Header field names this server reads or sets somewhere in the
// request/response path. Narrower than a general-purpose HTTP library's
// table: only names static, upload, cgi, router and respwrite actually
// touch.
const (
	Accept           = "Accept"
	AcceptRanges     = "Accept-Ranges"
	Allow            = "Allow"
	CacheControl     = "Cache-Control"
	Connection       = "Connection"
	ContentDisposition = "Content-Disposition"
	ContentLength    = "Content-Length"
	ContentTransferEncoding = "Content-Transfer-Encoding"
	ContentType      = "Content-Type"
	CookieHeader     = "Cookie"
	Date             = "Date"
	Host             = "Host"
	IfModifiedSince  = "If-Modified-Since"
	LastModified     = "Last-Modified"
	Location         = "Location"
	ServerHeader     = "Server"
	SetCookieHeader  = "Set-Cookie"
	TransferEncoding = "Transfer-Encoding"
	UserAgent        = "User-Agent"
	XFilename        = "X-Filename"
	XForwardedFor    = "X-Forwarded-For"

	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var timeFormats = []string{
	TimeFormat,
	time.RFC850,
	time.ANSIC,
}

// ParseTime parses an HTTP date header value (such as
// If-Modified-Since), trying each of the formats in timeFormats.
func ParseTime(text string) (t time.Time, err error) {
	for _, layout := range timeFormats {
		t, err = time.Parse(layout, text)
		if err == nil {
			return t, nil
		}
	}
	return t, err
}

// headerNewlineToSpace collapses a value containing CR/LF into a single
// wire-safe line, guarding against header injection through a value
// sourced from a CGI script or an upstream-controlled field.
var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

var headerSorterPool = sync.Pool{
	New: func() interface{} { return new(headerSorter) },
}

// commonHeader interns the names above so CanonicalHeaderKey can return
// a shared string instead of allocating one per header line parsed.
var commonHeader = make(map[string]string)

func init() {
	for _, v := range []string{
		Accept,
		AcceptRanges,
		Allow,
		CacheControl,
		Connection,
		ContentDisposition,
		ContentLength,
		ContentTransferEncoding,
		ContentType,
		CookieHeader,
		Date,
		Host,
		IfModifiedSince,
		LastModified,
		Location,
		ServerHeader,
		SetCookieHeader,
		TransferEncoding,
		UserAgent,
		XFilename,
		XForwardedFor,
	} {
		commonHeader[v] = v
	}
}
