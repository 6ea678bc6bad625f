/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package sniff implements the small slice of the WHATWG content-sniffing
// algorithm the static file responder needs as a fallback when a route's
// extension isn't in the built-in MIME table: a short ordered list of
// magic-byte signatures, checked against the first sniffLen bytes of a
// file, falling back to "application/octet-stream".
package sniff

import "bytes"

var sniffSignatures = []sniffSig{
	&maskedSig{
		mask: []byte("\xFF\xFF\xFF\xFF\xFF"),
		pat:  []byte("<!DOC"),
		ct:   "text/html; charset=utf-8", skipWS: true,
	},
	&maskedSig{
		mask: []byte("\xFF\xFF\xFF\xFF\xFF"),
		pat:  []byte("<HTML"),
		ct:   "text/html; charset=utf-8", skipWS: true,
	},
	&maskedSig{
		mask: []byte("\xFF\xFF\xFF\xFF"),
		pat:  []byte("<!--"),
		ct:   "text/html; charset=utf-8", skipWS: true,
	},
	&maskedSig{
		mask: []byte("\xFF\xFF\xFF\xFF\xFF"),
		pat:  []byte("<?xml"),
		ct:   "text/xml; charset=utf-8", skipWS: true,
	},
	&exactSig{sig: []byte("%PDF-"), ct: "application/pdf"},
	&exactSig{sig: []byte("%!PS-Adobe-"), ct: "application/postscript"},
	&exactSig{sig: []byte("\xFE\xFF\x00\x00"), ct: "text/plain; charset=utf-16be"},
	&exactSig{sig: []byte("\xFF\xFE\x00\x00"), ct: "text/plain; charset=utf-16le"},
	&exactSig{sig: []byte("\xEF\xBB\xBF\x00"), ct: "text/plain; charset=utf-8"},
	&exactSig{sig: []byte("GIF87a"), ct: "image/gif"},
	&exactSig{sig: []byte("GIF89a"), ct: "image/gif"},
	&exactSig{sig: []byte("\x89PNG\r\n\x1A\n"), ct: "image/png"},
	&exactSig{sig: []byte("\xFF\xD8\xFF"), ct: "image/jpeg"},
	&exactSig{sig: []byte("BM"), ct: "image/bmp"},
	&exactSig{sig: []byte("RIFF\x00\x00\x00\x00WEBPVP"), ct: "image/webp"},
	&exactSig{sig: []byte("\x00\x00\x01\x00"), ct: "image/x-icon"},
	&exactSig{sig: []byte("\x00\x00\x02\x00"), ct: "image/x-icon"},
	&exactSig{sig: []byte("PK\x03\x04"), ct: "application/zip"},
	&exactSig{sig: []byte("\x1F\x8B\x08"), ct: "application/gzip"},
	&exactSig{sig: []byte("Rar!\x1A\x07"), ct: "application/x-rar-compressed"},
	&exactSig{sig: []byte("\x7FELF"), ct: "application/x-elf"},
	textSig{}, // should be last
}

// DetectContentType implements the content-sniffing algorithm used when
// a static route's extension isn't in the built-in MIME table: it
// examines up to the first 512 bytes of data and returns the best
// matching MIME type, or "application/octet-stream" if nothing matches.
func DetectContentType(data []byte) string {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	firstNonWS := 0
	for ; firstNonWS < len(data) && isWS(data[firstNonWS]); firstNonWS++ {
	}
	for _, sig := range sniffSignatures {
		if ct := sig.match(data, firstNonWS); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}

func isWS(b byte) bool {
	return bytes.IndexByte([]byte("\t\n\x0C\r "), b) != -1
}
