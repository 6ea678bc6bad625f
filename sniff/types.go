/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package sniff

// sniffLen is the maximum number of bytes examined, matching the
// WHATWG MIME Sniffing Standard's content-sniffing algorithm.
const sniffLen = 512

// sniffSig is one entry in the content-sniffing signature table.
type sniffSig interface {
	// match returns the MIME type of data, or "" if unknown.
	match(data []byte, firstNonWS int) string
}

type exactSig struct {
	sig []byte
	ct  string
}

type maskedSig struct {
	mask, pat []byte
	ct        string
	skipWS    bool
}

type textSig struct{}
