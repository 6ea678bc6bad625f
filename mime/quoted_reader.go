/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mime

import (
	"bytes"
	"fmt"
	"io"
)

// Read decodes quoted-printable data from the underlying reader,
// following RFC 2045: "=XX" is a hex-escaped byte, a trailing "=" at
// end of line is a soft line break that is discarded along with the
// newline, and any other end-of-line is a hard break that is emitted
// as a single '\n'.
func (q *QuotedReader) Read(p []byte) (n int, err error) {
	for len(p) > 0 {
		if len(q.line) == 0 {
			if q.rerr != nil {
				return n, q.rerr
			}
			var raw []byte
			raw, q.rerr = q.br.ReadSlice('\n')
			if q.rerr == io.EOF && len(raw) > 0 {
				q.rerr = nil
			}

			trimmed := bytes.TrimRightFunc(raw, isQPDiscardWhitespace)
			hadNewline := len(raw) > len(trimmed) || (len(raw) > 0 && raw[len(raw)-1] == '\n')
			if len(trimmed) > 0 && trimmed[len(trimmed)-1] == '=' {
				q.line = trimmed[:len(trimmed)-1]
			} else {
				q.line = trimmed
				if hadNewline {
					q.line = append(append([]byte{}, trimmed...), '\n')
				}
			}
			continue
		}

		if len(q.line) >= 3 && q.line[0] == '=' && q.line[1] != '\n' {
			b, herr := readHexByte(q.line[1:3])
			if herr != nil {
				return n, fmt.Errorf("mime: quoted-printable: %v", herr)
			}
			p[0] = b
			p = p[1:]
			n++
			q.line = q.line[3:]
			continue
		}
		if q.line[0] == '=' && len(q.line) < 3 {
			return n, fmt.Errorf("mime: quoted-printable: truncated escape sequence")
		}
		p[0] = q.line[0]
		p = p[1:]
		n++
		q.line = q.line[1:]
	}
	return n, nil
}
