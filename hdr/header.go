/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr is the header map this server passes between the
// incremental request parser, the route dispatch layer, and the
// response writer: one map type, canonicalized the way net/http does
// it, plus the pieces this server actually exercises on top of it —
// a MIME-style line reader for multipart part headers (package mime)
// and the header-field validation the head parser rejects malformed
// requests with (internal/httpparse).
package hdr

import (
	"io"
	"sort"
)

// Header represents the key-value pairs in an HTTP header, keyed
// canonically.
type Header map[string][]string

// Add appends value to any existing values associated with key.
func (h Header) Add(key, value string) {
	key = CanonicalHeaderKey(key)
	h[key] = append(h[key], value)
}

// Set replaces any existing values associated with key with the
// single value given.
func (h Header) Set(key, value string) {
	h[CanonicalHeaderKey(key)] = []string{value}
}

// Get returns the first value associated with key, or "" if there is
// none. key need not already be in canonical form.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	v := h[CanonicalHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Del deletes the values associated with key.
func (h Header) Del(key string) {
	delete(h, CanonicalHeaderKey(key))
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	h2 := make(Header, len(h))
	for k, vv := range h {
		vv2 := make([]string, len(vv))
		copy(vv2, vv)
		h2[k] = vv2
	}
	return h2
}

// CopyFromHeader appends every value in src into h, canonicalizing
// src's keys as it goes; used to merge a CGI script's trailing headers
// onto a response already under construction.
func (h Header) CopyFromHeader(src Header) {
	for k, vv := range src {
		key := CanonicalHeaderKey(k)
		for _, v := range vv {
			h[key] = append(h[key], v)
		}
	}
}

// Write serializes h in wire format (sorted keys, "Key: value\r\n" per
// line, CRLF-folded values flattened to a single line).
func (h Header) Write(w io.Writer) error {
	return h.WriteSubset(w, nil)
}

// WriteSubset is like Write but omits any key where exclude[key] is
// true.
func (h Header) WriteSubset(w io.Writer, exclude map[string]bool) error {
	ws, ok := w.(stringWriter)
	if !ok {
		ws = stringWriterFor{w}
	}
	kvs, sorter := h.sortedKeyValues(exclude)
	for _, kv := range kvs {
		for _, v := range kv.values {
			v = headerNewlineToSpace.Replace(v)
			v = TrimString(v)
			for _, s := range [...]string{kv.key, ": ", v, "\r\n"} {
				if _, err := ws.WriteString(s); err != nil {
					return err
				}
			}
		}
	}
	headerSorterPool.Put(sorter)
	return nil
}

type keyValues struct {
	key    string
	values []string
}

// headerSorter implements sort.Interface by key, kept in a pool since
// WriteSubset runs once per response and allocating a fresh sorter
// every time would be wasteful on a server answering many small
// responses per connection.
type headerSorter struct {
	kvs []keyValues
}

func (s *headerSorter) Len() int           { return len(s.kvs) }
func (s *headerSorter) Swap(i, j int)      { s.kvs[i], s.kvs[j] = s.kvs[j], s.kvs[i] }
func (s *headerSorter) Less(i, j int) bool { return s.kvs[i].key < s.kvs[j].key }

func (h Header) sortedKeyValues(exclude map[string]bool) (kvs []keyValues, hs *headerSorter) {
	hs = headerSorterPool.Get().(*headerSorter)
	if cap(hs.kvs) < len(h) {
		hs.kvs = make([]keyValues, 0, len(h))
	}
	kvs = hs.kvs[:0]
	for k, vv := range h {
		if !exclude[k] {
			kvs = append(kvs, keyValues{k, vv})
		}
	}
	hs.kvs = kvs
	sort.Sort(hs)
	return kvs, hs
}

// stringWriter is satisfied directly by anything (like a bytes.Buffer)
// that already has WriteString; stringWriterFor wraps a plain
// io.Writer to give it the same method.
type stringWriter interface {
	WriteString(string) (int, error)
}

type stringWriterFor struct{ w io.Writer }

func (s stringWriterFor) WriteString(str string) (int, error) {
	return s.w.Write([]byte(str))
}
