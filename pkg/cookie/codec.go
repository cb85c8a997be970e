// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cookie splits oversized cookie values into numbered chunks,
// reassembles them, and builds the SSO cookies with the configured
// attributes.
package cookie

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// ErrFragmentGap means a chunk is missing while later chunks are present.
var ErrFragmentGap = errors.New("cookie chunk missing before later chunks")

// ErrTooManyChunks means a value needs more chunks than allowed.
var ErrTooManyChunks = errors.New("cookie value needs too many chunks")

// Codec splits values across numbered cookies and base64 encodes byte
// strings through a bounded cache.
type Codec struct {
	chunkSize int
	maxChunks int
	cache     *encodeCache
}

// NewCodec returns a Codec. The cache is cleared whenever it reaches
// cacheSize entries.
func NewCodec(chunkSize, maxChunks, cacheSize int) *Codec {
	if chunkSize <= 0 {
		chunkSize = 3900
	}
	if maxChunks <= 0 || maxChunks > 99 {
		maxChunks = 99
	}
	return &Codec{
		chunkSize: chunkSize,
		maxChunks: maxChunks,
		cache:     newEncodeCache(cacheSize),
	}
}

// ChunkSize returns the largest chunk in bytes.
func (c *Codec) ChunkSize() int { return c.chunkSize }

// MaxChunks returns the chunk ceiling.
func (c *Codec) MaxChunks() int { return c.maxChunks }

// ChunkName returns the cookie name of chunk i: base, base02, base03...
func ChunkName(base string, i int) string {
	if i == 0 {
		return base
	}
	return fmt.Sprintf("%s%02d", base, i+1)
}

// ChunkNames returns every possible chunk name up to the ceiling.
func (c *Codec) ChunkNames(base string) []string {
	names := make([]string, c.maxChunks)
	for i := range names {
		names[i] = ChunkName(base, i)
	}
	return names
}

// Split cuts value into chunks of at most ChunkSize bytes. An empty value
// is one empty chunk.
func (c *Codec) Split(value string) ([]string, error) {
	if value == "" {
		return []string{""}, nil
	}
	n := (len(value) + c.chunkSize - 1) / c.chunkSize
	if n > c.maxChunks {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyChunks, n, c.maxChunks)
	}
	chunks := make([]string, 0, n)
	for start := 0; start < len(value); start += c.chunkSize {
		end := min(start+c.chunkSize, len(value))
		chunks = append(chunks, value[start:end])
	}
	return chunks, nil
}

// Reassemble joins the chunks of base in numeric order, stopping at the
// first missing chunk. If a later chunk exists past the gap, the partial
// value is returned together with a tamper error wrapping ErrFragmentGap.
// A missing base cookie yields "" and ok false.
func (c *Codec) Reassemble(base string, lookup func(name string) (string, bool)) (value string, ok bool, err error) {
	first, ok := lookup(base)
	if !ok {
		return "", false, nil
	}
	value = first
	i := 1
	for ; i < c.maxChunks; i++ {
		part, found := lookup(ChunkName(base, i))
		if !found {
			break
		}
		value += part
	}
	for j := i + 1; j < c.maxChunks; j++ {
		if _, found := lookup(ChunkName(base, j)); found {
			return value, true, wgerrors.NewTamperError(
				fmt.Sprintf("cookie %s is missing chunk %s", base, ChunkName(base, i)), ErrFragmentGap)
		}
	}
	return value, true, nil
}

// FromRequest reassembles the chunks of base from the request cookies.
func (c *Codec) FromRequest(r *http.Request, base string) (string, bool, error) {
	jar := map[string]string{}
	for _, ck := range r.Cookies() {
		if _, dup := jar[ck.Name]; !dup {
			jar[ck.Name] = ck.Value
		}
	}
	return c.Reassemble(base, func(name string) (string, bool) {
		v, ok := jar[name]
		return v, ok
	})
}

// Encode returns the URL-safe base64 form of b.
func (c *Codec) Encode(b []byte) string {
	key := string(b)
	if v, ok := c.cache.get(key); ok {
		return v
	}
	v := base64.RawURLEncoding.EncodeToString(b)
	c.cache.put(key, v)
	return v
}

// Decode reverses Encode.
func (c *Codec) Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// encodeCache is bounded by clearing everything when full. Misses only cost
// a re-encode.
type encodeCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]string
}

func newEncodeCache(max int) *encodeCache {
	if max <= 0 {
		max = 1024
	}
	return &encodeCache{max: max, entries: make(map[string]string)}
}

func (e *encodeCache) get(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.entries[key]
	return v, ok
}

func (e *encodeCache) put(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.entries) >= e.max {
		clear(e.entries)
	}
	e.entries[key] = value
}

func (e *encodeCache) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
