// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired entries are swept.
const DefaultCleanupInterval = time.Minute

type timedEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	entries sync.Map

	cleanupInterval time.Duration
	now             func() time.Time
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once
}

// MemoryCacheOption configures a MemoryCache instance.
type MemoryCacheOption func(*MemoryCache)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		if interval > 0 {
			c.cleanupInterval = interval
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates a MemoryCache and starts the background cleanup
// goroutine.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()

	return c
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, key, value string, expiresAt time.Time) error {
	if !expiresAt.After(c.now()) {
		return nil
	}
	c.entries.Store(key, timedEntry{value: value, expiresAt: expiresAt})
	return nil
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return "", false, nil
	}
	e := v.(timedEntry)
	if !c.now().Before(e.expiresAt) {
		c.entries.CompareAndDelete(key, v)
		return "", false, nil
	}
	return e.value, true, nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.entries.Delete(key)
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
		<-c.cleanupDone
	})
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// cleanupLoop runs periodic cleanup of expired entries.
func (c *MemoryCache) cleanupLoop() {
	defer close(c.cleanupDone)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.cleanupExpired()
		}
	}
}

func (c *MemoryCache) cleanupExpired() {
	now := c.now()
	c.entries.Range(func(k, v any) bool {
		if !now.Before(v.(timedEntry).expiresAt) {
			c.entries.CompareAndDelete(k, v)
		}
		return true
	})
}
