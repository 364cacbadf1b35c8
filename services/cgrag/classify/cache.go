// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classify

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/codelore/codelore/services/cgrag/datatypes"
)

// Cache is an LRU cache for classifications with TTL expiration.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxSize int
}

type cacheEntry struct {
	key       string
	result    datatypes.QueryClassification
	expiresAt time.Time
}

// NewCache creates a cache; ttl and maxSize must be positive.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns a cached classification if present and unexpired. The
// returned copy has FromCache set.
func (c *Cache) Get(question string) (datatypes.QueryClassification, bool) {
	key := cacheKey(question)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		return datatypes.QueryClassification{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		// Expired, remove lazily
		c.lru.Remove(elem)
		delete(c.entries, key)
		return datatypes.QueryClassification{}, false
	}

	c.lru.MoveToFront(elem)
	result := entry.result
	result.FromCache = true
	return result, true
}

// Set stores a classification, evicting the least recently used entry
// when at capacity.
func (c *Cache) Set(question string, result datatypes.QueryClassification) {
	key := cacheKey(question)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		entry := elem.Value.(*cacheEntry)
		entry.result = result
		entry.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	entry := &cacheEntry{
		key:       key,
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.entries[key] = c.lru.PushFront(entry)
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func cacheKey(question string) string {
	sum := sha256.Sum256([]byte(question))
	return hex.EncodeToString(sum[:])
}
