// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/mlx-go/mlx/graph"
)

// cacheEntry is one compiled artifact: the placeholder inputs and outputs of
// the trace plus the rewritten tape. empty marks an entry that was inserted
// on a lookup miss and is still to be populated.
type cacheEntry struct {
	inputs  []graph.Array
	outputs []graph.Array
	tape    []graph.Array
	empty   bool
}

// compilerCache maps a function identity to its compiled artifacts, one per
// input signature. It is process-global and grows until explicitly erased.
type compilerCache struct {
	mu sync.Mutex

	entries map[uint64][]*cacheEntry
}

// The cache is constructed lazily, and only after the buffer allocator
// singleton, so the allocator outlives every cached array.
var cacheOnce = sync.OnceValue(func() *compilerCache {
	_ = graph.Allocator()
	return &compilerCache{entries: make(map[uint64][]*cacheEntry)}
})

func theCache() *compilerCache { return cacheOnce() }

// signatureMatch compares the shapes and dtypes of two input lists. A length
// mismatch means the host called the compiled function with the wrong number
// of arguments, which is a bug worth failing loudly for.
func signatureMatch(cached, inputs []graph.Array) bool {
	if len(cached) != len(inputs) {
		exceptions.Panicf("compile: got %d inputs for a function cached with %d inputs, this should never happen",
			len(inputs), len(cached))
	}
	for i := range cached {
		if !cached[i].Shape().Equal(inputs[i].Shape()) {
			return false
		}
	}
	return true
}

// find returns the cache entry for (funID, input signature). On a miss a
// fresh empty entry is inserted and returned for the caller to populate.
//
// The scan is linear in the number of signatures compiled for funID; typical
// callers compile each function with few shape variants.
func (c *compilerCache) find(funID uint64, inputs []graph.Array) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries[funID] {
		if signatureMatch(entry.inputs, inputs) {
			return entry
		}
	}
	entry := &cacheEntry{empty: true}
	entry.inputs = slices.Clone(inputs)
	c.entries[funID] = append(c.entries[funID], entry)
	return entry
}

// drop removes a specific entry, used to roll back a compilation that failed
// half-way so a retry starts clean.
func (c *compilerCache) drop(funID uint64, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.entries[funID]
	c.entries[funID] = slices.DeleteFunc(entries, func(e *cacheEntry) bool { return e == entry })
}

// erase removes every cached artifact of funID.
func (c *compilerCache) erase(funID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, funID)
}
