// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"sync"

	"go.opentelemetry.io/clrauto/corprof"
)

// moduleCache maps loaded modules to their metadata. Entries are immutable
// once inserted; the mutex guards the map only.
type moduleCache struct {
	mu      sync.Mutex
	modules map[corprof.ModuleID]*ModuleMetadata
	closed  bool
}

func newModuleCache() *moduleCache {
	return &moduleCache{modules: make(map[corprof.ModuleID]*ModuleMetadata)}
}

// insert stores md for id, replacing and returning any previous entry. It
// reports false, storing nothing, once the cache is closed.
func (c *moduleCache) insert(id corprof.ModuleID, md *ModuleMetadata) (prev *ModuleMetadata, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	prev = c.modules[id]
	c.modules[id] = md
	return prev, true
}

func (c *moduleCache) remove(id corprof.ModuleID) (*ModuleMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	md, ok := c.modules[id]
	if ok {
		delete(c.modules, id)
	}
	return md, ok
}

func (c *moduleCache) lookup(id corprof.ModuleID) (*ModuleMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	md, ok := c.modules[id]
	return md, ok
}

func (c *moduleCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.modules)
}

// close drops every entry and rejects further inserts. It returns the number
// of entries dropped.
func (c *moduleCache) close() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.modules)
	c.modules = make(map[corprof.ModuleID]*ModuleMetadata)
	c.closed = true
	return n
}
