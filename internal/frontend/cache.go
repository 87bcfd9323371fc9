// Package frontend implements the request router and product cache: an
// LRU of size 5 protected by the shared rwlock primitive, and the
// leader-discovery logic that finds the current order replica to forward
// writes to.
package frontend

import "github.com/rshen/toyraft/internal/rwlock"

// ProductResponse is the cached shape of a successful product read.
type ProductResponse struct {
	Name     string
	Price    float64
	Quantity int
}

type cacheEntry struct {
	name     string
	response ProductResponse
}

// Cache is an LRU of up to Capacity product responses. Get, Put and
// Invalidate (including a read hit, which reorders the list) run under the
// writer side of the shared rwlock, since a hit's LRU-touch is itself a
// mutation of shared state; only Len takes the reader side.
type Cache struct {
	lock     rwlock.RWLock
	capacity int
	entries  []cacheEntry // index 0 = least-recently-used, last = most-recently-used
}

// NewCache returns an empty cache with the given capacity.
func NewCache(capacity int) *Cache {
	return &Cache{capacity: capacity}
}

// Get returns the cached response for name, moving it to most-recently-used
// on a hit.
func (c *Cache) Get(name string) (ProductResponse, bool) {
	var out ProductResponse
	found := false
	c.lock.WithWrite(func() {
		for i, e := range c.entries {
			if e.name == name {
				out, found = e.response, true
				c.entries = append(c.entries[:i], c.entries[i+1:]...)
				c.entries = append(c.entries, e)
				return
			}
		}
	})
	return out, found
}

// Put inserts resp as the most-recently-used entry for name, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) Put(name string, resp ProductResponse) {
	c.lock.WithWrite(func() {
		for i, e := range c.entries {
			if e.name == name {
				c.entries = append(c.entries[:i], c.entries[i+1:]...)
				break
			}
		}
		if len(c.entries) >= c.capacity {
			c.entries = c.entries[1:]
		}
		c.entries = append(c.entries, cacheEntry{name: name, response: resp})
	})
}

// Invalidate removes the entry for name, if present. No-op otherwise.
func (c *Cache) Invalidate(name string) {
	c.lock.WithWrite(func() {
		for i, e := range c.entries {
			if e.name == name {
				c.entries = append(c.entries[:i], c.entries[i+1:]...)
				return
			}
		}
	})
}

// Len returns the number of entries currently cached (test helper).
func (c *Cache) Len() int {
	n := 0
	c.lock.WithRead(func() { n = len(c.entries) })
	return n
}
