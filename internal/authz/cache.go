// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package authz

import (
	"sync"
	"time"

	"github.com/tomtom215/storegate/internal/permissions"
)

const defaultCacheTTL = 5 * time.Minute

// decisionKey identifies one role/guard/method decision. The guard is keyed
// by pattern, not by request path, so the cache stays bounded by the guard
// table size.
type decisionKey struct {
	role    permissions.Role
	pattern string
	method  string
}

type decision struct {
	allowed bool
	expires time.Time
}

// decisionCache memoizes casbin decisions. Policy is immutable after
// startup; the TTL only releases entries for combinations no longer seen.
type decisionCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[decisionKey]decision

	done      chan struct{}
	closeOnce sync.Once
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c := &decisionCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[decisionKey]decision),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *decisionCache) lookup(k decisionKey) (allowed, ok bool) {
	c.mu.RLock()
	d, found := c.entries[k]
	c.mu.RUnlock()

	if !found || !c.now().Before(d.expires) {
		return false, false
	}
	return d.allowed, true
}

func (c *decisionCache) store(k decisionKey, allowed bool) {
	c.mu.Lock()
	c.entries[k] = decision{allowed: allowed, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// sweep drops expired entries and reports how many were removed.
func (c *decisionCache) sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, d := range c.entries {
		if !now.Before(d.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *decisionCache) sweepLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *decisionCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// close stops the sweeper. Safe to call more than once.
func (c *decisionCache) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
