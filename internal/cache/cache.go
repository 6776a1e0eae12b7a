// Package cache keeps recently loaded logins in memory so repeated lookups
// do not have to decrypt the same entry again.
package cache

import (
	"sync"
	"time"

	"github.com/atinyakov/passkeeper/internal/clock"
	"github.com/atinyakov/passkeeper/internal/models"
)

type entry struct {
	login models.Login
	timer clock.Timer
}

// Cache maps store paths to logins. Every entry expires on its own timer.
// All methods are safe for concurrent use, including with timer callbacks.
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*entry
}

// New returns an empty Cache whose timers come from c.
func New(c clock.Clock) *Cache {
	return &Cache{clock: c, entries: make(map[string]*entry)}
}

// Get returns a copy of the login cached for path.
func (c *Cache) Get(path string) (models.Login, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return models.Login{}, false
	}
	return e.login.Clone(), true
}

// Put caches a copy of login for lifetime. A non-positive lifetime leaves
// the cache untouched. An existing entry for path is replaced and its
// timer stopped.
func (c *Cache) Put(path string, login models.Login, lifetime time.Duration) {
	if lifetime <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[path]; ok {
		old.timer.Stop()
	}
	e := &entry{login: login.Clone()}
	c.entries[path] = e
	e.timer = c.clock.AfterFunc(lifetime, func() { c.expire(path, e) })
}

// expire removes path only if it still holds e. A timer that fired while
// Put was replacing the entry finds a different entry and leaves it alone.
func (c *Cache) expire(path string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[path] == e {
		delete(c.entries, path)
	}
}

// Delete evicts path.
func (c *Cache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		e.timer.Stop()
		delete(c.entries, path)
	}
}

// Clear evicts every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, path)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
