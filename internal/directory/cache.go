// Package directory holds a bounded snapshot of known users for fast local
// lookup when the remote directory is unavailable or a narrowed pool is enough.
package directory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/concordhq/concord/internal/collab"
)

// Cache is a bounded, concurrency-safe snapshot of directory users. Every
// hydrated remote search result is written through; eviction is
// least-recently-seen once capacity is exceeded.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*StoredUser
	store    *Store
	log      *slog.Logger
	now      func() time.Time
}

// NewCache creates a cache with the given capacity, seeded from store when one
// is provided.
func NewCache(log *slog.Logger, capacity int, store *Store) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = 500
	}
	c := &Cache{
		capacity: capacity,
		entries:  map[string]*StoredUser{},
		store:    store,
		log:      log.With(slog.String("service", "directory")),
		now:      time.Now,
	}
	if store != nil {
		users, err := store.Load(context.Background())
		if err != nil {
			return nil, err
		}
		for i := range users {
			u := users[i]
			c.entries[u.User.ID] = &u
		}
		c.log.Info("directory snapshot loaded", slog.Int("users", len(users)))
	}
	return c, nil
}

// Put records users as recently seen, evicting the least recently seen
// entries when over capacity.
func (c *Cache) Put(users ...collab.User) {
	if len(users) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		c.entries[u.ID] = &StoredUser{User: u, LastSeen: now}
	}
	c.compactLocked()
}

// Snapshot returns the cached users, most recently seen first.
func (c *Cache) Snapshot() []collab.User {
	c.mu.Lock()
	defer c.mu.Unlock()

	ordered := c.orderedLocked()
	users := make([]collab.User, len(ordered))
	for i, e := range ordered {
		users[i] = e.User
	}
	return users
}

// Len returns the number of cached users.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Persist writes the current snapshot to the backing store, if any.
func (c *Cache) Persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	ordered := c.orderedLocked()
	snapshot := make([]StoredUser, len(ordered))
	for i, e := range ordered {
		snapshot[i] = *e
	}
	c.mu.Unlock()

	return c.store.Save(ctx, snapshot)
}

func (c *Cache) compactLocked() {
	if len(c.entries) <= c.capacity {
		return
	}
	ordered := c.orderedLocked()
	for _, e := range ordered[c.capacity:] {
		delete(c.entries, e.User.ID)
	}
}

// orderedLocked returns entries most recently seen first. Caller holds mu.
func (c *Cache) orderedLocked() []*StoredUser {
	ordered := make([]*StoredUser, 0, len(c.entries))
	for _, e := range c.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].LastSeen.Equal(ordered[j].LastSeen) {
			return ordered[i].LastSeen.After(ordered[j].LastSeen)
		}
		return ordered[i].User.ID < ordered[j].User.ID
	})
	return ordered
}
