// Package directory resolves user identity and team roles for the
// workflow engine. The Resolver interface keeps the engine decoupled from
// where membership actually lives.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/store"
)

// Resolver looks up users and their team roles.
type Resolver interface {
	// ResolveUser returns the directory entry for a user id.
	ResolveUser(ctx context.Context, userID string) (*models.User, error)
	// RoleOf returns the user's role in the team, or RoleNone when the
	// user is not a member.
	RoleOf(ctx context.Context, teamID, userID string) (models.Role, error)
}

// StoreResolver implements Resolver against the persistent store.
type StoreResolver struct {
	store store.Store
}

// NewStoreResolver creates a store-backed resolver.
func NewStoreResolver(s store.Store) *StoreResolver {
	return &StoreResolver{store: s}
}

func (r *StoreResolver) ResolveUser(ctx context.Context, userID string) (*models.User, error) {
	return r.store.GetUser(ctx, userID)
}

func (r *StoreResolver) RoleOf(ctx context.Context, teamID, userID string) (models.Role, error) {
	m, err := r.store.GetTeamMember(ctx, teamID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.RoleNone, nil
	}
	if err != nil {
		return models.RoleNone, err
	}
	return m.Role, nil
}

// TeamCache answers "does this team exist" without hitting the store on
// every request. Entries expire after a TTL and the cache is bounded; a
// team's entry can be dropped explicitly with Invalidate. Team existence
// is effectively immutable once created, which is what makes this safe to
// cache at all. Issue and workflow state are never cached here.
type TeamCache struct {
	store    store.Store
	ttl      time.Duration
	maxSize  int
	now      func() time.Time
	mu       sync.Mutex
	entries  map[string]teamCacheEntry
}

type teamCacheEntry struct {
	exists  bool
	expires time.Time
}

// NewTeamCache creates a cache with the given TTL and size bound.
func NewTeamCache(s store.Store, ttl time.Duration, maxSize int) *TeamCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &TeamCache{
		store:   s,
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]teamCacheEntry),
	}
}

// SetClock replaces the time source, for tests.
func (c *TeamCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Exists reports whether the team exists, consulting the store on a miss
// or an expired entry.
func (c *TeamCache) Exists(ctx context.Context, teamID string) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[teamID]
	now := c.now()
	c.mu.Unlock()

	if ok && now.Before(entry.expires) {
		return entry.exists, nil
	}

	_, err := c.store.GetTeam(ctx, teamID)
	exists := true
	if errors.Is(err, store.ErrNotFound) {
		exists = false
	} else if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		// Bound the map by evicting expired entries first, then arbitrary
		// ones; correctness doesn't depend on which entries survive.
		for id, e := range c.entries {
			if !c.now().Before(e.expires) {
				delete(c.entries, id)
			}
		}
		for id := range c.entries {
			if len(c.entries) < c.maxSize {
				break
			}
			delete(c.entries, id)
		}
	}
	c.entries[teamID] = teamCacheEntry{exists: exists, expires: now.Add(c.ttl)}
	return exists, nil
}

// Invalidate drops a team's cached entry.
func (c *TeamCache) Invalidate(teamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, teamID)
}
