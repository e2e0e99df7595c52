package prefs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/repository"
)

// Cache is a process-local, read-mostly preference cache with explicit
// invalidation. Entries are evicted by Invalidate (driven by preference
// change events on the bus), never by TTL: any staleness between change
// events is an accepted inconsistency window, serving an entry after its
// invalidation is not.
type Cache struct {
	repo   repository.PreferenceRepository
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*domain.Preference
}

func NewCache(repo repository.PreferenceRepository, logger *zap.Logger) *Cache {
	return &Cache{
		repo:    repo,
		logger:  logger,
		entries: make(map[string]*domain.Preference),
	}
}

// Get returns the user's preferences, reading through to the repository on a
// miss. Users with no stored row get the defaults; the defaults are cached
// too so repeated lookups stay cheap.
func (c *Cache) Get(ctx context.Context, userID string) (*domain.Preference, error) {
	c.mu.RLock()
	if p, ok := c.entries[userID]; ok {
		c.mu.RUnlock()
		clone := *p
		return &clone, nil
	}
	c.mu.RUnlock()

	p, err := c.repo.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		p = domain.DefaultPreference(userID)
	} else if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[userID] = p
	c.mu.Unlock()

	clone := *p
	return &clone, nil
}

// Invalidate drops a user's cached entry. Called from the bus subscriber when
// a preference change event arrives, including changes made by other processes.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	c.logger.Debug("preference cache invalidated", zap.String("user_id", userID))
}

// Len reports the number of cached entries, for the metrics snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
