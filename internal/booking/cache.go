package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how long an availability snapshot is served.
const DefaultCacheTTL = 30 * time.Second

// CacheConfig holds availability cache configuration.
type CacheConfig struct {
	TTL time.Duration

	// Clock for testing (nil uses real time)
	Clock Clock
}

type cacheKey struct {
	courtID int64
	date    Date
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%d|%s", k.courtID, k.date)
}

type cacheEntry struct {
	slots    []Slot
	storedAt time.Time
}

// AvailabilityCache memoizes computed availability per (court, date).
// Invalidate must be called after every committed change to a booking on the
// key; a computation that started before the invalidation is never stored.
type AvailabilityCache struct {
	ttl   time.Duration
	clock Clock

	mu      sync.RWMutex
	entries map[cacheKey]*cacheEntry
	// generation is bumped by Invalidate. Entries are kept forever so a
	// late computation can always tell it is stale.
	generation map[cacheKey]uint64
	group      singleflight.Group

	// Cleanup goroutine management
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupOnce   sync.Once
	cleanupWg     sync.WaitGroup
}

// NewAvailabilityCache creates a cache with the given config.
func NewAvailabilityCache(cfg CacheConfig) *AvailabilityCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AvailabilityCache{
		ttl:           ttl,
		clock:         clock,
		entries:       make(map[cacheKey]*cacheEntry),
		generation:    make(map[cacheKey]uint64),
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
}

// Close stops the cleanup goroutine.
func (c *AvailabilityCache) Close() {
	c.cleanupCancel()
	c.cleanupWg.Wait()
}

// Get returns the cached slots for (courtID, date), calling compute on a miss.
// Concurrent misses for the same key share one compute call. The returned
// slice belongs to the caller.
func (c *AvailabilityCache) Get(
	ctx context.Context,
	courtID int64,
	date Date,
	compute func(context.Context) ([]Slot, error),
) ([]Slot, error) {
	c.startCleanup()
	key := cacheKey{courtID: courtID, date: date}

	if slots, ok := c.lookup(key); ok {
		return slots, nil
	}

	result, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.RLock()
		gen := c.generation[key]
		c.mu.RUnlock()

		slots, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generation[key] == gen {
			c.entries[key] = &cacheEntry{slots: slots, storedAt: c.clock.Now()}
		}
		c.mu.Unlock()
		return slots, nil
	})
	if err != nil {
		return nil, err
	}
	return copySlots(result.([]Slot)), nil
}

// Invalidate drops the entry for (courtID, date) and discards any computation
// for it that is still in flight.
func (c *AvailabilityCache) Invalidate(courtID int64, date Date) {
	key := cacheKey{courtID: courtID, date: date}
	c.mu.Lock()
	c.generation[key]++
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key.String())
}

func (c *AvailabilityCache) lookup(key cacheKey) ([]Slot, bool) {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.entries[key]
	if e == nil || now.Sub(e.storedAt) >= c.ttl {
		return nil, false
	}
	return copySlots(e.slots), true
}

func (c *AvailabilityCache) startCleanup() {
	c.cleanupOnce.Do(func() {
		c.cleanupWg.Add(1)
		go func() {
			defer c.cleanupWg.Done()
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-c.cleanupCtx.Done():
					return
				case <-ticker.C:
					c.cleanup()
				}
			}
		}()
	})
}

func (c *AvailabilityCache) cleanup() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

func copySlots(slots []Slot) []Slot {
	if slots == nil {
		return nil
	}
	out := make([]Slot, len(slots))
	copy(out, slots)
	return out
}
