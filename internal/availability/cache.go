package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"coachbook/internal/models"

	"github.com/redis/go-redis/v9"
)

// Cache holds computed per-day slot lists, keyed by date. Entries are
// replaced whole, never patched in place, so concurrent preload and
// per-date fetches cannot observe a partially written day. Staleness is
// bounded by the TTL; the commit path never reads this cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.DayAvailability
	ttl     time.Duration
	now     func() time.Time

	redis *redis.Client
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		entries: make(map[string]models.DayAvailability),
		ttl:     ttl,
		now:     time.Now,
	}
}

// UseRedis enables a second-level Redis cache so that multiple instances
// share computed days. Optional; the in-process map stays authoritative
// for TTL decisions.
func (c *Cache) UseRedis(client *redis.Client) {
	c.redis = client
}

// WithClock substitutes the clock, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached day if present and unexpired.
func (c *Cache) Get(ctx context.Context, date string) (models.DayAvailability, bool) {
	c.mu.RLock()
	day, ok := c.entries[date]
	c.mu.RUnlock()

	if ok && c.now().Sub(day.ComputedAt) < c.ttl {
		return day, true
	}

	if c.redis != nil {
		if day, ok := c.readRedis(ctx, date); ok {
			c.mu.Lock()
			c.entries[date] = day
			c.mu.Unlock()
			return day, true
		}
	}
	return models.DayAvailability{}, false
}

// Put stores one computed day, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, day models.DayAvailability) {
	c.mu.Lock()
	c.entries[day.Date] = day
	c.mu.Unlock()
	c.writeRedis(ctx, day)
}

// Invalidate discards the entry for a date regardless of TTL.
func (c *Cache) Invalidate(ctx context.Context, date string) {
	c.mu.Lock()
	delete(c.entries, date)
	c.mu.Unlock()
	if c.redis != nil {
		_ = c.redis.Del(ctx, redisKey(date)).Err()
	}
}

func redisKey(date string) string {
	return fmt.Sprintf("availability:%s", date)
}

func (c *Cache) readRedis(ctx context.Context, date string) (models.DayAvailability, bool) {
	val, err := c.redis.Get(ctx, redisKey(date)).Result()
	if err != nil {
		return models.DayAvailability{}, false
	}
	var day models.DayAvailability
	if err := json.Unmarshal([]byte(val), &day); err != nil {
		return models.DayAvailability{}, false
	}
	if c.now().Sub(day.ComputedAt) >= c.ttl {
		return models.DayAvailability{}, false
	}
	return day, true
}

func (c *Cache) writeRedis(ctx context.Context, day models.DayAvailability) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(day)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, redisKey(day.Date), data, c.ttl).Err()
}
