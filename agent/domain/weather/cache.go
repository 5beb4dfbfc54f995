package weather

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// maxCachedForecasts bounds the cache; the least recently used city goes first.
const maxCachedForecasts = 512

type cacheEntry struct {
	days    []Day
	expires time.Time
}

// CachedProvider memoises forecasts per city and horizon. Concurrent misses
// for one key share a single upstream call. Entries are evicted once the TTL
// has passed or the cache is full.
type CachedProvider struct {
	next    Provider
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group
	entries *expirable.LRU[string, cacheEntry]
}

func NewCachedProvider(next Provider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedProvider{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: expirable.NewLRU[string, cacheEntry](maxCachedForecasts, nil, ttl),
	}
}

func (c *CachedProvider) Forecast(ctx context.Context, place Place, days int) ([]Day, error) {
	key := place.Region.ID + "|" + place.City + "|" + strconv.Itoa(days)

	if e, ok := c.entries.Get(key); ok && c.now().Before(e.expires) {
		return append([]Day(nil), e.days...), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		days, err := c.next.Forecast(ctx, place, days)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, cacheEntry{days: days, expires: c.now().Add(c.ttl)})
		return days, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]Day(nil), v.([]Day)...), nil
}
