package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	referencex "github.com/tanpawarit/krishi-saathi/agent/reference"
	"github.com/tanpawarit/krishi-saathi/pkg/agmarknet"
	"golang.org/x/sync/singleflight"
)

// MaxQuotes bounds how many mandis one answer lists.
const MaxQuotes = 4

var ErrNoQuotes = errors.New("market: no price quotes")

// Quote is one mandi's price for a crop, per quintal.
type Quote struct {
	MandiID         string
	Names           referencex.Text
	PricePerQuintal int
}

type PriceSource interface {
	Quotes(ctx context.Context, crop referencex.Crop, region referencex.Region) ([]Quote, error)
}

/* -------------------------------- Agmarknet -------------------------------- */

// AgmarknetSource reads today's modal prices. The region's own mandis are
// listed first, then other markets in the same state.
type AgmarknetSource struct {
	client *agmarknet.Client
}

func NewAgmarknetSource(client *agmarknet.Client) (*AgmarknetSource, error) {
	if client == nil {
		return nil, errors.New("agmarknet client is required")
	}
	return &AgmarknetSource{client: client}, nil
}

func (s *AgmarknetSource) Quotes(ctx context.Context, crop referencex.Crop, region referencex.Region) ([]Quote, error) {
	if strings.TrimSpace(crop.Agmarknet) == "" {
		return nil, fmt.Errorf("%w: crop %s has no agmarknet commodity", ErrNoQuotes, crop.ID)
	}
	records, err := s.client.Records(ctx, agmarknet.Query{Commodity: crop.Agmarknet, State: region.State})
	if err != nil {
		return nil, err
	}

	var local, other []Quote
	seen := map[string]bool{}
	for _, rec := range records {
		price := float64(rec.ModalPrice)
		if price <= 0 {
			price = (float64(rec.MinPrice) + float64(rec.MaxPrice)) / 2
		}
		market := strings.TrimSpace(rec.Market)
		key := strings.ToLower(market)
		if price <= 0 || market == "" || seen[key] {
			continue
		}
		seen[key] = true

		if m, ok := region.MandiByMarket(market); ok {
			local = append(local, Quote{MandiID: m.ID, Names: m.Names, PricePerQuintal: int(math.Round(price))})
			continue
		}
		other = append(other, Quote{
			MandiID:         key,
			Names:           referencex.Text{"en-IN": market},
			PricePerQuintal: int(math.Round(price)),
		})
	}

	out := append(local, other...)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: agmarknet has no %s rows for %s", ErrNoQuotes, crop.Agmarknet, region.State)
	}
	if len(out) > MaxQuotes {
		out = out[:MaxQuotes]
	}
	return out, nil
}

/* -------------------------------- Reference -------------------------------- */

// ReferenceSource prices every region mandi from the crop's base price and
// the mandi's fixed offset.
type ReferenceSource struct{}

func (ReferenceSource) Quotes(_ context.Context, crop referencex.Crop, region referencex.Region) ([]Quote, error) {
	if crop.BasePrice <= 0 || len(region.Mandis) == 0 {
		return nil, fmt.Errorf("%w: no reference price for %s in %s", ErrNoQuotes, crop.ID, region.ID)
	}
	out := make([]Quote, 0, len(region.Mandis))
	for _, m := range region.Mandis {
		price := float64(crop.BasePrice) * (1 + float64(m.OffsetPercent)/100)
		out = append(out, Quote{MandiID: m.ID, Names: m.Names, PricePerQuintal: int(math.Round(price))})
		if len(out) == MaxQuotes {
			break
		}
	}
	return out, nil
}

/* --------------------------------- Fallback -------------------------------- */

type FallbackSource struct {
	primary   PriceSource
	secondary PriceSource
}

func NewFallbackSource(primary, secondary PriceSource) *FallbackSource {
	return &FallbackSource{primary: primary, secondary: secondary}
}

func (s *FallbackSource) Quotes(ctx context.Context, crop referencex.Crop, region referencex.Region) ([]Quote, error) {
	if s.primary != nil {
		out, err := s.primary.Quotes(ctx, crop, region)
		if err == nil && len(out) > 0 {
			return out, nil
		}
		log.Ctx(ctx).Warn().Err(err).Str("crop", crop.ID).Str("region", region.ID).Msg("primary price source failed, using fallback")
	}
	if s.secondary == nil {
		return nil, ErrNoQuotes
	}
	return s.secondary.Quotes(ctx, crop, region)
}

/* ---------------------------------- Cache ---------------------------------- */

// maxCachedQuotes bounds the cache; the least recently used crop and region
// pair goes first.
const maxCachedQuotes = 256

type cacheEntry struct {
	quotes  []Quote
	expires time.Time
}

// CachedSource memoises quotes per crop and region. Concurrent misses share
// one upstream call. Entries are evicted once the TTL has passed or the cache
// is full.
type CachedSource struct {
	next    PriceSource
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group
	entries *expirable.LRU[string, cacheEntry]
}

func NewCachedSource(next PriceSource, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedSource{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: expirable.NewLRU[string, cacheEntry](maxCachedQuotes, nil, ttl),
	}
}

func (c *CachedSource) Quotes(ctx context.Context, crop referencex.Crop, region referencex.Region) ([]Quote, error) {
	key := crop.ID + "|" + region.ID

	if e, ok := c.entries.Get(key); ok && c.now().Before(e.expires) {
		return append([]Quote(nil), e.quotes...), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		quotes, err := c.next.Quotes(ctx, crop, region)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, cacheEntry{quotes: quotes, expires: c.now().Add(c.ttl)})
		return quotes, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]Quote(nil), v.([]Quote)...), nil
}
