package calendar

import (
	"context"
	"strconv"
	"time"

	"recruitment-hitos/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provider answers holiday lookups per year from a Cache, refreshing from a
// Source on miss or expiry. Upstream failures never reach the caller.
type Provider struct {
	source Source
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
	group  singleflight.Group
}

type ProviderOption func(*Provider)

// WithClock overrides the provider's time source.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

func NewProvider(source Source, cache Cache, ttl time.Duration, logger *zap.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type lookup struct {
	set   Set
	known bool
}

// Holidays returns the holiday set for year. A fresh cache entry is served
// directly; otherwise the source is queried, and on failure the last cached
// entry (even if expired) is returned. known is false only when the source is
// down and nothing was ever cached: the empty set then means "unknown", not
// "no holidays", and callers should stop skipping non-business days.
func (p *Provider) Holidays(ctx context.Context, year int) (set Set, known bool) {
	if e, ok := p.cache.Get(ctx, year); ok && e.Fresh(p.now()) {
		metrics.IncrementCalendarCache("hit")
		return NewSet(e.Holidays), true
	}

	v, _, _ := p.group.Do(strconv.Itoa(year), func() (interface{}, error) {
		return p.refresh(ctx, year), nil
	})
	l := v.(lookup)
	return l.set, l.known
}

// Refresh forces a fetch of year regardless of the cached entry's age.
func (p *Provider) Refresh(ctx context.Context, year int) error {
	holidays, err := p.source.Fetch(ctx, year)
	if err != nil {
		return err
	}
	p.store(ctx, year, holidays)
	return nil
}

func (p *Provider) refresh(ctx context.Context, year int) lookup {
	// Another caller may have refreshed while this one waited on the group.
	cached, hasCached := p.cache.Get(ctx, year)
	if hasCached && cached.Fresh(p.now()) {
		metrics.IncrementCalendarCache("hit")
		return lookup{NewSet(cached.Holidays), true}
	}
	metrics.IncrementCalendarCache("miss")

	holidays, err := p.source.Fetch(ctx, year)
	if err == nil {
		p.store(ctx, year, holidays)
		return lookup{NewSet(holidays), true}
	}

	if hasCached {
		metrics.IncrementCalendarCache("stale")
		p.logger.Warn("Calendar provider unavailable, serving stale holidays",
			zap.Int("year", year),
			zap.Time("expired_at", cached.ExpiresAt),
			zap.Error(err),
		)
		return lookup{NewSet(cached.Holidays), true}
	}

	metrics.IncrementCalendarCache("empty")
	p.logger.Warn("Calendar provider unavailable and nothing cached, counting calendar days",
		zap.Int("year", year),
		zap.Error(err),
	)
	return lookup{Set{}, false}
}

func (p *Provider) store(ctx context.Context, year int, holidays []Holiday) {
	now := p.now()
	p.cache.Put(ctx, Entry{
		Year:      year,
		Holidays:  holidays,
		FetchedAt: now,
		ExpiresAt: now.Add(p.ttl),
	})
	p.logger.Debug("Holiday calendar refreshed",
		zap.Int("year", year),
		zap.Int("holidays", len(holidays)),
	)
}
