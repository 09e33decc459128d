package calendar

import (
	"context"
	"errors"
	"time"
)

// DateLayout is the wire and cache key format of a holiday date.
const DateLayout = "2006-01-02"

// ErrUnavailable is returned by a Source when the upstream calendar cannot be
// reached or answers with a non-success status. The Provider absorbs it.
var ErrUnavailable = errors.New("holiday calendar unavailable")

// Holiday is a single non-working day.
type Holiday struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// Source fetches the authoritative holiday list for one year.
type Source interface {
	Fetch(ctx context.Context, year int) ([]Holiday, error)
}

// Set is the holiday set of one year keyed by DateLayout.
type Set map[string]struct{}

// NewSet builds a Set, skipping dates that do not parse.
func NewSet(holidays []Holiday) Set {
	s := make(Set, len(holidays))
	for _, h := range holidays {
		if _, err := time.Parse(DateLayout, h.Date); err != nil {
			continue
		}
		s[h.Date] = struct{}{}
	}
	return s
}

// Contains reports whether the civil date of t is a holiday.
func (s Set) Contains(t time.Time) bool {
	_, ok := s[t.Format(DateLayout)]
	return ok
}

// Entry is a cached year of holidays.
type Entry struct {
	Year      int       `json:"year"`
	Holidays  []Holiday `json:"holidays"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
