package milestone

import (
	"context"
	"time"

	"recruitment-hitos/internal/calendar"
)

// HolidaySource supplies the holiday set of a year. It must not fail; known is
// false when the calendar for that year could not be obtained at all.
type HolidaySource interface {
	Holidays(ctx context.Context, year int) (set calendar.Set, known bool)
}

type yearCalendar struct {
	set   calendar.Set
	known bool
}

// DueDateCalculator turns an anchor date and a duration into a due date.
type DueDateCalculator struct {
	holidays HolidaySource
}

func NewDueDateCalculator(holidays HolidaySource) *DueDateCalculator {
	return &DueDateCalculator{holidays: holidays}
}

// DueDate counts days forward from anchor, which is never counted itself.
// With businessDays set, weekends and holidays do not consume the duration.
// Days in a year whose calendar is unknown are counted as calendar days.
func (c *DueDateCalculator) DueDate(ctx context.Context, anchor time.Time, days int, businessDays bool) time.Time {
	anchor = DateOf(anchor, time.UTC)
	if days <= 0 {
		return anchor
	}
	if !businessDays {
		return anchor.AddDate(0, 0, days)
	}

	sets := make(map[int]yearCalendar, 2)
	d := anchor
	for remaining := days; remaining > 0; {
		d = d.AddDate(0, 0, 1)
		if c.isBusinessDay(ctx, d, sets) {
			remaining--
		}
	}
	return d
}

// IsBusinessDay reports whether d is neither a weekend nor a holiday.
func (c *DueDateCalculator) IsBusinessDay(ctx context.Context, d time.Time) bool {
	return c.isBusinessDay(ctx, DateOf(d, time.UTC), map[int]yearCalendar{})
}

func (c *DueDateCalculator) isBusinessDay(ctx context.Context, d time.Time, sets map[int]yearCalendar) bool {
	cal, ok := sets[d.Year()]
	if !ok {
		cal.set, cal.known = c.holidays.Holidays(ctx, d.Year())
		sets[d.Year()] = cal
	}
	if !cal.known {
		return true
	}
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !cal.set.Contains(d)
}
