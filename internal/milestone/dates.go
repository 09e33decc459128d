package milestone

import "time"

// DateOf returns the civil date of t in loc, expressed as UTC midnight.
// All start and due dates in this package use that representation so that
// weekday and holiday checks do not depend on the server's zone.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b (civil dates).
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
