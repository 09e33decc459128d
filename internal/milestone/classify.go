package milestone

import "time"

// Classify derives the lifecycle state of m at now. The result depends only
// on the milestone's dates, its anticipation window and the civil date of
// now in loc.
//
// A milestone is due_soon while the number of days left until its due date is
// at most its anticipation window, so a window of 0 makes it due_soon on the
// due date itself. It is overdue from the day after the due date.
func Classify(m *Milestone, now time.Time, loc *time.Location) State {
	switch {
	case m.CompletedAt != nil:
		return StateCompleted
	case m.StartDate == nil:
		return StatePending
	case m.DueDate == nil:
		return StateInProgress
	}

	remaining := DaysBetween(DateOf(now, loc), *m.DueDate)
	switch {
	case remaining < 0:
		return StateOverdue
	case remaining <= m.AnticipationDays:
		return StateDueSoon
	default:
		return StateInProgress
	}
}

// DaysRemaining returns the days left until the due date at now (negative
// once overdue). ok is false for milestones without a due date.
func DaysRemaining(m *Milestone, now time.Time, loc *time.Location) (days int, ok bool) {
	if m.DueDate == nil {
		return 0, false
	}
	return DaysBetween(DateOf(now, loc), *m.DueDate), true
}
