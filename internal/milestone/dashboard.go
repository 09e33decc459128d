package milestone

import (
	"context"
	"math"
	"sort"
	"time"

	"recruitment-hitos/pkg/logger"
	"recruitment-hitos/pkg/metrics"

	"go.uber.org/zap"
)

// Item is a milestone view classified at query time.
type Item struct {
	View
	State         State `json:"state"`
	DaysRemaining *int  `json:"days_remaining,omitempty"`
}

// Summary counts the four dashboard buckets. Pending covers both inert and
// in-progress milestones; InProgress breaks out the latter.
type Summary struct {
	Total            int `json:"total"`
	Overdue          int `json:"overdue"`
	DueSoon          int `json:"due_soon"`
	Pending          int `json:"pending"`
	InProgress       int `json:"in_progress"`
	Completed        int `json:"completed"`
	PercentCompleted int `json:"percentage_completed"`
}

// Board is the full dashboard for one consultant or for everyone.
type Board struct {
	Summary   Summary `json:"summary"`
	Overdue   []Item  `json:"overdue"`
	DueSoon   []Item  `json:"due_soon"`
	Pending   []Item  `json:"pending"`
	Completed []Item  `json:"completed"`
	// Urgent is every overdue milestone plus due-soon ones with at most one
	// day left, most urgent first.
	Urgent []Item `json:"urgent"`
}

// Dashboard groups classified milestones into alert buckets. ConsultantID 0
// in a ViewFilter means every consultant.
type Dashboard struct {
	store  Reader
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

func NewDashboard(store Reader, loc *time.Location, logger *zap.Logger, opts ...DashboardOption) *Dashboard {
	if loc == nil {
		loc = time.UTC
	}
	d := &Dashboard{store: store, loc: loc, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type DashboardOption func(*Dashboard)

func WithDashboardNow(now func() time.Time) DashboardOption {
	return func(d *Dashboard) { d.now = now }
}

func (d *Dashboard) Overdue(ctx context.Context, f ViewFilter) ([]Item, error) {
	b, err := d.build(ctx, "overdue", f)
	if err != nil {
		return nil, err
	}
	return b.Overdue, nil
}

func (d *Dashboard) DueSoon(ctx context.Context, f ViewFilter) ([]Item, error) {
	b, err := d.build(ctx, "due_soon", f)
	if err != nil {
		return nil, err
	}
	return b.DueSoon, nil
}

func (d *Dashboard) Pending(ctx context.Context, f ViewFilter) ([]Item, error) {
	b, err := d.build(ctx, "pending", f)
	if err != nil {
		return nil, err
	}
	return b.Pending, nil
}

func (d *Dashboard) Completed(ctx context.Context, f ViewFilter) ([]Item, error) {
	b, err := d.build(ctx, "completed", f)
	if err != nil {
		return nil, err
	}
	return b.Completed, nil
}

func (d *Dashboard) Board(ctx context.Context, f ViewFilter) (*Board, error) {
	return d.build(ctx, "dashboard", f)
}

func (d *Dashboard) build(ctx context.Context, view string, f ViewFilter) (*Board, error) {
	start := time.Now()
	defer func() { metrics.RecordDashboardQuery(view, time.Since(start)) }()

	views, err := d.store.ListViews(ctx, f)
	if err != nil {
		logger.WithTrace(ctx, d.logger).Error("Dashboard query failed",
			zap.String("view", view),
			zap.Int64("consultant_id", f.ConsultantID),
			zap.Error(err),
		)
		return nil, err
	}
	return Aggregate(views, d.now(), d.loc), nil
}

// Aggregate classifies views at now and assembles a Board.
func Aggregate(views []View, now time.Time, loc *time.Location) *Board {
	b := &Board{
		Overdue:   []Item{},
		DueSoon:   []Item{},
		Pending:   []Item{},
		Completed: []Item{},
		Urgent:    []Item{},
	}

	for _, v := range views {
		it := Item{View: v, State: Classify(&v.Milestone, now, loc)}
		if days, ok := DaysRemaining(&v.Milestone, now, loc); ok && it.State != StateCompleted {
			it.DaysRemaining = &days
		}

		switch it.State {
		case StateOverdue:
			b.Overdue = append(b.Overdue, it)
			b.Urgent = append(b.Urgent, it)
		case StateDueSoon:
			b.DueSoon = append(b.DueSoon, it)
			if *it.DaysRemaining <= 1 {
				b.Urgent = append(b.Urgent, it)
			}
		case StateCompleted:
			b.Completed = append(b.Completed, it)
		case StateInProgress:
			b.Summary.InProgress++
			b.Pending = append(b.Pending, it)
		default:
			b.Pending = append(b.Pending, it)
		}
	}

	sortByDue(b.Overdue)
	sortByDue(b.DueSoon)
	sortByDue(b.Urgent)
	sortPending(b.Pending)
	sort.SliceStable(b.Completed, func(i, j int) bool {
		return b.Completed[i].CompletedAt.After(*b.Completed[j].CompletedAt)
	})

	s := &b.Summary
	s.Overdue = len(b.Overdue)
	s.DueSoon = len(b.DueSoon)
	s.Pending = len(b.Pending)
	s.Completed = len(b.Completed)
	s.Total = s.Overdue + s.DueSoon + s.Pending + s.Completed
	if s.Total > 0 {
		s.PercentCompleted = int(math.Round(100 * float64(s.Completed) / float64(s.Total)))
	}
	return b
}

func sortByDue(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].DueDate.Equal(*items[j].DueDate) {
			return items[i].DueDate.Before(*items[j].DueDate)
		}
		return items[i].ID < items[j].ID
	})
}

// sortPending puts in-progress work first by due date, then inert milestones
// by process and ordinal.
func sortPending(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if (a.DueDate != nil) != (b.DueDate != nil) {
			return a.DueDate != nil
		}
		if a.DueDate != nil && !a.DueDate.Equal(*b.DueDate) {
			return a.DueDate.Before(*b.DueDate)
		}
		if a.ProcessID != b.ProcessID {
			return a.ProcessID < b.ProcessID
		}
		return a.Ordinal < b.Ordinal
	})
}
