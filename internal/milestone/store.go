package milestone

import (
	"context"
	"time"
)

// Reader is the read side of milestone persistence.
type Reader interface {
	TemplatesByServiceType(ctx context.Context, code string) ([]Template, error)
	ProcessExists(ctx context.Context, processID int64) (bool, error)
	ListByProcess(ctx context.Context, processID int64) ([]Milestone, error)
	ListViews(ctx context.Context, f ViewFilter) ([]View, error)
}

// Store is milestone persistence with transactional units of work.
type Store interface {
	Reader
	// InTx runs fn in one transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side available inside a unit of work.
type Tx interface {
	ProcessExists(ctx context.Context, processID int64) (bool, error)
	CountByProcess(ctx context.Context, processID int64) (int, error)
	// InsertMilestone stores m and sets its ID.
	InsertMilestone(ctx context.Context, m *Milestone) error
	// LockInert returns the process's unactivated milestones with the given
	// trigger, ordered by ordinal and locked for update.
	LockInert(ctx context.Context, processID int64, trigger TriggerKind) ([]Milestone, error)
	// InertDependents returns the unactivated previous_completed milestones
	// chained off predecessorID, locked for update.
	InertDependents(ctx context.Context, predecessorID int64) ([]Milestone, error)
	Activate(ctx context.Context, id int64, start, due time.Time) error
	// CompleteIfOpen sets the completion instant of an open milestone in a
	// single check-and-set. It fails with ErrMilestoneNotFound or
	// ErrAlreadyCompleted and leaves the row untouched in both cases.
	CompleteIfOpen(ctx context.Context, id int64, at time.Time) (Milestone, error)
	// Reopen clears the completion instant, failing with ErrNotCompleted when
	// the milestone is still open.
	Reopen(ctx context.Context, id int64) (Milestone, error)
	// AppendEvent records an integration event in the transactional outbox.
	AppendEvent(ctx context.Context, routingKey string, aggregateID int64, payload any) error
}

// TemplateWriter seeds the reference catalogue.
type TemplateWriter interface {
	UpsertTemplates(ctx context.Context, serviceType string, templates []Template) error
}
