package mqhandler

import (
	"context"
	"time"

	"recruitment-hitos/internal/milestone"
)

// MilestoneEngine is the part of milestone.Engine the consumers drive.
type MilestoneEngine interface {
	StartProcess(ctx context.Context, processID int64, serviceType string, createdAt time.Time) (*milestone.Start, error)
	ActivateByEvent(ctx context.Context, processID int64, ev milestone.Event) ([]milestone.Milestone, error)
}

// Deduper skips messages whose handler already committed.
type Deduper interface {
	Seen(ctx context.Context, handler, eventID string) bool
	MarkDone(ctx context.Context, handler, eventID string)
}

// ProcessRegistrar records processes announced on the bus. Only stores that
// do not share the recruitment schema need one.
type ProcessRegistrar interface {
	AddProcess(p milestone.Process)
}
