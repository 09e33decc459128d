package mq

import "time"

const (
	RoutingKeyMilestoneActivated = "milestone.activated"
	RoutingKeyMilestoneCompleted = "milestone.completed"
	RoutingKeyMilestoneReopened  = "milestone.reopened"
)

type MilestoneActivatedPayload struct {
	MilestoneID int64     `json:"milestone_id"`
	ProcessID   int64     `json:"process_id"`
	Name        string    `json:"name"`
	Trigger     string    `json:"trigger"`
	StartDate   time.Time `json:"start_date"`
	DueDate     time.Time `json:"due_date"`
	TraceID     string    `json:"trace_id,omitempty"`
}

type MilestoneCompletedPayload struct {
	MilestoneID int64      `json:"milestone_id"`
	ProcessID   int64      `json:"process_id"`
	Name        string     `json:"name"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
	TraceID     string     `json:"trace_id,omitempty"`
}

type MilestoneReopenedPayload struct {
	MilestoneID int64     `json:"milestone_id"`
	ProcessID   int64     `json:"process_id"`
	ReopenedAt  time.Time `json:"reopened_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}
