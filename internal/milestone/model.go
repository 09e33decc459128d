package milestone

import (
	"fmt"
	"time"
)

// TriggerKind is what anchors a milestone's start date.
type TriggerKind string

const (
	TriggerProcessCreated    TriggerKind = "process_created"
	TriggerPreviousCompleted TriggerKind = "previous_completed"
	TriggerAdminEvent        TriggerKind = "admin_event"
	TriggerFixedDate         TriggerKind = "fixed_date"
)

// ParseTriggerKind validates a trigger kind coming from storage or the wire.
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch k := TriggerKind(s); k {
	case TriggerProcessCreated, TriggerPreviousCompleted, TriggerAdminEvent, TriggerFixedDate:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
}

// State is the derived lifecycle classification of a milestone. It is never stored.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateDueSoon    State = "due_soon"
	StateOverdue    State = "overdue"
	StateCompleted  State = "completed"
)

// Template is the per-service-type reference definition milestones are copied from.
type Template struct {
	ID               int64       `json:"id" yaml:"-"`
	ServiceTypeCode  string      `json:"service_type_code" yaml:"service_type"`
	Ordinal          int         `json:"ordinal" yaml:"ordinal"`
	Name             string      `json:"name" yaml:"name"`
	Description      string      `json:"description" yaml:"description"`
	Trigger          TriggerKind `json:"trigger" yaml:"trigger"`
	AnchorEvent      string      `json:"anchor_event,omitempty" yaml:"anchor_event"`
	DurationDays     int         `json:"duration_days" yaml:"duration_days"`
	AnticipationDays int         `json:"anticipation_days" yaml:"anticipation_days"`
	BusinessDays     bool        `json:"business_days" yaml:"business_days"`
	// PredecessorOrdinal names the milestone a previous_completed trigger chains
	// off. Zero means the immediately preceding template.
	PredecessorOrdinal int `json:"predecessor_ordinal,omitempty" yaml:"predecessor_ordinal"`
}

// Milestone is a process-bound instance of a Template. Start and due dates are
// civil dates (UTC midnight); CompletedAt is the exact completion instant.
type Milestone struct {
	ID               int64       `json:"id"`
	ProcessID        int64       `json:"process_id"`
	TemplateID       int64       `json:"template_id"`
	Ordinal          int         `json:"ordinal"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Trigger          TriggerKind `json:"trigger"`
	AnchorEvent      string      `json:"anchor_event,omitempty"`
	PredecessorID    *int64      `json:"predecessor_id,omitempty"`
	DurationDays     int         `json:"duration_days"`
	AnticipationDays int         `json:"anticipation_days"`
	BusinessDays     bool        `json:"business_days"`
	StartDate        *time.Time  `json:"start_date,omitempty"`
	DueDate          *time.Time  `json:"due_date,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Inert reports whether the milestone has not been activated yet.
func (m *Milestone) Inert() bool {
	return m.StartDate == nil && m.CompletedAt == nil
}

func (m *Milestone) clone() Milestone {
	c := *m
	c.PredecessorID = copyPtr(m.PredecessorID)
	c.StartDate = copyPtr(m.StartDate)
	c.DueDate = copyPtr(m.DueDate)
	c.CompletedAt = copyPtr(m.CompletedAt)
	return c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Process is the slice of a recruitment process the engine needs for joins.
type Process struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	ServiceTypeCode string `json:"service_type_code"`
	ClientID        int64  `json:"client_id"`
	ClientName      string `json:"client_name"`
	ConsultantID    int64  `json:"consultant_id"`
	ConsultantName  string `json:"consultant_name"`
}

// View is a milestone joined with its owning process, client and consultant.
type View struct {
	Milestone
	ProcessName    string `json:"process_name"`
	ClientID       int64  `json:"client_id"`
	ClientName     string `json:"client_name"`
	ConsultantID   int64  `json:"consultant_id"`
	ConsultantName string `json:"consultant_name"`
}

// ViewFilter narrows dashboard queries. Zero values mean "no filter".
type ViewFilter struct {
	ConsultantID int64
	ProcessID    int64
}

// Event is an anchor occurrence delivered to ActivateByEvent.
type Event struct {
	Kind TriggerKind
	// Name selects admin_event milestones by their anchor event; milestones
	// with an empty anchor event match any admin event.
	Name string
	At   time.Time
}
