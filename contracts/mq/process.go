package mq

import "time"

const (
	RoutingKeyProcessCreated = "process.created"
	RoutingKeyProcessEvent   = "process.event"
)

// ProcessCreatedPayload 招聘流程创建事件
type ProcessCreatedPayload struct {
	EventID         string    `json:"event_id"`
	ProcessID       int64     `json:"process_id"`
	ServiceTypeCode string    `json:"service_type_code"`
	Name            string    `json:"name,omitempty"`
	ClientID        int64     `json:"client_id,omitempty"`
	ClientName      string    `json:"client_name,omitempty"`
	ConsultantID    int64     `json:"consultant_id,omitempty"`
	ConsultantName  string    `json:"consultant_name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	TraceID         string    `json:"trace_id,omitempty"`
}

// ProcessEventPayload 流程管理事件（例如客户反馈、固定日期）
type ProcessEventPayload struct {
	EventID    string    `json:"event_id"`
	ProcessID  int64     `json:"process_id"`
	Kind       string    `json:"kind"` // admin_event / fixed_date / process_created
	Name       string    `json:"name,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}
