package mq

import "time"

const RoutingKeyNotificationCreated = "notification.created"

// NotificationCreatedPayload 顾问提醒摘要
type NotificationCreatedPayload struct {
	UserID    int64     `json:"user_id"`
	Channel   string    `json:"channel"` // EMAIL / PUSH
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Overdue   int       `json:"overdue"`
	DueSoon   int       `json:"due_soon"`
	CreatedAt time.Time `json:"created_at"`
	TraceID   string    `json:"trace_id,omitempty"`
}
