package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"recruitment-hitos/contracts/mq"
	"recruitment-hitos/internal/milestone"
	"recruitment-hitos/pkg/logger"
	"recruitment-hitos/pkg/trace"

	"go.uber.org/zap"
)

// Refresher is satisfied by *calendar.Provider.
type Refresher interface {
	Refresh(ctx context.Context, year int) error
}

// CalendarWarmup fetches the current and next year so the first activations
// of a new year do not wait on the calendar source.
func CalendarWarmup(r Refresher, now func() time.Time, loc *time.Location, log *zap.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		year := now().In(loc).Year()
		var errs []error
		for _, y := range []int{year, year + 1} {
			if err := r.Refresh(ctx, y); err != nil {
				logger.WithTrace(ctx, log).Warn("Calendar warm-up failed", zap.Int("year", y), zap.Error(err))
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// BoardSource is satisfied by *milestone.Dashboard.
type BoardSource interface {
	Board(ctx context.Context, f milestone.ViewFilter) (*milestone.Board, error)
}

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// AlertDigest publishes one notification.created event per consultant that
// has urgent milestones. It only reads; nothing is stored.
func AlertDigest(board BoardSource, pub Publisher, now func() time.Time, log *zap.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		b, err := board.Board(ctx, milestone.ViewFilter{})
		if err != nil {
			return fmt.Errorf("load dashboard: %w", err)
		}

		byConsultant := make(map[int64][]milestone.Item)
		for _, it := range b.Urgent {
			if it.ConsultantID == 0 {
				continue
			}
			byConsultant[it.ConsultantID] = append(byConsultant[it.ConsultantID], it)
		}

		consultants := make([]int64, 0, len(byConsultant))
		for id := range byConsultant {
			consultants = append(consultants, id)
		}
		sort.Slice(consultants, func(i, j int) bool { return consultants[i] < consultants[j] })

		sent := 0
		for _, id := range consultants {
			payload := digestPayload(id, byConsultant[id], now())
			payload.TraceID = trace.FromContext(ctx)
			if err := pub.PublishWithContext(ctx, mq.RoutingKeyNotificationCreated, payload); err != nil {
				logger.WithTrace(ctx, log).Error("Failed to publish alert digest",
					zap.Int64("consultant_id", id),
					zap.Error(err),
				)
				continue
			}
			sent++
		}

		logger.WithTrace(ctx, log).Info("Alert digest published",
			zap.Int("consultants", len(consultants)),
			zap.Int("sent", sent),
		)
		return nil
	}
}

func digestPayload(consultantID int64, items []milestone.Item, at time.Time) mq.NotificationCreatedPayload {
	p := mq.NotificationCreatedPayload{
		UserID:    consultantID,
		Channel:   "EMAIL",
		CreatedAt: at,
	}

	var lines []string
	for _, it := range items {
		switch it.State {
		case milestone.StateOverdue:
			p.Overdue++
			lines = append(lines, fmt.Sprintf("- [vencido] %s / %s (%s)", it.ProcessName, it.Name, it.DueDate.Format("2006-01-02")))
		case milestone.StateDueSoon:
			p.DueSoon++
			lines = append(lines, fmt.Sprintf("- [por vencer] %s / %s (%s)", it.ProcessName, it.Name, it.DueDate.Format("2006-01-02")))
		}
	}
	p.Subject = fmt.Sprintf("Hitos urgentes: %d vencidos, %d por vencer", p.Overdue, p.DueSoon)
	p.Message = strings.Join(lines, "\n")
	return p
}
