package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"recruitment-hitos/contracts/mq"
	"recruitment-hitos/internal/milestone"

	"go.uber.org/zap"
)

type fakeRefresher struct {
	years []int
	fail  map[int]bool
}

func (r *fakeRefresher) Refresh(_ context.Context, year int) error {
	r.years = append(r.years, year)
	if r.fail[year] {
		return errors.New("calendar down")
	}
	return nil
}

func TestCalendarWarmup(t *testing.T) {
	r := &fakeRefresher{fail: map[int]bool{2026: true}}
	now := func() time.Time { return time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC) }

	err := CalendarWarmup(r, now, time.UTC, zap.NewNop())(context.Background())
	if len(r.years) != 2 || r.years[0] != 2025 || r.years[1] != 2026 {
		t.Fatalf("refreshed %v", r.years)
	}
	if err == nil {
		t.Fatal("expected the failed year to be reported")
	}
}

type fakeBoard struct {
	board *milestone.Board
	err   error
}

func (b fakeBoard) Board(context.Context, milestone.ViewFilter) (*milestone.Board, error) {
	return b.board, b.err
}

type fakePublisher struct {
	keys     []string
	payloads []mq.NotificationCreatedPayload
	failFor  int64
}

func (p *fakePublisher) PublishWithContext(_ context.Context, rk string, payload any) error {
	n := payload.(mq.NotificationCreatedPayload)
	if n.UserID == p.failFor {
		return errors.New("channel closed")
	}
	p.keys = append(p.keys, rk)
	p.payloads = append(p.payloads, n)
	return nil
}

func urgentItem(consultantID int64, state milestone.State, name string) milestone.Item {
	due := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	return milestone.Item{
		View: milestone.View{
			Milestone:    milestone.Milestone{Name: name, DueDate: &due},
			ProcessName:  "Contador",
			ConsultantID: consultantID,
		},
		State: state,
	}
}

func TestAlertDigestGroupsByConsultant(t *testing.T) {
	board := &milestone.Board{Urgent: []milestone.Item{
		urgentItem(200, milestone.StateOverdue, "Terna"),
		urgentItem(100, milestone.StateOverdue, "Perfil"),
		urgentItem(100, milestone.StateDueSoon, "Entrevistas"),
		urgentItem(0, milestone.StateOverdue, "Sin consultor"),
	}}
	pub := &fakePublisher{}
	now := func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	if err := AlertDigest(fakeBoard{board: board}, pub, now, zap.NewNop())(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(pub.payloads) != 2 {
		t.Fatalf("expected 2 digests, got %d", len(pub.payloads))
	}
	first := pub.payloads[0]
	if pub.keys[0] != mq.RoutingKeyNotificationCreated || first.UserID != 100 || first.Overdue != 1 || first.DueSoon != 1 {
		t.Fatalf("unexpected first digest %+v", first)
	}
	if !strings.Contains(first.Message, "Entrevistas") || !strings.Contains(first.Subject, "1 vencidos") {
		t.Fatalf("digest text %q / %q", first.Subject, first.Message)
	}
}

func TestAlertDigestContinuesPastPublishFailure(t *testing.T) {
	board := &milestone.Board{Urgent: []milestone.Item{
		urgentItem(100, milestone.StateOverdue, "Perfil"),
		urgentItem(200, milestone.StateOverdue, "Terna"),
	}}
	pub := &fakePublisher{failFor: 100}

	if err := AlertDigest(fakeBoard{board: board}, pub, time.Now, zap.NewNop())(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(pub.payloads) != 1 || pub.payloads[0].UserID != 200 {
		t.Fatalf("unexpected digests %+v", pub.payloads)
	}

	if err := AlertDigest(fakeBoard{err: errors.New("db down")}, pub, time.Now, zap.NewNop())(context.Background()); err == nil {
		t.Fatal("expected dashboard error")
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := New(time.UTC, zap.NewNop())
	s.Add(Job{Name: "disabled", Spec: ""})
	s.Add(Job{Name: "broken", Spec: "every tuesday", Run: func(context.Context) error { return nil }})
	if len(s.jobs) != 1 {
		t.Fatalf("disabled job should be skipped, got %d jobs", len(s.jobs))
	}
	if err := s.Start(); err == nil {
		t.Fatal("expected invalid spec error")
	}
}

func TestRunJobRecoversPanic(t *testing.T) {
	s := New(time.UTC, zap.NewNop())
	ran := false
	s.runJob(Job{Name: "panics", Run: func(ctx context.Context) error {
		ran = true
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context should carry a deadline")
		}
		panic("boom")
	}})
	if !ran {
		t.Fatal("job did not run")
	}
}
