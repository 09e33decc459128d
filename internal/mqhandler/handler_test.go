package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"recruitment-hitos/contracts/mq"
	"recruitment-hitos/internal/calendar"
	"recruitment-hitos/internal/milestone"
	"recruitment-hitos/pkg/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type noHolidays struct{}

func (noHolidays) Holidays(context.Context, int) (calendar.Set, bool) { return calendar.Set{}, true }

func setup(t *testing.T) (*milestone.MemoryStore, *milestone.Engine, *util.Deduper) {
	t.Helper()
	store := milestone.NewMemoryStore()
	store.AddProcess(milestone.Process{ID: 1, ServiceTypeCode: "PC", ConsultantID: 100})
	_ = store.UpsertTemplates(context.Background(), "PC", []milestone.Template{
		{Ordinal: 1, Name: "Perfil", Trigger: milestone.TriggerProcessCreated, DurationDays: 5},
		{Ordinal: 2, Name: "Feedback", Trigger: milestone.TriggerAdminEvent, AnchorEvent: "client_feedback", DurationDays: 2},
	})
	engine := milestone.NewEngine(store, milestone.NewDueDateCalculator(noHolidays{}), time.UTC, zap.NewNop())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store, engine, util.NewDeduper(rdb, time.Hour, zap.NewNop())
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestProcessCreatedInstantiatesAndActivates(t *testing.T) {
	store, engine, deduper := setup(t)
	h := NewProcessCreatedHandler(engine, nil, deduper, zap.NewNop())
	created := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)

	raw := mustJSON(t, mq.ProcessCreatedPayload{EventID: "evt-1", ProcessID: 1, ServiceTypeCode: "PC", CreatedAt: created})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}

	ms, _ := store.ListByProcess(context.Background(), 1)
	if len(ms) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(ms))
	}
	if ms[0].StartDate == nil || !ms[0].DueDate.Equal(time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("first milestone not activated at creation: %+v", ms[0])
	}
	if ms[1].StartDate != nil {
		t.Fatal("admin milestone must stay pending")
	}

	// Redelivery of the same event is skipped.
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	// A new event id for an already instantiated process is absorbed.
	raw2 := mustJSON(t, mq.ProcessCreatedPayload{EventID: "evt-2", ProcessID: 1, ServiceTypeCode: "PC", CreatedAt: created})
	if err := h.Handle(context.Background(), raw2); err != nil {
		t.Fatalf("re-instantiation: %v", err)
	}
	if ms, _ := store.ListByProcess(context.Background(), 1); len(ms) != 2 {
		t.Fatalf("expected still 2 milestones, got %d", len(ms))
	}
}

func TestProcessCreatedRejections(t *testing.T) {
	_, engine, deduper := setup(t)
	h := NewProcessCreatedHandler(engine, nil, deduper, zap.NewNop())

	if err := h.Handle(context.Background(), json.RawMessage(`{"process_id":`)); err == nil {
		t.Fatal("expected decode error")
	}
	if err := h.Handle(context.Background(), mustJSON(t, mq.ProcessCreatedPayload{ProcessID: 1})); !errors.Is(err, errMissingProcess) {
		t.Fatalf("expected missing process error, got %v", err)
	}

	raw := mustJSON(t, mq.ProcessCreatedPayload{EventID: "evt-x", ProcessID: 1, ServiceTypeCode: "ZZ"})
	err := h.Handle(context.Background(), raw)
	if milestone.KindOf(err) != milestone.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if retry, _ := util.IsRetryableError(err); retry {
		t.Fatal("configuration errors must not be retried")
	}
	// Failed events are not marked, so a fixed catalogue can be replayed from the DLQ.
	if deduper.Seen(context.Background(), processCreatedHandlerName, "evt-x") {
		t.Fatal("failed event must not be marked as done")
	}
}

var errBrokerHiccup = errors.New("connection reset")

// flakyEngine fails the first StartProcess calls before delegating.
type flakyEngine struct {
	MilestoneEngine
	failures int
}

func (f *flakyEngine) StartProcess(ctx context.Context, processID int64, serviceType string, createdAt time.Time) (*milestone.Start, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errBrokerHiccup
	}
	return f.MilestoneEngine.StartProcess(ctx, processID, serviceType, createdAt)
}

func TestProcessCreatedRedeliveryAfterFailureActivates(t *testing.T) {
	store, engine, deduper := setup(t)
	h := NewProcessCreatedHandler(&flakyEngine{MilestoneEngine: engine, failures: 1}, nil, deduper, zap.NewNop())
	raw := mustJSON(t, mq.ProcessCreatedPayload{EventID: "evt-1", ProcessID: 1, ServiceTypeCode: "PC", CreatedAt: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)})

	if err := h.Handle(context.Background(), raw); !errors.Is(err, errBrokerHiccup) {
		t.Fatalf("expected failure, got %v", err)
	}
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	ms, _ := store.ListByProcess(context.Background(), 1)
	if len(ms) != 2 || ms[0].StartDate == nil {
		t.Fatalf("redelivered event must activate the first milestone: %+v", ms)
	}
	if !deduper.Seen(context.Background(), processCreatedHandlerName, "evt-1") {
		t.Fatal("event should be marked once processed")
	}
}

func TestProcessCreatedActivatesAlreadyInstantiatedProcess(t *testing.T) {
	store, engine, deduper := setup(t)
	if _, err := engine.Instantiate(context.Background(), 1, "PC"); err != nil {
		t.Fatal(err)
	}
	h := NewProcessCreatedHandler(engine, nil, deduper, zap.NewNop())

	raw := mustJSON(t, mq.ProcessCreatedPayload{EventID: "evt-1", ProcessID: 1, ServiceTypeCode: "PC", CreatedAt: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatal(err)
	}
	ms, _ := store.ListByProcess(context.Background(), 1)
	if len(ms) != 2 || ms[0].DueDate == nil || !ms[0].DueDate.Equal(time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("first milestone not activated: %+v", ms)
	}
}

func TestProcessCreatedRegistersProcessInMemoryMode(t *testing.T) {
	store, engine, deduper := setup(t)
	h := NewProcessCreatedHandler(engine, store, deduper, zap.NewNop())

	raw := mustJSON(t, mq.ProcessCreatedPayload{
		EventID:         "evt-5",
		ProcessID:       5,
		ServiceTypeCode: "PC",
		Name:            "Analista contable",
		ConsultantID:    300,
		ConsultantName:  "Rocío",
		CreatedAt:       time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
	})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}

	views, err := store.ListViews(context.Background(), milestone.ViewFilter{ConsultantID: 300})
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views for the announced consultant, got %d", len(views))
	}
	if views[0].ProcessName != "Analista contable" || views[0].ConsultantName != "Rocío" {
		t.Fatalf("process data not registered: %+v", views[0])
	}
	if views[0].StartDate == nil {
		t.Fatal("first milestone should be active")
	}
}

func TestProcessEventActivatesAdminMilestone(t *testing.T) {
	store, engine, deduper := setup(t)
	if _, err := engine.Instantiate(context.Background(), 1, "PC"); err != nil {
		t.Fatal(err)
	}
	h := NewProcessEventHandler(engine, deduper, zap.NewNop())

	raw := mustJSON(t, mq.ProcessEventPayload{
		EventID:    "evt-9",
		ProcessID:  1,
		Kind:       "admin_event",
		Name:       "client_feedback",
		OccurredAt: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
	})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}
	ms, _ := store.ListByProcess(context.Background(), 1)
	if ms[1].DueDate == nil || !ms[1].DueDate.Equal(time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("admin milestone not activated: %+v", ms[1])
	}

	// Nothing left to activate: acknowledged, not dead-lettered.
	again := mustJSON(t, mq.ProcessEventPayload{EventID: "evt-10", ProcessID: 1, Kind: "admin_event", Name: "client_feedback"})
	if err := h.Handle(context.Background(), again); err != nil {
		t.Fatalf("expected no error for unmatched event, got %v", err)
	}

	bad := mustJSON(t, mq.ProcessEventPayload{EventID: "evt-11", ProcessID: 1, Kind: "previous_completed"})
	if err := h.Handle(context.Background(), bad); !errors.Is(err, milestone.ErrChainedTrigger) {
		t.Fatalf("expected chained trigger rejection, got %v", err)
	}
	unknown := mustJSON(t, mq.ProcessEventPayload{EventID: "evt-12", ProcessID: 1, Kind: "lunch"})
	if err := h.Handle(context.Background(), unknown); !errors.Is(err, milestone.ErrUnknownTrigger) {
		t.Fatalf("expected unknown trigger, got %v", err)
	}
}
