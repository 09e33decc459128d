package milestone

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recruitment-hitos/contracts/mq"

	"go.uber.org/zap"
)

type fixture struct {
	store  *MemoryStore
	engine *Engine
	dash   *Dashboard
	clock  *time.Time
}

func newFixture(t *testing.T, holidays ...string) *fixture {
	t.Helper()
	now := day(2025, 3, 3).Add(10 * time.Hour)
	f := &fixture{store: NewMemoryStore(), clock: &now}
	nowFn := func() time.Time { return *f.clock }
	f.store.now = nowFn
	f.engine = NewEngine(f.store, NewDueDateCalculator(newStaticHolidays(holidays...)), time.UTC, zap.NewNop(), WithNow(nowFn))
	f.dash = NewDashboard(f.store, time.UTC, zap.NewNop(), WithDashboardNow(nowFn))

	f.store.AddProcess(Process{ID: 1, Name: "Analista contable", ServiceTypeCode: "PC", ClientID: 10, ClientName: "Acme", ConsultantID: 100, ConsultantName: "Rocío"})
	f.store.AddProcess(Process{ID: 2, Name: "Jefe de planta", ServiceTypeCode: "PC", ClientID: 11, ClientName: "Globex", ConsultantID: 200, ConsultantName: "Tomás"})
	if err := f.store.UpsertTemplates(context.Background(), "PC", []Template{
		{Ordinal: 1, Name: "M1", Trigger: TriggerProcessCreated, DurationDays: 5},
		{Ordinal: 2, Name: "M2", Trigger: TriggerPreviousCompleted, DurationDays: 3, AnticipationDays: 1},
	}); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) setDay(d time.Time) {
	*f.clock = d.Add(10 * time.Hour)
}

func TestEngineScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day0 := day(2025, 3, 3)

	ms, err := f.engine.Instantiate(ctx, 1, "PC")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(ms))
	}
	for _, m := range ms {
		if s := f.engine.Classify(&m); s != StatePending {
			t.Fatalf("%s: expected pending, got %s", m.Name, s)
		}
	}
	if ms[1].PredecessorID == nil || *ms[1].PredecessorID != ms[0].ID {
		t.Fatalf("M2 should chain off M1, got %v", ms[1].PredecessorID)
	}

	activated, err := f.engine.ActivateByEvent(ctx, 1, Event{Kind: TriggerProcessCreated, At: day0})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(activated) != 1 || activated[0].Name != "M1" {
		t.Fatalf("expected only M1 activated, got %+v", activated)
	}
	m1 := activated[0]
	if !m1.StartDate.Equal(day0) || !m1.DueDate.Equal(day0.AddDate(0, 0, 5)) {
		t.Fatalf("M1 dates %s..%s", m1.StartDate, m1.DueDate)
	}

	f.setDay(day0.AddDate(0, 0, 4))
	if s := f.engine.Classify(&m1); s != StateInProgress {
		t.Fatalf("M1 at day 4: expected in_progress, got %s", s)
	}

	res, err := f.engine.CompleteMilestone(ctx, m1.ID, day0.AddDate(0, 0, 5).Add(9*time.Hour))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s := f.engine.Classify(&res.Completed); s != StateCompleted {
		t.Fatalf("M1: expected completed, got %s", s)
	}
	if len(res.Activated) != 1 {
		t.Fatalf("expected M2 activated in the same operation, got %d", len(res.Activated))
	}
	m2 := res.Activated[0]
	if !m2.StartDate.Equal(day0.AddDate(0, 0, 5)) || !m2.DueDate.Equal(day0.AddDate(0, 0, 8)) {
		t.Fatalf("M2 dates %s..%s", m2.StartDate, m2.DueDate)
	}

	f.setDay(day0.AddDate(0, 0, 7))
	if s := f.engine.Classify(&m2); s != StateDueSoon {
		t.Fatalf("M2 at day 7: expected due_soon, got %s", s)
	}
	f.setDay(day0.AddDate(0, 0, 9))
	if s := f.engine.Classify(&m2); s != StateOverdue {
		t.Fatalf("M2 at day 9: expected overdue, got %s", s)
	}

	stored, err := f.engine.ListProcessMilestones(ctx, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if stored[1].StartDate == nil {
		t.Fatal("M2 start date not persisted")
	}
}

func TestInstantiateWithoutTemplatesIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Instantiate(context.Background(), 1, "UNKNOWN")
	if !errors.Is(err, ErrTemplateNotFound) || KindOf(err) != KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if ms, _ := f.store.ListByProcess(context.Background(), 1); len(ms) != 0 {
		t.Fatalf("no milestones should be created, got %d", len(ms))
	}
}

func TestInstantiateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Instantiate(ctx, 99, "PC"); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected process not found, got %v", err)
	}
	if _, err := f.engine.Instantiate(ctx, 1, "PC"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Instantiate(ctx, 1, "PC"); !errors.Is(err, ErrAlreadyInstantiated) {
		t.Fatalf("expected already instantiated, got %v", err)
	}
	if ms, _ := f.store.ListByProcess(ctx, 1); len(ms) != 2 {
		t.Fatalf("expected 2 milestones after rejected re-instantiation, got %d", len(ms))
	}
}

func TestActivateByEventRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Instantiate(ctx, 1, "PC"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		pid  int64
		ev   Event
		want error
	}{
		{"chained trigger", 1, Event{Kind: TriggerPreviousCompleted}, ErrChainedTrigger},
		{"unknown trigger", 1, Event{Kind: "client_feedback"}, ErrUnknownTrigger},
		{"no admin milestones", 1, Event{Kind: TriggerAdminEvent, Name: "client_feedback"}, ErrNoMatchingTrigger},
		{"unknown process", 42, Event{Kind: TriggerProcessCreated}, ErrProcessNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ActivateByEvent(ctx, tt.pid, tt.ev)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := f.engine.ActivateByEvent(ctx, 1, Event{Kind: TriggerProcessCreated}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.ActivateByEvent(ctx, 1, Event{Kind: TriggerProcessCreated}); !errors.Is(err, ErrNoMatchingTrigger) {
		t.Fatalf("second creation event should find nothing inert, got %v", err)
	}
}

func TestActivateAdminEventMatchesAnchorName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.UpsertTemplates(ctx, "HH", []Template{
		{Ordinal: 1, Name: "Kickoff", Trigger: TriggerProcessCreated, DurationDays: 2},
		{Ordinal: 2, Name: "Feedback follow-up", Trigger: TriggerAdminEvent, AnchorEvent: "client_feedback", DurationDays: 2, BusinessDays: true},
		{Ordinal: 3, Name: "Contract", Trigger: TriggerAdminEvent, AnchorEvent: "offer_accepted", DurationDays: 10},
		{Ordinal: 4, Name: "Onboarding check", Trigger: TriggerFixedDate, DurationDays: 0},
	})
	f.store.AddProcess(Process{ID: 3, ServiceTypeCode: "HH", ConsultantID: 100})
	if _, err := f.engine.Instantiate(ctx, 3, "HH"); err != nil {
		t.Fatal(err)
	}

	got, err := f.engine.ActivateByEvent(ctx, 3, Event{Kind: TriggerAdminEvent, Name: "client_feedback", At: day(2025, 3, 7)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Feedback follow-up" {
		t.Fatalf("unexpected activation %+v", got)
	}
	// Friday + 2 business days.
	if !got[0].DueDate.Equal(day(2025, 3, 11)) {
		t.Fatalf("due %s, want 2025-03-11", got[0].DueDate)
	}

	fixed, err := f.engine.ActivateByEvent(ctx, 3, Event{Kind: TriggerFixedDate, At: day(2025, 6, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if !fixed[0].DueDate.Equal(day(2025, 6, 2)) {
		t.Fatalf("zero-duration milestone should be due on its anchor, got %s", fixed[0].DueDate)
	}
}

func TestCompleteMilestoneTwiceLeavesCompletionDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ms, _ := f.engine.Instantiate(ctx, 1, "PC")
	_, _ = f.engine.ActivateByEvent(ctx, 1, Event{Kind: TriggerProcessCreated})

	first := day(2025, 3, 5).Add(8 * time.Hour)
	if _, err := f.engine.CompleteMilestone(ctx, ms[0].ID, first); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.CompleteMilestone(ctx, ms[0].ID, day(2025, 3, 9))
	if !errors.Is(err, ErrAlreadyCompleted) || KindOf(err) != KindInvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}

	stored, _ := f.store.ListByProcess(ctx, 1)
	if !stored[0].CompletedAt.Equal(first) {
		t.Fatalf("completion date changed to %s", stored[0].CompletedAt)
	}
	if _, err := f.engine.CompleteMilestone(ctx, 999, time.Time{}); !errors.Is(err, ErrMilestoneNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentCompletionsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ms, _ := f.engine.Instantiate(ctx, 1, "PC")
	_, _ = f.engine.ActivateByEvent(ctx, 1, Event{Kind: TriggerProcessCreated})

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CompleteMilestone(ctx, ms[0].ID, time.Time{})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyCompleted):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || rejected.Load() != 19 {
		t.Fatalf("expected 1 winner and 19 rejections, got %d/%d", ok.Load(), rejected.Load())
	}

	activations := 0
	for _, e := range f.store.Events() {
		if e.RoutingKey == mq.RoutingKeyMilestoneActivated && e.AggregateID == ms[1].ID {
			activations++
		}
	}
	if activations != 1 {
		t.Fatalf("M2 should be activated exactly once, got %d", activations)
	}
}

type failingActivateStore struct {
	*MemoryStore
}

func (s failingActivateStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.MemoryStore.InTx(ctx, func(tx Tx) error {
		return fn(failingActivateTx{tx})
	})
}

type failingActivateTx struct {
	Tx
}

func (failingActivateTx) Activate(context.Context, int64, time.Time, time.Time) error {
	return errors.New("disk full")
}

func TestCompletionRollsBackWhenChainedActivationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ms, _ := f.engine.Instantiate(ctx, 1, "PC")
	_, _ = f.engine.ActivateByEvent(ctx, 1, Event{Kind: TriggerProcessCreated})

	broken := NewEngine(failingActivateStore{f.store}, NewDueDateCalculator(newStaticHolidays()), time.UTC, zap.NewNop())
	if _, err := broken.CompleteMilestone(ctx, ms[0].ID, time.Time{}); err == nil {
		t.Fatal("expected failure")
	}

	stored, _ := f.store.ListByProcess(ctx, 1)
	if stored[0].CompletedAt != nil {
		t.Fatal("completion must roll back with the failed chained activation")
	}
	for _, e := range f.store.Events() {
		if e.RoutingKey == mq.RoutingKeyMilestoneCompleted {
			t.Fatal("outbox must roll back too")
		}
	}
}

func TestReopenMilestone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ms, _ := f.engine.Instantiate(ctx, 1, "PC")
	_, _ = f.engine.ActivateByEvent(ctx, 1, Event{Kind: TriggerProcessCreated})

	if _, err := f.engine.ReopenMilestone(ctx, ms[0].ID); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("expected not completed, got %v", err)
	}
	if _, err := f.engine.CompleteMilestone(ctx, ms[0].ID, time.Time{}); err != nil {
		t.Fatal(err)
	}
	m, err := f.engine.ReopenMilestone(ctx, ms[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.CompletedAt != nil || f.engine.Classify(m) == StateCompleted {
		t.Fatal("reopened milestone still completed")
	}

	// The chained milestone stays active; completing again does not re-activate it.
	res, err := f.engine.CompleteMilestone(ctx, ms[0].ID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Activated) != 0 {
		t.Fatalf("expected no new activations, got %d", len(res.Activated))
	}
}

func TestListProcessMilestonesUnknownProcess(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.ListProcessMilestones(context.Background(), 77, 0); KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	ms, err := f.engine.ListProcessMilestones(context.Background(), 2, 0)
	if err != nil || len(ms) != 0 {
		t.Fatalf("expected empty list for process without milestones, got %v %v", ms, err)
	}
}

var errOutboxDown = errors.New("outbox unavailable")

// failingEventStore aborts every transaction that appends an event with key.
type failingEventStore struct {
	*MemoryStore
	key string
}

func (s *failingEventStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.MemoryStore.InTx(ctx, func(tx Tx) error {
		return fn(failingEventTx{Tx: tx, key: s.key})
	})
}

type failingEventTx struct {
	Tx
	key string
}

func (t failingEventTx) AppendEvent(ctx context.Context, routingKey string, aggregateID int64, payload any) error {
	if routingKey == t.key {
		return errOutboxDown
	}
	return t.Tx.AppendEvent(ctx, routingKey, aggregateID, payload)
}

func TestStartProcessIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := day(2025, 3, 3).Add(14 * time.Hour)

	broken := NewEngine(&failingEventStore{MemoryStore: f.store, key: mq.RoutingKeyMilestoneActivated},
		NewDueDateCalculator(newStaticHolidays()), time.UTC, zap.NewNop())
	if _, err := broken.StartProcess(ctx, 1, "PC", created); !errors.Is(err, errOutboxDown) {
		t.Fatalf("expected outbox failure, got %v", err)
	}
	if ms, _ := f.store.ListByProcess(ctx, 1); len(ms) != 0 {
		t.Fatalf("failed start must not leave milestones behind, got %d", len(ms))
	}

	// The redelivered message starts the process from scratch.
	res, err := f.engine.StartProcess(ctx, 1, "PC", created)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 2 || len(res.Activated) != 1 {
		t.Fatalf("created=%d activated=%d", len(res.Created), len(res.Activated))
	}
	if !res.Activated[0].DueDate.Equal(day(2025, 3, 8)) {
		t.Fatalf("due = %s", res.Activated[0].DueDate)
	}

	again, err := f.engine.StartProcess(ctx, 1, "PC", created)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Created) != 0 || len(again.Activated) != 0 {
		t.Fatalf("second start changed state: %+v", again)
	}
	if ms, _ := f.store.ListByProcess(ctx, 1); len(ms) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(ms))
	}
}

func TestStartProcessActivatesInstantiatedProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Instantiate(ctx, 2, "PC"); err != nil {
		t.Fatal(err)
	}
	res, err := f.engine.StartProcess(ctx, 2, "PC", day(2025, 3, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 0 || len(res.Activated) != 1 {
		t.Fatalf("created=%d activated=%d", len(res.Created), len(res.Activated))
	}
	if !res.Activated[0].StartDate.Equal(day(2025, 3, 10)) {
		t.Fatalf("start = %s", res.Activated[0].StartDate)
	}
	if _, err := f.engine.StartProcess(ctx, 77, "PC", time.Time{}); KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListProcessMilestonesScopedToConsultant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, pid := range []int64{1, 2} {
		if _, err := f.engine.Instantiate(ctx, pid, "PC"); err != nil {
			t.Fatal(err)
		}
	}

	own, err := f.engine.ListProcessMilestones(ctx, 1, 100)
	if err != nil || len(own) != 2 || own[0].Ordinal != 1 {
		t.Fatalf("owner read: %v %+v", err, own)
	}
	// Process 2 belongs to consultant 200.
	if _, err := f.engine.ListProcessMilestones(ctx, 2, 100); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected not found for another consultant's process, got %v", err)
	}
	if ms, err := f.engine.ListProcessMilestones(ctx, 2, 0); err != nil || len(ms) != 2 {
		t.Fatalf("unscoped read: %v %d", err, len(ms))
	}
}
