package milestone

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RecordedEvent is an outbox entry captured by MemoryStore.
type RecordedEvent struct {
	RoutingKey  string
	AggregateID int64
	Payload     any
}

// MemoryStore is a Store kept in process memory. Transactions are serialized
// and rolled back by restoring a snapshot, which makes it suitable for local
// runs and tests but not for more than one instance.
type MemoryStore struct {
	mu         sync.Mutex
	templates  map[string][]Template
	processes  map[int64]Process
	milestones map[int64]*Milestone
	events     []RecordedEvent
	nextID     int64
	nextTplID  int64
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:  make(map[string][]Template),
		processes:  make(map[int64]Process),
		milestones: make(map[int64]*Milestone),
		now:        time.Now,
	}
}

// AddProcess registers a process the engine may attach milestones to.
func (s *MemoryStore) AddProcess(p Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[p.ID] = p
}

func (s *MemoryStore) UpsertTemplates(_ context.Context, serviceType string, templates []Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]Template, len(templates))
	for i, t := range templates {
		s.nextTplID++
		t.ID = s.nextTplID
		t.ServiceTypeCode = serviceType
		cp[i] = t
	}
	s.templates[serviceType] = cp
	return nil
}

// Events returns a copy of every committed outbox entry.
func (s *MemoryStore) Events() []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) TemplatesByServiceType(_ context.Context, code string) ([]Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Template, len(s.templates[code]))
	copy(out, s.templates[code])
	return out, nil
}

func (s *MemoryStore) ProcessExists(_ context.Context, processID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processes[processID]
	return ok, nil
}

func (s *MemoryStore) ListByProcess(_ context.Context, processID int64) ([]Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filter(func(m *Milestone) bool { return m.ProcessID == processID })
	return out, nil
}

func (s *MemoryStore) ListViews(_ context.Context, f ViewFilter) ([]View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.filter(func(m *Milestone) bool {
		p := s.processes[m.ProcessID]
		if f.ConsultantID != 0 && p.ConsultantID != f.ConsultantID {
			return false
		}
		return f.ProcessID == 0 || m.ProcessID == f.ProcessID
	})

	views := make([]View, 0, len(ms))
	for _, m := range ms {
		p := s.processes[m.ProcessID]
		views = append(views, View{
			Milestone:      m,
			ProcessName:    p.Name,
			ClientID:       p.ClientID,
			ClientName:     p.ClientName,
			ConsultantID:   p.ConsultantID,
			ConsultantName: p.ConsultantName,
		})
	}
	return views, nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[int64]*Milestone, len(s.milestones))
	for id, m := range s.milestones {
		c := m.clone()
		snapshot[id] = &c
	}
	events, nextID := len(s.events), s.nextID

	if err := fn(&memTx{s: s}); err != nil {
		s.milestones = snapshot
		s.events = s.events[:events]
		s.nextID = nextID
		return err
	}
	return nil
}

// filter returns clones of matching milestones ordered by process and ordinal.
// Callers hold s.mu.
func (s *MemoryStore) filter(keep func(*Milestone) bool) []Milestone {
	var out []Milestone
	for _, m := range s.milestones {
		if keep(m) {
			out = append(out, m.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessID != out[j].ProcessID {
			return out[i].ProcessID < out[j].ProcessID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}

type memTx struct {
	s *MemoryStore
}

func (t *memTx) ProcessExists(_ context.Context, processID int64) (bool, error) {
	_, ok := t.s.processes[processID]
	return ok, nil
}

func (t *memTx) CountByProcess(_ context.Context, processID int64) (int, error) {
	n := 0
	for _, m := range t.s.milestones {
		if m.ProcessID == processID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertMilestone(_ context.Context, m *Milestone) error {
	t.s.nextID++
	now := t.s.now()
	m.ID = t.s.nextID
	m.CreatedAt, m.UpdatedAt = now, now
	c := m.clone()
	t.s.milestones[m.ID] = &c
	return nil
}

func (t *memTx) LockInert(_ context.Context, processID int64, trigger TriggerKind) ([]Milestone, error) {
	return t.s.filter(func(m *Milestone) bool {
		return m.ProcessID == processID && m.Trigger == trigger && m.Inert()
	}), nil
}

func (t *memTx) InertDependents(_ context.Context, predecessorID int64) ([]Milestone, error) {
	return t.s.filter(func(m *Milestone) bool {
		return m.Trigger == TriggerPreviousCompleted && m.Inert() &&
			m.PredecessorID != nil && *m.PredecessorID == predecessorID
	}), nil
}

func (t *memTx) Activate(_ context.Context, id int64, start, due time.Time) error {
	m, ok := t.s.milestones[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrMilestoneNotFound, id)
	}
	m.StartDate, m.DueDate = &start, &due
	m.UpdatedAt = t.s.now()
	return nil
}

func (t *memTx) CompleteIfOpen(_ context.Context, id int64, at time.Time) (Milestone, error) {
	m, ok := t.s.milestones[id]
	if !ok {
		return Milestone{}, fmt.Errorf("%w: %d", ErrMilestoneNotFound, id)
	}
	if m.CompletedAt != nil {
		return Milestone{}, fmt.Errorf("%w: %d", ErrAlreadyCompleted, id)
	}
	m.CompletedAt = &at
	m.UpdatedAt = t.s.now()
	return m.clone(), nil
}

func (t *memTx) Reopen(_ context.Context, id int64) (Milestone, error) {
	m, ok := t.s.milestones[id]
	if !ok {
		return Milestone{}, fmt.Errorf("%w: %d", ErrMilestoneNotFound, id)
	}
	if m.CompletedAt == nil {
		return Milestone{}, fmt.Errorf("%w: %d", ErrNotCompleted, id)
	}
	m.CompletedAt = nil
	m.UpdatedAt = t.s.now()
	return m.clone(), nil
}

func (t *memTx) AppendEvent(_ context.Context, routingKey string, aggregateID int64, payload any) error {
	t.s.events = append(t.s.events, RecordedEvent{RoutingKey: routingKey, AggregateID: aggregateID, Payload: payload})
	return nil
}
