package milestone

import (
	"context"
	"fmt"
	"time"

	"recruitment-hitos/contracts/mq"
	"recruitment-hitos/pkg/logger"
	"recruitment-hitos/pkg/metrics"
	"recruitment-hitos/pkg/trace"

	"go.uber.org/zap"
)

// Engine instantiates, activates and completes milestones.
type Engine struct {
	store  Store
	calc   *DueDateCalculator
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

type EngineOption func(*Engine)

// WithNow overrides the engine's clock.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, calc *DueDateCalculator, loc *time.Location, logger *zap.Logger, opts ...EngineOption) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		store:  store,
		calc:   calc,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Completion is the outcome of CompleteMilestone.
type Completion struct {
	Completed Milestone   `json:"completed"`
	Activated []Milestone `json:"activated"`
}

// Instantiate copies the service type's catalogue into pending milestones of
// the process. A process is instantiated at most once.
func (e *Engine) Instantiate(ctx context.Context, processID int64, serviceType string) ([]Milestone, error) {
	log := logger.WithTrace(ctx, e.logger)

	templates, err := e.store.TemplatesByServiceType(ctx, serviceType)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	templates, err = ValidateTemplates(serviceType, templates)
	if err != nil {
		log.Error("Refusing to instantiate milestones",
			zap.Int64("process_id", processID),
			zap.String("service_type", serviceType),
			zap.Error(err),
		)
		return nil, err
	}

	var created []Milestone
	err = e.store.InTx(ctx, func(tx Tx) error {
		if err := requireProcess(ctx, tx, processID); err != nil {
			return err
		}
		n, err := tx.CountByProcess(ctx, processID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: process %d", ErrAlreadyInstantiated, processID)
		}
		created, err = insertFromTemplates(ctx, tx, processID, templates)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.IncrementMilestoneTransition("instantiated", "", len(created))
	log.Info("Milestones instantiated",
		zap.Int64("process_id", processID),
		zap.String("service_type", serviceType),
		zap.Int("count", len(created)),
	)
	return created, nil
}

// Start is the outcome of StartProcess.
type Start struct {
	Created   []Milestone `json:"created"`
	Activated []Milestone `json:"activated"`
}

// StartProcess instantiates the process's milestones if it has none and
// activates its inert creation-anchored milestones at createdAt (now when
// zero), in a single transaction. On a process that is already started it
// changes nothing and returns an empty Start.
func (e *Engine) StartProcess(ctx context.Context, processID int64, serviceType string, createdAt time.Time) (*Start, error) {
	log := logger.WithTrace(ctx, e.logger)

	templates, err := e.store.TemplatesByServiceType(ctx, serviceType)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	templates, err = ValidateTemplates(serviceType, templates)
	if err != nil {
		log.Error("Refusing to start process",
			zap.Int64("process_id", processID),
			zap.String("service_type", serviceType),
			zap.Error(err),
		)
		return nil, err
	}
	if createdAt.IsZero() {
		createdAt = e.now()
	}
	start := DateOf(createdAt, e.loc)

	var res Start
	err = e.store.InTx(ctx, func(tx Tx) error {
		res = Start{}
		if err := requireProcess(ctx, tx, processID); err != nil {
			return err
		}
		n, err := tx.CountByProcess(ctx, processID)
		if err != nil {
			return err
		}
		if n == 0 {
			if res.Created, err = insertFromTemplates(ctx, tx, processID, templates); err != nil {
				return err
			}
		}

		// 已实例化但未激活的情况同样在这里补齐
		inert, err := tx.LockInert(ctx, processID, TriggerProcessCreated)
		if err != nil {
			return err
		}
		for _, m := range inert {
			if err := e.activate(ctx, tx, &m, start); err != nil {
				return err
			}
			res.Activated = append(res.Activated, m)
		}
		return nil
	})
	if err != nil {
		log.Warn("Process start rejected", zap.Int64("process_id", processID), zap.Error(err))
		return nil, err
	}

	metrics.IncrementMilestoneTransition("instantiated", "", len(res.Created))
	metrics.IncrementMilestoneTransition("activated", string(TriggerProcessCreated), len(res.Activated))
	log.Info("Process started",
		zap.Int64("process_id", processID),
		zap.String("service_type", serviceType),
		zap.Int("created", len(res.Created)),
		zap.Int("activated", len(res.Activated)),
	)
	return &res, nil
}

// ActivateByEvent starts every inert milestone of the process whose trigger
// matches ev, anchoring it at the event date. Chained milestones are only
// activated by CompleteMilestone.
func (e *Engine) ActivateByEvent(ctx context.Context, processID int64, ev Event) ([]Milestone, error) {
	log := logger.WithTrace(ctx, e.logger)

	if _, err := ParseTriggerKind(string(ev.Kind)); err != nil {
		return nil, err
	}
	if ev.Kind == TriggerPreviousCompleted {
		return nil, ErrChainedTrigger
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	start := DateOf(ev.At, e.loc)

	var activated []Milestone
	err := e.store.InTx(ctx, func(tx Tx) error {
		activated = activated[:0]
		if err := requireProcess(ctx, tx, processID); err != nil {
			return err
		}
		inert, err := tx.LockInert(ctx, processID, ev.Kind)
		if err != nil {
			return err
		}
		for _, m := range inert {
			if ev.Kind == TriggerAdminEvent && m.AnchorEvent != "" && m.AnchorEvent != ev.Name {
				continue
			}
			if err := e.activate(ctx, tx, &m, start); err != nil {
				return err
			}
			activated = append(activated, m)
		}
		if len(activated) == 0 {
			return fmt.Errorf("%w: process %d, %s %q", ErrNoMatchingTrigger, processID, ev.Kind, ev.Name)
		}
		return nil
	})
	if err != nil {
		log.Warn("Activation rejected",
			zap.Int64("process_id", processID),
			zap.String("trigger", string(ev.Kind)),
			zap.String("event", ev.Name),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.IncrementMilestoneTransition("activated", string(ev.Kind), len(activated))
	log.Info("Milestones activated",
		zap.Int64("process_id", processID),
		zap.String("trigger", string(ev.Kind)),
		zap.Int("count", len(activated)),
	)
	return activated, nil
}

// CompleteMilestone marks a milestone completed at `at` (now when zero) and,
// in the same transaction, activates the milestones chained off it with the
// completion date as their start.
func (e *Engine) CompleteMilestone(ctx context.Context, id int64, at time.Time) (*Completion, error) {
	log := logger.WithTrace(ctx, e.logger)
	if at.IsZero() {
		at = e.now()
	}
	start := DateOf(at, e.loc)

	var res Completion
	err := e.store.InTx(ctx, func(tx Tx) error {
		res = Completion{}
		done, err := tx.CompleteIfOpen(ctx, id, at)
		if err != nil {
			return err
		}
		res.Completed = done

		if err := tx.AppendEvent(ctx, mq.RoutingKeyMilestoneCompleted, done.ID, mq.MilestoneCompletedPayload{
			MilestoneID: done.ID,
			ProcessID:   done.ProcessID,
			Name:        done.Name,
			DueDate:     done.DueDate,
			CompletedAt: at,
			TraceID:     trace.FromContext(ctx),
		}); err != nil {
			return err
		}

		dependents, err := tx.InertDependents(ctx, done.ID)
		if err != nil {
			return err
		}
		for _, m := range dependents {
			if err := e.activate(ctx, tx, &m, start); err != nil {
				return err
			}
			res.Activated = append(res.Activated, m)
		}
		return nil
	})
	if err != nil {
		log.Warn("Completion rejected", zap.Int64("milestone_id", id), zap.Error(err))
		return nil, err
	}

	metrics.IncrementMilestoneTransition("completed", string(res.Completed.Trigger), 1)
	metrics.IncrementMilestoneTransition("activated", string(TriggerPreviousCompleted), len(res.Activated))
	log.Info("Milestone completed",
		zap.Int64("milestone_id", id),
		zap.Int64("process_id", res.Completed.ProcessID),
		zap.Int("chained_activations", len(res.Activated)),
	)
	return &res, nil
}

// ReopenMilestone clears a completion. Milestones already activated by that
// completion keep their dates.
func (e *Engine) ReopenMilestone(ctx context.Context, id int64) (*Milestone, error) {
	log := logger.WithTrace(ctx, e.logger)

	var reopened Milestone
	err := e.store.InTx(ctx, func(tx Tx) error {
		m, err := tx.Reopen(ctx, id)
		if err != nil {
			return err
		}
		reopened = m
		return tx.AppendEvent(ctx, mq.RoutingKeyMilestoneReopened, m.ID, mq.MilestoneReopenedPayload{
			MilestoneID: m.ID,
			ProcessID:   m.ProcessID,
			ReopenedAt:  e.now(),
			TraceID:     trace.FromContext(ctx),
		})
	})
	if err != nil {
		log.Warn("Reopen rejected", zap.Int64("milestone_id", id), zap.Error(err))
		return nil, err
	}

	metrics.IncrementMilestoneTransition("reopened", string(reopened.Trigger), 1)
	log.Info("Milestone reopened", zap.Int64("milestone_id", id))
	return &reopened, nil
}

// ListProcessMilestones returns the process's milestones ordered by ordinal.
// A non-zero consultantID restricts the read to processes that consultant
// owns; anyone else's process is reported as not found.
func (e *Engine) ListProcessMilestones(ctx context.Context, processID, consultantID int64) ([]Milestone, error) {
	if consultantID != 0 {
		views, err := e.store.ListViews(ctx, ViewFilter{ConsultantID: consultantID, ProcessID: processID})
		if err != nil {
			return nil, err
		}
		if len(views) == 0 {
			return nil, fmt.Errorf("%w: %d", ErrProcessNotFound, processID)
		}
		ms := make([]Milestone, len(views))
		for i := range views {
			ms[i] = views[i].Milestone
		}
		return ms, nil
	}

	ms, err := e.store.ListByProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		ok, err := e.store.ProcessExists(ctx, processID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrProcessNotFound, processID)
		}
	}
	return ms, nil
}

// Classify is the package-level Classify in the engine's business location.
func (e *Engine) Classify(m *Milestone) State {
	return Classify(m, e.now(), e.loc)
}

func (e *Engine) activate(ctx context.Context, tx Tx, m *Milestone, start time.Time) error {
	due := e.calc.DueDate(ctx, start, m.DurationDays, m.BusinessDays)
	if err := tx.Activate(ctx, m.ID, start, due); err != nil {
		return err
	}
	m.StartDate = &start
	m.DueDate = &due

	return tx.AppendEvent(ctx, mq.RoutingKeyMilestoneActivated, m.ID, mq.MilestoneActivatedPayload{
		MilestoneID: m.ID,
		ProcessID:   m.ProcessID,
		Name:        m.Name,
		Trigger:     string(m.Trigger),
		StartDate:   start,
		DueDate:     due,
		TraceID:     trace.FromContext(ctx),
	})
}

// insertFromTemplates creates one milestone per validated template, wiring
// chained milestones to their predecessor's new id.
func insertFromTemplates(ctx context.Context, tx Tx, processID int64, templates []Template) ([]Milestone, error) {
	created := make([]Milestone, 0, len(templates))
	idByOrdinal := make(map[int]int64, len(templates))
	for i, t := range templates {
		m := fromTemplate(processID, t)
		if t.Trigger == TriggerPreviousCompleted {
			predOrdinal := t.PredecessorOrdinal
			if predOrdinal == 0 {
				predOrdinal = templates[i-1].Ordinal
			}
			predID := idByOrdinal[predOrdinal]
			m.PredecessorID = &predID
		}
		if err := tx.InsertMilestone(ctx, &m); err != nil {
			return nil, err
		}
		idByOrdinal[t.Ordinal] = m.ID
		created = append(created, m)
	}
	return created, nil
}

func requireProcess(ctx context.Context, tx Tx, processID int64) error {
	ok, err := tx.ProcessExists(ctx, processID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrProcessNotFound, processID)
	}
	return nil
}

func fromTemplate(processID int64, t Template) Milestone {
	return Milestone{
		ProcessID:        processID,
		TemplateID:       t.ID,
		Ordinal:          t.Ordinal,
		Name:             t.Name,
		Description:      t.Description,
		Trigger:          t.Trigger,
		AnchorEvent:      t.AnchorEvent,
		DurationDays:     t.DurationDays,
		AnticipationDays: t.AnticipationDays,
		BusinessDays:     t.BusinessDays,
	}
}
