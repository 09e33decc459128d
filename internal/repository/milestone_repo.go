package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recruitment-hitos/internal/milestone"
	"recruitment-hitos/pkg/outbox"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	outbox.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

const milestoneColumns = `id, process_id, template_id, ordinal, name, description, trigger_kind, anchor_event,
        predecessor_id, duration_days, anticipation_days, business_days,
        start_date, due_date, completed_at, created_at, updated_at`

const viewColumns = `m.id, m.process_id, m.template_id, m.ordinal, m.name, m.description, m.trigger_kind, m.anchor_event,
        m.predecessor_id, m.duration_days, m.anticipation_days, m.business_days,
        m.start_date, m.due_date, m.completed_at, m.created_at, m.updated_at,
        p.name, COALESCE(p.client_id, 0), COALESCE(c.name, ''), COALESCE(p.consultant_id, 0), COALESCE(u.name, '')`

// MilestoneRepository is the PostgreSQL milestone.Store.
type MilestoneRepository struct {
	db     DB
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewMilestoneRepository(db DB, logger *zap.Logger) *MilestoneRepository {
	return &MilestoneRepository{
		db:     db,
		outbox: outbox.NewRepository(db),
		logger: logger,
	}
}

func (r *MilestoneRepository) InTx(ctx context.Context, fn func(tx milestone.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(&milestoneTx{tx: tx, repo: r}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *MilestoneRepository) TemplatesByServiceType(ctx context.Context, code string) ([]milestone.Template, error) {
	query := `
        SELECT id, service_type_code, ordinal, name, description, trigger_kind, anchor_event,
               duration_days, anticipation_days, business_days, predecessor_ordinal
        FROM milestone_templates
        WHERE service_type_code = $1
        ORDER BY ordinal ASC
    `
	rows, err := r.db.Query(ctx, query, code)
	if err != nil {
		r.logger.Error("Failed to query milestone templates", zap.String("service_type", code), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var templates []milestone.Template
	for rows.Next() {
		var t milestone.Template
		var trigger string
		if err := rows.Scan(
			&t.ID,
			&t.ServiceTypeCode,
			&t.Ordinal,
			&t.Name,
			&t.Description,
			&trigger,
			&t.AnchorEvent,
			&t.DurationDays,
			&t.AnticipationDays,
			&t.BusinessDays,
			&t.PredecessorOrdinal,
		); err != nil {
			r.logger.Error("Failed to scan milestone template", zap.Error(err))
			return nil, err
		}
		t.Trigger = milestone.TriggerKind(trigger)
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpsertTemplates writes a service type's catalogue keyed by ordinal.
// Templates are never deleted because milestones reference them.
func (r *MilestoneRepository) UpsertTemplates(ctx context.Context, serviceType string, templates []milestone.Template) error {
	query := `
        INSERT INTO milestone_templates (service_type_code, ordinal, name, description, trigger_kind, anchor_event,
                                         duration_days, anticipation_days, business_days, predecessor_ordinal)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (service_type_code, ordinal) DO UPDATE SET
            name = EXCLUDED.name,
            description = EXCLUDED.description,
            trigger_kind = EXCLUDED.trigger_kind,
            anchor_event = EXCLUDED.anchor_event,
            duration_days = EXCLUDED.duration_days,
            anticipation_days = EXCLUDED.anticipation_days,
            business_days = EXCLUDED.business_days,
            predecessor_ordinal = EXCLUDED.predecessor_ordinal,
            updated_at = NOW()
    `
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, t := range templates {
		if _, err := tx.Exec(ctx, query,
			serviceType,
			t.Ordinal,
			t.Name,
			t.Description,
			string(t.Trigger),
			t.AnchorEvent,
			t.DurationDays,
			t.AnticipationDays,
			t.BusinessDays,
			t.PredecessorOrdinal,
		); err != nil {
			_ = tx.Rollback(ctx)
			r.logger.Error("Failed to upsert milestone template",
				zap.String("service_type", serviceType),
				zap.Int("ordinal", t.Ordinal),
				zap.Error(err),
			)
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("Milestone templates seeded",
		zap.String("service_type", serviceType),
		zap.Int("count", len(templates)),
	)
	return nil
}

func (r *MilestoneRepository) ProcessExists(ctx context.Context, processID int64) (bool, error) {
	return processExists(ctx, r.db, processID)
}

func (r *MilestoneRepository) ListByProcess(ctx context.Context, processID int64) ([]milestone.Milestone, error) {
	query := `
        SELECT ` + milestoneColumns + `
        FROM milestones
        WHERE process_id = $1
        ORDER BY ordinal ASC
    `
	return r.queryMilestones(ctx, r.db, query, processID)
}

// ListViews joins milestones with their process, client and consultant.
// Consultant filtering happens here so non-admins never load foreign rows.
func (r *MilestoneRepository) ListViews(ctx context.Context, f milestone.ViewFilter) ([]milestone.View, error) {
	query := `
        SELECT ` + viewColumns + `
        FROM milestones m
        JOIN processes p ON p.id = m.process_id
        LEFT JOIN clients c ON c.id = p.client_id
        LEFT JOIN users u ON u.id = p.consultant_id
        WHERE ($1::bigint = 0 OR p.consultant_id = $1)
          AND ($2::bigint = 0 OR m.process_id = $2)
        ORDER BY m.process_id ASC, m.ordinal ASC
    `
	rows, err := r.db.Query(ctx, query, f.ConsultantID, f.ProcessID)
	if err != nil {
		r.logger.Error("Failed to query milestone views",
			zap.Int64("consultant_id", f.ConsultantID),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	var views []milestone.View
	for rows.Next() {
		var v milestone.View
		var trigger string
		m := &v.Milestone
		if err := rows.Scan(
			&m.ID, &m.ProcessID, &m.TemplateID, &m.Ordinal, &m.Name, &m.Description, &trigger, &m.AnchorEvent,
			&m.PredecessorID, &m.DurationDays, &m.AnticipationDays, &m.BusinessDays,
			&m.StartDate, &m.DueDate, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
			&v.ProcessName, &v.ClientID, &v.ClientName, &v.ConsultantID, &v.ConsultantName,
		); err != nil {
			r.logger.Error("Failed to scan milestone view", zap.Error(err))
			return nil, err
		}
		m.Trigger = milestone.TriggerKind(trigger)
		views = append(views, v)
	}
	return views, rows.Err()
}

func (r *MilestoneRepository) queryMilestones(ctx context.Context, q outbox.Querier, query string, args ...any) ([]milestone.Milestone, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query milestones", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var out []milestone.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			r.logger.Error("Failed to scan milestone", zap.Error(err))
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMilestone(row pgx.Row) (milestone.Milestone, error) {
	var m milestone.Milestone
	var trigger string
	err := row.Scan(
		&m.ID, &m.ProcessID, &m.TemplateID, &m.Ordinal, &m.Name, &m.Description, &trigger, &m.AnchorEvent,
		&m.PredecessorID, &m.DurationDays, &m.AnticipationDays, &m.BusinessDays,
		&m.StartDate, &m.DueDate, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	m.Trigger = milestone.TriggerKind(trigger)
	return m, err
}

func processExists(ctx context.Context, q outbox.Querier, processID int64) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processes WHERE id = $1)`, processID).Scan(&ok)
	return ok, err
}

func milestoneExists(ctx context.Context, q outbox.Querier, id int64) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM milestones WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// milestoneTx implements milestone.Tx over a pgx transaction.
type milestoneTx struct {
	tx   pgx.Tx
	repo *MilestoneRepository
}

func (t *milestoneTx) ProcessExists(ctx context.Context, processID int64) (bool, error) {
	return processExists(ctx, t.tx, processID)
}

func (t *milestoneTx) CountByProcess(ctx context.Context, processID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM milestones WHERE process_id = $1`, processID).Scan(&n)
	return n, err
}

func (t *milestoneTx) InsertMilestone(ctx context.Context, m *milestone.Milestone) error {
	query := `
        INSERT INTO milestones (process_id, template_id, ordinal, name, description, trigger_kind, anchor_event,
                                predecessor_id, duration_days, anticipation_days, business_days)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id, created_at, updated_at
    `
	err := t.tx.QueryRow(ctx, query,
		m.ProcessID,
		m.TemplateID,
		m.Ordinal,
		m.Name,
		m.Description,
		string(m.Trigger),
		m.AnchorEvent,
		m.PredecessorID,
		m.DurationDays,
		m.AnticipationDays,
		m.BusinessDays,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		t.repo.logger.Error("Failed to insert milestone",
			zap.Int64("process_id", m.ProcessID),
			zap.Int("ordinal", m.Ordinal),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (t *milestoneTx) LockInert(ctx context.Context, processID int64, trigger milestone.TriggerKind) ([]milestone.Milestone, error) {
	query := `
        SELECT ` + milestoneColumns + `
        FROM milestones
        WHERE process_id = $1 AND trigger_kind = $2
          AND start_date IS NULL AND completed_at IS NULL
        ORDER BY ordinal ASC
        FOR UPDATE
    `
	return t.repo.queryMilestones(ctx, t.tx, query, processID, string(trigger))
}

func (t *milestoneTx) InertDependents(ctx context.Context, predecessorID int64) ([]milestone.Milestone, error) {
	query := `
        SELECT ` + milestoneColumns + `
        FROM milestones
        WHERE predecessor_id = $1 AND trigger_kind = 'previous_completed'
          AND start_date IS NULL AND completed_at IS NULL
        ORDER BY ordinal ASC
        FOR UPDATE
    `
	return t.repo.queryMilestones(ctx, t.tx, query, predecessorID)
}

func (t *milestoneTx) Activate(ctx context.Context, id int64, start, due time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE milestones SET start_date = $2, due_date = $3, updated_at = NOW() WHERE id = $1`,
		id, start, due,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", milestone.ErrMilestoneNotFound, id)
	}
	return nil
}

// CompleteIfOpen relies on the row lock taken by UPDATE: a racing writer
// waits, re-evaluates "completed_at IS NULL" and matches nothing.
func (t *milestoneTx) CompleteIfOpen(ctx context.Context, id int64, at time.Time) (milestone.Milestone, error) {
	query := `
        UPDATE milestones SET completed_at = $2, updated_at = NOW()
        WHERE id = $1 AND completed_at IS NULL
        RETURNING ` + milestoneColumns
	m, err := scanMilestone(t.tx.QueryRow(ctx, query, id, at))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return milestone.Milestone{}, err
	}

	exists, err := milestoneExists(ctx, t.tx, id)
	if err != nil {
		return milestone.Milestone{}, err
	}
	if exists {
		return milestone.Milestone{}, fmt.Errorf("%w: %d", milestone.ErrAlreadyCompleted, id)
	}
	return milestone.Milestone{}, fmt.Errorf("%w: %d", milestone.ErrMilestoneNotFound, id)
}

func (t *milestoneTx) Reopen(ctx context.Context, id int64) (milestone.Milestone, error) {
	query := `
        UPDATE milestones SET completed_at = NULL, updated_at = NOW()
        WHERE id = $1 AND completed_at IS NOT NULL
        RETURNING ` + milestoneColumns
	m, err := scanMilestone(t.tx.QueryRow(ctx, query, id))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return milestone.Milestone{}, err
	}

	exists, err := milestoneExists(ctx, t.tx, id)
	if err != nil {
		return milestone.Milestone{}, err
	}
	if exists {
		return milestone.Milestone{}, fmt.Errorf("%w: %d", milestone.ErrNotCompleted, id)
	}
	return milestone.Milestone{}, fmt.Errorf("%w: %d", milestone.ErrMilestoneNotFound, id)
}

func (t *milestoneTx) AppendEvent(ctx context.Context, routingKey string, aggregateID int64, payload any) error {
	return outbox.InsertEventInTx(ctx, t.tx, t.repo.outbox, "milestone", &aggregateID, routingKey, payload)
}
