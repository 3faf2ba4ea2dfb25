package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"market-research/backend/pkg/models"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// WithinTx runs fn inside a database transaction. Nested calls reuse the
// outer transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Repository) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
}

const workflowColumns = `id, report_title, language, current_phase, status,
	input_tokens, output_tokens, total_tokens, total_cost, parent_workflow_id,
	created_by, approved_by, approved_at, created_at, updated_at`

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	var cost decimal.Decimal
	err := row.Scan(&w.ID, &w.ReportTitle, &w.Language, &w.CurrentPhase, &w.Status,
		&w.InputTokens, &w.OutputTokens, &w.TotalTokens, &cost, &w.ParentWorkflowID,
		&w.CreatedBy, &w.ApprovedBy, &w.ApprovedAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.TotalCost = cost.InexactFloat64()
	return &w, nil
}

func collectWorkflows(rows pgx.Rows) ([]*models.Workflow, error) {
	defer rows.Close()
	workflows := []*models.Workflow{}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// CreateWorkflow inserts a new workflow. ID and timestamps are filled in when empty.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	_, err := s.db.Exec(ctx, `INSERT INTO ai_workflows (id, report_title, language, current_phase,
		status, parent_workflow_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.ReportTitle, w.Language, w.CurrentPhase, w.Status, w.ParentWorkflowID,
		w.CreatedBy, w.CreatedAt, w.UpdatedAt)
	return errors.Wrap(err, "create workflow")
}

// GetWorkflow retrieves a workflow by its ID.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	w, err := scanWorkflow(s.db.QueryRow(ctx, "SELECT "+workflowColumns+" FROM ai_workflows WHERE id = $1", id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrapf(err, "get workflow %s", id)
	}
	return w, err
}

// ListWorkflows returns all workflows, newest first.
func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, "SELECT "+workflowColumns+" FROM ai_workflows ORDER BY created_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, "list workflows")
	}
	return collectWorkflows(rows)
}

// ListChildWorkflows returns the translation workflows forked from parentID.
func (s *PostgresStore) ListChildWorkflows(ctx context.Context, parentID string) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, "SELECT "+workflowColumns+
		" FROM ai_workflows WHERE parent_workflow_id = $1 ORDER BY language", parentID)
	if err != nil {
		return nil, errors.Wrapf(err, "list children of %s", parentID)
	}
	return collectWorkflows(rows)
}

// UpdateWorkflowProgress sets the current phase and status of a workflow.
func (s *PostgresStore) UpdateWorkflowProgress(ctx context.Context, id string, p WorkflowProgress) error {
	tag, err := s.db.Exec(ctx, `UPDATE ai_workflows SET current_phase = $1, status = $2, updated_at = now()
		WHERE id = $3`, p.CurrentPhase, p.Status, id)
	if err != nil {
		return errors.Wrapf(err, "update workflow %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkWorkflowApproved records the approval and returns the updated workflow.
func (s *PostgresStore) MarkWorkflowApproved(ctx context.Context, id, approverID string) (*models.Workflow, error) {
	w, err := scanWorkflow(s.db.QueryRow(ctx, `UPDATE ai_workflows
		SET status = $1, approved_by = $2, approved_at = now(), updated_at = now()
		WHERE id = $3 RETURNING `+workflowColumns, models.WorkflowStatusApproved, approverID, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrapf(err, "approve workflow %s", id)
	}
	return w, err
}

// RecomputeWorkflowTotals rewrites the cumulative usage of a workflow from
// its COMPLETED jobs.
func (s *PostgresStore) RecomputeWorkflowTotals(ctx context.Context, id string) (models.WorkflowTotals, error) {
	var t models.WorkflowTotals
	var cost decimal.Decimal
	err := s.db.QueryRow(ctx, `UPDATE ai_workflows w SET
			input_tokens = t.input_tokens,
			output_tokens = t.output_tokens,
			total_tokens = t.total_tokens,
			total_cost = t.cost,
			updated_at = now()
		FROM (
			SELECT COALESCE(SUM(input_tokens), 0) AS input_tokens,
			       COALESCE(SUM(output_tokens), 0) AS output_tokens,
			       COALESCE(SUM(total_tokens), 0) AS total_tokens,
			       COALESCE(SUM(cost), 0) AS cost
			FROM ai_jobs WHERE workflow_id = $1 AND status = $2
		) t
		WHERE w.id = $1
		RETURNING w.input_tokens, w.output_tokens, w.total_tokens, w.total_cost`,
		id, models.JobStatusCompleted).Scan(&t.InputTokens, &t.OutputTokens, &t.TotalTokens, &cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, errors.Wrapf(err, "recompute totals of %s", id)
	}
	t.TotalCost = cost.InexactFloat64()
	return t, nil
}

const jobColumns = `id, workflow_id, phase, status, input_prompt, output_text, model,
	input_tokens, output_tokens, total_tokens, cost, duration_ms, error_message,
	created_at, completed_at`

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()
	jobs := []*models.Job{}
	for rows.Next() {
		var j models.Job
		var cost decimal.Decimal
		if err := rows.Scan(&j.ID, &j.WorkflowID, &j.Phase, &j.Status, &j.InputPrompt, &j.OutputText,
			&j.Model, &j.InputTokens, &j.OutputTokens, &j.TotalTokens, &cost, &j.DurationMs,
			&j.ErrorMessage, &j.CreatedAt, &j.CompletedAt); err != nil {
			return nil, err
		}
		j.Cost = cost.InexactFloat64()
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// CreateJob inserts a job row.
func (s *PostgresStore) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	j.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `INSERT INTO ai_jobs (id, workflow_id, phase, status, input_prompt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.WorkflowID, j.Phase, j.Status, j.InputPrompt, j.CreatedAt)
	return errors.Wrap(err, "create job")
}

// CompleteJob stores the output and metrics of a successful job.
func (s *PostgresStore) CompleteJob(ctx context.Context, id string, r models.JobResult) error {
	tag, err := s.db.Exec(ctx, `UPDATE ai_jobs SET status = $1, output_text = $2, model = $3,
		input_tokens = $4, output_tokens = $5, total_tokens = $6, cost = $7, duration_ms = $8,
		error_message = NULL, completed_at = now()
		WHERE id = $9`,
		models.JobStatusCompleted, r.OutputText, r.Model, r.InputTokens, r.OutputTokens,
		r.InputTokens+r.OutputTokens, decimal.NewFromFloat(r.Cost), r.DurationMs, id)
	if err != nil {
		return errors.Wrapf(err, "complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a job FAILED with the given error message.
func (s *PostgresStore) FailJob(ctx context.Context, id string, errorMessage string, durationMs int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE ai_jobs SET status = $1, error_message = $2, duration_ms = $3,
		completed_at = now() WHERE id = $4`,
		models.JobStatusFailed, errorMessage, durationMs, id)
	if err != nil {
		return errors.Wrapf(err, "fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelPhaseJobs cancels every non-cancelled job of (workflow, phase).
func (s *PostgresStore) CancelPhaseJobs(ctx context.Context, workflowID string, phase int) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE ai_jobs SET status = $1
		WHERE workflow_id = $2 AND phase = $3 AND status <> $1`,
		models.JobStatusCancelled, workflowID, phase)
	if err != nil {
		return 0, errors.Wrapf(err, "cancel phase %d jobs of %s", phase, workflowID)
	}
	return int(tag.RowsAffected()), nil
}

// ListJobs returns all jobs of a workflow ordered by phase.
func (s *PostgresStore) ListJobs(ctx context.Context, workflowID string) ([]*models.Job, error) {
	rows, err := s.db.Query(ctx, "SELECT "+jobColumns+
		" FROM ai_jobs WHERE workflow_id = $1 ORDER BY phase, created_at", workflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "list jobs of %s", workflowID)
	}
	return collectJobs(rows)
}

// ListCompletedJobs returns the COMPLETED jobs of a workflow ordered by phase.
func (s *PostgresStore) ListCompletedJobs(ctx context.Context, workflowID string) ([]*models.Job, error) {
	rows, err := s.db.Query(ctx, "SELECT "+jobColumns+
		" FROM ai_jobs WHERE workflow_id = $1 AND status = $2 ORDER BY phase, created_at",
		workflowID, models.JobStatusCompleted)
	if err != nil {
		return nil, errors.Wrapf(err, "list completed jobs of %s", workflowID)
	}
	return collectJobs(rows)
}

// RecordUsage appends an entry to the usage ledger.
func (s *PostgresStore) RecordUsage(ctx context.Context, r *models.UsageRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `INSERT INTO ai_usage (id, service_type, model, job_id, input_tokens,
		output_tokens, cost, duration_ms, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ServiceType, r.Model, r.JobID, r.InputTokens, r.OutputTokens,
		decimal.NewFromFloat(r.Cost), r.DurationMs, r.Success, r.ErrorMessage, r.CreatedAt)
	return errors.Wrap(err, "record usage")
}

// CreateCategory inserts a category.
func (s *PostgresStore) CreateCategory(ctx context.Context, c *models.Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, "INSERT INTO categories (id, name, slug, created_at) VALUES ($1, $2, $3, $4)",
		c.ID, c.Name, c.Slug, c.CreatedAt)
	return errors.Wrap(err, "create category")
}

// ListCategories returns all categories ordered by name.
func (s *PostgresStore) ListCategories(ctx context.Context) ([]*models.Category, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name, slug, created_at FROM categories ORDER BY name")
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return collectCategories(rows)
}

// GetCategoriesByIDs returns the categories with the given IDs. Unknown IDs
// are skipped.
func (s *PostgresStore) GetCategoriesByIDs(ctx context.Context, ids []string) ([]*models.Category, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []*models.Category{}, nil
	}
	rows, err := s.db.Query(ctx, "SELECT id, name, slug, created_at FROM categories WHERE id = ANY($1::uuid[])", valid)
	if err != nil {
		return nil, errors.Wrap(err, "get categories")
	}
	return collectCategories(rows)
}

func collectCategories(rows pgx.Rows) ([]*models.Category, error) {
	defer rows.Close()
	categories := []*models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// UpsertReportBySlug creates the report or updates the one sharing its slug,
// then replaces its category links.
func (s *PostgresStore) UpsertReportBySlug(ctx context.Context, r *models.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	err := s.db.QueryRow(ctx, `INSERT INTO reports (id, slug, title, description, summary, sections,
			status, locale, is_ai_generated, is_human_approved, workflow_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			summary = EXCLUDED.summary,
			sections = EXCLUDED.sections,
			status = EXCLUDED.status,
			locale = EXCLUDED.locale,
			is_ai_generated = EXCLUDED.is_ai_generated,
			is_human_approved = EXCLUDED.is_human_approved,
			workflow_id = EXCLUDED.workflow_id,
			updated_at = now()
		RETURNING id, created_by, created_at, updated_at`,
		r.ID, r.Slug, r.Title, r.Description, r.Summary, r.Sections, r.Status, r.Locale,
		r.IsAIGenerated, r.IsHumanApproved, r.WorkflowID, r.CreatedBy,
	).Scan(&r.ID, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "upsert report %s", r.Slug)
	}

	if _, err := s.db.Exec(ctx, "DELETE FROM report_categories WHERE report_id = $1", r.ID); err != nil {
		return errors.Wrapf(err, "clear categories of report %s", r.ID)
	}
	for _, categoryID := range r.CategoryIDs {
		if _, err := s.db.Exec(ctx, "INSERT INTO report_categories (report_id, category_id) VALUES ($1, $2)",
			r.ID, categoryID); err != nil {
			return errors.Wrapf(err, "link category %s", categoryID)
		}
	}
	return nil
}

const reportColumns = `id, slug, title, description, summary, sections, status, locale,
	is_ai_generated, is_human_approved, COALESCE(workflow_id::text, ''), created_by, created_at, updated_at`

func (s *PostgresStore) getReport(ctx context.Context, where string, arg any) (*models.Report, error) {
	var r models.Report
	err := s.db.QueryRow(ctx, "SELECT "+reportColumns+" FROM reports WHERE "+where, arg).Scan(
		&r.ID, &r.Slug, &r.Title, &r.Description, &r.Summary, &r.Sections, &r.Status, &r.Locale,
		&r.IsAIGenerated, &r.IsHumanApproved, &r.WorkflowID, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get report")
	}

	rows, err := s.db.Query(ctx, "SELECT category_id FROM report_categories WHERE report_id = $1 ORDER BY category_id", r.ID)
	if err != nil {
		return nil, errors.Wrap(err, "get report categories")
	}
	r.CategoryIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan report categories")
	}
	return &r, nil
}

// GetReportBySlug retrieves a report by slug.
func (s *PostgresStore) GetReportBySlug(ctx context.Context, slug string) (*models.Report, error) {
	return s.getReport(ctx, "slug = $1", slug)
}

// GetReportByWorkflow retrieves the report materialized by a workflow.
func (s *PostgresStore) GetReportByWorkflow(ctx context.Context, workflowID string) (*models.Report, error) {
	if _, err := uuid.Parse(workflowID); err != nil {
		return nil, ErrNotFound
	}
	return s.getReport(ctx, "workflow_id = $1", workflowID)
}

// UpsertTranslation creates or updates the translation of a report for one locale.
func (s *PostgresStore) UpsertTranslation(ctx context.Context, t *models.ReportTranslation) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	err := s.db.QueryRow(ctx, `INSERT INTO report_translations (id, report_id, locale, title,
			description, summary, sections, status, human_reviewed, workflow_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (report_id, locale) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			summary = EXCLUDED.summary,
			sections = EXCLUDED.sections,
			status = EXCLUDED.status,
			human_reviewed = EXCLUDED.human_reviewed,
			workflow_id = EXCLUDED.workflow_id,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		t.ID, t.ReportID, t.Locale, t.Title, t.Description, t.Summary, t.Sections, t.Status,
		t.HumanReviewed, t.WorkflowID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return errors.Wrapf(err, "upsert translation %s/%s", t.ReportID, t.Locale)
}
