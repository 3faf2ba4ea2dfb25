package repository

import (
	"context"
	"errors"

	"market-research/backend/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowProgress is the mutable execution state of a workflow.
type WorkflowProgress struct {
	CurrentPhase int
	Status       models.WorkflowStatus
}

// Repository is the persistence contract of the content workflow.
type Repository interface {
	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
	// WithinTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Repository) error) error

	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
	ListChildWorkflows(ctx context.Context, parentID string) ([]*models.Workflow, error)
	UpdateWorkflowProgress(ctx context.Context, id string, progress WorkflowProgress) error
	MarkWorkflowApproved(ctx context.Context, id, approverID string) (*models.Workflow, error)
	// RecomputeWorkflowTotals sums the COMPLETED jobs of the workflow and
	// stores the result on the workflow in one statement.
	RecomputeWorkflowTotals(ctx context.Context, id string) (models.WorkflowTotals, error)

	CreateJob(ctx context.Context, job *models.Job) error
	CompleteJob(ctx context.Context, id string, result models.JobResult) error
	FailJob(ctx context.Context, id string, errorMessage string, durationMs int64) error
	// CancelPhaseJobs marks every non-cancelled job of (workflow, phase)
	// CANCELLED and returns how many rows changed.
	CancelPhaseJobs(ctx context.Context, workflowID string, phase int) (int, error)
	// ListJobs returns all jobs of the workflow ordered by phase, then creation.
	ListJobs(ctx context.Context, workflowID string) ([]*models.Job, error)
	// ListCompletedJobs returns the COMPLETED jobs of the workflow ordered by phase.
	ListCompletedJobs(ctx context.Context, workflowID string) ([]*models.Job, error)

	RecordUsage(ctx context.Context, record *models.UsageRecord) error

	CreateCategory(ctx context.Context, category *models.Category) error
	ListCategories(ctx context.Context) ([]*models.Category, error)
	GetCategoriesByIDs(ctx context.Context, ids []string) ([]*models.Category, error)

	// UpsertReportBySlug updates the report with the same slug or creates it.
	UpsertReportBySlug(ctx context.Context, report *models.Report) error
	GetReportBySlug(ctx context.Context, slug string) (*models.Report, error)
	GetReportByWorkflow(ctx context.Context, workflowID string) (*models.Report, error)
	// UpsertTranslation updates the translation for (report, locale) or creates it.
	UpsertTranslation(ctx context.Context, translation *models.ReportTranslation) error
}
