package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market-research/backend/pkg/models"
)

// MemoryStore is an in-process Repository used in dev mode and tests.
// Transactions are serialized with each other and keep an undo log, so a
// rollback reverts only the writes made through the transaction.
type MemoryStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	seq  int64

	workflows    map[string]*models.Workflow
	jobs         map[string]*models.Job
	jobSeq       map[string]int64
	usage        []*models.UsageRecord
	categories   map[string]*models.Category
	reports      map[string]*models.Report
	translations map[string]*models.ReportTranslation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:    map[string]*models.Workflow{},
		jobs:         map[string]*models.Job{},
		jobSeq:       map[string]int64{},
		categories:   map[string]*models.Category{},
		reports:      map[string]*models.Report{},
		translations: map[string]*models.ReportTranslation{},
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// WithinTx runs fn and undoes its writes if it fails.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Repository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{MemoryStore: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func copyWorkflow(w *models.Workflow) *models.Workflow {
	c := *w
	return &c
}

func copyJob(j *models.Job) *models.Job {
	c := *j
	return &c
}

// CreateWorkflow stores a new workflow.
func (s *MemoryStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	s.workflows[w.ID] = copyWorkflow(w)
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWorkflow(w), nil
}

// ListWorkflows returns all workflows, newest first.
func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, copyWorkflow(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListChildWorkflows returns the workflows forked from parentID, by language.
func (s *MemoryStore) ListChildWorkflows(ctx context.Context, parentID string) ([]*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Workflow{}
	for _, w := range s.workflows {
		if w.ParentWorkflowID != nil && *w.ParentWorkflowID == parentID {
			out = append(out, copyWorkflow(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out, nil
}

// UpdateWorkflowProgress sets phase and status.
func (s *MemoryStore) UpdateWorkflowProgress(ctx context.Context, id string, p WorkflowProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return ErrNotFound
	}
	w.CurrentPhase = p.CurrentPhase
	w.Status = p.Status
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkWorkflowApproved records the approval.
func (s *MemoryStore) MarkWorkflowApproved(ctx context.Context, id, approverID string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	w.Status = models.WorkflowStatusApproved
	w.ApprovedBy = &approverID
	w.ApprovedAt = &now
	w.UpdatedAt = now
	return copyWorkflow(w), nil
}

// RecomputeWorkflowTotals sums the COMPLETED jobs onto the workflow.
func (s *MemoryStore) RecomputeWorkflowTotals(ctx context.Context, id string) (models.WorkflowTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return models.WorkflowTotals{}, ErrNotFound
	}
	var t models.WorkflowTotals
	cost := decimal.Zero
	for _, j := range s.jobs {
		if j.WorkflowID != id || j.Status != models.JobStatusCompleted {
			continue
		}
		t.InputTokens += j.InputTokens
		t.OutputTokens += j.OutputTokens
		t.TotalTokens += j.TotalTokens
		cost = cost.Add(decimal.NewFromFloat(j.Cost))
	}
	t.TotalCost = cost.Round(6).InexactFloat64()
	w.InputTokens, w.OutputTokens, w.TotalTokens, w.TotalCost = t.InputTokens, t.OutputTokens, t.TotalTokens, t.TotalCost
	w.UpdatedAt = time.Now().UTC()
	return t, nil
}

// CreateJob stores a job row.
func (s *MemoryStore) CreateJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	j.CreatedAt = time.Now().UTC()
	s.seq++
	s.jobSeq[j.ID] = s.seq
	s.jobs[j.ID] = copyJob(j)
	return nil
}

// CompleteJob stores a successful result on the job.
func (s *MemoryStore) CompleteJob(ctx context.Context, id string, r models.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	out := r.OutputText
	j.Status = models.JobStatusCompleted
	j.OutputText = &out
	j.Model = r.Model
	j.InputTokens = r.InputTokens
	j.OutputTokens = r.OutputTokens
	j.TotalTokens = r.InputTokens + r.OutputTokens
	j.Cost = r.Cost
	j.DurationMs = r.DurationMs
	j.ErrorMessage = nil
	j.CompletedAt = &now
	return nil
}

// FailJob marks the job FAILED.
func (s *MemoryStore) FailJob(ctx context.Context, id string, errorMessage string, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusFailed
	j.ErrorMessage = &errorMessage
	j.DurationMs = durationMs
	j.CompletedAt = &now
	return nil
}

// CancelPhaseJobs cancels every non-cancelled job of (workflow, phase).
func (s *MemoryStore) CancelPhaseJobs(ctx context.Context, workflowID string, phase int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.WorkflowID == workflowID && j.Phase == phase && j.Status != models.JobStatusCancelled {
			j.Status = models.JobStatusCancelled
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) listJobs(workflowID string, keep func(*models.Job) bool) []*models.Job {
	out := []*models.Job{}
	for _, j := range s.jobs {
		if j.WorkflowID == workflowID && keep(j) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Phase != out[b].Phase {
			return out[a].Phase < out[b].Phase
		}
		return s.jobSeq[out[a].ID] < s.jobSeq[out[b].ID]
	})
	return out
}

// ListJobs returns all jobs of a workflow ordered by phase, then creation.
func (s *MemoryStore) ListJobs(ctx context.Context, workflowID string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listJobs(workflowID, func(*models.Job) bool { return true }), nil
}

// ListCompletedJobs returns the COMPLETED jobs of a workflow ordered by phase.
func (s *MemoryStore) ListCompletedJobs(ctx context.Context, workflowID string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listJobs(workflowID, func(j *models.Job) bool { return j.Status == models.JobStatusCompleted }), nil
}

// RecordUsage appends to the usage ledger.
func (s *MemoryStore) RecordUsage(ctx context.Context, r *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()
	c := *r
	s.usage = append(s.usage, &c)
	return nil
}

// Usage returns a copy of the usage ledger.
func (s *MemoryStore) Usage() []models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UsageRecord, len(s.usage))
	for i, r := range s.usage {
		out[i] = *r
	}
	return out
}

// CreateCategory stores a category.
func (s *MemoryStore) CreateCategory(ctx context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	cc := *c
	s.categories[c.ID] = &cc
	return nil
}

// ListCategories returns all categories ordered by name.
func (s *MemoryStore) ListCategories(ctx context.Context) ([]*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		cc := *c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetCategoriesByIDs returns the known categories among ids.
func (s *MemoryStore) GetCategoriesByIDs(ctx context.Context, ids []string) ([]*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Category{}
	for _, id := range ids {
		if c, ok := s.categories[id]; ok {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func copyReport(r *models.Report) *models.Report {
	c := *r
	c.Sections = maps.Clone(r.Sections)
	c.CategoryIDs = slices.Clone(r.CategoryIDs)
	return &c
}

// UpsertReportBySlug creates the report or updates the one sharing its slug.
func (s *MemoryStore) UpsertReportBySlug(ctx context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range s.reports {
		if existing.Slug == r.Slug {
			r.ID = existing.ID
			r.CreatedBy = existing.CreatedBy
			r.CreatedAt = existing.CreatedAt
			r.UpdatedAt = now
			s.reports[r.ID] = copyReport(r)
			return nil
		}
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt, r.UpdatedAt = now, now
	s.reports[r.ID] = copyReport(r)
	return nil
}

// GetReportBySlug retrieves a report by slug.
func (s *MemoryStore) GetReportBySlug(ctx context.Context, slug string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.Slug == slug {
			return copyReport(r), nil
		}
	}
	return nil, ErrNotFound
}

// GetReportByWorkflow retrieves the report materialized by a workflow.
func (s *MemoryStore) GetReportByWorkflow(ctx context.Context, workflowID string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.WorkflowID == workflowID {
			return copyReport(r), nil
		}
	}
	return nil, ErrNotFound
}

// Reports returns every stored report.
func (s *MemoryStore) Reports() []*models.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, copyReport(r))
	}
	return out
}

// UpsertTranslation creates or updates the translation for (report, locale).
func (s *MemoryStore) UpsertTranslation(ctx context.Context, t *models.ReportTranslation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range s.translations {
		if existing.ReportID == t.ReportID && existing.Locale == t.Locale {
			t.ID = existing.ID
			t.CreatedAt = existing.CreatedAt
			t.UpdatedAt = now
			c := *t
			c.Sections = maps.Clone(t.Sections)
			s.translations[t.ID] = &c
			return nil
		}
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt, t.UpdatedAt = now, now
	c := *t
	c.Sections = maps.Clone(t.Sections)
	s.translations[t.ID] = &c
	return nil
}

// Translations returns every stored translation.
func (s *MemoryStore) Translations() []*models.ReportTranslation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ReportTranslation, 0, len(s.translations))
	for _, t := range s.translations {
		c := *t
		out = append(out, &c)
	}
	return out
}
