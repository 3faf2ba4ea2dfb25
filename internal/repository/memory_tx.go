package repository

import (
	"context"
	"slices"

	"market-research/backend/pkg/models"
)

// memoryTx is the Repository handed to WithinTx callbacks on a MemoryStore.
// Reads go straight to the store; every write first records how to revert
// the entries it touches.
type memoryTx struct {
	*MemoryStore
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// saveEntry captures the current value of m[key] and returns a func that puts
// it back, or deletes the key if it did not exist.
func saveEntry[V any](s *MemoryStore, m map[string]*V, key string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := m[key]
	var saved V
	if existed {
		saved = *prev
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			v := saved
			m[key] = &v
			return
		}
		delete(m, key)
	}
}

func (tx *memoryTx) remember(undo func()) {
	tx.undo = append(tx.undo, undo)
}

// WithinTx joins the running transaction.
func (tx *memoryTx) WithinTx(ctx context.Context, fn func(Repository) error) error {
	return fn(tx)
}

func (tx *memoryTx) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	if err := tx.MemoryStore.CreateWorkflow(ctx, w); err != nil {
		return err
	}
	tx.remember(func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		delete(tx.workflows, w.ID)
	})
	return nil
}

func (tx *memoryTx) UpdateWorkflowProgress(ctx context.Context, id string, p WorkflowProgress) error {
	tx.remember(saveEntry(tx.MemoryStore, tx.workflows, id))
	return tx.MemoryStore.UpdateWorkflowProgress(ctx, id, p)
}

func (tx *memoryTx) MarkWorkflowApproved(ctx context.Context, id, approverID string) (*models.Workflow, error) {
	tx.remember(saveEntry(tx.MemoryStore, tx.workflows, id))
	return tx.MemoryStore.MarkWorkflowApproved(ctx, id, approverID)
}

func (tx *memoryTx) RecomputeWorkflowTotals(ctx context.Context, id string) (models.WorkflowTotals, error) {
	tx.remember(saveEntry(tx.MemoryStore, tx.workflows, id))
	return tx.MemoryStore.RecomputeWorkflowTotals(ctx, id)
}

func (tx *memoryTx) CreateJob(ctx context.Context, j *models.Job) error {
	if err := tx.MemoryStore.CreateJob(ctx, j); err != nil {
		return err
	}
	tx.remember(func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		delete(tx.jobs, j.ID)
		delete(tx.jobSeq, j.ID)
	})
	return nil
}

func (tx *memoryTx) CompleteJob(ctx context.Context, id string, r models.JobResult) error {
	tx.remember(saveEntry(tx.MemoryStore, tx.jobs, id))
	return tx.MemoryStore.CompleteJob(ctx, id, r)
}

func (tx *memoryTx) FailJob(ctx context.Context, id string, errorMessage string, durationMs int64) error {
	tx.remember(saveEntry(tx.MemoryStore, tx.jobs, id))
	return tx.MemoryStore.FailJob(ctx, id, errorMessage, durationMs)
}

func (tx *memoryTx) CancelPhaseJobs(ctx context.Context, workflowID string, phase int) (int, error) {
	tx.mu.Lock()
	var ids []string
	for id, j := range tx.jobs {
		if j.WorkflowID == workflowID && j.Phase == phase {
			ids = append(ids, id)
		}
	}
	tx.mu.Unlock()
	for _, id := range ids {
		tx.remember(saveEntry(tx.MemoryStore, tx.jobs, id))
	}
	return tx.MemoryStore.CancelPhaseJobs(ctx, workflowID, phase)
}

func (tx *memoryTx) RecordUsage(ctx context.Context, r *models.UsageRecord) error {
	if err := tx.MemoryStore.RecordUsage(ctx, r); err != nil {
		return err
	}
	id := r.ID
	tx.remember(func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		tx.usage = slices.DeleteFunc(tx.usage, func(u *models.UsageRecord) bool { return u.ID == id })
	})
	return nil
}

func (tx *memoryTx) CreateCategory(ctx context.Context, c *models.Category) error {
	if err := tx.MemoryStore.CreateCategory(ctx, c); err != nil {
		return err
	}
	tx.remember(func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		delete(tx.categories, c.ID)
	})
	return nil
}

func (tx *memoryTx) UpsertReportBySlug(ctx context.Context, r *models.Report) error {
	if existing, err := tx.GetReportBySlug(ctx, r.Slug); err == nil {
		tx.remember(saveEntry(tx.MemoryStore, tx.reports, existing.ID))
		return tx.MemoryStore.UpsertReportBySlug(ctx, r)
	}
	if err := tx.MemoryStore.UpsertReportBySlug(ctx, r); err != nil {
		return err
	}
	id := r.ID
	tx.remember(func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		delete(tx.reports, id)
	})
	return nil
}

func (tx *memoryTx) UpsertTranslation(ctx context.Context, t *models.ReportTranslation) error {
	tx.mu.Lock()
	existingID := ""
	for id, existing := range tx.translations {
		if existing.ReportID == t.ReportID && existing.Locale == t.Locale {
			existingID = id
			break
		}
	}
	tx.mu.Unlock()

	if existingID != "" {
		tx.remember(saveEntry(tx.MemoryStore, tx.translations, existingID))
		return tx.MemoryStore.UpsertTranslation(ctx, t)
	}
	if err := tx.MemoryStore.UpsertTranslation(ctx, t); err != nil {
		return err
	}
	id := t.ID
	tx.remember(func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		delete(tx.translations, id)
	})
	return nil
}
