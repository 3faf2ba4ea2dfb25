package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-research/backend/pkg/models"
)

func TestMemoryStore_JobsOrderedByPhaseThenCreation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	wf := &models.Workflow{ReportTitle: "t", Language: "en", CurrentPhase: 1, Status: models.WorkflowStatusGenerating}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	for _, phase := range []int{2, 1, 2} {
		require.NoError(t, store.CreateJob(ctx, &models.Job{WorkflowID: wf.ID, Phase: phase, Status: models.JobStatusProcessing}))
	}
	jobs, err := store.ListJobs(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []int{1, 2, 2}, []int{jobs[0].Phase, jobs[1].Phase, jobs[2].Phase})

	n, err := store.CancelPhaseJobs(ctx, wf.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.CancelPhaseJobs(ctx, wf.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_RecomputeTotalsIgnoresNonCompleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	wf := &models.Workflow{ReportTitle: "t", Language: "en", CurrentPhase: 1, Status: models.WorkflowStatusGenerating}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	done := &models.Job{WorkflowID: wf.ID, Phase: 1}
	require.NoError(t, store.CreateJob(ctx, done))
	require.NoError(t, store.CompleteJob(ctx, done.ID, models.JobResult{OutputText: "a", InputTokens: 10, OutputTokens: 5, Cost: 0.1}))

	cancelled := &models.Job{WorkflowID: wf.ID, Phase: 2}
	require.NoError(t, store.CreateJob(ctx, cancelled))
	require.NoError(t, store.CompleteJob(ctx, cancelled.ID, models.JobResult{OutputText: "b", InputTokens: 7, OutputTokens: 3, Cost: 0.2}))
	_, err := store.CancelPhaseJobs(ctx, wf.ID, 2)
	require.NoError(t, err)

	totals, err := store.RecomputeWorkflowTotals(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowTotals{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, TotalCost: 0.1}, totals)

	got, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, got.TotalTokens)

	_, err = store.RecomputeWorkflowTotals(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	wf := &models.Workflow{ReportTitle: "t", Language: "en", CurrentPhase: 4, Status: models.WorkflowStatusPendingReview}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx Repository) error {
		_, err := tx.MarkWorkflowApproved(ctx, wf.ID, "user1")
		require.NoError(t, err)
		require.NoError(t, tx.UpsertReportBySlug(ctx, &models.Report{Slug: "t", WorkflowID: wf.ID}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPendingReview, got.Status)
	assert.Empty(t, store.Reports())
}

func TestMemoryStore_RollbackKeepsWritesOutsideTx(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	root := &models.Workflow{ReportTitle: "t", Language: "en", CurrentPhase: 4, Status: models.WorkflowStatusPendingReview}
	other := &models.Workflow{ReportTitle: "o", Language: "en", CurrentPhase: 1, Status: models.WorkflowStatusGenerating}
	require.NoError(t, store.CreateWorkflow(ctx, root))
	require.NoError(t, store.CreateWorkflow(ctx, other))

	// another pipeline writing while the approval transaction is open
	concurrent := &models.Job{WorkflowID: other.ID, Phase: 1, Status: models.JobStatusProcessing}

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx Repository) error {
		_, err := tx.MarkWorkflowApproved(ctx, root.ID, "user1")
		require.NoError(t, err)
		child := &models.Workflow{ReportTitle: "t", Language: "de", CurrentPhase: 1, Status: models.WorkflowStatusGenerating, ParentWorkflowID: &root.ID}
		require.NoError(t, tx.CreateWorkflow(ctx, child))

		require.NoError(t, store.CreateJob(ctx, concurrent))
		require.NoError(t, store.UpdateWorkflowProgress(ctx, other.ID, WorkflowProgress{CurrentPhase: 2, Status: models.WorkflowStatusGenerating}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetWorkflow(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPendingReview, got.Status)
	children, err := store.ListChildWorkflows(ctx, root.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	require.NoError(t, store.CompleteJob(ctx, concurrent.ID, models.JobResult{OutputText: "kept"}))
	got, err = store.GetWorkflow(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentPhase)
}

func TestMemoryStore_RollbackRestoresCancelledJobsAndUpserts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	wf := &models.Workflow{ReportTitle: "t", Language: "en", CurrentPhase: 2, Status: models.WorkflowStatusGenerating}
	require.NoError(t, store.CreateWorkflow(ctx, wf))
	job := &models.Job{WorkflowID: wf.ID, Phase: 2, Status: models.JobStatusProcessing}
	require.NoError(t, store.CreateJob(ctx, job))
	report := &models.Report{Slug: "t", Title: "before", WorkflowID: wf.ID}
	require.NoError(t, store.UpsertReportBySlug(ctx, report))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx Repository) error {
		_, err := tx.CancelPhaseJobs(ctx, wf.ID, 2)
		require.NoError(t, err)
		require.NoError(t, tx.UpsertReportBySlug(ctx, &models.Report{Slug: "t", Title: "after", WorkflowID: wf.ID}))
		require.NoError(t, tx.RecordUsage(ctx, &models.UsageRecord{JobID: job.ID}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	jobs, err := store.ListJobs(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusProcessing, jobs[0].Status)
	got, err := store.GetReportBySlug(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "before", got.Title)
	assert.Empty(t, store.Usage())
}

func TestMemoryStore_UpsertReportBySlug(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := &models.Report{Slug: "ai-market", Title: "AI Market", CreatedBy: "a", WorkflowID: "w1"}
	require.NoError(t, store.UpsertReportBySlug(ctx, first))

	second := &models.Report{Slug: "ai-market", Title: "AI Market v2", CreatedBy: "b", WorkflowID: "w2"}
	require.NoError(t, store.UpsertReportBySlug(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a", second.CreatedBy)
	require.Len(t, store.Reports(), 1)

	got, err := store.GetReportByWorkflow(ctx, "w2")
	require.NoError(t, err)
	assert.Equal(t, "AI Market v2", got.Title)
}
