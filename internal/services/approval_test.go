package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-research/backend/internal/events"
	"market-research/backend/pkg/models"
)

func createCategory(t *testing.T, env *testEnv, name string) *models.Category {
	t.Helper()
	category, err := NewCategoryService(env.store).Create(context.Background(), name)
	require.NoError(t, err)
	return category
}

func TestApprove_RootMaterializesReportAndSpawnsTranslations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.client.fallback = numbered()
	catA := createCategory(t, env, "Security")
	view := runToReview(t, env, "Quantum Encryption Market")

	result, err := env.svc.Approve(ctx, view.ID, "user1", []string{catA.ID, catA.ID})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusApproved, result.Workflow.Status)
	require.NotNil(t, result.Workflow.ApprovedBy)
	assert.Equal(t, "user1", *result.Workflow.ApprovedBy)
	assert.NotNil(t, result.Workflow.ApprovedAt)
	assert.Nil(t, result.Translation)

	report := result.Report
	require.NotNil(t, report)
	assert.Equal(t, "quantum-encryption-market", report.Slug)
	assert.Equal(t, []string{catA.ID}, report.CategoryIDs)
	assert.Equal(t, models.ReportStatusDraft, report.Status)
	assert.True(t, report.IsAIGenerated)
	assert.True(t, report.IsHumanApproved)
	assert.Equal(t, "en", report.Locale)
	assert.Equal(t, "generated section #1", report.Description)
	assert.Equal(t, "generated section #1", report.Summary)
	assert.Equal(t, map[string]string{
		models.SectionMarketAnalysis:      "generated section #1",
		models.SectionCompetitiveAnalysis: "generated section #2",
		models.SectionTrends:              "generated section #3",
		models.SectionKeyPlayers:          "generated section #4",
	}, report.Sections)

	require.Len(t, result.Children, len(testLocales))
	for i, child := range result.Children {
		assert.Equal(t, testLocales[i], child.Language)
		assert.Equal(t, models.WorkflowStatusGenerating, child.Status)
		assert.Equal(t, 1, child.CurrentPhase)
		assert.Equal(t, "Quantum Encryption Market", child.ReportTitle)
		require.NotNil(t, child.ParentWorkflowID)
		assert.Equal(t, view.ID, *child.ParentWorkflowID)
	}
	assert.Len(t, env.recorder.Events(events.WorkflowApproved), 1)
	assert.Len(t, env.recorder.Events(events.TranslationsSpawned), 1)

	env.svc.Wait()
	status, err := env.svc.GetStatus(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, status.Children, len(testLocales))
	for _, child := range status.Children {
		assert.Equal(t, models.WorkflowStatusPendingReview, child.Status, child.Language)
		require.Len(t, child.Jobs, 4)
		wantPrefix := "IMPORTANT: Respond entirely in " + LanguageName(child.Language) + "."
		assert.True(t, strings.HasPrefix(child.Jobs[0].InputPrompt, wantPrefix), child.Language)
		assert.Empty(t, child.Children)
	}
}

func TestApprove_RootWithoutCategoriesFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.client.fallback = numbered()
	view := runToReview(t, env, "Vertical Farming Market")

	_, err := env.svc.Approve(ctx, view.ID, "user1", nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = env.svc.Approve(ctx, view.ID, "user1", []string{"  "})
	assert.True(t, IsValidation(err))

	_, err = env.svc.Approve(ctx, view.ID, "user1", []string{"no-such-category"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "no-such-category")

	assert.Empty(t, env.store.Reports())
	after, err := env.svc.GetStatus(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPendingReview, after.Status)
	assert.Nil(t, after.ApprovedBy)
	assert.Empty(t, after.Children)
	assert.Empty(t, env.recorder.Events(events.WorkflowApproved))
}

func TestApprove_ChildCreatesTranslationOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *WorkflowConfig) { cfg.Locales = []string{"de"} })
	env.client.fallback = numbered()
	cat := createCategory(t, env, "Energy")
	view := runToReview(t, env, "Hydrogen Storage Market")

	root, err := env.svc.Approve(ctx, view.ID, "user1", []string{cat.ID})
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	env.svc.Wait()

	child := root.Children[0]
	result, err := env.svc.Approve(ctx, child.ID, "reviewer@example.com", nil)
	require.NoError(t, err)
	assert.Nil(t, result.Report)
	assert.Empty(t, result.Children)
	assert.Equal(t, models.WorkflowStatusApproved, result.Workflow.Status)

	translation := result.Translation
	require.NotNil(t, translation)
	assert.Equal(t, root.Report.ID, translation.ReportID)
	assert.Equal(t, "de", translation.Locale)
	assert.Equal(t, models.ReportStatusPublished, translation.Status)
	assert.True(t, translation.HumanReviewed)
	assert.Len(t, translation.Sections, 4)

	assert.Len(t, env.store.Reports(), 1)
	assert.Len(t, env.store.Translations(), 1)

	// Children of children are never spawned.
	workflows, err := env.svc.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Len(t, workflows, 2)
}

func TestApprove_NonDefaultRootSpawnsNoChildren(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.client.fallback = numbered()
	cat := createCategory(t, env, "Mobility")

	wf, err := env.svc.Create(ctx, "E-Scooter Market", "user1", "fr")
	require.NoError(t, err)
	env.svc.Wait()

	result, err := env.svc.Approve(ctx, wf.ID, "user1", []string{cat.ID})
	require.NoError(t, err)
	assert.Empty(t, result.Children)
	assert.Equal(t, "fr", result.Report.Locale)
	assert.Empty(t, env.recorder.Events(events.TranslationsSpawned))
}

func TestApprove_RequiresPendingReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.client.then(fail(errors.New("boom")))
	cat := createCategory(t, env, "Health")

	wf, err := env.svc.Create(ctx, "Telehealth Market", "user1", "")
	require.NoError(t, err)
	env.svc.Wait()

	_, err = env.svc.Approve(ctx, wf.ID, "user1", []string{cat.ID})
	assert.True(t, IsValidation(err))

	_, err = env.svc.Approve(ctx, "missing", "user1", []string{cat.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Approve(ctx, wf.ID, " ", []string{cat.ID})
	assert.True(t, IsValidation(err))
}

func TestApprove_ApprovedWorkflowCannotBeRegeneratedOrReapproved(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *WorkflowConfig) { cfg.Locales = nil })
	env.client.fallback = numbered()
	cat := createCategory(t, env, "Retail")
	view := runToReview(t, env, "Retail Analytics Market")

	_, err := env.svc.Approve(ctx, view.ID, "user1", []string{cat.ID})
	require.NoError(t, err)

	assert.True(t, IsValidation(env.svc.RegeneratePhase(ctx, view.ID, 1)))
	_, err = env.svc.Approve(ctx, view.ID, "user1", []string{cat.ID})
	assert.True(t, IsValidation(err))
	assert.NoError(t, env.svc.Advance(ctx, view.ID))
	assert.Len(t, env.store.Reports(), 1)
}

func TestApprove_SameTitleUpdatesReportBySlug(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *WorkflowConfig) { cfg.Locales = nil })
	env.client.fallback = numbered()
	cat := createCategory(t, env, "Agriculture")

	first := runToReview(t, env, "Precision Farming Market")
	r1, err := env.svc.Approve(ctx, first.ID, "user1", []string{cat.ID})
	require.NoError(t, err)

	second := runToReview(t, env, "Precision  Farming market")
	r2, err := env.svc.Approve(ctx, second.ID, "user2", []string{cat.ID})
	require.NoError(t, err)

	assert.Equal(t, r1.Report.ID, r2.Report.ID)
	assert.Equal(t, second.ID, r2.Report.WorkflowID)
	assert.Len(t, env.store.Reports(), 1)
}

func TestDispatcher_SpacesChildStarts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *WorkflowConfig) {
		cfg.SpawnDelay = 20 * time.Millisecond
		cfg.MaxParallelChildren = 2
	})
	env.client.fallback = numbered()
	cat := createCategory(t, env, "Space")
	view := runToReview(t, env, "Satellite Broadband Market")

	start := time.Now()
	result, err := env.svc.Approve(ctx, view.ID, "user1", []string{cat.ID})
	require.NoError(t, err)
	require.Len(t, result.Children, len(testLocales))
	env.svc.Wait()

	assert.GreaterOrEqual(t, time.Since(start), time.Duration(len(testLocales)-1)*20*time.Millisecond)
	children, err := env.store.ListChildWorkflows(ctx, view.ID)
	require.NoError(t, err)
	for _, child := range children {
		assert.Equal(t, models.WorkflowStatusPendingReview, child.Status)
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "First paragraph.", summarize("  First paragraph.\n\nSecond paragraph."))

	long := strings.Repeat("word ", 100)
	got := summarize(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len([]rune(got)), summaryMaxRunes+3)
	assert.False(t, strings.Contains(strings.TrimSuffix(got, "..."), "wor "))
}
