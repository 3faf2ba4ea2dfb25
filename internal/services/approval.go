package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"market-research/backend/internal/events"
	"market-research/backend/internal/repository"
	"market-research/backend/pkg/models"
)

const summaryMaxRunes = 300

// reportContent is the report material derived from a workflow's completed jobs.
type reportContent struct {
	Description string
	Summary     string
	Sections    map[string]string
}

// Approve approves a workflow under review and materializes its content. A
// root workflow becomes a draft report and, when written in the default
// language, forks one child workflow per supported locale. A child workflow
// becomes a published translation of its parent's report.
func (s *WorkflowService) Approve(ctx context.Context, id, approverID string, categoryIDs []string) (*models.ApprovalResult, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, NewValidationError("approver is required")
	}

	var result *models.ApprovalResult
	err := func() error {
		unlock := s.locks.Lock(id)
		defer unlock()

		return s.repo.WithinTx(ctx, func(tx repository.Repository) error {
			workflow, err := tx.GetWorkflow(ctx, id)
			if err != nil {
				return err
			}
			if workflow.Status != models.WorkflowStatusPendingReview {
				return NewValidationError("workflow %s is %s, only workflows pending review can be approved", id, workflow.Status)
			}
			jobs, err := tx.ListCompletedJobs(ctx, id)
			if err != nil {
				return fmt.Errorf("load completed jobs: %w", err)
			}
			content, err := s.deriveContent(jobs)
			if err != nil {
				return err
			}

			if workflow.IsChild() {
				result, err = s.approveChild(ctx, tx, workflow, approverID, content)
			} else {
				result, err = s.approveRoot(ctx, tx, workflow, approverID, categoryIDs, content)
			}
			return err
		})
	}()
	if err != nil {
		return nil, err
	}

	s.logger.Info("Workflow approved", "workflow_id", id, "approver", approverID, "children", len(result.Children))
	s.publish(ctx, events.Event{
		Type:       events.WorkflowApproved,
		WorkflowID: id,
		Data:       map[string]any{"approved_by": approverID},
	})
	if len(result.Children) > 0 {
		locales := make([]string, len(result.Children))
		for i, child := range result.Children {
			locales[i] = child.Language
		}
		s.metrics.translationsSpawned(ctx, len(result.Children))
		s.publish(ctx, events.Event{
			Type:       events.TranslationsSpawned,
			WorkflowID: id,
			Data:       map[string]any{"locales": locales},
		})
		s.dispatcher.Start(ctx, result.Children)
	}
	return result, nil
}

func (s *WorkflowService) approveRoot(ctx context.Context, tx repository.Repository, workflow *models.Workflow, approverID string, categoryIDs []string, content reportContent) (*models.ApprovalResult, error) {
	ids := compactIDs(categoryIDs)
	if len(ids) == 0 {
		return nil, NewValidationError("at least one category is required to approve a report")
	}
	categories, err := tx.GetCategoriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if len(categories) != len(ids) {
		return nil, NewValidationError("unknown category ids: %s", strings.Join(missingIDs(ids, categories), ", "))
	}

	approved, err := tx.MarkWorkflowApproved(ctx, workflow.ID, approverID)
	if err != nil {
		return nil, fmt.Errorf("mark approved: %w", err)
	}
	report := &models.Report{
		Slug:            reportSlug(workflow.ReportTitle, workflow.ID),
		Title:           workflow.ReportTitle,
		Description:     content.Description,
		Summary:         content.Summary,
		Sections:        content.Sections,
		Status:          models.ReportStatusDraft,
		Locale:          workflow.Language,
		IsAIGenerated:   true,
		IsHumanApproved: true,
		CategoryIDs:     ids,
		WorkflowID:      workflow.ID,
		CreatedBy:       approverID,
	}
	if err := tx.UpsertReportBySlug(ctx, report); err != nil {
		return nil, fmt.Errorf("upsert report: %w", err)
	}

	result := &models.ApprovalResult{Workflow: approved, Report: report}
	if workflow.Language == s.cfg.DefaultLanguage {
		children, err := s.dispatcher.Spawn(ctx, tx, approved, approverID)
		if err != nil {
			return nil, err
		}
		result.Children = children
	}
	return result, nil
}

func (s *WorkflowService) approveChild(ctx context.Context, tx repository.Repository, workflow *models.Workflow, approverID string, content reportContent) (*models.ApprovalResult, error) {
	report, err := s.parentReport(ctx, tx, *workflow.ParentWorkflowID)
	if err != nil {
		return nil, err
	}
	approved, err := tx.MarkWorkflowApproved(ctx, workflow.ID, approverID)
	if err != nil {
		return nil, fmt.Errorf("mark approved: %w", err)
	}
	translation := &models.ReportTranslation{
		ReportID:      report.ID,
		Locale:        workflow.Language,
		Title:         workflow.ReportTitle,
		Description:   content.Description,
		Summary:       content.Summary,
		Sections:      content.Sections,
		Status:        models.ReportStatusPublished,
		HumanReviewed: true,
		WorkflowID:    workflow.ID,
	}
	if err := tx.UpsertTranslation(ctx, translation); err != nil {
		return nil, fmt.Errorf("upsert translation: %w", err)
	}
	return &models.ApprovalResult{Workflow: approved, Translation: translation}, nil
}

// parentReport finds the report materialized by the parent workflow, falling
// back to the report carrying the parent title's slug.
func (s *WorkflowService) parentReport(ctx context.Context, tx repository.Repository, parentID string) (*models.Report, error) {
	report, err := tx.GetReportByWorkflow(ctx, parentID)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load parent report: %w", err)
	}
	parent, err := tx.GetWorkflow(ctx, parentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewValidationError("parent workflow %s no longer exists", parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load parent workflow: %w", err)
	}
	report, err = tx.GetReportBySlug(ctx, reportSlug(parent.ReportTitle, parent.ID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewValidationError("parent workflow %s has no approved report", parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load parent report: %w", err)
	}
	return report, nil
}

// deriveContent maps the authoritative completed job of each phase onto report
// fields. Jobs are ordered by phase then creation, so the last one per phase
// wins.
func (s *WorkflowService) deriveContent(jobs []*models.Job) (reportContent, error) {
	outputs := map[int]string{}
	for _, job := range jobs {
		if job.OutputText != nil {
			outputs[job.Phase] = strings.TrimSpace(*job.OutputText)
		}
	}
	content := reportContent{Sections: map[string]string{}}
	for _, def := range s.catalog.Definitions() {
		text, ok := outputs[def.Phase]
		if !ok {
			return reportContent{}, NewValidationError("phase %d has no completed output", def.Phase)
		}
		content.Sections[def.Section] = text
	}
	content.Description = outputs[1]
	content.Summary = summarize(outputs[1])
	return content, nil
}

// summarize returns the first paragraph of text cut at a word boundary.
func summarize(text string) string {
	paragraph, _, _ := strings.Cut(strings.TrimSpace(text), "\n\n")
	paragraph = strings.Join(strings.Fields(paragraph), " ")
	runes := []rune(paragraph)
	if len(runes) <= summaryMaxRunes {
		return paragraph
	}
	cut := string(runes[:summaryMaxRunes])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:.") + "..."
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func missingIDs(ids []string, found []*models.Category) []string {
	var missing []string
	for _, id := range ids {
		if !slices.ContainsFunc(found, func(c *models.Category) bool { return c.ID == id }) {
			missing = append(missing, id)
		}
	}
	return missing
}
