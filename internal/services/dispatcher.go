package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"market-research/backend/internal/repository"
	"market-research/backend/pkg/models"
)

// TranslationDispatcher forks an approved root workflow into one child
// workflow per supported locale and runs the children's pipelines.
type TranslationDispatcher struct {
	svc         *WorkflowService
	locales     []string
	delay       time.Duration
	maxParallel int
}

func newTranslationDispatcher(svc *WorkflowService, locales []string, delay time.Duration, maxParallel int) *TranslationDispatcher {
	return &TranslationDispatcher{
		svc:         svc,
		locales:     append([]string(nil), locales...),
		delay:       delay,
		maxParallel: maxParallel,
	}
}

// Locales returns the supported non-default locales.
func (d *TranslationDispatcher) Locales() []string {
	return append([]string(nil), d.locales...)
}

// Spawn creates one child workflow per locale at phase 1 using repo, which is
// normally the approval transaction.
func (d *TranslationDispatcher) Spawn(ctx context.Context, repo repository.Repository, root *models.Workflow, createdBy string) ([]*models.Workflow, error) {
	parentID := root.ID
	children := make([]*models.Workflow, 0, len(d.locales))
	for _, locale := range d.locales {
		child := &models.Workflow{
			ReportTitle:      root.ReportTitle,
			Language:         locale,
			CurrentPhase:     1,
			Status:           models.WorkflowStatusGenerating,
			ParentWorkflowID: &parentID,
			CreatedBy:        createdBy,
		}
		if err := repo.CreateWorkflow(ctx, child); err != nil {
			return nil, fmt.Errorf("create %s translation workflow: %w", locale, err)
		}
		children = append(children, child)
	}
	return children, nil
}

// Start runs the children's pipelines in the background. Starts are spaced by
// the spawn delay and at most maxParallel pipelines run at once.
func (d *TranslationDispatcher) Start(ctx context.Context, children []*models.Workflow) {
	if len(children) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	limit := rate.Inf
	if d.delay > 0 {
		limit = rate.Every(d.delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	d.svc.wg.Add(1)
	go func() {
		defer d.svc.wg.Done()

		var g errgroup.Group
		g.SetLimit(d.maxParallel)
		for _, child := range children {
			if err := limiter.Wait(bg); err != nil {
				d.svc.logger.Error("Translation dispatch interrupted", "workflow_id", child.ID, "error", err)
				break
			}
			d.svc.logger.Info("Starting translation workflow", "workflow_id", child.ID,
				"parent_workflow_id", *child.ParentWorkflowID, "language", child.Language)
			g.Go(func() error {
				if err := d.svc.Advance(bg, child.ID); err != nil {
					d.svc.logger.Error("Translation pipeline stopped", "workflow_id", child.ID, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}
