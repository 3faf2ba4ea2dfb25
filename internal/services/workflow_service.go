package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"market-research/backend/internal/events"
	"market-research/backend/internal/repository"
	"market-research/backend/pkg/models"
)

// WorkflowConfig holds the tunables of the orchestrator.
type WorkflowConfig struct {
	DefaultLanguage     string
	Locales             []string
	Timeout             time.Duration
	Pricing             Pricing
	SpawnDelay          time.Duration
	MaxParallelChildren int
}

// WorkflowService drives content workflows from creation to review, handles
// phase regeneration and approval.
type WorkflowService struct {
	repo       repository.Repository
	client     CompletionClient
	catalog    *PhaseCatalog
	cfg        WorkflowConfig
	logger     Logger
	publisher  events.Publisher
	metrics    *workflowMetrics
	meter      metric.Meter
	locks      *keyedMutex
	dispatcher *TranslationDispatcher
	wg         sync.WaitGroup
}

// Option configures a WorkflowService.
type Option func(*WorkflowService)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *WorkflowService) { s.logger = l }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *WorkflowService) { s.publisher = p }
}

// WithMeter sets the meter used for workflow metrics.
func WithMeter(m metric.Meter) Option {
	return func(s *WorkflowService) { s.meter = m }
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(repo repository.Repository, client CompletionClient, catalog *PhaseCatalog, cfg WorkflowConfig, opts ...Option) *WorkflowService {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = models.DefaultLanguage
	}
	if cfg.MaxParallelChildren <= 0 {
		cfg.MaxParallelChildren = 1
	}
	s := &WorkflowService{
		repo:      repo,
		client:    client,
		catalog:   catalog,
		cfg:       cfg,
		logger:    nopLogger{},
		publisher: events.NopPublisher{},
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newWorkflowMetrics(s.meter)
	s.dispatcher = newTranslationDispatcher(s, cfg.Locales, cfg.SpawnDelay, cfg.MaxParallelChildren)
	return s
}

// Create persists a new workflow at phase 1 and starts its pipeline in the
// background. The handle is returned whatever the outcome of phase 1.
func (s *WorkflowService) Create(ctx context.Context, title, createdBy, language string) (*models.Workflow, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, NewValidationError("report title is required")
	}
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = s.cfg.DefaultLanguage
	}
	if !s.supportsLanguage(language) {
		return nil, NewValidationError("unsupported language %q", language)
	}

	workflow := &models.Workflow{
		ReportTitle:  title,
		Language:     language,
		CurrentPhase: 1,
		Status:       models.WorkflowStatusGenerating,
		CreatedBy:    createdBy,
	}
	if err := s.repo.CreateWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	s.logger.Info("Workflow created", "workflow_id", workflow.ID, "title", title, "language", language)

	s.goAdvance(ctx, workflow.ID)
	return workflow, nil
}

func (s *WorkflowService) supportsLanguage(language string) bool {
	return language == s.cfg.DefaultLanguage || slices.Contains(s.cfg.Locales, language)
}

// goAdvance runs Advance in the background on a context detached from the
// caller's cancellation.
func (s *WorkflowService) goAdvance(ctx context.Context, id string) {
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Advance(bg, id); err != nil {
			s.logger.Error("Workflow pipeline stopped", "workflow_id", id, "error", err)
		}
	}()
}

// Wait blocks until every background pipeline has returned.
func (s *WorkflowService) Wait() {
	s.wg.Wait()
}

// Advance executes phases of the workflow one after another until a phase
// fails, the last phase completes, or there is nothing to do. Gateway failures
// are recorded on the job and are not returned; only configuration and
// persistence errors are.
func (s *WorkflowService) Advance(ctx context.Context, id string) error {
	for {
		next, err := s.step(ctx, id)
		if err != nil || !next {
			return err
		}
	}
}

// step executes the current phase of the workflow and reports whether the
// next phase should run.
func (s *WorkflowService) step(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	workflow, err := s.repo.GetWorkflow(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("Workflow not found, nothing to advance", "workflow_id", id)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load workflow: %w", err)
	}
	if workflow.Status != models.WorkflowStatusGenerating || workflow.CurrentPhase > s.catalog.Len() {
		return false, nil
	}

	phase := workflow.CurrentPhase
	def, err := s.catalog.DefinitionFor(phase)
	if err != nil {
		return false, err
	}

	completed, err := s.repo.ListCompletedJobs(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load completed jobs: %w", err)
	}
	previous := completed[:0:0]
	for _, job := range completed {
		if job.Phase < phase {
			previous = append(previous, job)
		}
	}
	prompt := RenderPrompt(def, workflow.ReportTitle, BuildContext(previous), workflow.Language, s.cfg.DefaultLanguage)

	if _, err := s.repo.CancelPhaseJobs(ctx, id, phase); err != nil {
		return false, fmt.Errorf("supersede phase %d jobs: %w", phase, err)
	}
	job := &models.Job{
		WorkflowID:  id,
		Phase:       phase,
		Status:      models.JobStatusProcessing,
		InputPrompt: prompt,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return false, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("Phase started", "workflow_id", id, "phase", phase, "job_id", job.ID)

	callCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	}
	start := time.Now()
	completion, callErr := s.client.Complete(callCtx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   def.MaxTokens,
		Temperature: def.Temperature,
	})
	timedOut := false
	if cancel != nil {
		timedOut = errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
	}
	durationMs := time.Since(start).Milliseconds()

	if callErr != nil {
		return false, s.failPhase(ctx, workflow, job, callErr, timedOut, durationMs)
	}

	inputTokens := EstimateTokens(prompt)
	if completion.InputTokens != nil {
		inputTokens = *completion.InputTokens
	}
	outputTokens := EstimateTokens(completion.Text)
	if completion.OutputTokens != nil {
		outputTokens = *completion.OutputTokens
	}
	cost := s.cfg.Pricing.Cost(inputTokens, outputTokens)

	result := models.JobResult{
		OutputText:   completion.Text,
		Model:        completion.Model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		DurationMs:   durationMs,
	}
	if err := s.repo.CompleteJob(ctx, job.ID, result); err != nil {
		err = fmt.Errorf("complete job: %w", err)
		s.abandonJob(ctx, job, err, durationMs)
		return false, err
	}
	recordUsage(ctx, s.repo, s.logger, &models.UsageRecord{
		Model:        completion.Model,
		JobID:        job.ID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		DurationMs:   durationMs,
		Success:      true,
	})
	totals, err := s.repo.RecomputeWorkflowTotals(ctx, id)
	if err != nil {
		return false, fmt.Errorf("recompute totals: %w", err)
	}
	s.metrics.phaseCompleted(ctx, phase, inputTokens, outputTokens, cost, durationMs)
	s.logger.Info("Phase completed", "workflow_id", id, "phase", phase,
		"input_tokens", inputTokens, "output_tokens", outputTokens, "cost", cost,
		"total_tokens", totals.TotalTokens, "duration_ms", durationMs)
	s.publish(ctx, events.Event{
		Type:       events.PhaseCompleted,
		WorkflowID: id,
		Phase:      phase,
		Data:       map[string]any{"job_id": job.ID, "total_tokens": totals.TotalTokens, "total_cost": totals.TotalCost},
	})

	if phase < s.catalog.Len() {
		progress := repository.WorkflowProgress{CurrentPhase: phase + 1, Status: models.WorkflowStatusGenerating}
		if err := s.repo.UpdateWorkflowProgress(ctx, id, progress); err != nil {
			return false, fmt.Errorf("advance to phase %d: %w", phase+1, err)
		}
		return true, nil
	}

	progress := repository.WorkflowProgress{CurrentPhase: phase, Status: models.WorkflowStatusPendingReview}
	if err := s.repo.UpdateWorkflowProgress(ctx, id, progress); err != nil {
		return false, fmt.Errorf("mark pending review: %w", err)
	}
	s.logger.Info("Workflow ready for review", "workflow_id", id, "total_tokens", totals.TotalTokens, "total_cost", totals.TotalCost)
	s.publish(ctx, events.Event{Type: events.WorkflowReview, WorkflowID: id, Phase: phase})
	return false, nil
}

// failPhase records a gateway failure on the job. The workflow stays at its
// current phase until the phase is regenerated.
func (s *WorkflowService) failPhase(ctx context.Context, workflow *models.Workflow, job *models.Job, callErr error, timedOut bool, durationMs int64) error {
	message := callErr.Error()
	if timedOut {
		message = fmt.Sprintf("completion timed out after %s", s.cfg.Timeout)
	}
	class := errorClass(callErr)
	if timedOut {
		class = "transient"
	}

	if err := s.repo.FailJob(ctx, job.ID, message, durationMs); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	recordUsage(ctx, s.repo, s.logger, &models.UsageRecord{
		JobID:        job.ID,
		DurationMs:   durationMs,
		Success:      false,
		ErrorMessage: &message,
	})
	s.metrics.phaseFailed(ctx, job.Phase, class, durationMs)
	s.logger.Error("Phase failed", "workflow_id", workflow.ID, "phase", job.Phase,
		"job_id", job.ID, "error_class", class, "error", message)
	s.publish(ctx, events.Event{
		Type:       events.PhaseFailed,
		WorkflowID: workflow.ID,
		Phase:      job.Phase,
		Data:       map[string]any{"job_id": job.ID, "error": message, "error_class": class},
	})
	return nil
}

// abandonJob marks a job FAILED after its result could not be stored, so it
// does not stay PROCESSING.
func (s *WorkflowService) abandonJob(ctx context.Context, job *models.Job, cause error, durationMs int64) {
	if err := s.repo.FailJob(ctx, job.ID, cause.Error(), durationMs); err != nil {
		s.logger.Warn("Could not mark job failed", "job_id", job.ID, "error", err)
	}
}

// RegeneratePhase cancels the jobs of a phase, rewinds the workflow to it and
// re-runs the pipeline from there before returning. Gateway failures end up on
// the job; configuration and persistence errors are returned.
func (s *WorkflowService) RegeneratePhase(ctx context.Context, id string, phase int) error {
	if err := s.rewind(ctx, id, phase); err != nil {
		return err
	}
	if err := s.Advance(ctx, id); err != nil {
		return fmt.Errorf("regenerate phase %d: %w", phase, err)
	}
	return nil
}

// RequestRegeneration rewinds the workflow like RegeneratePhase but re-runs
// the pipeline in the background.
func (s *WorkflowService) RequestRegeneration(ctx context.Context, id string, phase int) error {
	if err := s.rewind(ctx, id, phase); err != nil {
		return err
	}
	s.goAdvance(ctx, id)
	return nil
}

func (s *WorkflowService) rewind(ctx context.Context, id string, phase int) error {
	if phase < 1 || phase > s.catalog.Len() {
		return NewValidationError("phase must be between 1 and %d", s.catalog.Len())
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	return s.repo.WithinTx(ctx, func(tx repository.Repository) error {
		workflow, err := tx.GetWorkflow(ctx, id)
		if err != nil {
			return err
		}
		if workflow.Status == models.WorkflowStatusApproved {
			return NewValidationError("workflow %s is approved and can no longer be regenerated", id)
		}
		if phase > workflow.CurrentPhase {
			return NewValidationError("phase %d has not been reached yet (current phase %d)", phase, workflow.CurrentPhase)
		}
		cancelled, err := tx.CancelPhaseJobs(ctx, id, phase)
		if err != nil {
			return fmt.Errorf("cancel phase jobs: %w", err)
		}
		progress := repository.WorkflowProgress{CurrentPhase: phase, Status: models.WorkflowStatusGenerating}
		if err := tx.UpdateWorkflowProgress(ctx, id, progress); err != nil {
			return fmt.Errorf("reset workflow: %w", err)
		}
		if _, err := tx.RecomputeWorkflowTotals(ctx, id); err != nil {
			return fmt.Errorf("recompute totals: %w", err)
		}
		s.logger.Info("Phase regeneration requested", "workflow_id", id, "phase", phase, "cancelled_jobs", cancelled)
		return nil
	})
}

// GetStatus returns the workflow with its jobs and its direct children.
func (s *WorkflowService) GetStatus(ctx context.Context, id string) (*models.WorkflowView, error) {
	view, err := s.view(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.repo.ListChildWorkflows(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list child workflows: %w", err)
	}
	for _, child := range children {
		jobs, err := s.repo.ListJobs(ctx, child.ID)
		if err != nil {
			return nil, fmt.Errorf("list jobs of %s: %w", child.ID, err)
		}
		view.Children = append(view.Children, &models.WorkflowView{Workflow: child, Jobs: jobs})
	}
	return view, nil
}

func (s *WorkflowService) view(ctx context.Context, id string) (*models.WorkflowView, error) {
	workflow, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.repo.ListJobs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return &models.WorkflowView{Workflow: workflow, Jobs: jobs}, nil
}

// ListWorkflows returns every workflow, newest first.
func (s *WorkflowService) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return s.repo.ListWorkflows(ctx)
}

// Phases returns the phase catalog definitions.
func (s *WorkflowService) Phases() []PhaseDefinition {
	return s.catalog.Definitions()
}

func (s *WorkflowService) publish(ctx context.Context, event events.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "type", event.Type, "workflow_id", event.WorkflowID, "error", err)
	}
}
