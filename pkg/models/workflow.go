// Package models defines the domain models for the report content service.
package models

import (
	"time"
)

// DefaultLanguage is the language root workflows are generated in.
const DefaultLanguage = "en"

// WorkflowStatus represents the lifecycle state of a content workflow
type WorkflowStatus string

const (
	WorkflowStatusGenerating    WorkflowStatus = "GENERATING"
	WorkflowStatusPendingReview WorkflowStatus = "PENDING_REVIEW"
	WorkflowStatusApproved      WorkflowStatus = "APPROVED"
	WorkflowStatusFailed        WorkflowStatus = "FAILED"
)

// JobStatus represents the state of a single phase attempt
type JobStatus string

const (
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Workflow is one report-generation effort. A workflow with a parent is a
// translation of the parent's report into Language.
type Workflow struct {
	ID               string         `json:"id" db:"id"`
	ReportTitle      string         `json:"report_title" db:"report_title"`
	Language         string         `json:"language" db:"language"`
	CurrentPhase     int            `json:"current_phase" db:"current_phase"`
	Status           WorkflowStatus `json:"status" db:"status"`
	InputTokens      int            `json:"input_tokens" db:"input_tokens"`
	OutputTokens     int            `json:"output_tokens" db:"output_tokens"`
	TotalTokens      int            `json:"total_tokens" db:"total_tokens"`
	TotalCost        float64        `json:"total_cost" db:"total_cost"`
	ParentWorkflowID *string        `json:"parent_workflow_id,omitempty" db:"parent_workflow_id"`
	CreatedBy        string         `json:"created_by" db:"created_by"`
	ApprovedBy       *string        `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// IsChild reports whether the workflow was forked from a parent for translation.
func (w *Workflow) IsChild() bool {
	return w.ParentWorkflowID != nil && *w.ParentWorkflowID != ""
}

// Job is one attempt to execute one phase of one workflow.
type Job struct {
	ID           string     `json:"id" db:"id"`
	WorkflowID   string     `json:"workflow_id" db:"workflow_id"`
	Phase        int        `json:"phase" db:"phase"`
	Status       JobStatus  `json:"status" db:"status"`
	InputPrompt  string     `json:"input_prompt" db:"input_prompt"`
	OutputText   *string    `json:"output_text,omitempty" db:"output_text"`
	Model        string     `json:"model,omitempty" db:"model"`
	InputTokens  int        `json:"input_tokens" db:"input_tokens"`
	OutputTokens int        `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int        `json:"total_tokens" db:"total_tokens"`
	Cost         float64    `json:"cost" db:"cost"`
	DurationMs   int64      `json:"duration_ms" db:"duration_ms"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobResult carries the outcome of a successful completion call onto a job.
type JobResult struct {
	OutputText   string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	DurationMs   int64
}

// WorkflowTotals are the cumulative usage figures of a workflow.
type WorkflowTotals struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// WorkflowView is the read-only projection returned to pollers.
type WorkflowView struct {
	*Workflow
	Jobs     []*Job          `json:"jobs"`
	Children []*WorkflowView `json:"children,omitempty"`
}

// ApprovalResult is returned by workflow approval. Report is set for root
// workflows, Translation for child workflows.
type ApprovalResult struct {
	Workflow    *Workflow          `json:"workflow"`
	Report      *Report            `json:"report,omitempty"`
	Translation *ReportTranslation `json:"translation,omitempty"`
	Children    []*Workflow        `json:"children,omitempty"`
}

// UsageRecord is one entry of the append-only usage ledger.
type UsageRecord struct {
	ID           string    `json:"id" db:"id"`
	ServiceType  string    `json:"service_type" db:"service_type"`
	Model        string    `json:"model" db:"model"`
	JobID        string    `json:"job_id" db:"job_id"`
	InputTokens  int       `json:"input_tokens" db:"input_tokens"`
	OutputTokens int       `json:"output_tokens" db:"output_tokens"`
	Cost         float64   `json:"cost" db:"cost"`
	DurationMs   int64     `json:"duration_ms" db:"duration_ms"`
	Success      bool      `json:"success" db:"success"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
