package models

import (
	"time"
)

// ReportStatus represents the publication state of a report
type ReportStatus string

const (
	ReportStatusDraft     ReportStatus = "DRAFT"
	ReportStatusPublished ReportStatus = "PUBLISHED"
)

// Report section keys, one per generation phase.
const (
	SectionMarketAnalysis      = "market_analysis"
	SectionCompetitiveAnalysis = "competitive_analysis"
	SectionTrends              = "trends"
	SectionKeyPlayers          = "key_players"
)

// Category groups reports in the catalogue
type Category struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Report is the materialized result of an approved root workflow.
type Report struct {
	ID              string            `json:"id" db:"id"`
	Slug            string            `json:"slug" db:"slug"`
	Title           string            `json:"title" db:"title"`
	Description     string            `json:"description" db:"description"`
	Summary         string            `json:"summary" db:"summary"`
	Sections        map[string]string `json:"sections" db:"sections"` // JSONB
	Status          ReportStatus      `json:"status" db:"status"`
	Locale          string            `json:"locale" db:"locale"`
	IsAIGenerated   bool              `json:"is_ai_generated" db:"is_ai_generated"`
	IsHumanApproved bool              `json:"is_human_approved" db:"is_human_approved"`
	CategoryIDs     []string          `json:"category_ids"`
	WorkflowID      string            `json:"workflow_id" db:"workflow_id"`
	CreatedBy       string            `json:"created_by" db:"created_by"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// ReportTranslation is a locale-scoped rendition of a report, produced by an
// approved child workflow.
type ReportTranslation struct {
	ID            string            `json:"id" db:"id"`
	ReportID      string            `json:"report_id" db:"report_id"`
	Locale        string            `json:"locale" db:"locale"`
	Title         string            `json:"title" db:"title"`
	Description   string            `json:"description" db:"description"`
	Summary       string            `json:"summary" db:"summary"`
	Sections      map[string]string `json:"sections" db:"sections"` // JSONB
	Status        ReportStatus      `json:"status" db:"status"`
	HumanReviewed bool              `json:"human_reviewed" db:"human_reviewed"`
	WorkflowID    string            `json:"workflow_id" db:"workflow_id"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
