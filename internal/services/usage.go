package services

import (
	"context"
	"math"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"market-research/backend/internal/repository"
	"market-research/backend/pkg/models"
)

// ServiceTypeCompletion tags usage records produced by phase generation.
const ServiceTypeCompletion = "content_generation"

// EstimateTokens approximates a token count as one token per four characters.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}

// Pricing holds per-1000-token rates.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Cost returns the cost of a call, rounded to six decimal places.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	thousand := decimal.NewFromInt(1000)
	in := decimal.NewFromInt(int64(inputTokens)).Div(thousand).Mul(decimal.NewFromFloat(p.InputPer1K))
	out := decimal.NewFromInt(int64(outputTokens)).Div(thousand).Mul(decimal.NewFromFloat(p.OutputPer1K))
	return in.Add(out).Round(6).InexactFloat64()
}

// recordUsage appends a ledger entry. Ledger failures are logged and never
// fail the phase.
func recordUsage(ctx context.Context, repo repository.Repository, logger Logger, record *models.UsageRecord) {
	if record.ServiceType == "" {
		record.ServiceType = ServiceTypeCompletion
	}
	if err := repo.RecordUsage(ctx, record); err != nil {
		logger.Warn("Failed to record usage", "job_id", record.JobID, "error", err)
	}
}
