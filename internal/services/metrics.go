package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "market-research/backend/services"

// workflowMetrics holds the instruments recorded by the orchestrator.
type workflowMetrics struct {
	phases   metric.Int64Counter
	tokens   metric.Int64Counter
	cost     metric.Float64Counter
	duration metric.Float64Histogram
	spawned  metric.Int64Counter
}

func newWorkflowMetrics(meter metric.Meter) *workflowMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &workflowMetrics{}
	// Instrument creation only fails on invalid names; the no-op fallbacks
	// returned alongside the error are safe to use.
	m.phases, _ = meter.Int64Counter("content.phase.executions",
		metric.WithDescription("Phase executions by outcome"))
	m.tokens, _ = meter.Int64Counter("content.tokens",
		metric.WithDescription("Tokens consumed by completed phases"),
		metric.WithUnit("{token}"))
	m.cost, _ = meter.Float64Counter("content.cost",
		metric.WithDescription("Cost of completed phases"),
		metric.WithUnit("USD"))
	m.duration, _ = meter.Float64Histogram("content.phase.duration",
		metric.WithDescription("Completion gateway latency per phase"),
		metric.WithUnit("ms"))
	m.spawned, _ = meter.Int64Counter("content.translations.spawned",
		metric.WithDescription("Child translation workflows created"))
	return m
}

func (m *workflowMetrics) phaseCompleted(ctx context.Context, phase, inputTokens, outputTokens int, cost float64, durationMs int64) {
	attrs := metric.WithAttributes(attribute.Int("phase", phase), attribute.String("outcome", "completed"))
	m.phases.Add(ctx, 1, attrs)
	m.tokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attribute.String("direction", "output")))
	m.cost.Add(ctx, cost)
	m.duration.Record(ctx, float64(durationMs), attrs)
}

func (m *workflowMetrics) phaseFailed(ctx context.Context, phase int, class string, durationMs int64) {
	attrs := metric.WithAttributes(
		attribute.Int("phase", phase),
		attribute.String("outcome", "failed"),
		attribute.String("error_class", class),
	)
	m.phases.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(durationMs), attrs)
}

func (m *workflowMetrics) translationsSpawned(ctx context.Context, n int) {
	m.spawned.Add(ctx, int64(n))
}
