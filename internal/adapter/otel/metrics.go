package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentmode"

// Metrics holds all agent metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	TasksPlanned   metric.Int64Counter
	TasksFinished  metric.Int64Counter
	StepOutcomes   metric.Int64Counter
	StepRetries    metric.Int64Counter
	HelpRequests   metric.Int64Counter
	PatternQueries metric.Int64Counter
	StepDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksPlanned, err = meter.Int64Counter("agentmode.tasks.planned",
		metric.WithDescription("Number of tasks planned"))
	if err != nil {
		return nil, err
	}

	m.TasksFinished, err = meter.Int64Counter("agentmode.tasks.finished",
		metric.WithDescription("Number of tasks that reached a terminal status"))
	if err != nil {
		return nil, err
	}

	m.StepOutcomes, err = meter.Int64Counter("agentmode.steps.outcomes",
		metric.WithDescription("Step results by action and status"))
	if err != nil {
		return nil, err
	}

	m.StepRetries, err = meter.Int64Counter("agentmode.steps.retries",
		metric.WithDescription("Escalation ladder rungs taken"))
	if err != nil {
		return nil, err
	}

	m.HelpRequests, err = meter.Int64Counter("agentmode.help.requests",
		metric.WithDescription("Strategic help requests by stuck signature"))
	if err != nil {
		return nil, err
	}

	m.PatternQueries, err = meter.Int64Counter("agentmode.patterns.queries",
		metric.WithDescription("Strategy memory queries by cache result"))
	if err != nil {
		return nil, err
	}

	m.StepDuration, err = meter.Float64Histogram("agentmode.step.duration_seconds",
		metric.WithDescription("Step execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskPlanned counts a planned task.
func (m *Metrics) TaskPlanned(ctx context.Context, chunked bool) {
	if m == nil {
		return
	}
	m.TasksPlanned.Add(ctx, 1, metric.WithAttributes(attribute.Bool("chunked", chunked)))
}

// TaskFinished counts a task reaching status.
func (m *Metrics) TaskFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.TasksFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// StepFinished records one step's final status and duration.
func (m *Metrics) StepFinished(ctx context.Context, action, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("action", action), attribute.String("status", status))
	m.StepOutcomes.Add(ctx, 1, attrs)
	m.StepDuration.Record(ctx, d.Seconds(), attrs)
}

// Escalated counts a rung of the escalation ladder.
func (m *Metrics) Escalated(ctx context.Context, rung string) {
	if m == nil {
		return
	}
	m.StepRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("rung", rung)))
}

// HelpRequested counts a strategic help request.
func (m *Metrics) HelpRequested(ctx context.Context, signature string) {
	if m == nil {
		return
	}
	m.HelpRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("signature", signature)))
}

// PatternQueried counts a strategy memory query.
func (m *Metrics) PatternQueried(ctx context.Context, cacheHit bool) {
	if m == nil {
		return
	}
	m.PatternQueries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cache_hit", cacheHit)))
}
