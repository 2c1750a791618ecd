package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentmode"

// StartPlanSpan starts a span for one planning request.
func StartPlanSpan(ctx context.Context, requestLen int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan",
		trace.WithAttributes(attribute.Int("request.length", requestLen)),
	)
}

// StartTaskSpan starts a span for the execution of a task.
func StartTaskSpan(ctx context.Context, taskID string, steps int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("task.steps", steps),
		),
	)
}

// StartStepSpan starts a span for one step attempt.
func StartStepSpan(ctx context.Context, stepID, action string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.action", action),
			attribute.Int("step.attempt", attempt),
		),
	)
}

// StartHelpSpan starts a span for a strategic help request.
func StartHelpSpan(ctx context.Context, stepID, signature string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "help",
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("stuck.signature", signature),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
