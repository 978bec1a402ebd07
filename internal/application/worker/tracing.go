package worker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haldenlab/jobqueue/internal/domain"
)

var tracer = otel.Tracer("github.com/haldenlab/jobqueue/internal/application/worker")

// startAttemptSpan opens one span per executed attempt, carrying the
// correlation attributes an operator needs to find a job's trace from
// its id.
func startAttemptSpan(ctx context.Context, job *domain.Job) (context.Context, trace.Span) {
	return tracer.Start(ctx, "job.execute", trace.WithAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.String("job.type", job.Type),
		attribute.String("job.queue", job.Queue),
		attribute.Int("job.attempt", job.Attempts+1),
	))
}

// endAttemptSpan records the attempt's outcome and closes the span.
func endAttemptSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
