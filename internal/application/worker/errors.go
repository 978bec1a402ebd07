package worker

import (
	"context"
	"log/slog"

	"github.com/haldenlab/jobqueue/internal/domain"
)

// ErrorHandler is an optional hook invoked on every failed or panicking
// attempt, for telemetry/alerting integration. It never changes the
// worker's retry/terminal-fail decision; that depends only on attempt
// count. It is purely an observation point: HandleError is called for
// every failed attempt; for a panicking attempt HandlePanic is called
// first with the panic value and stack, then HandleError with the
// recovered panic wrapped as an error.
type ErrorHandler interface {
	HandleError(ctx context.Context, job *domain.Job, err error)
	HandlePanic(ctx context.Context, job *domain.Job, panicVal any, stackTrace string)
}

// defaultErrorHandler logs via slog and does nothing else.
type defaultErrorHandler struct{}

func (defaultErrorHandler) HandleError(ctx context.Context, job *domain.Job, err error) {
	slog.WarnContext(ctx, "job attempt failed",
		"job_id", job.ID, "type", job.Type, "queue", job.Queue,
		"attempt", job.Attempts+1, "max_attempts", job.MaxAttempts, "error", err)
}

func (defaultErrorHandler) HandlePanic(ctx context.Context, job *domain.Job, panicVal any, stackTrace string) {
	slog.ErrorContext(ctx, "job attempt panicked",
		"job_id", job.ID, "type", job.Type, "queue", job.Queue,
		"panic", panicVal, "stack", stackTrace)
}
