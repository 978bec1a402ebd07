// Package worker implements the coordination core: the scheduling loop
// that claims jobs, invokes handlers via the registry, relays progress,
// applies retry/backoff, recovers from crashes, and shuts down
// gracefully.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync/atomic"
	"syscall"

	"github.com/haldenlab/jobqueue/internal/application/registry"
	"github.com/haldenlab/jobqueue/internal/broker"
	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/infrastructure/singleton"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

// Worker is the coordination/scheduling loop of a single worker instance.
// One attempt is executed at a time; run multiple Workers (each with a
// distinct ID) in the same or different processes for parallelism.
type Worker struct {
	id       string
	store    statestore.Store
	broker   broker.Broker
	registry *registry.Registry
	cfg      Config
	errorH   ErrorHandler

	shouldRun atomic.Bool
	lock      *singleton.FileLock
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithErrorHandler overrides the default slog-based ErrorHandler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(w *Worker) { w.errorH = h }
}

// New creates a Worker with the given identity and substrates. id should
// be unique across live workers sharing the store (reference scheme:
// "<hostname>:<pid>", see ID()).
func New(id string, store statestore.Store, b broker.Broker, reg *registry.Registry, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		id:       id,
		store:    store,
		broker:   b,
		registry: reg,
		cfg:      cfg.withDefaults(),
		errorH:   defaultErrorHandler{},
	}
	w.shouldRun.Store(true)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the reference workerId scheme: "<hostname>:<pid>".
func ID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// Run acquires the singleton lock (if configured), performs the one-shot
// stale-recovery sweep, installs shutdown signal handlers, and then runs
// the main loop until Stop is called or a terminate/interrupt signal is
// received.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.acquireSingleton(); err != nil {
		return err
	}
	defer w.releaseSingleton()

	stop := w.installSignalHandlers()
	defer stop()

	w.sweepStale(ctx)

	for w.shouldRun.Load() {
		if _, err := w.ProcessOne(ctx); err != nil {
			slog.ErrorContext(ctx, "error processing one attempt", "worker_id", w.id, "error", err)
		}
	}

	return nil
}

// Stop requests graceful shutdown: the flag is checked between main-loop
// iterations, so the currently executing attempt (if any) runs to
// completion before exit. Mid-attempt cancellation is not provided.
func (w *Worker) Stop() {
	w.shouldRun.Store(false)
}

func (w *Worker) installSignalHandlers() func() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return stop
}

func (w *Worker) acquireSingleton() error {
	if w.cfg.LockFile == "" {
		return nil
	}
	if !singleton.Supported() {
		slog.WarnContext(context.Background(), "advisory file locks unsupported on this platform, proceeding without singleton enforcement",
			"lock_file", w.cfg.LockFile)
		return nil
	}

	lock, err := singleton.Acquire(w.cfg.LockFile)
	if err != nil {
		return fmt.Errorf("failed to acquire singleton lock %s: %w", w.cfg.LockFile, err)
	}
	w.lock = lock
	return nil
}

func (w *Worker) releaseSingleton() {
	if w.lock == nil {
		return
	}
	if err := w.lock.Release(); err != nil {
		slog.WarnContext(context.Background(), "failed to release singleton lock", "lock_file", w.cfg.LockFile, "error", err)
	}
}

// sweepStale performs the one-shot stale-recovery sweep of both
// substrates before the main loop begins. The two sweeps are
// independent and idempotent.
func (w *Worker) sweepStale(ctx context.Context) {
	total := 0

	n, err := w.store.RecoverStaleJobs(ctx, w.cfg.StuckTTL)
	if err != nil {
		slog.ErrorContext(ctx, "stale-recovery sweep of state store failed", "worker_id", w.id, "error", err)
	} else {
		total += n
	}

	if recoverer, ok := w.broker.(broker.StaleRecoverer); ok {
		n, err := recoverer.RecoverStaleProcessing(ctx, w.cfg.Queue, w.cfg.StuckTTL)
		if err != nil {
			slog.ErrorContext(ctx, "stale-recovery sweep of dispatch layer failed", "worker_id", w.id, "error", err)
		} else {
			total += n
		}
	}

	if total > 0 {
		slog.WarnContext(ctx, "stale-recovery sweep reclaimed jobs", "worker_id", w.id, "count", total)
	}
}

// ProcessOne runs a single iteration of the main loop: opportunistic
// delayed promotion, a dequeue, the claim handshake, execution, and
// settlement. It returns true if an attempt was executed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	if promoter, ok := w.broker.(broker.DelayedPromoter); ok {
		if n, err := promoter.PromoteDelayedJobs(ctx, w.cfg.Queue); err != nil {
			slog.ErrorContext(ctx, "delayed-job promotion failed", "worker_id", w.id, "queue", w.cfg.Queue, "error", err)
		} else if n > 0 {
			slog.DebugContext(ctx, "promoted delayed jobs", "worker_id", w.id, "queue", w.cfg.Queue, "count", n)
		}
	}

	id, found, err := w.broker.Dequeue(ctx, w.cfg.Queue, w.cfg.PollTimeout)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if !found {
		return false, nil
	}

	job, err := w.claim(ctx, id)
	if err != nil {
		// Logged by claim(); do not ack. The dispatch layer's own
		// stale-recovery will return the id to ready.
		return false, nil
	}
	if job == nil {
		// Claim lost, or the record evaporated between claim and find:
		// already acked by claim(), nothing further to do.
		return false, nil
	}

	w.execute(ctx, job)
	return true, nil
}

// claim performs the claim handshake. A nil job with a nil error means
// the dispatch token was acked and there is nothing further to do
// (claim lost, or an anomalous evaporated record). A non-nil error
// means the worker must NOT ack.
func (w *Worker) claim(ctx context.Context, id int64) (*domain.Job, error) {
	ok, err := w.store.ClaimJob(ctx, id, w.id)
	if err != nil {
		slog.ErrorContext(ctx, "claim failed against state store", "worker_id", w.id, "job_id", id, "error", err)
		return nil, err
	}
	if !ok {
		// Another worker claimed it first, or it is no longer pending.
		// The id was authoritatively delivered to this worker, so acking
		// it is what cancels that delivery.
		if aerr := w.broker.Ack(ctx, w.cfg.Queue, id); aerr != nil {
			slog.WarnContext(ctx, "failed to ack after lost claim", "worker_id", w.id, "job_id", id, "error", aerr)
		}
		return nil, nil
	}

	job, err := w.store.Find(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "find failed after successful claim", "worker_id", w.id, "job_id", id, "error", err)
		return nil, err
	}
	if job == nil {
		// Anomalous: record evaporated between claim and fetch. Treated
		// as recoverable; ack and continue.
		slog.WarnContext(ctx, "claimed job vanished before fetch", "worker_id", w.id, "job_id", id)
		if aerr := w.broker.Ack(ctx, w.cfg.Queue, id); aerr != nil {
			slog.WarnContext(ctx, "failed to ack after vanished claim", "worker_id", w.id, "job_id", id, "error", aerr)
		}
		return nil, nil
	}

	return job, nil
}

// execute invokes the registered handler for job and settles the
// outcome.
func (w *Worker) execute(ctx context.Context, job *domain.Job) {
	ctx, span := startAttemptSpan(ctx, job)
	var attemptErr error
	defer func() { endAttemptSpan(span, attemptErr) }()

	reporter := registry.ProgressReporter(func(percent *int, message *string) {
		if _, err := w.store.UpdateProgress(ctx, job.ID, percent, message); err != nil {
			slog.WarnContext(ctx, "progress update failed", "worker_id", w.id, "job_id", job.ID, "error", err)
		}
	})

	result, err := w.invokeHandler(ctx, job, reporter)
	attemptErr = err
	if err == nil {
		w.settleSuccess(ctx, job, result)
		return
	}
	w.settleFailure(ctx, job, err)
}

func (w *Worker) invokeHandler(ctx context.Context, job *domain.Job, reporter registry.ProgressReporter) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			w.errorH.HandlePanic(ctx, job, r, stack)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler, lerr := w.registry.Lookup(job.Type)
	if lerr != nil {
		return nil, lerr
	}
	return handler.Handle(ctx, job.ID, job.Payload, reporter)
}

func (w *Worker) settleSuccess(ctx context.Context, job *domain.Job, result map[string]any) {
	if _, err := w.store.MarkCompleted(ctx, job.ID, result); err != nil {
		slog.ErrorContext(ctx, "failed to mark job completed", "worker_id", w.id, "job_id", job.ID, "error", err)
	}
	if err := w.broker.Ack(ctx, job.Queue, job.ID); err != nil {
		slog.ErrorContext(ctx, "failed to ack completed job", "worker_id", w.id, "job_id", job.ID, "error", err)
	}
}

func (w *Worker) settleFailure(ctx context.Context, job *domain.Job, handlerErr error) {
	w.errorH.HandleError(ctx, job, handlerErr)

	errMsg := handlerErr.Error()
	if errors.Is(handlerErr, domain.ErrHandlerNotRegistered) {
		errMsg = fmt.Sprintf("No handler registered for job type: %s", job.Type)
	}

	attemptIndex := job.Attempts + 1

	if attemptIndex < job.MaxAttempts {
		delay := computeRetryDelay(w.cfg.RetryBaseDelay, w.cfg.RetryMaxDelay, attemptIndex)

		if _, err := w.store.ScheduleRetry(ctx, job.ID, attemptIndex, delay, errMsg); err != nil {
			slog.ErrorContext(ctx, "failed to schedule retry", "worker_id", w.id, "job_id", job.ID, "error", err)
		}
		if err := w.broker.Nack(ctx, job.Queue, job.ID, delay); err != nil {
			slog.ErrorContext(ctx, "failed to nack job for retry", "worker_id", w.id, "job_id", job.ID, "error", err)
		}
		return
	}

	trace := domain.TruncateTrace(string(debug.Stack()))
	if _, err := w.store.MarkFailed(ctx, job.ID, errMsg, &trace); err != nil {
		slog.ErrorContext(ctx, "failed to mark job failed", "worker_id", w.id, "job_id", job.ID, "error", err)
	}
	if err := w.broker.Ack(ctx, job.Queue, job.ID); err != nil {
		slog.ErrorContext(ctx, "failed to ack terminally-failed job", "worker_id", w.id, "job_id", job.ID, "error", err)
	}
}
