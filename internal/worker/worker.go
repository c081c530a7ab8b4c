// Package worker runs the polling loop that claims jobs, invokes the agent,
// and routes outcomes back into the queue. Multiple Worker instances may
// share one queue.Manager; claiming is atomic at the storage layer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Whamp/pi-brain/internal/agent"
	"github.com/Whamp/pi-brain/internal/queue"
	"github.com/Whamp/pi-brain/internal/retry"
)

// ErrNotInitialized is returned by Start and ProcessJob before Initialize
// has bound the worker to a queue.
var ErrNotInitialized = errors.New("worker: not initialized")

// Invoker runs the external agent for one job.
type Invoker interface {
	Run(ctx context.Context, job *queue.Job) agent.Result
}

// NodePersister stores a parsed analysis result and returns the node id.
type NodePersister interface {
	CreateFromAnalysis(ctx context.Context, job *queue.Job, data *agent.NodeData) (string, error)
}

// Hooks are lifecycle callbacks injected at construction. All are optional
// and called synchronously from the worker goroutine. OnJobFailed fires
// only on terminal failure; transient failures that will be retried are
// logged, not escalated.
type Hooks struct {
	OnJobStarted  func(job *queue.Job)
	OnNodeCreated func(job *queue.Job, nodeID string)
	OnJobFailed   func(job *queue.Job, jobErr queue.JobError)
}

// Config tunes one Worker instance.
type Config struct {
	ID           string
	PollInterval time.Duration
	Policy       retry.Policy
}

// Status is a point-in-time snapshot of a worker.
type Status struct {
	ID           string
	Running      bool
	CurrentJobID string
	Processed    int64
	Succeeded    int64
	Failed       int64
	StartedAt    time.Time
}

type Worker struct {
	id           string
	pollInterval time.Duration
	policy       retry.Policy
	invoker      Invoker
	persister    NodePersister
	hooks        Hooks
	logger       *zerolog.Logger

	queue *queue.Manager // nil until Initialize

	mu         sync.Mutex
	started    bool
	running    bool
	currentJob string
	processed  int64
	succeeded  int64
	failed     int64
	startedAt  time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, invoker Invoker, persister NodePersister, hooks Hooks, logger *zerolog.Logger) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	policy := cfg.Policy
	if policy.MaxRetries == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Worker{
		id:           cfg.ID,
		pollInterval: pollInterval,
		policy:       policy,
		invoker:      invoker,
		persister:    persister,
		hooks:        hooks,
		logger:       logger,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Initialize binds the worker to its queue. Start and ProcessJob fail until
// this has been called.
func (w *Worker) Initialize(manager *queue.Manager) {
	w.queue = manager
}

// Start runs the polling loop until the context is cancelled or Stop is
// called. Each tick dequeues at most one job and processes it synchronously.
func (w *Worker) Start(ctx context.Context) error {
	if w.queue == nil {
		return ErrNotInitialized
	}

	w.mu.Lock()
	w.started = true
	w.running = true
	w.startedAt = time.Now()
	w.mu.Unlock()

	w.logger.Info().
		Str("worker_id", w.id).
		Dur("poll_interval", w.pollInterval).
		Msg("Starting worker")

	defer close(w.done)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str("worker_id", w.id).Msg("Worker shutting down (context cancelled)")
			return nil
		case <-w.stopChan:
			w.logger.Info().Str("worker_id", w.id).Msg("Worker shutting down (stop signal)")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight job to finish.
// Safe to call even if Start never ran.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

// Status returns a snapshot of the worker's state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		ID:           w.id,
		Running:      w.running,
		CurrentJobID: w.currentJob,
		Processed:    w.processed,
		Succeeded:    w.succeeded,
		Failed:       w.failed,
		StartedAt:    w.startedAt,
	}
}

func (w *Worker) tick(ctx context.Context) {
	job, err := w.queue.Dequeue(ctx, w.id)
	if err != nil {
		w.logger.Error().Err(err).Str("worker_id", w.id).Msg("Failed to dequeue")
		return
	}
	if job == nil {
		return
	}
	if err := w.ProcessJob(ctx, job); err != nil {
		// ProcessJob only errors on queue bookkeeping failures; the job
		// outcome itself is always folded into the job row.
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Job bookkeeping failed")
	}
}

// ProcessJob runs one claimed job to a terminal or rescheduled state. The
// returned error covers only queue bookkeeping failures — job-level
// failures are recorded on the job row and via hooks, never propagated.
func (w *Worker) ProcessJob(ctx context.Context, job *queue.Job) error {
	if w.queue == nil {
		return ErrNotInitialized
	}

	w.mu.Lock()
	w.currentJob = job.ID
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.currentJob = ""
		w.processed++
		w.mu.Unlock()
	}()

	w.logger.Info().
		Str("worker_id", w.id).
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("session_file", job.SessionFile).
		Msg("Processing job")

	if w.hooks.OnJobStarted != nil {
		w.hooks.OnJobStarted(job)
	}

	start := time.Now()
	result := w.invoker.Run(ctx, job)
	jobDuration.Observe(result.Duration.Seconds())

	if result.Success {
		nodeID, err := w.persister.CreateFromAnalysis(ctx, job, result.NodeData)
		if err != nil {
			return w.failJob(ctx, job, fmt.Sprintf("persist node: %v", err))
		}

		if err := w.queue.Complete(ctx, job.ID, nodeID); err != nil {
			return err
		}

		w.mu.Lock()
		w.succeeded++
		w.mu.Unlock()

		w.logger.Info().
			Str("worker_id", w.id).
			Str("job_id", job.ID).
			Str("node_id", nodeID).
			Dur("duration", time.Since(start)).
			Msg("Job completed")

		if w.hooks.OnNodeCreated != nil {
			w.hooks.OnNodeCreated(job, nodeID)
		}
		return nil
	}

	return w.failJob(ctx, job, result.Error)
}

// failJob classifies the failure and routes it through the queue. Terminal
// failures escalate via the OnJobFailed hook; retryable ones are only logged.
func (w *Worker) failJob(ctx context.Context, job *queue.Job, message string) error {
	decision := retry.Decide(message, job.RetryCount, w.policy)

	opts := queue.FailOptions{Retryable: decision.ShouldRetry}
	if decision.ShouldRetry {
		opts.NextRunAt = time.Now().UTC().Add(decision.Delay)
	}

	if err := w.queue.Fail(ctx, job.ID, decision.Record, opts); err != nil {
		return err
	}

	if decision.ShouldRetry {
		w.logger.Warn().
			Str("worker_id", w.id).
			Str("job_id", job.ID).
			Int("retry_count", job.RetryCount).
			Int("delay_minutes", decision.DelayMinutes).
			Str("error", message).
			Msg("Job failed, will retry")
		return nil
	}

	w.mu.Lock()
	w.failed++
	w.mu.Unlock()

	w.logger.Error().
		Str("worker_id", w.id).
		Str("job_id", job.ID).
		Str("category", string(decision.Category)).
		Str("error", message).
		Msg("Job failed terminally")

	if w.hooks.OnJobFailed != nil {
		w.hooks.OnJobFailed(job, decision.Record)
	}
	return nil
}
