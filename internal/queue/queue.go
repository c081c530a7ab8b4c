package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Whamp/pi-brain/internal/pkg/cuid2"
)

// Manager wraps the jobs table with enqueue/dequeue/complete/fail and
// lease-recovery semantics. All state lives in the database; Manager itself
// is stateless and safe for concurrent use by multiple workers.
type Manager struct {
	db            *sql.DB
	logger        *zerolog.Logger
	leaseDuration time.Duration
	maxRetries    int
}

// Config tunes Manager defaults.
type Config struct {
	LeaseDuration time.Duration
	MaxRetries    int
}

func NewManager(db *sql.DB, logger *zerolog.Logger, cfg Config) *Manager {
	leaseDuration := cfg.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = 30 * time.Minute
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Manager{
		db:            db,
		logger:        logger,
		leaseDuration: leaseDuration,
		maxRetries:    maxRetries,
	}
}

// Enqueue inserts a new pending job and returns its id.
func (m *Manager) Enqueue(ctx context.Context, input EnqueueInput) (string, error) {
	if input.SessionFile == "" {
		return "", fmt.Errorf("enqueue: session file is required")
	}
	if input.Type == "" {
		input.Type = TypeInitial
	}

	priority := input.Priority
	if priority <= 0 {
		priority = defaultPriority(input.Type)
	}

	maxRetries := input.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.maxRetries
	}

	contextJSON, err := json.Marshal(input.Context)
	if err != nil {
		return "", fmt.Errorf("enqueue: marshal context: %w", err)
	}

	id := cuid2.GeneratePrefixedID("job")
	now := time.Now().UTC()

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, priority, session_file, segment_start, segment_end,
		                  context, status, queued_at, retry_count, max_retries)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, 0, ?)
	`, id, string(input.Type), priority, input.SessionFile,
		input.SegmentStart, input.SegmentEnd, string(contextJSON), now, maxRetries)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	jobsEnqueued.WithLabelValues(string(input.Type)).Inc()
	m.logger.Debug().
		Str("job_id", id).
		Str("type", string(input.Type)).
		Int("priority", priority).
		Str("session_file", input.SessionFile).
		Msg("Job enqueued")

	return id, nil
}

// Dequeue claims the next eligible job for workerID, or returns nil when the
// queue is empty. Eligibility is status=pending with queued_at in the past,
// ordered by priority ASC then queued_at ASC. The select-and-transition is a
// conditional UPDATE so two concurrent dequeues never claim the same job; on
// a lost race the loop re-selects.
func (m *Manager) Dequeue(ctx context.Context, workerID string) (*Job, error) {
	for {
		now := time.Now().UTC()

		var id string
		err := m.db.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE status = 'pending' AND queued_at <= ?
			ORDER BY priority ASC, queued_at ASC
			LIMIT 1
		`, now).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("dequeue: select candidate: %w", err)
		}

		lockedUntil := now.Add(m.leaseDuration)
		result, err := m.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'running', worker_id = ?, locked_until = ?, started_at = ?
			WHERE id = ? AND status = 'pending'
		`, workerID, lockedUntil, now, id)
		if err != nil {
			return nil, fmt.Errorf("dequeue: claim: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("dequeue: rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker claimed it between select and update.
			continue
		}

		job, err := m.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("dequeue: reload claimed job: %w", err)
		}
		return job, nil
	}
}

// Complete marks a job as successfully finished with the persisted node id.
func (m *Manager) Complete(ctx context.Context, id, resultNodeID string) error {
	now := time.Now().UTC()
	result, err := m.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result_node_id = ?, completed_at = ?,
		    worker_id = NULL, locked_until = NULL
		WHERE id = ?
	`, resultNodeID, now, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("complete job %s: not found", id)
	}

	jobsCompleted.Inc()
	return nil
}

// Fail disposes of a failed job. A retryable failure with remaining budget
// goes back to pending with retry_count incremented and queued_at bumped to
// opts.NextRunAt; anything else becomes terminally failed with the error
// record stored.
func (m *Manager) Fail(ctx context.Context, id string, jobErr JobError, opts FailOptions) error {
	job, err := m.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	if job == nil {
		return fmt.Errorf("fail job %s: not found", id)
	}

	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("fail job %s: marshal error record: %w", id, err)
	}

	if opts.Retryable && job.RetryCount < job.MaxRetries {
		nextRunAt := opts.NextRunAt
		if nextRunAt.IsZero() {
			nextRunAt = time.Now().UTC()
		}
		_, err = m.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'pending', retry_count = retry_count + 1,
			    queued_at = ?, error = ?,
			    worker_id = NULL, locked_until = NULL, started_at = NULL
			WHERE id = ?
		`, nextRunAt.UTC(), string(errJSON), id)
		if err != nil {
			return fmt.Errorf("fail job %s: reschedule: %w", id, err)
		}

		jobsRetried.Inc()
		m.logger.Info().
			Str("job_id", id).
			Int("retry_count", job.RetryCount+1).
			Time("next_run_at", nextRunAt).
			Str("error", jobErr.Message).
			Msg("Job rescheduled for retry")
		return nil
	}

	now := time.Now().UTC()
	_, err = m.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error = ?, completed_at = ?,
		    worker_id = NULL, locked_until = NULL
		WHERE id = ?
	`, string(errJSON), now, id)
	if err != nil {
		return fmt.Errorf("fail job %s: mark failed: %w", id, err)
	}

	jobsFailed.Inc()
	m.logger.Warn().
		Str("job_id", id).
		Str("category", jobErr.Category).
		Str("error", jobErr.Message).
		Msg("Job failed terminally")
	return nil
}

// ReleaseStale resets every running job whose lease has expired back to
// pending and returns the count. Lease recovery is not a retry: retry_count
// is untouched. Intended to run on a periodic sweep.
func (m *Manager) ReleaseStale(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	result, err := m.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', worker_id = NULL, locked_until = NULL, started_at = NULL
		WHERE status = 'running' AND locked_until < ?
	`, now)
	if err != nil {
		return 0, fmt.Errorf("release stale: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale: rows affected: %w", err)
	}
	if affected > 0 {
		leasesRecovered.Add(float64(affected))
		m.logger.Info().Int64("released", affected).Msg("Released stale job leases")
	}
	return int(affected), nil
}

// ReleaseAllRunning unconditionally resets every running job to pending.
// Intended once at process startup: a running row observed then is proof of
// a prior crash, not of legitimate concurrent ownership.
func (m *Manager) ReleaseAllRunning(ctx context.Context) (int, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', worker_id = NULL, locked_until = NULL, started_at = NULL
		WHERE status = 'running'
	`)
	if err != nil {
		return 0, fmt.Errorf("release all running: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release all running: rows affected: %w", err)
	}
	if affected > 0 {
		m.logger.Warn().Int64("released", affected).Msg("Released jobs left running by a previous process")
	}
	return int(affected), nil
}

// HasExistingJob reports whether a pending or running job already targets the
// session file. Used as the dedup guard for idle-triggered enqueue.
func (m *Manager) HasExistingJob(ctx context.Context, sessionFile string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE session_file = ? AND status IN ('pending', 'running')
	`, sessionFile).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has existing job: %w", err)
	}
	return count > 0, nil
}

// Get returns one job by id, or nil when absent.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, type, priority, session_file, segment_start, segment_end,
		       context, status, queued_at, started_at, completed_at,
		       result_node_id, error, retry_count, max_retries, worker_id, locked_until
		FROM jobs WHERE id = ?
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var jobType string
	var status string
	var contextJSON string
	var errorJSON sql.NullString
	var workerID sql.NullString
	var resultNodeID sql.NullString
	var startedAt, completedAt, lockedUntil sql.NullTime

	err := row.Scan(
		&job.ID, &jobType, &job.Priority, &job.SessionFile,
		&job.SegmentStart, &job.SegmentEnd, &contextJSON, &status,
		&job.QueuedAt, &startedAt, &completedAt, &resultNodeID,
		&errorJSON, &job.RetryCount, &job.MaxRetries, &workerID, &lockedUntil,
	)
	if err != nil {
		return nil, err
	}

	job.Type = JobType(jobType)
	job.Status = JobStatus(status)

	if err := json.Unmarshal([]byte(contextJSON), &job.Context); err != nil {
		return nil, fmt.Errorf("unmarshal job context: %w", err)
	}
	if errorJSON.Valid && errorJSON.String != "" {
		var jobErr JobError
		if err := json.Unmarshal([]byte(errorJSON.String), &jobErr); err != nil {
			return nil, fmt.Errorf("unmarshal job error: %w", err)
		}
		job.Error = &jobErr
	}
	if workerID.Valid {
		job.WorkerID = &workerID.String
	}
	if resultNodeID.Valid {
		job.ResultNodeID = &resultNodeID.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		job.LockedUntil = &t
	}

	return &job, nil
}

func defaultPriority(jobType JobType) int {
	switch jobType {
	case TypeReanalysis:
		return PriorityReanalysis
	case TypeConnectionDiscovery:
		return PriorityConnectionDiscovery
	default:
		return PriorityInitial
	}
}
