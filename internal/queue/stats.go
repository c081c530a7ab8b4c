package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Stats returns aggregate queue counts plus the average duration of
// completed jobs in seconds.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	rows, err := m.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM jobs GROUP BY status
	`)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("queue stats: scan: %w", err)
		}
		switch JobStatus(status) {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("queue stats: iterate: %w", err)
	}

	var avgSeconds sql.NullFloat64
	err = m.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400.0)
		FROM jobs
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
	`).Scan(&avgSeconds)
	if err != nil {
		return stats, fmt.Errorf("queue stats: avg duration: %w", err)
	}
	if avgSeconds.Valid {
		stats.AvgDurationSeconds = avgSeconds.Float64
	}

	return stats, nil
}

// DailyStats returns counts of jobs that reached a terminal state during the
// current UTC day.
func (m *Manager) DailyStats(ctx context.Context) (DailyStats, error) {
	var stats DailyStats
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	err := m.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM jobs
		WHERE completed_at >= ?
	`, dayStart).Scan(&stats.Completed, &stats.Failed)
	if err != nil {
		return stats, fmt.Errorf("daily stats: %w", err)
	}
	return stats, nil
}

// RecentFailures returns the most recently failed jobs, newest first.
func (m *Manager) RecentFailures(ctx context.Context, limit int) ([]FailureSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, type, session_file, error, completed_at
		FROM jobs
		WHERE status = 'failed' AND error IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer rows.Close()

	failures := make([]FailureSummary, 0, limit)
	for rows.Next() {
		var f FailureSummary
		var jobType string
		var errorJSON string
		if err := rows.Scan(&f.JobID, &jobType, &f.SessionFile, &errorJSON, &f.CompletedAt); err != nil {
			return nil, fmt.Errorf("recent failures: scan: %w", err)
		}
		f.Type = JobType(jobType)
		if err := json.Unmarshal([]byte(errorJSON), &f.Error); err != nil {
			// Pre-structured rows: keep the raw message rather than dropping the entry.
			f.Error = JobError{Message: errorJSON}
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent failures: iterate: %w", err)
	}

	return failures, nil
}
