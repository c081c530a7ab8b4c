// Package patterns computes recurring-topic and insight-kind aggregates
// over the node store.
package patterns

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Whamp/pi-brain/internal/agent"
	"github.com/Whamp/pi-brain/internal/pkg/cuid2"
)

type Aggregator struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewAggregator(db *sql.DB, logger *zerolog.Logger) *Aggregator {
	return &Aggregator{db: db, logger: logger}
}

// AggregatePatterns recomputes topic frequency across all nodes and stores
// the result rows under kind "topic". Returns the number of distinct topics.
func (a *Aggregator) AggregatePatterns(ctx context.Context) (int, error) {
	counts, err := a.countByLabel(ctx, func(topicsJSON, _ string) ([]string, error) {
		var topics []string
		if err := json.Unmarshal([]byte(topicsJSON), &topics); err != nil {
			return nil, err
		}
		return topics, nil
	})
	if err != nil {
		return 0, fmt.Errorf("aggregate patterns: %w", err)
	}
	if err := a.replaceKind(ctx, "topic", counts); err != nil {
		return 0, fmt.Errorf("aggregate patterns: %w", err)
	}

	a.logger.Info().Int("topics", len(counts)).Msg("Aggregated topic patterns")
	return len(counts), nil
}

// AggregateInsights recomputes insight-kind frequency across all nodes and
// stores the result rows under kind "insight". Returns the number of
// distinct insight kinds.
func (a *Aggregator) AggregateInsights(ctx context.Context) (int, error) {
	counts, err := a.countByLabel(ctx, func(_, insightsJSON string) ([]string, error) {
		var insights []agent.Insight
		if err := json.Unmarshal([]byte(insightsJSON), &insights); err != nil {
			return nil, err
		}
		labels := make([]string, 0, len(insights))
		for _, ins := range insights {
			kind := ins.Kind
			if kind == "" {
				kind = "general"
			}
			labels = append(labels, kind)
		}
		return labels, nil
	})
	if err != nil {
		return 0, fmt.Errorf("aggregate insights: %w", err)
	}
	if err := a.replaceKind(ctx, "insight", counts); err != nil {
		return 0, fmt.Errorf("aggregate insights: %w", err)
	}

	a.logger.Info().Int("kinds", len(counts)).Msg("Aggregated insight kinds")
	return len(counts), nil
}

// TopPatterns returns the most frequent labels of one kind.
func (a *Aggregator) TopPatterns(ctx context.Context, kind string, limit int) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT label, count FROM patterns
		WHERE kind = ?
		ORDER BY count DESC, label ASC
		LIMIT ?
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("top patterns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("top patterns: scan: %w", err)
		}
		out[label] = count
	}
	return out, rows.Err()
}

func (a *Aggregator) countByLabel(ctx context.Context, extract func(topicsJSON, insightsJSON string) ([]string, error)) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, topics, insights FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id, topicsJSON, insightsJSON string
		if err := rows.Scan(&id, &topicsJSON, &insightsJSON); err != nil {
			return nil, err
		}
		labels, err := extract(topicsJSON, insightsJSON)
		if err != nil {
			// A malformed node must not sink the whole aggregation.
			a.logger.Warn().Str("node_id", id).Err(err).Msg("Skipping node with malformed JSON")
			continue
		}
		for _, label := range labels {
			if label == "" {
				continue
			}
			counts[label]++
		}
	}
	return counts, rows.Err()
}

// replaceKind swaps the stored rows of one kind for the fresh counts inside
// a transaction so readers never see a half-written aggregate.
func (a *Aggregator) replaceKind(ctx context.Context, kind string, counts map[string]int) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE kind = ?`, kind); err != nil {
		return err
	}

	now := time.Now().UTC()
	for label, count := range counts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO patterns (id, kind, label, count, computed_at)
			VALUES (?, ?, ?, ?, ?)
		`, cuid2.GeneratePrefixedID("pat"), kind, label, count, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}
