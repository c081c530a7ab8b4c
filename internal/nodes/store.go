// Package nodes persists analysis results as knowledge nodes and answers
// the scheduler's eligibility queries.
package nodes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Whamp/pi-brain/internal/agent"
	"github.com/Whamp/pi-brain/internal/pkg/cuid2"
	"github.com/Whamp/pi-brain/internal/queue"
)

// Node is one stored analysis result.
type Node struct {
	ID            string
	SessionFile   string
	SegmentStart  *int64
	SegmentEnd    *int64
	Title         string
	Summary       string
	NodeType      string
	Topics        []string
	Insights      []agent.Insight
	PromptVersion int
	AnalyzedAt    time.Time
	CreatedAt     time.Time
}

// Edge links a source node to a target node.
type Edge struct {
	SourceID string
	TargetID string
	Relation string
}

type Store struct {
	db            *sql.DB
	logger        *zerolog.Logger
	promptVersion int
}

func NewStore(db *sql.DB, logger *zerolog.Logger, promptVersion int) *Store {
	if promptVersion <= 0 {
		promptVersion = 1
	}
	return &Store{db: db, logger: logger, promptVersion: promptVersion}
}

// CreateFromAnalysis stores a validated analysis payload and returns the node
// id. When the job carries an existing node id (reanalysis), the node is
// updated in place so repeated runs of the same job stay idempotent;
// otherwise a new node is inserted. Proposed connections become edges.
func (s *Store) CreateFromAnalysis(ctx context.Context, job *queue.Job, data *agent.NodeData) (string, error) {
	if data == nil {
		return "", fmt.Errorf("create node: nil analysis payload")
	}

	topicsJSON, err := json.Marshal(data.Topics)
	if err != nil {
		return "", fmt.Errorf("create node: marshal topics: %w", err)
	}
	insightsJSON, err := json.Marshal(data.Insights)
	if err != nil {
		return "", fmt.Errorf("create node: marshal insights: %w", err)
	}

	now := time.Now().UTC()

	if existing := job.Context.ExistingNodeID; existing != "" {
		result, err := s.db.ExecContext(ctx, `
			UPDATE nodes
			SET title = ?, summary = ?, node_type = ?, topics = ?, insights = ?,
			    prompt_version = ?, analyzed_at = ?
			WHERE id = ?
		`, data.Title, data.Summary, data.NodeType, string(topicsJSON),
			string(insightsJSON), s.promptVersion, now, existing)
		if err != nil {
			return "", fmt.Errorf("update node %s: %w", existing, err)
		}
		if affected, _ := result.RowsAffected(); affected > 0 {
			if err := s.CreateEdges(ctx, existing, data.Connections); err != nil {
				return "", err
			}
			s.logger.Info().Str("node_id", existing).Msg("Node reanalyzed in place")
			return existing, nil
		}
		// The referenced node is gone; fall through and insert fresh.
		s.logger.Warn().Str("node_id", existing).Msg("Existing node missing, inserting new node")
	}

	id := cuid2.GeneratePrefixedID("node")
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, session_file, segment_start, segment_end, title,
		                   summary, node_type, topics, insights, prompt_version,
		                   analyzed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, job.SessionFile, job.SegmentStart, job.SegmentEnd, data.Title,
		data.Summary, data.NodeType, string(topicsJSON), string(insightsJSON),
		s.promptVersion, now, now)
	if err != nil {
		return "", fmt.Errorf("insert node: %w", err)
	}

	if err := s.CreateEdges(ctx, id, data.Connections); err != nil {
		return "", err
	}

	s.logger.Info().
		Str("node_id", id).
		Str("session_file", job.SessionFile).
		Str("node_type", data.NodeType).
		Msg("Node created")
	return id, nil
}

// CreateEdges records proposed connections as edges. Duplicates are ignored
// so re-running an analysis cannot multiply edges.
func (s *Store) CreateEdges(ctx context.Context, sourceID string, connections []agent.Connection) error {
	now := time.Now().UTC()
	for _, conn := range connections {
		if conn.TargetNodeID == "" || conn.Relation == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO node_edges (source_id, target_id, relation, created_at)
			VALUES (?, ?, ?, ?)
		`, sourceID, conn.TargetNodeID, conn.Relation, now)
		if err != nil {
			return fmt.Errorf("insert edge %s -> %s: %w", sourceID, conn.TargetNodeID, err)
		}
	}
	return nil
}

// Get returns one node by id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_file, segment_start, segment_end, title, summary,
		       node_type, topics, insights, prompt_version, analyzed_at, created_at
		FROM nodes WHERE id = ?
	`, id)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return node, nil
}

// StaleAnalyses returns nodes analyzed with an older prompt version, skipping
// any whose session file already has a pending or running job. Ordered oldest
// analysis first so repeated sweeps make progress.
func (s *Store) StaleAnalyses(ctx context.Context, currentVersion, limit int) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.session_file, n.segment_start, n.segment_end, n.title,
		       n.summary, n.node_type, n.topics, n.insights, n.prompt_version,
		       n.analyzed_at, n.created_at
		FROM nodes n
		WHERE n.prompt_version < ?
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.session_file = n.session_file
			  AND j.status IN ('pending', 'running')
		  )
		ORDER BY n.analyzed_at ASC
		LIMIT ?
	`, currentVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("stale analyses: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// RecentForDiscovery returns nodes analyzed within the window that have no
// queued discovery job and no discovery completed within the cooldown.
func (s *Store) RecentForDiscovery(ctx context.Context, window, cooldown time.Duration, limit int) ([]Node, error) {
	now := time.Now().UTC()
	since := now.Add(-window)
	cooldownSince := now.Add(-cooldown)

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.session_file, n.segment_start, n.segment_end, n.title,
		       n.summary, n.node_type, n.topics, n.insights, n.prompt_version,
		       n.analyzed_at, n.created_at
		FROM nodes n
		WHERE n.analyzed_at >= ?
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.type = 'connection_discovery'
			  AND json_extract(j.context, '$.nodeId') = n.id
			  AND (j.status IN ('pending', 'running')
			       OR (j.status = 'completed' AND j.completed_at >= ?))
		  )
		ORDER BY n.analyzed_at ASC
		LIMIT ?
	`, since, cooldownSince, limit)
	if err != nil {
		return nil, fmt.Errorf("recent for discovery: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// Count returns the total number of nodes.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var node Node
	var topicsJSON, insightsJSON string

	err := row.Scan(
		&node.ID, &node.SessionFile, &node.SegmentStart, &node.SegmentEnd,
		&node.Title, &node.Summary, &node.NodeType, &topicsJSON, &insightsJSON,
		&node.PromptVersion, &node.AnalyzedAt, &node.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topicsJSON), &node.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal node topics: %w", err)
	}
	if err := json.Unmarshal([]byte(insightsJSON), &node.Insights); err != nil {
		return nil, fmt.Errorf("unmarshal node insights: %w", err)
	}
	return &node, nil
}

func collectNodes(rows *sql.Rows) ([]Node, error) {
	var out []Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *node)
	}
	return out, rows.Err()
}
