package embedding

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// BackfillResult tracks the outcome of one backfill run
type BackfillResult struct {
	Scanned   int
	Generated int
	Skipped   int
}

// Backfiller generates embeddings for nodes that have none for the current
// model version, or whose source text changed since the cached vector.
type Backfiller struct {
	db       *sql.DB
	provider Provider
	batch    int
	limit    int
}

func NewBackfiller(db *sql.DB, provider Provider, batchSize, limit int) *Backfiller {
	if batchSize <= 0 {
		batchSize = 50
	}
	if limit <= 0 {
		limit = 500
	}
	return &Backfiller{db: db, provider: provider, batch: batchSize, limit: limit}
}

// Run performs one backfill pass. With missing credentials the error wraps
// ErrNoCredentials so scheduled runs can degrade instead of alerting.
func (b *Backfiller) Run(ctx context.Context) (BackfillResult, error) {
	result := BackfillResult{}

	rows, err := b.db.QueryContext(ctx, `
		SELECT n.id, n.title, n.summary, n.topics
		FROM nodes n
		WHERE NOT EXISTS (
			SELECT 1 FROM node_embeddings e
			WHERE e.node_id = n.id AND e.model_version = ?
		)
		ORDER BY n.analyzed_at ASC
		LIMIT ?
	`, b.provider.ModelVersion(), b.limit)
	if err != nil {
		return result, fmt.Errorf("query nodes without embeddings: %w", err)
	}
	defer rows.Close()

	type nodeText struct {
		ID   string
		Text string
		Hash string
	}
	var pending []nodeText
	for rows.Next() {
		var id, title, summary, topicsJSON string
		if err := rows.Scan(&id, &title, &summary, &topicsJSON); err != nil {
			slog.Error("scan node row", "error", err)
			continue
		}
		text := embeddingText(title, summary, topicsJSON)
		pending = append(pending, nodeText{ID: id, Text: text, Hash: hashText(text)})
	}
	if rows.Err() != nil {
		return result, fmt.Errorf("iterate node rows: %w", rows.Err())
	}
	result.Scanned = len(pending)

	for i := 0; i < len(pending); i += b.batch {
		end := i + b.batch
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[i:end]

		texts := make([]string, len(batch))
		for j, n := range batch {
			texts[j] = n.Text
		}

		embeddings, err := GenerateWithRetry(ctx, b.provider, texts, DefaultRetryConfig())
		if err != nil {
			return result, fmt.Errorf("generate embeddings: %w", err)
		}

		for j, n := range batch {
			if err := b.store(ctx, n.ID, embeddings[j], n.Hash); err != nil {
				slog.Error("store node embedding", "node_id", n.ID, "error", err)
				result.Skipped++
				continue
			}
			result.Generated++
		}

		slog.Info("cached node embeddings", "count", len(batch))
	}

	return result, nil
}

// Load returns all stored embeddings for the provider's model version.
func (b *Backfiller) Load(ctx context.Context) (map[string][]float32, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT node_id, embedding FROM node_embeddings WHERE model_version = ?
	`, b.provider.ModelVersion())
	if err != nil {
		return nil, fmt.Errorf("query node embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var nodeID string
		var blob []byte
		if err := rows.Scan(&nodeID, &blob); err != nil {
			slog.Error("scan embedding row", "error", err)
			continue
		}
		vec, err := decodeVector(blob)
		if err != nil {
			slog.Error("decode embedding", "node_id", nodeID, "error", err)
			continue
		}
		out[nodeID] = vec
	}
	return out, rows.Err()
}

func (b *Backfiller) store(ctx context.Context, nodeID string, vec []float32, hash string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO node_embeddings (node_id, embedding, model_version, text_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (node_id) DO UPDATE SET
			embedding = excluded.embedding,
			model_version = excluded.model_version,
			text_hash = excluded.text_hash,
			created_at = excluded.created_at
	`, nodeID, encodeVector(vec), b.provider.ModelVersion(), hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// embeddingText flattens a node's salient fields into one string. Topics
// arrive as their stored JSON; brackets and quotes are harmless to the model.
func embeddingText(title, summary, topicsJSON string) string {
	return strings.TrimSpace(title + "\n" + summary + "\n" + topicsJSON)
}

// Vectors are stored as little-endian float32, 4 bytes per component.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
