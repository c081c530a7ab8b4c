// Package cluster groups nodes by embedding similarity.
package cluster

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Whamp/pi-brain/internal/embedding"
)

// VectorSource supplies node embeddings keyed by node id.
type VectorSource interface {
	Load(ctx context.Context) (map[string][]float32, error)
}

// Cluster is one similarity group. Members are node ids; the first member
// seeded the cluster.
type Cluster struct {
	Seed    string
	Members []string
}

// Result summarizes one clustering run.
type Result struct {
	NodesScanned int
	Clusters     []Cluster
}

// Config tunes the engine. Threshold is the minimum cosine similarity to the
// cluster seed; MinSize drops clusters below that size from the result.
type Config struct {
	Threshold float32
	MinSize   int
}

type Engine struct {
	source VectorSource
	logger *zerolog.Logger
	cfg    Config
}

func NewEngine(source VectorSource, logger *zerolog.Logger, cfg Config) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.82
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 2
	}
	return &Engine{source: source, logger: logger, cfg: cfg}
}

// Run performs one greedy clustering pass: nodes are visited in a stable
// order, each unassigned node seeds a new cluster, and every later
// unassigned node whose similarity to the seed clears the threshold joins
// it. With no stored embeddings the result is empty, not an error.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	vectors, err := e.source.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load embeddings: %w", err)
	}

	result := Result{NodesScanned: len(vectors)}
	if len(vectors) == 0 {
		e.logger.Warn().Msg("No embeddings stored, skipping clustering")
		return result, nil
	}

	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	assigned := make(map[string]bool, len(ids))
	for _, seed := range ids {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		cluster := Cluster{Seed: seed, Members: []string{seed}}

		for _, candidate := range ids {
			if assigned[candidate] {
				continue
			}
			if embedding.CosineSimilarity(vectors[seed], vectors[candidate]) >= e.cfg.Threshold {
				assigned[candidate] = true
				cluster.Members = append(cluster.Members, candidate)
			}
		}

		if len(cluster.Members) >= e.cfg.MinSize {
			result.Clusters = append(result.Clusters, cluster)
		}
	}

	e.logger.Info().
		Int("nodes", result.NodesScanned).
		Int("clusters", len(result.Clusters)).
		Msg("Clustering pass complete")
	return result, nil
}
