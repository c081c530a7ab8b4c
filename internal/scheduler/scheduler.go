// Package scheduler drives the cron-triggered maintenance work: enqueueing
// reanalysis and connection-discovery jobs, and running pattern aggregation,
// clustering, and embedding backfill directly.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Whamp/pi-brain/config"
	"github.com/Whamp/pi-brain/internal/cluster"
	"github.com/Whamp/pi-brain/internal/embedding"
	"github.com/Whamp/pi-brain/internal/nodes"
	"github.com/Whamp/pi-brain/internal/queue"
)

// TriggerType identifies one scheduled trigger.
type TriggerType string

const (
	TriggerReanalysis          TriggerType = "reanalysis"
	TriggerConnectionDiscovery TriggerType = "connection_discovery"
	TriggerPatternAggregation  TriggerType = "pattern_aggregation"
	TriggerClustering          TriggerType = "clustering"
	TriggerEmbeddingBackfill   TriggerType = "embedding_backfill"
)

// ScheduledJobResult records the outcome of the most recent run of a trigger.
type ScheduledJobResult struct {
	Trigger        TriggerType
	StartedAt      time.Time
	Duration       time.Duration
	ItemsProcessed int
	Error          string
}

// TriggerStatus pairs the last result with the next scheduled run.
type TriggerStatus struct {
	LastResult *ScheduledJobResult
	NextRun    *time.Time
}

// JobEnqueuer is the queue surface the scheduler needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, input queue.EnqueueInput) (string, error)
}

// NodeSource answers trigger eligibility queries.
type NodeSource interface {
	StaleAnalyses(ctx context.Context, currentVersion, limit int) ([]nodes.Node, error)
	RecentForDiscovery(ctx context.Context, window, cooldown time.Duration, limit int) ([]nodes.Node, error)
}

// PatternAggregator runs the direct aggregation triggers.
type PatternAggregator interface {
	AggregatePatterns(ctx context.Context) (int, error)
	AggregateInsights(ctx context.Context) (int, error)
}

// ClusterEngine runs one clustering pass.
type ClusterEngine interface {
	Run(ctx context.Context) (cluster.Result, error)
}

// EmbeddingBackfiller runs one embedding backfill pass.
type EmbeddingBackfiller interface {
	Run(ctx context.Context) (embedding.BackfillResult, error)
}

type Scheduler struct {
	cfg        config.SchedulerConfig
	logger     *zerolog.Logger
	queue      JobEnqueuer
	nodes      NodeSource
	patterns   PatternAggregator
	clusters   ClusterEngine
	backfiller EmbeddingBackfiller

	cron    *cron.Cron
	entries map[TriggerType]cron.EntryID

	mu          sync.Mutex
	lastResults map[TriggerType]*ScheduledJobResult
	runCtx      context.Context
}

func New(
	cfg config.SchedulerConfig,
	logger *zerolog.Logger,
	q JobEnqueuer,
	nodeSource NodeSource,
	patterns PatternAggregator,
	clusters ClusterEngine,
	backfiller EmbeddingBackfiller,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		logger:      logger,
		queue:       q,
		nodes:       nodeSource,
		patterns:    patterns,
		clusters:    clusters,
		backfiller:  backfiller,
		cron:        cron.New(),
		entries:     make(map[TriggerType]cron.EntryID),
		lastResults: make(map[TriggerType]*ScheduledJobResult),
		runCtx:      context.Background(),
	}
}

// Start registers all configured triggers and starts the cron loop. An
// invalid expression disables only its own trigger; the rest still run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	specs := []struct {
		trigger TriggerType
		expr    string
		run     func()
	}{
		{TriggerReanalysis, s.cfg.ReanalysisCron, func() { s.TriggerReanalysis() }},
		{TriggerConnectionDiscovery, s.cfg.ConnectionDiscoveryCron, func() { s.TriggerConnectionDiscovery() }},
		{TriggerPatternAggregation, s.cfg.PatternAggregationCron, func() { s.TriggerPatternAggregation() }},
		{TriggerClustering, s.cfg.ClusteringCron, func() { s.TriggerClustering() }},
		{TriggerEmbeddingBackfill, s.cfg.EmbeddingBackfillCron, func() { s.TriggerEmbeddingBackfill() }},
	}

	for _, spec := range specs {
		if spec.expr == "" {
			continue
		}
		id, err := s.cron.AddFunc(spec.expr, spec.run)
		if err != nil {
			s.logger.Error().
				Str("trigger", string(spec.trigger)).
				Str("expression", spec.expr).
				Err(err).
				Msg("Invalid cron expression, trigger disabled")
			continue
		}
		s.entries[spec.trigger] = id
		s.logger.Info().
			Str("trigger", string(spec.trigger)).
			Str("expression", spec.expr).
			Msg("Trigger scheduled")
	}

	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the cron loop and waits for running triggers to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// Status reports, per trigger, the last result and the next scheduled run.
// Triggers disabled by a bad expression appear with no next run.
func (s *Scheduler) Status() map[TriggerType]TriggerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[TriggerType]TriggerStatus)
	for _, trigger := range []TriggerType{
		TriggerReanalysis, TriggerConnectionDiscovery,
		TriggerPatternAggregation, TriggerClustering, TriggerEmbeddingBackfill,
	} {
		status := TriggerStatus{LastResult: s.lastResults[trigger]}
		if id, ok := s.entries[trigger]; ok {
			next := s.cron.Entry(id).Next
			if !next.IsZero() {
				status.NextRun = &next
			}
		}
		out[trigger] = status
	}
	return out
}

// TriggerReanalysis enqueues reanalysis jobs for nodes analyzed with an
// older prompt version. Shared between the cron callback and manual runs.
func (s *Scheduler) TriggerReanalysis() ScheduledJobResult {
	return s.run(TriggerReanalysis, func(ctx context.Context) (int, error) {
		stale, err := s.nodes.StaleAnalyses(ctx, s.cfg.PromptVersion, s.cfg.ReanalysisLimit)
		if err != nil {
			return 0, err
		}

		enqueued := 0
		for _, node := range stale {
			_, err := s.queue.Enqueue(ctx, queue.EnqueueInput{
				Type:         queue.TypeReanalysis,
				SessionFile:  node.SessionFile,
				SegmentStart: node.SegmentStart,
				SegmentEnd:   node.SegmentEnd,
				Context: queue.JobContext{
					ExistingNodeID: node.ID,
					Reason:         fmt.Sprintf("prompt version %d < %d", node.PromptVersion, s.cfg.PromptVersion),
				},
			})
			if err != nil {
				s.logger.Error().Str("node_id", node.ID).Err(err).Msg("Failed to enqueue reanalysis")
				continue
			}
			enqueued++
		}
		return enqueued, nil
	})
}

// TriggerConnectionDiscovery enqueues discovery jobs for recently analyzed
// nodes outside the cooldown.
func (s *Scheduler) TriggerConnectionDiscovery() ScheduledJobResult {
	return s.run(TriggerConnectionDiscovery, func(ctx context.Context) (int, error) {
		recent, err := s.nodes.RecentForDiscovery(ctx, s.cfg.DiscoveryWindow, s.cfg.DiscoveryCooldown, s.cfg.DiscoveryLimit)
		if err != nil {
			return 0, err
		}

		enqueued := 0
		for _, node := range recent {
			_, err := s.queue.Enqueue(ctx, queue.EnqueueInput{
				Type:        queue.TypeConnectionDiscovery,
				SessionFile: node.SessionFile,
				Context: queue.JobContext{
					NodeID:          node.ID,
					FindConnections: true,
				},
			})
			if err != nil {
				s.logger.Error().Str("node_id", node.ID).Err(err).Msg("Failed to enqueue connection discovery")
				continue
			}
			enqueued++
		}
		return enqueued, nil
	})
}

// TriggerPatternAggregation recomputes topic and insight aggregates.
func (s *Scheduler) TriggerPatternAggregation() ScheduledJobResult {
	return s.run(TriggerPatternAggregation, func(ctx context.Context) (int, error) {
		topics, err := s.patterns.AggregatePatterns(ctx)
		if err != nil {
			return 0, err
		}
		kinds, err := s.patterns.AggregateInsights(ctx)
		if err != nil {
			return topics, err
		}
		return topics + kinds, nil
	})
}

// TriggerClustering runs one clustering pass over stored embeddings.
func (s *Scheduler) TriggerClustering() ScheduledJobResult {
	return s.run(TriggerClustering, func(ctx context.Context) (int, error) {
		result, err := s.clusters.Run(ctx)
		if err != nil {
			return 0, err
		}
		return len(result.Clusters), nil
	})
}

// TriggerEmbeddingBackfill generates embeddings for nodes lacking them.
// Missing API credentials degrade to a zero-item run rather than an error.
func (s *Scheduler) TriggerEmbeddingBackfill() ScheduledJobResult {
	return s.run(TriggerEmbeddingBackfill, func(ctx context.Context) (int, error) {
		result, err := s.backfiller.Run(ctx)
		if err != nil {
			if errors.Is(err, embedding.ErrNoCredentials) {
				s.logger.Warn().Msg("Embedding credentials absent, skipping backfill")
				return 0, nil
			}
			return result.Generated, err
		}
		return result.Generated, nil
	})
}

// run executes one trigger body, recording a ScheduledJobResult. Errors
// become data on the result; nothing escapes a trigger.
func (s *Scheduler) run(trigger TriggerType, body func(ctx context.Context) (int, error)) (result ScheduledJobResult) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	result = ScheduledJobResult{Trigger: trigger, StartedAt: time.Now().UTC()}

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("panic: %v", r)
			result.Duration = time.Since(result.StartedAt)
			s.record(result)
		}
	}()

	items, err := body(ctx)
	result.ItemsProcessed = items
	result.Duration = time.Since(result.StartedAt)
	if err != nil {
		result.Error = err.Error()
		s.logger.Error().
			Str("trigger", string(trigger)).
			Err(err).
			Msg("Scheduled trigger failed")
	} else {
		s.logger.Info().
			Str("trigger", string(trigger)).
			Int("items", items).
			Dur("duration", result.Duration).
			Msg("Scheduled trigger complete")
	}

	s.record(result)
	return result
}

func (s *Scheduler) record(result ScheduledJobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := result
	s.lastResults[result.Trigger] = &r
}
