package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Whamp/pi-brain/config"
	"github.com/Whamp/pi-brain/internal/cluster"
	"github.com/Whamp/pi-brain/internal/embedding"
	"github.com/Whamp/pi-brain/internal/nodes"
	"github.com/Whamp/pi-brain/internal/queue"
)

type fakeEnqueuer struct {
	inputs []queue.EnqueueInput
	err    error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, input queue.EnqueueInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inputs = append(f.inputs, input)
	return "job_fake", nil
}

type fakeNodeSource struct {
	stale  []nodes.Node
	recent []nodes.Node
	err    error
}

func (f *fakeNodeSource) StaleAnalyses(ctx context.Context, currentVersion, limit int) ([]nodes.Node, error) {
	return f.stale, f.err
}

func (f *fakeNodeSource) RecentForDiscovery(ctx context.Context, window, cooldown time.Duration, limit int) ([]nodes.Node, error) {
	return f.recent, f.err
}

type fakeAggregator struct {
	topics, kinds int
	err           error
}

func (f *fakeAggregator) AggregatePatterns(ctx context.Context) (int, error) { return f.topics, f.err }
func (f *fakeAggregator) AggregateInsights(ctx context.Context) (int, error) { return f.kinds, f.err }

type fakeClusters struct {
	result cluster.Result
	err    error
}

func (f *fakeClusters) Run(ctx context.Context) (cluster.Result, error) { return f.result, f.err }

type fakeBackfiller struct {
	result embedding.BackfillResult
	err    error
}

func (f *fakeBackfiller) Run(ctx context.Context) (embedding.BackfillResult, error) {
	return f.result, f.err
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		ReanalysisCron:          "0 3 * * *",
		ConnectionDiscoveryCron: "30 */4 * * *",
		PatternAggregationCron:  "15 2 * * *",
		ClusteringCron:          "45 2 * * 0",
		EmbeddingBackfillCron:   "0 */6 * * *",
		ReanalysisLimit:         20,
		DiscoveryLimit:          10,
		DiscoveryWindow:         48 * time.Hour,
		DiscoveryCooldown:       7 * 24 * time.Hour,
		PromptVersion:           2,
	}
}

func newTestScheduler(cfg config.SchedulerConfig, q JobEnqueuer, ns NodeSource, agg PatternAggregator, cl ClusterEngine, bf EmbeddingBackfiller) *Scheduler {
	logger := zerolog.Nop()
	if q == nil {
		q = &fakeEnqueuer{}
	}
	if ns == nil {
		ns = &fakeNodeSource{}
	}
	if agg == nil {
		agg = &fakeAggregator{}
	}
	if cl == nil {
		cl = &fakeClusters{}
	}
	if bf == nil {
		bf = &fakeBackfiller{}
	}
	return New(cfg, &logger, q, ns, agg, cl, bf)
}

func TestTriggerReanalysis(t *testing.T) {
	seg := int64(100)
	ns := &fakeNodeSource{stale: []nodes.Node{
		{ID: "node_1", SessionFile: "/tmp/a.jsonl", SegmentStart: &seg, PromptVersion: 1},
		{ID: "node_2", SessionFile: "/tmp/b.jsonl", PromptVersion: 1},
	}}
	q := &fakeEnqueuer{}
	s := newTestScheduler(testConfig(), q, ns, nil, nil, nil)

	result := s.TriggerReanalysis()
	assert.Equal(t, TriggerReanalysis, result.Trigger)
	assert.Empty(t, result.Error)
	assert.Equal(t, 2, result.ItemsProcessed)

	require.Len(t, q.inputs, 2)
	assert.Equal(t, queue.TypeReanalysis, q.inputs[0].Type)
	assert.Equal(t, "node_1", q.inputs[0].Context.ExistingNodeID)
	assert.Contains(t, q.inputs[0].Context.Reason, "prompt version")
	require.NotNil(t, q.inputs[0].SegmentStart)
	assert.Equal(t, int64(100), *q.inputs[0].SegmentStart)
}

func TestTriggerConnectionDiscovery(t *testing.T) {
	ns := &fakeNodeSource{recent: []nodes.Node{{ID: "node_1", SessionFile: "/tmp/a.jsonl"}}}
	q := &fakeEnqueuer{}
	s := newTestScheduler(testConfig(), q, ns, nil, nil, nil)

	result := s.TriggerConnectionDiscovery()
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, result.ItemsProcessed)

	require.Len(t, q.inputs, 1)
	assert.Equal(t, queue.TypeConnectionDiscovery, q.inputs[0].Type)
	assert.Equal(t, "node_1", q.inputs[0].Context.NodeID)
	assert.True(t, q.inputs[0].Context.FindConnections)
}

func TestTriggerErrorBecomesData(t *testing.T) {
	ns := &fakeNodeSource{err: errors.New("database locked")}
	s := newTestScheduler(testConfig(), nil, ns, nil, nil, nil)

	result := s.TriggerReanalysis()
	assert.Equal(t, "database locked", result.Error)
	assert.Zero(t, result.ItemsProcessed)

	status := s.Status()
	require.NotNil(t, status[TriggerReanalysis].LastResult)
	assert.Equal(t, "database locked", status[TriggerReanalysis].LastResult.Error)
}

func TestTriggerPatternAggregation(t *testing.T) {
	s := newTestScheduler(testConfig(), nil, nil, &fakeAggregator{topics: 7, kinds: 3}, nil, nil)

	result := s.TriggerPatternAggregation()
	assert.Empty(t, result.Error)
	assert.Equal(t, 10, result.ItemsProcessed)
}

func TestTriggerClustering(t *testing.T) {
	cl := &fakeClusters{result: cluster.Result{
		NodesScanned: 9,
		Clusters:     []cluster.Cluster{{Seed: "a"}, {Seed: "b"}},
	}}
	s := newTestScheduler(testConfig(), nil, nil, nil, cl, nil)

	result := s.TriggerClustering()
	assert.Empty(t, result.Error)
	assert.Equal(t, 2, result.ItemsProcessed)
}

func TestTriggerEmbeddingBackfillDegradesWithoutCredentials(t *testing.T) {
	bf := &fakeBackfiller{err: embedding.ErrNoCredentials}
	s := newTestScheduler(testConfig(), nil, nil, nil, nil, bf)

	result := s.TriggerEmbeddingBackfill()
	assert.Empty(t, result.Error, "missing credentials degrade, they do not fail the trigger")
	assert.Zero(t, result.ItemsProcessed)
}

func TestInvalidExpressionDisablesOnlyItsTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.ReanalysisCron = "not a cron expression"
	s := newTestScheduler(cfg, nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer cancel()

	status := s.Status()
	assert.Nil(t, status[TriggerReanalysis].NextRun, "bad expression leaves its trigger unscheduled")
	assert.NotNil(t, status[TriggerConnectionDiscovery].NextRun)
	assert.NotNil(t, status[TriggerPatternAggregation].NextRun)
	assert.NotNil(t, status[TriggerClustering].NextRun)
	assert.NotNil(t, status[TriggerEmbeddingBackfill].NextRun)
}

func TestEmptyExpressionSkipsTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.ClusteringCron = ""
	s := newTestScheduler(cfg, nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer cancel()

	status := s.Status()
	assert.Nil(t, status[TriggerClustering].NextRun)
	assert.NotNil(t, status[TriggerReanalysis].NextRun)
}

func TestManualTriggerRecordsStatus(t *testing.T) {
	s := newTestScheduler(testConfig(), nil, nil, &fakeAggregator{topics: 1, kinds: 1}, nil, nil)

	before := s.Status()
	assert.Nil(t, before[TriggerPatternAggregation].LastResult)

	s.TriggerPatternAggregation()

	after := s.Status()
	require.NotNil(t, after[TriggerPatternAggregation].LastResult)
	assert.Equal(t, 2, after[TriggerPatternAggregation].LastResult.ItemsProcessed)
}
