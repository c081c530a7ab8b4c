package patterns

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Whamp/pi-brain/internal/agent"
	"github.com/Whamp/pi-brain/internal/database"
	"github.com/Whamp/pi-brain/internal/nodes"
	"github.com/Whamp/pi-brain/internal/queue"
)

func newTestAggregator(t *testing.T) (*Aggregator, *nodes.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	logger := zerolog.Nop()
	return NewAggregator(db, &logger), nodes.NewStore(db, &logger, 1)
}

func storeNode(t *testing.T, s *nodes.Store, session string, topics []string, insights []agent.Insight) {
	t.Helper()
	_, err := s.CreateFromAnalysis(context.Background(), &queue.Job{SessionFile: session}, &agent.NodeData{
		Title:    "t",
		NodeType: "analysis",
		Summary:  "s",
		Topics:   topics,
		Insights: insights,
	})
	require.NoError(t, err)
}

func TestAggregatePatterns(t *testing.T) {
	ctx := context.Background()
	a, s := newTestAggregator(t)

	storeNode(t, s, "/tmp/a.jsonl", []string{"go", "sqlite"}, nil)
	storeNode(t, s, "/tmp/b.jsonl", []string{"go", "testing"}, nil)
	storeNode(t, s, "/tmp/c.jsonl", []string{"go"}, nil)

	n, err := a.AggregatePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	top, err := a.TopPatterns(ctx, "topic", 10)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"go": 3, "sqlite": 1, "testing": 1}, top)

	// Re-running replaces rather than accumulates.
	_, err = a.AggregatePatterns(ctx)
	require.NoError(t, err)
	top, err = a.TopPatterns(ctx, "topic", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, top["go"])
}

func TestAggregateInsights(t *testing.T) {
	ctx := context.Background()
	a, s := newTestAggregator(t)

	storeNode(t, s, "/tmp/a.jsonl", []string{"x"}, []agent.Insight{
		{Text: "one", Kind: "learning"},
		{Text: "two", Kind: "mistake"},
	})
	storeNode(t, s, "/tmp/b.jsonl", []string{"x"}, []agent.Insight{
		{Text: "three", Kind: "learning"},
		{Text: "four"}, // no kind, bucketed as general
	})

	n, err := a.AggregateInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	top, err := a.TopPatterns(ctx, "insight", 10)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"learning": 2, "mistake": 1, "general": 1}, top)
}

func TestAggregateEmptyStore(t *testing.T) {
	a, _ := newTestAggregator(t)
	n, err := a.AggregatePatterns(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
