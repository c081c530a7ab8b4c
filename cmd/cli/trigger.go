package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Whamp/pi-brain/internal/cluster"
	"github.com/Whamp/pi-brain/internal/database"
	"github.com/Whamp/pi-brain/internal/embedding"
	"github.com/Whamp/pi-brain/internal/nodes"
	"github.com/Whamp/pi-brain/internal/patterns"
	"github.com/Whamp/pi-brain/internal/queue"
	"github.com/Whamp/pi-brain/internal/scheduler"
)

var triggerCmd = &cobra.Command{
	Use:       "trigger <name>",
	Short:     "Run one scheduled trigger immediately",
	Long:      `Run one of the scheduler's triggers against the shared datastore: reanalysis, connection_discovery, pattern_aggregation, clustering, or embedding_backfill.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"reanalysis", "connection_discovery", "pattern_aggregation", "clustering", "embedding_backfill"},
	RunE:      runTrigger,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	manager := queue.NewManager(database.DB(), logger, queue.Config{
		LeaseDuration: cfg.Queue.LeaseDuration,
		MaxRetries:    cfg.Retry.MaxRetries,
	})
	store := nodes.NewStore(database.DB(), logger, cfg.Scheduler.PromptVersion)
	provider := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:           cfg.Embedding.BaseURL,
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Embedding.Dimension,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	backfiller := embedding.NewBackfiller(database.DB(), provider,
		cfg.Scheduler.BackfillBatchSize, cfg.Scheduler.BackfillLimit)
	engine := cluster.NewEngine(backfiller, logger, cluster.Config{})
	aggregator := patterns.NewAggregator(database.DB(), logger)

	sched := scheduler.New(cfg.Scheduler, logger, manager, store, aggregator, engine, backfiller)

	var result scheduler.ScheduledJobResult
	switch args[0] {
	case "reanalysis":
		result = sched.TriggerReanalysis()
	case "connection_discovery":
		result = sched.TriggerConnectionDiscovery()
	case "pattern_aggregation":
		result = sched.TriggerPatternAggregation()
	case "clustering":
		result = sched.TriggerClustering()
	case "embedding_backfill":
		result = sched.TriggerEmbeddingBackfill()
	default:
		return fmt.Errorf("unknown trigger %q", args[0])
	}

	if result.Error != "" {
		return fmt.Errorf("trigger %s failed after %s: %s", result.Trigger, result.Duration.Round(time.Millisecond), result.Error)
	}
	fmt.Printf("Trigger %s: %d items in %s\n", result.Trigger, result.ItemsProcessed, result.Duration.Round(time.Millisecond))
	return nil
}
