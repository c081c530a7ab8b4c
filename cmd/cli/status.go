package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Whamp/pi-brain/internal/database"
	"github.com/Whamp/pi-brain/internal/nodes"
	"github.com/Whamp/pi-brain/internal/patterns"
	"github.com/Whamp/pi-brain/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show datastore health and content summary",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := database.Status(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	fmt.Println("Database: ok")

	manager := queue.NewManager(database.DB(), logger, queue.Config{})
	stats, err := manager.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Jobs: %d pending, %d running, %d completed, %d failed\n",
		stats.Pending, stats.Running, stats.Completed, stats.Failed)

	store := nodes.NewStore(database.DB(), logger, cfg.Scheduler.PromptVersion)
	count, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Nodes: %d\n", count)

	agg := patterns.NewAggregator(database.DB(), logger)
	top, err := agg.TopPatterns(ctx, "topic", 5)
	if err != nil {
		return err
	}
	if len(top) > 0 {
		fmt.Println("Top topics:")
		for label, n := range top {
			fmt.Printf("  %-20s %d\n", label, n)
		}
	}
	return nil
}
