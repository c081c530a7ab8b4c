package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Whamp/pi-brain/internal/database"
	"github.com/Whamp/pi-brain/internal/queue"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	manager := queue.NewManager(database.DB(), logger, queue.Config{})

	stats, err := manager.Stats(ctx)
	if err != nil {
		return err
	}
	daily, err := manager.DailyStats(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Queue:")
	fmt.Printf("  pending:    %d\n", stats.Pending)
	fmt.Printf("  running:    %d\n", stats.Running)
	fmt.Printf("  completed:  %d\n", stats.Completed)
	fmt.Printf("  failed:     %d\n", stats.Failed)
	if stats.AvgDurationSeconds > 0 {
		fmt.Printf("  avg run:    %s\n", (time.Duration(stats.AvgDurationSeconds * float64(time.Second))).Round(time.Second))
	}
	fmt.Println("Today (UTC):")
	fmt.Printf("  completed:  %d\n", daily.Completed)
	fmt.Printf("  failed:     %d\n", daily.Failed)
	return nil
}
