package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Whamp/pi-brain/internal/database"
	"github.com/Whamp/pi-brain/internal/queue"
)

var failuresLimit int

var failuresCmd = &cobra.Command{
	Use:   "recent-failures",
	Short: "List recently failed jobs with their stored errors",
	RunE:  runFailures,
}

func init() {
	rootCmd.AddCommand(failuresCmd)

	failuresCmd.Flags().IntVar(&failuresLimit, "limit", 20, "maximum failures to list")
}

func runFailures(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	manager := queue.NewManager(database.DB(), logger, queue.Config{})

	failures, err := manager.RecentFailures(ctx, failuresLimit)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Println("No failed jobs")
		return nil
	}

	for _, f := range failures {
		fmt.Printf("%s  %-22s %s\n", f.CompletedAt.Format("2006-01-02 15:04:05"), f.Type, f.JobID)
		fmt.Printf("    session: %s\n", f.SessionFile)
		fmt.Printf("    [%s] %s\n", f.Error.Category, f.Error.Message)
	}
	return nil
}
