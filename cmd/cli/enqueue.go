package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Whamp/pi-brain/internal/database"
	"github.com/Whamp/pi-brain/internal/queue"
	"github.com/Whamp/pi-brain/internal/watcher"
)

var (
	enqueueType     string
	enqueuePriority int
	enqueueSegStart int64
	enqueueSegEnd   int64
	enqueueNodeID   string
	enqueueReason   string
	enqueueForce    bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <session-file>",
	Short: "Enqueue an analysis job for a session file",
	Long: `Enqueue an analysis job. User-triggered jobs jump ahead of the
scheduler's work unless --priority overrides the default.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.Flags().StringVar(&enqueueType, "type", string(queue.TypeInitial), "job type: initial, reanalysis, connection_discovery")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", queue.PriorityUserTriggered, "priority (lower is served first)")
	enqueueCmd.Flags().Int64Var(&enqueueSegStart, "segment-start", 0, "segment start offset in the session file")
	enqueueCmd.Flags().Int64Var(&enqueueSegEnd, "segment-end", 0, "segment end offset in the session file")
	enqueueCmd.Flags().StringVar(&enqueueNodeID, "node-id", "", "existing node id (reanalysis) or target node id (connection discovery)")
	enqueueCmd.Flags().StringVar(&enqueueReason, "reason", "", "reason recorded in the job context")
	enqueueCmd.Flags().BoolVar(&enqueueForce, "force", false, "enqueue even if a job for this session is already pending or running")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sessionFile := args[0]

	if !watcher.IsSessionFile(sessionFile) {
		return fmt.Errorf("%s is not a .jsonl session log", sessionFile)
	}

	manager := queue.NewManager(database.DB(), logger, queue.Config{
		LeaseDuration: cfg.Queue.LeaseDuration,
		MaxRetries:    cfg.Retry.MaxRetries,
	})

	if !enqueueForce {
		exists, err := manager.HasExistingJob(ctx, sessionFile)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("a job for %s is already pending or running (use --force to enqueue anyway)", sessionFile)
		}
	}

	input := queue.EnqueueInput{
		Type:        queue.JobType(enqueueType),
		Priority:    enqueuePriority,
		SessionFile: sessionFile,
	}
	if enqueueSegStart > 0 || enqueueSegEnd > 0 {
		input.SegmentStart = &enqueueSegStart
		input.SegmentEnd = &enqueueSegEnd
	}
	switch input.Type {
	case queue.TypeReanalysis:
		input.Context.ExistingNodeID = enqueueNodeID
		input.Context.Reason = enqueueReason
	case queue.TypeConnectionDiscovery:
		input.Context.NodeID = enqueueNodeID
		input.Context.FindConnections = true
	}

	id, err := manager.Enqueue(ctx, input)
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued %s job %s for %s (priority %d)\n", input.Type, id, sessionFile, enqueuePriority)
	return nil
}
