package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the execution queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the queue snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		_, mgr, cleanup := openQueue()
		defer cleanup()

		status, err := mgr.Snapshot(ctx)
		if err != nil {
			fatalErr(err)
		}
		if jsonOutput {
			outputJSON(status)
			return
		}
		fmt.Printf("waiting %d  active %d  completed %d  failed %d\n",
			status.Waiting, status.Active, status.Completed, status.Failed)
		for _, job := range status.Jobs {
			fmt.Printf("  %-14s P%d %-9s attempts %d/%d  %s\n",
				job.StoryID, job.PriorityNumber, job.State,
				job.Attempts, job.MaxAttempts, ui.RenderMuted(job.LastError))
		}
	},
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <story-id>",
	Short: "Manually enqueue a story for execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		store, mgr, cleanup := openQueue()
		defer cleanup()

		story, err := store.GetStory(ctx, args[0])
		if err != nil {
			fatalErr(err)
		}
		jobID, err := mgr.Enqueue(ctx, story.ID, story.PriorityLevel, "manual", getActorWithGit())
		if err != nil {
			fatalErr(err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"job_id": jobID, "story_id": story.ID})
			return
		}
		fmt.Printf("%s enqueued %s as %s\n", ui.RenderPass(ui.IconPass), story.ID, jobID)
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <story-id>",
	Short: "Cancel a story's queued job before it is dispatched",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		_, mgr, cleanup := openQueue()
		defer cleanup()

		removed := mgr.Remove(ctx, args[0], getActorWithGit())
		if jsonOutput {
			outputJSON(map[string]bool{"removed": removed})
			return
		}
		if removed {
			fmt.Printf("%s removed queued job for %s\n", ui.RenderPass(ui.IconPass), args[0])
		} else {
			fmt.Printf("no cancellable job for %s (not queued, or already running)\n", args[0])
		}
	},
}

// openQueue bundles the store + manager setup shared by queue commands.
func openQueue() (store storage.Store, mgr *queue.Manager, cleanup func()) {
	ctx := getRootContext()
	s, err := openStore(ctx)
	if err != nil {
		fatalErr(err)
	}
	broker, err := openBroker()
	if err != nil {
		_ = s.Close()
		fatalErr(err)
	}
	m := queue.NewManager(s, broker)
	return s, m, func() {
		_ = m.Close()
		_ = s.Close()
	}
}

func init() {
	queueEnqueueCmd.Args = cobra.ExactArgs(1)
	queueRemoveCmd.Args = cobra.ExactArgs(1)
	queueCmd.AddCommand(queueStatusCmd, queueEnqueueCmd, queueRemoveCmd)
	rootCmd.AddCommand(queueCmd)
}
