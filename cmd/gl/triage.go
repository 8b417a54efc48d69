package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/greenlight/internal/intake"
	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/ui"
)

var triageCmd = &cobra.Command{
	Use:   "triage <findings-file-or-dir>",
	Short: "Ingest analyzer findings into scored, policy-gated stories",
	Long: `Reads findings (JSON array, object with priority signal, or JSONL),
scores them, creates stories, mirrors them to the configured tracker, and
enqueues auto_safe stories for execution.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()

		store, err := openStore(ctx)
		if err != nil {
			fatalErr(err)
		}
		defer func() { _ = store.Close() }()

		broker, err := openBroker()
		if err != nil {
			fatalErr(err)
		}
		mgr := queue.NewManager(store, broker)
		defer func() { _ = mgr.Close() }()

		bus := newBus()
		sync, err := newTrackerAdapter(store, bus)
		if err != nil {
			fatalErr(err)
		}

		pipeline := intake.NewPipeline(store, mgr, sync, bus)

		path := args[0]
		info, err := os.Stat(path)
		if err != nil {
			fatalErr(err)
		}

		var sum *intake.Summary
		if info.IsDir() {
			batch, errs := intake.LoadDir(path)
			for _, loadErr := range errs {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", loadErr)
			}
			sum, err = pipeline.Run(ctx, batch, getActorWithGit())
		} else {
			sum, err = pipeline.RunFile(ctx, path, getActorWithGit())
		}
		if err != nil {
			fatalErr(err)
		}

		if jsonOutput {
			outputJSON(sum)
			return
		}
		fmt.Printf("%s scored %d findings: %d stories created, %d duplicates skipped, %d enqueued\n",
			ui.RenderPass(ui.IconPass), sum.Scored, sum.Created, sum.Duplicates, sum.Enqueued)
	},
}

func init() {
	rootCmd.AddCommand(triageCmd)
}
