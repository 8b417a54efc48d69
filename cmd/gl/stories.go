package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/steveyegge/greenlight/internal/dashboard"
	"github.com/steveyegge/greenlight/internal/lifecycle"
	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/timeparsing"
	"github.com/steveyegge/greenlight/internal/types"
	"github.com/steveyegge/greenlight/internal/ui"
)

var (
	storyStatusFlag   string
	storyProjectFlag  string
	storyPriorityFlag string
	storyPolicyFlag   string
	storySinceFlag    string
	storyLimitFlag    int
	storyFullFlag     bool
	storyYesFlag      bool
	rejectReasonFlag  string
)

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "List, inspect, approve, and reject stories",
}

var storiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stories matching the given filters",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		store, err := openStore(ctx)
		if err != nil {
			fatalErr(err)
		}
		defer func() { _ = store.Close() }()

		filter := types.StoryFilter{
			Status:    types.StoryStatus(storyStatusFlag),
			ProjectID: storyProjectFlag,
			Priority:  types.Priority(storyPriorityFlag),
			Policy:    types.Policy(storyPolicyFlag),
			Limit:     storyLimitFlag,
		}
		if filter.Status != "" && !filter.Status.IsValid() {
			fatalErr(fmt.Errorf("invalid status %q", storyStatusFlag))
		}
		if storySinceFlag != "" {
			t, err := timeparsing.Parse(storySinceFlag, time.Now())
			if err != nil {
				fatalErr(fmt.Errorf("invalid --since: %w", err))
			}
			filter.Since = &t
		}

		stories, err := dashboard.NewQueries(store, nil).Stories(ctx, filter)
		if err != nil {
			fatalErr(err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"stories": stories, "count": len(stories)})
			return
		}
		if len(stories) == 0 {
			fmt.Println("No stories match.")
			return
		}
		for _, s := range stories {
			score := fmt.Sprintf("%3d", s.PriorityScore)
			fmt.Printf("%-14s %-12s %s %s [%s] %s\n",
				s.ID, ui.RenderStatus(string(s.Status)), s.PriorityLevel, score,
				s.Policy, ui.TruncateSimple(s.Title, 60))
		}
		fmt.Printf("\n%d stories\n", len(stories))
	},
}

var storiesShowCmd = &cobra.Command{
	Use:   "show <story-id>",
	Short: "Show one story with its scoring rationale and audit trail",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		store, err := openStore(ctx)
		if err != nil {
			fatalErr(err)
		}
		defer func() { _ = store.Close() }()

		story, events, err := dashboard.NewQueries(store, nil).Story(ctx, args[0], 20)
		if err != nil {
			fatalErr(err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"story": story, "events": events})
			return
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%s %s\n", ui.RenderCategory("story"), story.ID)
		fmt.Fprintf(&b, "  Title:    %s\n", story.Title)
		fmt.Fprintf(&b, "  Project:  %s\n", story.ProjectID)
		fmt.Fprintf(&b, "  Status:   %s\n", ui.RenderStatus(string(story.Status)))
		fmt.Fprintf(&b, "  Priority: %s (score %d, %s)\n", story.PriorityLevel, story.PriorityScore, story.Priority)
		fmt.Fprintf(&b, "  Policy:   %s\n", story.Policy)
		if story.SourceAgent != "" {
			fmt.Fprintf(&b, "  Agent:    %s\n", story.SourceAgent)
		}
		if story.ExternalIssueURL != nil {
			fmt.Fprintf(&b, "  Tracker:  %s\n", *story.ExternalIssueURL)
		}
		if story.PRURL != nil {
			fmt.Fprintf(&b, "  PR:       %s\n", *story.PRURL)
		}
		if story.ErrorText != "" {
			fmt.Fprintf(&b, "  Error:    %s\n", ui.RenderFail(story.ErrorText))
		}
		if story.Rationale != "" {
			rationale := story.Rationale
			if !storyFullFlag {
				rationale = ui.TruncateLines(rationale, ui.DefaultMaxLines, ui.DefaultContextLines)
			}
			fmt.Fprintf(&b, "\n%s\n%s\n", ui.RenderCategory("rationale"), ui.RenderMarkdown(rationale))
		}
		if len(events) > 0 {
			fmt.Fprintf(&b, "\n%s\n", ui.RenderCategory("events"))
			for _, e := range events {
				detail := ""
				if e.Detail != "" {
					detail = "  " + ui.RenderMuted(ui.TruncateSimple(e.Detail, 70))
				}
				fmt.Fprintf(&b, "  %s  %-18s %s%s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Kind, e.Actor, detail)
			}
		}
		_ = ui.ToPager(b.String(), ui.PagerOptions{})
	},
}

var storiesApproveCmd = &cobra.Command{
	Use:   "approve <story-id>",
	Short: "Approve a story for execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		store, err := openStore(ctx)
		if err != nil {
			fatalErr(err)
		}
		defer func() { _ = store.Close() }()

		story, err := store.GetStory(ctx, args[0])
		if err != nil {
			fatalErr(err)
		}
		if !confirm(fmt.Sprintf("Approve %q for execution?", ui.TruncateSimple(story.Title, 60))) {
			fmt.Println("Aborted.")
			return
		}

		machine := lifecycle.New(store, nil, newBus())
		updated, err := machine.Approve(ctx, args[0], getActorWithGit())
		if err != nil {
			fatalErr(err)
		}
		if jsonOutput {
			outputJSON(updated)
			return
		}
		fmt.Printf("%s %s approved\n", ui.RenderPass(ui.IconPass), updated.ID)
	},
}

var storiesRejectCmd = &cobra.Command{
	Use:   "reject <story-id>",
	Short: "Reject a story and cancel any queued execution",
	Args:  cobra.ExactArgs(1),
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

		story, err := store.GetStory(ctx, args[0])
		if err != nil {
			fatalErr(err)
		}
		if !confirm(fmt.Sprintf("Reject %q?", ui.TruncateSimple(story.Title, 60))) {
			fmt.Println("Aborted.")
			return
		}

		machine := lifecycle.New(store, mgr, newBus())
		updated, err := machine.Reject(ctx, args[0], getActorWithGit(), rejectReasonFlag)
		if err != nil {
			fatalErr(err)
		}
		if jsonOutput {
			outputJSON(updated)
			return
		}
		fmt.Printf("%s %s rejected\n", ui.RenderFail(ui.IconFail), updated.ID)
	},
}

// confirm prompts interactively unless --yes was passed or output is in
// agent mode, where prompting would hang the caller.
func confirm(title string) bool {
	if storyYesFlag || ui.IsAgentMode() {
		return true
	}
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(title).Value(&ok),
	)).Run()
	if err != nil {
		return false
	}
	return ok
}

func init() {
	storiesListCmd.Flags().StringVar(&storyStatusFlag, "status", "", "Filter by status (pending|approved|in_progress|completed|failed|rejected)")
	storiesListCmd.Flags().StringVar(&storyProjectFlag, "project", "", "Filter by project ID")
	storiesListCmd.Flags().StringVar(&storyPriorityFlag, "priority", "", "Filter by coarse priority (high|medium|low)")
	storiesListCmd.Flags().StringVar(&storyPolicyFlag, "policy", "", "Filter by policy (auto_safe|approval_required|suggest_only)")
	storiesListCmd.Flags().StringVar(&storySinceFlag, "since", "", "Only stories created since (e.g. -1d, 2025-06-01, \"last monday\")")
	storiesListCmd.Flags().IntVar(&storyLimitFlag, "limit", 0, "Maximum number of stories")

	storiesShowCmd.Flags().BoolVar(&storyFullFlag, "full", false, "Show the full rationale without truncation")

	storiesApproveCmd.Flags().BoolVarP(&storyYesFlag, "yes", "y", false, "Skip the confirmation prompt")
	storiesRejectCmd.Flags().BoolVarP(&storyYesFlag, "yes", "y", false, "Skip the confirmation prompt")
	storiesRejectCmd.Flags().StringVar(&rejectReasonFlag, "reason", "", "Rejection reason for the audit trail")

	storiesCmd.AddCommand(storiesListCmd, storiesShowCmd, storiesApproveCmd, storiesRejectCmd)
	rootCmd.AddCommand(storiesCmd)
}
