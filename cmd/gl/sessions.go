package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/greenlight/internal/agent"
	"github.com/steveyegge/greenlight/internal/types"
	"github.com/steveyegge/greenlight/internal/ui"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions <story-id>",
	Short: "Show the agent session tree for a story",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		store, err := openStore(ctx)
		if err != nil {
			fatalErr(err)
		}
		defer func() { _ = store.Close() }()

		sessions, err := agent.Tree(ctx, store, args[0])
		if err != nil {
			fatalErr(err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"story_id": args[0], "sessions": sessions})
			return
		}
		if len(sessions) == 0 {
			fmt.Printf("no sessions recorded for %s\n", args[0])
			return
		}

		depth := map[string]int{}
		for _, s := range sessions {
			d := 0
			if s.ParentID != "" {
				d = depth[s.ParentID] + 1
			}
			depth[s.ID] = d
			printSession(s, d)
		}
	},
}

func printSession(s *types.AgentSession, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += ui.TreeIndent
	}
	branch := ""
	if depth > 0 {
		branch = ui.TreeChild
	}

	status := ui.RenderPass("done")
	switch {
	case s.Error != "":
		status = ui.RenderFail("error")
	case s.EndedAt == nil:
		status = ui.RenderMuted("running")
	}

	dur := ""
	if s.EndedAt != nil {
		dur = s.EndedAt.Sub(s.StartedAt).Round(1e9).String()
	}
	fmt.Printf("%s%s%s  %-10s %s  in %d / out %d tokens  %s\n",
		indent, branch, s.ID, s.Role, status, s.InputTokens, s.OutputTokens, dur)
	if s.Error != "" {
		fmt.Printf("%s    %s\n", indent, ui.RenderMuted(ui.TruncateSimple(s.Error, 80)))
	}
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
