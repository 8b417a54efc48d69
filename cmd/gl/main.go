// Command gl turns analyzer findings into prioritized, policy-gated
// stories and executes the safe ones through the agent worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/greenlight/internal/config"
	"github.com/steveyegge/greenlight/internal/ui"
)

var (
	dbPath     string
	actor      string
	jsonOutput bool

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// getActorWithGit resolves the actor for audit trails.
// Priority: --actor flag > GL_ACTOR env > git config user.name > $USER > "unknown".
func getActorWithGit() string {
	if actor != "" {
		return actor
	}
	if glActor := os.Getenv("GL_ACTOR"); glActor != "" {
		return glActor
	}
	if out, err := exec.Command("git", "config", "user.name").Output(); err == nil {
		if gitUser := strings.TrimSpace(string(out)); gitUser != "" {
			return gitUser
		}
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: auto-discover .greenlight/greenlight.db)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor name for audit trail (default: $GL_ACTOR, git user.name, $USER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format (agent mode)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "gl - Findings-to-stories triage and execution pipeline",
	Long: `greenlight converts analyzer findings into scored, policy-gated stories,
mirrors them to an issue tracker, and executes the safe ones through an
LLM agent that opens pull requests.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("gl version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()

		if jsonOutput || config.GetBool("json") {
			jsonOutput = true
			ui.SetAgentMode(true)
		}
		if dbPath == "" {
			dbPath = config.GetString("db")
		}
		if actor == "" {
			actor = config.GetString("actor")
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

// setupSignalContext wires SIGINT/SIGTERM into the root context so long
// commands (worker run, serve) shut down cleanly.
func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getRootContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
