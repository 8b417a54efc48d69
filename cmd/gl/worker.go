package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/steveyegge/greenlight/internal/agent"
	"github.com/steveyegge/greenlight/internal/config"
	"github.com/steveyegge/greenlight/internal/git"
	"github.com/steveyegge/greenlight/internal/github"
	"github.com/steveyegge/greenlight/internal/intake"
	"github.com/steveyegge/greenlight/internal/lifecycle"
	"github.com/steveyegge/greenlight/internal/lockfile"
	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/telemetry"
	"github.com/steveyegge/greenlight/internal/worker"
)

var (
	workerSlotsFlag     int
	workerRepoFlag      string
	workerBranchFlag    string
	workerWatchFlag     string
	workerMaxTokensFlag int64
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run and inspect the execution worker",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker daemon until interrupted",
	Long: `Starts the execution pool: dequeues jobs, claims stories, runs the
agent in a disposable clone, pushes the branch, and opens a pull request.
Only one worker may run per data directory. With --watch, new findings
files dropped into the directory are triaged continuously.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()

		if err := telemetry.Init(ctx, "greenlight-worker", Version); err != nil {
			log.Printf("Warning: telemetry init failed: %v", err)
		}
		defer telemetry.Shutdown(ctx)

		glDir := config.FindDir()
		lock, err := lockfile.Acquire(glDir, lockfile.Info{
			Database: resolveDBPath(),
			Version:  Version,
		})
		if err != nil {
			if errors.Is(err, lockfile.ErrLockBusy) {
				fatalErr(err)
			}
			fatalErr(fmt.Errorf("acquiring worker lock: %w", err))
		}
		defer func() { _ = lock.Release() }()

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
		machine := lifecycle.New(store, mgr, bus)

		runner, err := agent.NewAnthropicRunner(agent.ConfigFromEnv(), agent.NewArena(store))
		if err != nil {
			fatalErr(fmt.Errorf("agent runner: %w (set ANTHROPIC_API_KEY)", err))
		}

		repoURL := workerRepoFlag
		if repoURL == "" {
			repoURL = config.GetString("git.repo-url")
		}
		if repoURL == "" {
			fatalErr(fmt.Errorf("no repository configured: pass --repo-url or set git.repo-url"))
		}
		baseBranch := workerBranchFlag
		if baseBranch == "" {
			baseBranch = config.GetString("git.base-branch")
		}

		var prs worker.PullRequester
		token := config.GetString("github.token")
		owner := config.GetString("github.owner")
		repo := config.GetString("github.repo")
		if token != "" && owner != "" && repo != "" {
			prs = github.NewClient(token, owner, repo)
		} else {
			log.Printf("Warning: github.token/owner/repo not configured, pushing branches without pull requests")
		}

		slots := workerSlotsFlag
		if slots <= 0 {
			slots = config.GetInt("worker.slots")
		}
		pool := worker.NewPool(worker.Config{
			Slots: slots,
			Actor: getActorWithGit(),
			Git: git.Config{
				RepoURL:      repoURL,
				BaseBranch:   baseBranch,
				BranchPrefix: config.GetString("git.branch-prefix"),
				Depth:        config.GetInt("git.depth"),
			},
			MaxTokens: workerMaxTokensFlag,
		}, worker.Deps{
			Store:     store,
			Queue:     mgr,
			Lifecycle: machine,
			Runner:    runner,
			Sync:      sync,
			PRs:       prs,
		})

		if workerWatchFlag != "" {
			pipeline := intake.NewPipeline(store, mgr, sync, bus)
			watcher := intake.NewWatcher(workerWatchFlag, func(path string) {
				sum, err := pipeline.RunFile(ctx, path, "intake-watcher")
				if err != nil {
					log.Printf("Warning: triage of %s failed: %v", path, err)
					return
				}
				log.Printf("triaged %s: %d created, %d enqueued", path, sum.Created, sum.Enqueued)
			})
			go func() {
				if err := watcher.Run(ctx); err != nil {
					log.Printf("Warning: intake watcher stopped: %v", err)
				}
			}()
			fmt.Printf("watching %s for findings drops\n", workerWatchFlag)
		}

		fmt.Printf("worker running with %d slots (ctrl-c to stop)\n", slots)
		if err := pool.Run(ctx); err != nil {
			fatalErr(err)
		}
		fmt.Println("worker stopped")
	},
}

var workerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a worker daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		glDir := config.FindDir()
		running, pid := lockfile.Holder(glDir)

		if jsonOutput {
			outputJSON(map[string]interface{}{"running": running, "pid": pid})
			return
		}
		if !running {
			fmt.Println("no worker running")
			return
		}
		fmt.Printf("worker running (pid %d)\n", pid)
		if info, err := lockfile.ReadInfo(glDir); err == nil && !info.StartedAt.IsZero() {
			fmt.Printf("  started %s, database %s\n",
				info.StartedAt.Local().Format("2006-01-02 15:04:05"), info.Database)
		}
	},
}

func init() {
	workerRunCmd.Flags().IntVar(&workerSlotsFlag, "slots", 0, "Concurrent execution slots (default from config, 2)")
	workerRunCmd.Flags().StringVar(&workerRepoFlag, "repo-url", "", "Repository clone URL (default from git.repo-url config)")
	workerRunCmd.Flags().StringVar(&workerBranchFlag, "base-branch", "", "Base branch to fork from (default from git.base-branch config)")
	workerRunCmd.Flags().StringVar(&workerWatchFlag, "watch", "", "Directory to watch for findings drops")
	workerRunCmd.Flags().Int64Var(&workerMaxTokensFlag, "max-tokens", 0, "Max tokens per agent turn (default 8192)")

	workerCmd.AddCommand(workerRunCmd, workerStatusCmd)
	rootCmd.AddCommand(workerCmd)
}
