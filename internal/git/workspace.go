// Package git manages scoped working copies for story execution. Each
// execution clones the target repository into a fresh temp directory on
// its own branch; the workspace is removed on every exit path so failed
// runs leave nothing behind.
package git

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultBranchPrefix is prepended to story IDs to form branch names.
const DefaultBranchPrefix = "greenlight"

// Config describes where and how to clone.
type Config struct {
	// RepoURL is the clone URL (https or ssh). Required.
	RepoURL string

	// BaseBranch is the branch to fork from. Empty means the remote
	// default branch.
	BaseBranch string

	// BranchPrefix namespaces execution branches. Empty means
	// DefaultBranchPrefix.
	BranchPrefix string

	// Depth limits clone history. Zero means a full clone.
	Depth int
}

// Workspace is one prepared working copy.
type Workspace struct {
	// Root is the temp directory owning the clone. Cleanup removes it.
	Root string

	// Dir is the repository checkout inside Root.
	Dir string

	// Branch is the execution branch checked out in Dir.
	Branch string
}

// BranchName builds the execution branch for a story,
// e.g. "greenlight/story-x7k2m9q".
func BranchName(prefix, storyID string) string {
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return prefix + "/" + storyID
}

// Prepare clones the repository into a fresh temp directory and checks
// out a new branch for the story. On any error the partial workspace is
// removed before returning.
func Prepare(ctx context.Context, cfg Config, storyID string) (*Workspace, error) {
	if cfg.RepoURL == "" {
		return nil, fmt.Errorf("repo URL is required")
	}

	root, err := os.MkdirTemp("", "gl-ws-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}

	w := &Workspace{
		Root:   root,
		Dir:    filepath.Join(root, "repo"),
		Branch: BranchName(cfg.BranchPrefix, storyID),
	}

	args := []string{"clone"}
	if cfg.Depth > 0 {
		args = append(args, "--depth", fmt.Sprintf("%d", cfg.Depth))
	}
	if cfg.BaseBranch != "" {
		args = append(args, "--branch", cfg.BaseBranch)
	}
	args = append(args, cfg.RepoURL, w.Dir)

	if _, err := runGit(ctx, root, args...); err != nil {
		w.Cleanup()
		return nil, fmt.Errorf("clone failed: %w", err)
	}
	if _, err := w.run(ctx, "checkout", "-b", w.Branch); err != nil {
		w.Cleanup()
		return nil, fmt.Errorf("failed to create branch %s: %w", w.Branch, err)
	}

	return w, nil
}

// run executes git inside the checkout.
func (w *Workspace) run(ctx context.Context, args ...string) (string, error) {
	return runGit(ctx, w.Dir, args...)
}

// runGit executes git in dir and returns trimmed combined output. Errors
// carry the output since git writes diagnostics to stderr.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("git %s: %w: %s", args[0], err, text)
	}
	return text, nil
}

// HasChanges reports whether the working tree differs from HEAD.
func (w *Workspace) HasChanges(ctx context.Context) (bool, error) {
	out, err := w.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CommitAll stages everything and commits with the given message. Hooks
// are skipped: the execution branch is reviewed through a pull request,
// not local hooks.
func (w *Workspace) CommitAll(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("commit message is required")
	}
	if _, err := w.run(ctx, "add", "-A"); err != nil {
		return err
	}
	if _, err := w.run(ctx, "commit", "--no-verify", "-m", message); err != nil {
		return err
	}
	return nil
}

// Push publishes the execution branch to origin.
func (w *Workspace) Push(ctx context.Context) error {
	_, err := w.run(ctx, "push", "--set-upstream", "origin", w.Branch)
	return err
}

// Head returns the current commit hash.
func (w *Workspace) Head(ctx context.Context) (string, error) {
	return w.run(ctx, "rev-parse", "HEAD")
}

// Cleanup removes the workspace directory. Safe to call multiple times
// and on partially-constructed workspaces; intended for defer.
func (w *Workspace) Cleanup() {
	if w == nil || w.Root == "" {
		return
	}
	if err := os.RemoveAll(w.Root); err != nil {
		log.Printf("Warning: failed to remove workspace %s: %v", w.Root, err)
	}
	w.Root = ""
}

// UserName returns the configured git user.name, or "" when unset.
// Used for actor resolution in the CLI.
func UserName(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "git", "config", "user.name").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
