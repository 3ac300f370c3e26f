// Package gitsync keeps project workspaces in sync with their Git remotes.
package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/coxswain-cd/coxswain/domain"
)

// Syncer clones a project's repository into its workspace on first use and
// fast-forwards it on every deployment after that. It implements the engine's
// workspace syncer contract.
type Syncer struct {
	timeout time.Duration
}

func NewSyncer(timeout time.Duration) *Syncer {
	return &Syncer{timeout: timeout}
}

// Sync brings the project workspace up to date and returns the checked-out
// commit hash.
func (s *Syncer) Sync(project domain.Project) (string, error) {
	if project.GitURL == "" {
		return "", fmt.Errorf("project %s has no git URL", project.Name)
	}
	if project.WorkingDir == "" {
		return "", fmt.Errorf("project %s has no working directory", project.Name)
	}

	if _, err := os.Stat(project.WorkingDir); os.IsNotExist(err) {
		if err := s.clone(project); err != nil {
			return "", err
		}
		return latestCommit(project.WorkingDir)
	}

	if err := s.update(project); err != nil {
		return "", err
	}
	return latestCommit(project.WorkingDir)
}

func (s *Syncer) clone(project domain.Project) error {
	slog.Info("Cloning repository",
		"git_url", project.GitURL,
		"git_branch", project.GitBranch,
		"working_dir", project.WorkingDir)

	ctx, cancel := s.syncContext()
	defer cancel()

	options := &git.CloneOptions{
		URL:          project.GitURL,
		SingleBranch: true,
	}
	if project.GitBranch != "" {
		options.ReferenceName = plumbing.NewBranchReferenceName(project.GitBranch)
	}

	if _, err := git.PlainCloneContext(ctx, project.WorkingDir, false, options); err != nil {
		slog.Error("Git operation failed",
			"layer", "gitsync",
			"operation", "git_clone",
			"git_url", project.GitURL,
			"working_dir", project.WorkingDir,
			"error", err)
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	return nil
}

// update fetches the remote branch and checks it out hard, so force-pushes are
// handled the same as fast-forwards.
func (s *Syncer) update(project domain.Project) error {
	branch := project.GitBranch
	if branch == "" {
		return fmt.Errorf("project %s: git branch is required to update an existing workspace", project.Name)
	}

	repo, err := git.PlainOpen(project.WorkingDir)
	if err != nil {
		return fmt.Errorf("failed to open workspace repository: %w", err)
	}

	ctx, cancel := s.syncContext()
	defer cancel()

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch)),
		},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		slog.Error("Git operation failed",
			"layer", "gitsync",
			"operation", "git_fetch",
			"git_branch", branch,
			"working_dir", project.WorkingDir,
			"error", err)
		return fmt.Errorf("failed to fetch changes: %w", err)
	}

	remoteRef := plumbing.ReferenceName(fmt.Sprintf("refs/remotes/origin/%s", branch))
	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		return fmt.Errorf("failed to resolve remote reference %s: %w", remoteRef, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return err
	}

	current, err := latestCommit(project.WorkingDir)
	if err == nil && current == ref.Hash().String() {
		slog.Debug("Workspace already up to date",
			"git_branch", branch,
			"working_dir", project.WorkingDir)
		return nil
	}

	// Keep untracked files; build artifacts may live next to the checkout.
	err = worktree.Checkout(&git.CheckoutOptions{
		Hash: ref.Hash(),
		Keep: true,
	})
	if err != nil {
		slog.Error("Git operation failed",
			"layer", "gitsync",
			"operation", "git_checkout",
			"git_branch", branch,
			"working_dir", project.WorkingDir,
			"target_commit", ref.Hash().String(),
			"error", err)
		return fmt.Errorf("failed to check out %s: %w", ref.Hash().String(), err)
	}

	slog.Info("Workspace updated",
		"git_branch", branch,
		"working_dir", project.WorkingDir,
		"commit", ref.Hash().String())
	return nil
}

func (s *Syncer) syncContext() (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.timeout)
}

func latestCommit(workingDir string) (string, error) {
	repo, err := git.PlainOpen(workingDir)
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}
