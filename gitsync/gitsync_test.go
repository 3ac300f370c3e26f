package gitsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coxswain-cd/coxswain/domain"
)

// initOriginRepo creates a local repository with one commit on master and
// returns its path and head commit hash.
func initOriginRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	hash := commitFile(t, repo, dir, "README.md", "hello\n")
	return dir, hash
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	worktree, err := repo.Worktree()
	require.NoError(t, err)
	_, err = worktree.Add(name)
	require.NoError(t, err)

	hash, err := worktree.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestSyncer_Sync_ClonesFreshWorkspace(t *testing.T) {
	origin, head := initOriginRepo(t)
	workspace := filepath.Join(t.TempDir(), "web-app")

	syncer := NewSyncer(time.Minute)
	project := domain.Project{
		Name:       "web-app",
		GitURL:     origin,
		GitBranch:  "master",
		WorkingDir: workspace,
	}

	commit, err := syncer.Sync(project)

	require.NoError(t, err)
	assert.Equal(t, head, commit)
	assert.FileExists(t, filepath.Join(workspace, "README.md"))
}

func TestSyncer_Sync_UpdatesExistingWorkspace(t *testing.T) {
	origin, _ := initOriginRepo(t)
	workspace := filepath.Join(t.TempDir(), "web-app")

	syncer := NewSyncer(time.Minute)
	project := domain.Project{
		Name:       "web-app",
		GitURL:     origin,
		GitBranch:  "master",
		WorkingDir: workspace,
	}

	_, err := syncer.Sync(project)
	require.NoError(t, err)

	// Advance the origin and sync again.
	originRepo, err := git.PlainOpen(origin)
	require.NoError(t, err)
	newHead := commitFile(t, originRepo, origin, "CHANGELOG.md", "v2\n")

	commit, err := syncer.Sync(project)

	require.NoError(t, err)
	assert.Equal(t, newHead, commit)
	assert.FileExists(t, filepath.Join(workspace, "CHANGELOG.md"))
}

func TestSyncer_Sync_KeepsUntrackedFiles(t *testing.T) {
	origin, _ := initOriginRepo(t)
	workspace := filepath.Join(t.TempDir(), "web-app")

	syncer := NewSyncer(time.Minute)
	project := domain.Project{
		Name:       "web-app",
		GitURL:     origin,
		GitBranch:  "master",
		WorkingDir: workspace,
	}

	_, err := syncer.Sync(project)
	require.NoError(t, err)

	artifact := filepath.Join(workspace, "build.out")
	require.NoError(t, os.WriteFile(artifact, []byte("binary"), 0o644))

	originRepo, err := git.PlainOpen(origin)
	require.NoError(t, err)
	commitFile(t, originRepo, origin, "CHANGELOG.md", "v2\n")

	_, err = syncer.Sync(project)

	require.NoError(t, err)
	assert.FileExists(t, artifact)
}

func TestSyncer_Sync_MissingGitURL(t *testing.T) {
	syncer := NewSyncer(time.Minute)

	_, err := syncer.Sync(domain.Project{Name: "web-app", WorkingDir: t.TempDir()})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no git URL")
}

func TestSyncer_Sync_InvalidURL(t *testing.T) {
	syncer := NewSyncer(time.Minute)
	project := domain.Project{
		Name:       "web-app",
		GitURL:     "not-a-real-url",
		GitBranch:  "master",
		WorkingDir: filepath.Join(t.TempDir(), "web-app"),
	}

	_, err := syncer.Sync(project)
	assert.Error(t, err)
}
