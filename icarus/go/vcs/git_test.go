package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jacob-bach/Icarus/icarus/go/store"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init")
	run("config", "user.email", "icarus@example.com")
	run("config", "user.name", "icarus")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	return dir
}

func TestCommitAddsAndCommits(t *testing.T) {
	requireGit(t)
	workspace := initRepo(t)

	g := NewGitCommitter()
	// job.ProjectPath is the original project the workspace was seeded
	// from; Commit operates on workspace, the mounted/seeded directory,
	// not on ProjectPath.
	job := &store.Job{Task: "add readme", ProjectPath: "/not/mounted/anywhere"}

	err := g.Commit(context.Background(), job, workspace)
	// No "origin" remote exists in this throwaway repo, so the push leg
	// is expected to fail -- this test only exercises add+commit.
	require.Error(t, err)

	cmd := exec.Command("git", "log", "--oneline")
	cmd.Dir = workspace
	out, logErr := cmd.Output()
	require.NoError(t, logErr)
	require.Contains(t, string(out), "icarus: add readme")
}
