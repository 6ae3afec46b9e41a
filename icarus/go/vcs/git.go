// Package vcs provides the default implementation of engine.Committer:
// a thin wrapper around the system git binary, in the same
// shell-out-and-wrap-stderr style the teacher uses for adb/ssh.
package vcs

import (
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/Jacob-bach/Icarus/icarus/go/store"
)

const commandTimeout = 2 * time.Minute

// GitCommitter commits and pushes a job's workspace once it has been
// approved. It is the one point where the control plane talks to the
// external version-control remote (spec.md §1's "filesystem and Git MCP
// shims" collaborator).
type GitCommitter struct {
	RemoteName string
	Branch     string
}

// NewGitCommitter returns a GitCommitter that pushes to "origin" on
// "main" unless overridden.
func NewGitCommitter() *GitCommitter {
	return &GitCommitter{RemoteName: "origin", Branch: "main"}
}

// Commit implements engine.Committer. workspacePath is the per-job
// directory that was mounted at /workspace for both sandbox phases --
// the commit runs there, not against job.ProjectPath, so it always
// covers exactly what the builder and checker saw and wrote.
func (g *GitCommitter) Commit(ctx context.Context, job *store.Job, workspacePath string) error {
	message := "icarus: " + job.Task

	if _, err := g.run(ctx, workspacePath, "add", "-A"); err != nil {
		return errors.Wrapf(err, "git add in %s", workspacePath)
	}
	if _, err := g.run(ctx, workspacePath, "commit", "-m", message); err != nil {
		return errors.Wrapf(err, "git commit in %s", workspacePath)
	}
	remote := g.RemoteName
	if remote == "" {
		remote = "origin"
	}
	branch := g.Branch
	if branch == "" {
		branch = "main"
	}
	if _, err := g.run(ctx, workspacePath, "push", remote, branch); err != nil {
		return errors.Wrapf(err, "git push in %s", workspacePath)
	}
	return nil
}

func (g *GitCommitter) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", errors.Wrapf(err, "git %v: %s", args, ee.Stderr)
		}
		return "", err
	}
	return string(out), nil
}

var _ interface {
	Commit(ctx context.Context, job *store.Job, workspacePath string) error
} = (*GitCommitter)(nil)
