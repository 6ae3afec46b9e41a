package engine

import (
	"context"
	"time"

	"github.com/Jacob-bach/Icarus/icarus/go/store"
)

// Phase is one of the two sandboxed execution phases a job passes through.
type Phase string

const (
	PhaseBuild Phase = "build"
	PhaseCheck Phase = "check"
)

// AgentConfig holds the sandbox-creation parameters for one agent type
// (builder or checker), loaded from `agents.<type>` in the config file.
type AgentConfig struct {
	ImageName   string
	CPULimit    float64
	MemLimit    int64
	Timeout     time.Duration
	NetworkMode string
}

// WorkspaceConfig controls where per-job workspace directories live.
type WorkspaceConfig struct {
	BasePath  string
	MountType string
}

// Config is the Job Engine's full set of tunables, assembled from the
// `orchestrator`, `agents`, and `workspace` sections of the config file.
type Config struct {
	MaxConcurrentJobs   int
	JobTimeout          time.Duration
	BroadcastBufferSize int
	SpawnConcurrency    int
	Builder             AgentConfig
	Checker             AgentConfig
	Workspace           WorkspaceConfig
	// CallbackBaseURL is the externally-reachable scheme://host:port a
	// sandboxed worker uses to reach this process; ORCHESTRATOR_CALLBACK
	// is built by appending "/jobs/<id>/callback" to it.
	CallbackBaseURL string
}

// Committer performs the approval gate's commit side effect against the
// external version-control remote. workspacePath is the same per-job
// directory that was mounted at /workspace for the build and check
// phases, so the commit always covers exactly what the worker wrote.
// The core depends only on this narrow interface; the filesystem/Git MCP
// shims themselves are out of scope (spec §1).
type Committer interface {
	Commit(ctx context.Context, job *store.Job, workspacePath string) error
}

// ErrConflict is returned when a caller requests a transition that is
// illegal from the job's current status.
type ErrConflict struct {
	JobID  string
	Status store.Status
	Op     string
}

func (e *ErrConflict) Error() string {
	return "engine: cannot " + e.Op + " job " + e.JobID + " in status " + string(e.Status)
}

// ErrNotFound is returned when an operation names a job the Engine has no
// record of, active or persisted.
type ErrNotFound struct {
	JobID string
}

func (e *ErrNotFound) Error() string {
	return "engine: job not found: " + e.JobID
}

// ErrValidation is returned for a malformed submission.
type ErrValidation struct {
	Reason string
}

func (e *ErrValidation) Error() string {
	return "engine: validation failed: " + e.Reason
}
