// Package sandbox is a thin capability layer over the container runtime
// that backs a sandbox worker. The rest of the control plane depends only
// on the Driver interface defined here. DockerDriver is the production
// implementation and FakeDriver an in-memory one for tests; the Engine
// and Sentinel see only the interface.
package sandbox

import (
	"context"
	"io"
)

// NamePrefix is prepended to every sandbox created by the Engine, so the
// Sentinel can enumerate its own scope without disturbing unrelated
// containers on the host.
const NamePrefix = "icarus_"

// State is the coarse lifecycle state of a sandbox as reported by the
// runtime.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateExited  State = "exited"
	StateUnknown State = "unknown"
)

// MountSpec describes a single bind mount into the sandbox.
type MountSpec struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// CreateSpec is everything needed to create one sandbox.
type CreateSpec struct {
	Name        string
	Image       string
	CPULimit    float64 // fractional cores
	MemLimit    int64   // bytes
	Env         map[string]string
	Mounts      []MountSpec
	NetworkMode string
}

// Status is the result of inspecting a sandbox.
type Status struct {
	State    State
	ExitCode int
}

// Driver is the capability surface the Engine and Sentinel depend on. See
// spec §4.3 for the full contract each method must honor, in particular:
// Kill and Remove are idempotent (succeeding on an already-dead sandbox),
// and List only returns currently-live handles.
type Driver interface {
	Create(ctx context.Context, spec CreateSpec) (handle string, err error)
	Start(ctx context.Context, handle string) error
	Inspect(ctx context.Context, handle string) (Status, error)
	Pause(ctx context.Context, handle string) error
	Unpause(ctx context.Context, handle string) error
	Kill(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string) error
	List(ctx context.Context, namePrefix string) ([]string, error)
	TailLogs(ctx context.Context, handle string) (io.ReadCloser, error)
}

// ErrImageNotFound is returned by Create when the requested image is not
// available locally and could not be pulled.
var ErrImageNotFound = errorString("sandbox: image not found")

// ErrOutOfResources is returned by Create when the runtime refuses the
// requested resource limits.
var ErrOutOfResources = errorString("sandbox: out of resources")

// ErrNotFound is returned by operations addressing a handle the runtime
// has no record of.
var ErrNotFound = errorString("sandbox: not found")

// ErrStateInvalid is returned by Pause/Unpause when the sandbox is not in
// a state that supports the requested operation.
var ErrStateInvalid = errorString("sandbox: invalid state for operation")

type errorString string

func (e errorString) Error() string { return string(e) }
