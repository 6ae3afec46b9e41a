package sandbox

import (
	"context"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DockerDriver implements Driver against a local Docker Engine.
type DockerDriver struct {
	cli *client.Client
	log *zap.SugaredLogger
}

// NewDockerDriver connects to the Docker Engine using the standard
// DOCKER_HOST/DOCKER_CERT_PATH environment, matching the `docker` CLI's
// own resolution rules.
func NewDockerDriver(log *zap.SugaredLogger) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "connecting to docker engine")
	}
	return &DockerDriver{cli: cli, log: log}, nil
}

// Create pulls the image if necessary and creates (but does not start) a
// new container with the given resource limits, env, and mounts.
func (d *DockerDriver) Create(ctx context.Context, spec CreateSpec) (string, error) {
	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return "", err
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	binds := make([]string, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, m.HostPath+":"+m.ContainerPath+":"+mode)
	}

	resources := container.Resources{
		Memory: spec.MemLimit,
	}
	if spec.CPULimit > 0 {
		resources.NanoCPUs = int64(spec.CPULimit * 1e9)
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image: spec.Image,
			Env:   env,
			Labels: map[string]string{
				"icarus.managed": "true",
			},
		},
		&container.HostConfig{
			Resources:   resources,
			Binds:       binds,
			NetworkMode: container.NetworkMode(spec.NetworkMode),
			AutoRemove:  false,
		},
		nil, nil, spec.Name,
	)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", errors.Wrapf(ErrImageNotFound, "image %q: %s", spec.Image, err)
		}
		if errdefs.IsForbidden(err) || errdefs.IsResourceExhausted(err) {
			return "", errors.Wrapf(ErrOutOfResources, "%s", err)
		}
		return "", errors.Wrapf(err, "creating sandbox %q", spec.Name)
	}
	return resp.ID, nil
}

func (d *DockerDriver) ensureImage(ctx context.Context, ref string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return errors.Wrapf(err, "inspecting image %q", ref)
	}
	d.log.Infof("pulling sandbox image %q", ref)
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(ErrImageNotFound, "pulling %q: %s", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return errors.Wrapf(err, "reading pull response for %q", ref)
}

// Start starts a previously created container.
func (d *DockerDriver) Start(ctx context.Context, handle string) error {
	err := d.cli.ContainerStart(ctx, handle, container.StartOptions{})
	return wrapNotFound(err, "starting sandbox %s", handle)
}

// Inspect reports the current runtime state of a sandbox.
func (d *DockerDriver) Inspect(ctx context.Context, handle string) (Status, error) {
	info, err := d.cli.ContainerInspect(ctx, handle)
	if err != nil {
		return Status{State: StateUnknown}, wrapNotFound(err, "inspecting sandbox %s", handle)
	}
	if info.State == nil {
		return Status{State: StateUnknown}, nil
	}
	switch {
	case info.State.Paused:
		return Status{State: StatePaused, ExitCode: info.State.ExitCode}, nil
	case info.State.Running:
		return Status{State: StateRunning, ExitCode: info.State.ExitCode}, nil
	default:
		return Status{State: StateExited, ExitCode: info.State.ExitCode}, nil
	}
}

// Pause suspends a running sandbox so it makes no further progress.
func (d *DockerDriver) Pause(ctx context.Context, handle string) error {
	err := d.cli.ContainerPause(ctx, handle)
	return wrapStateInvalid(wrapNotFound(err, "pausing sandbox %s", handle))
}

// Unpause resumes a previously paused sandbox.
func (d *DockerDriver) Unpause(ctx context.Context, handle string) error {
	err := d.cli.ContainerUnpause(ctx, handle)
	return wrapStateInvalid(wrapNotFound(err, "unpausing sandbox %s", handle))
}

// Kill terminates a sandbox. Killing an already-dead or already-removed
// sandbox is treated as success, per spec.
func (d *DockerDriver) Kill(ctx context.Context, handle string) error {
	err := d.cli.ContainerKill(ctx, handle, "SIGKILL")
	if err == nil || errdefs.IsNotFound(err) || isNotRunning(err) {
		return nil
	}
	return errors.Wrapf(err, "killing sandbox %s", handle)
}

// Remove deletes a sandbox's container. Removing an already-gone sandbox
// is treated as success.
func (d *DockerDriver) Remove(ctx context.Context, handle string) error {
	err := d.cli.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true})
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	return errors.Wrapf(err, "removing sandbox %s", handle)
}

// List returns the handles of every currently-live container whose name
// starts with namePrefix.
func (d *DockerDriver) List(ctx context.Context, namePrefix string) ([]string, error) {
	f := filters.NewArgs(filters.Arg("name", namePrefix))
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return nil, errors.Wrap(err, "listing sandboxes")
	}
	// Docker's name filter matches anywhere in the name, so keep only
	// containers whose name actually begins with namePrefix.
	handles := make([]string, 0, len(containers))
	for _, c := range containers {
		for _, name := range c.Names {
			if strings.HasPrefix(strings.TrimPrefix(name, "/"), namePrefix) {
				handles = append(handles, c.ID)
				break
			}
		}
	}
	return handles, nil
}

// TailLogs returns a live-following reader over the sandbox's combined
// stdout/stderr. The caller must Close it; it is closed automatically
// when the sandbox exits.
func (d *DockerDriver) TailLogs(ctx context.Context, handle string) (io.ReadCloser, error) {
	rc, err := d.cli.ContainerLogs(ctx, handle, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "0",
	})
	return rc, wrapNotFound(err, "tailing logs for sandbox %s", handle)
}

func wrapNotFound(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) {
		return errors.Wrapf(ErrNotFound, format+": %s", append(args, err)...)
	}
	return errors.Wrapf(err, format, args...)
}

func wrapStateInvalid(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "is not running") || strings.Contains(err.Error(), "is not paused") {
		return errors.Wrapf(ErrStateInvalid, "%s", err)
	}
	return err
}

func isNotRunning(err error) bool {
	return err != nil && strings.Contains(err.Error(), "is not running")
}

var _ Driver = (*DockerDriver)(nil)
