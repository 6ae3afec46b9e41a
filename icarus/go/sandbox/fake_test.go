package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeDriverLifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()

	handle, err := d.Create(ctx, CreateSpec{Name: NamePrefix + "job-1_build", Image: "icarus/builder"})
	require.NoError(t, err)

	_, err = d.Inspect(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Start(ctx, handle))
	status, err := d.Inspect(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)

	handles, err := d.List(ctx, NamePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{handle}, handles)

	require.NoError(t, d.Pause(ctx, handle))
	status, err = d.Inspect(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, status.State)

	err = d.Pause(ctx, handle)
	assert.ErrorIs(t, err, ErrStateInvalid)

	require.NoError(t, d.Unpause(ctx, handle))

	require.NoError(t, d.Kill(ctx, handle))
	// Killing twice is idempotent.
	require.NoError(t, d.Kill(ctx, handle))

	require.NoError(t, d.Remove(ctx, handle))
	// Removing twice is idempotent.
	require.NoError(t, d.Remove(ctx, handle))
}

func TestFakeDriverCreateHook(t *testing.T) {
	ctx := context.Background()
	d := NewFakeDriver()
	d.CreateHook = func(spec CreateSpec) error {
		return ErrImageNotFound
	}

	_, err := d.Create(ctx, CreateSpec{Image: "missing"})
	assert.ErrorIs(t, err, ErrImageNotFound)
}
