package sentinel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jacob-bach/Icarus/icarus/go/sandbox"
)

func TestLevelFor(t *testing.T) {
	assert.Equal(t, Green, levelFor(10, 20, 80, 90))
	assert.Equal(t, Yellow, levelFor(80, 20, 80, 90), "exactly at yellow threshold is YELLOW")
	assert.Equal(t, Yellow, levelFor(89.9, 20, 80, 90))
	assert.Equal(t, Red, levelFor(90, 20, 80, 90), "exactly at red threshold is RED")
	assert.Equal(t, Red, levelFor(20, 95, 80, 90), "ram alone can trigger RED")
}

func TestEnterAndLeaveRedPausesAndResumes(t *testing.T) {
	ctx := context.Background()
	driver := sandbox.NewFakeDriver()
	handle, err := driver.Create(ctx, sandbox.CreateSpec{Name: sandbox.NamePrefix + "job-1_build"})
	require.NoError(t, err)
	require.NoError(t, driver.Start(ctx, handle))

	var levels []Level
	s := New(driver, Config{Enabled: true, YellowThreshold: 80, RedThreshold: 90}, func(l Level) {
		levels = append(levels, l)
	}, zap.NewNop().Sugar())

	s.enterRed(ctx)
	assert.Equal(t, 1, s.PausedCount())
	status, err := driver.Inspect(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatePaused, status.State)

	s.leaveRed(ctx)
	assert.Equal(t, 0, s.PausedCount())
	status, err = driver.Inspect(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, sandbox.StateRunning, status.State)
}

func TestDisabledSentinelStaysGreen(t *testing.T) {
	driver := sandbox.NewFakeDriver()
	s := New(driver, Config{Enabled: false}, nil, zap.NewNop().Sugar())
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Green, s.Level())
}
