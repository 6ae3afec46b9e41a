package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
orchestrator:
  host: "0.0.0.0"
  port: 8080
  max_concurrent_jobs: 3
  job_timeout_seconds: 1200
agents:
  builder:
    image_name: "icarus/builder:latest"
    cpu_limit: 2.0
    memory_limit: 2147483648
    timeout_seconds: 600
    network_mode: "bridge"
  checker:
    image_name: "icarus/checker:latest"
    cpu_limit: 1.0
    memory_limit: "1GiB"
    timeout_seconds: 300
    network_mode: "none"
workspace:
  base_path: "/tmp/icarus-workspaces"
  mount_type: "bind"
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "icarus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadDecodesNumericAndHumanReadableMemory(t *testing.T) {
	f, err := Load(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, 3, f.Orchestrator.MaxConcurrentJobs)
	assert.Equal(t, ByteSize(2147483648), f.Agents.Builder.MemoryLimit)
	assert.Equal(t, ByteSize(1<<30), f.Agents.Checker.MemoryLimit)
}

func TestLoadAppliesDefaults(t *testing.T) {
	f, err := Load(writeSample(t))
	require.NoError(t, err)

	assert.True(t, f.Sentinel.Enabled)
	assert.Equal(t, 80.0, f.Sentinel.YellowThreshold)
	assert.Equal(t, 90.0, f.Sentinel.RedThreshold)
}

func TestEngineConfigConversion(t *testing.T) {
	f, err := Load(writeSample(t))
	require.NoError(t, err)

	cfg := f.EngineConfig()
	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
	assert.Equal(t, 1200*time.Second, cfg.JobTimeout)
	assert.Equal(t, int64(2147483648), cfg.Builder.MemLimit)
	assert.Equal(t, int64(1<<30), cfg.Checker.MemLimit)
	assert.Equal(t, "bridge", cfg.Builder.NetworkMode)
	assert.Equal(t, "/tmp/icarus-workspaces", cfg.Workspace.BasePath)
	assert.Equal(t, "http://0.0.0.0:8080", cfg.CallbackBaseURL)
}

func TestEngineConfigCallbackBaseURLOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icarus.yaml")
	withOverride := strings.Replace(sampleYAML,
		"job_timeout_seconds: 1200\n",
		"job_timeout_seconds: 1200\n  callback_base_url: \"http://host.docker.internal:8080\"\n",
		1)
	require.NoError(t, os.WriteFile(path, []byte(withOverride), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://host.docker.internal:8080", f.EngineConfig().CallbackBaseURL)
}

func TestSentinelConfigConversion(t *testing.T) {
	f, err := Load(writeSample(t))
	require.NoError(t, err)

	cfg := f.SentinelConfig()
	assert.Equal(t, "/tmp/icarus-workspaces", cfg.WorkspaceBasePath)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
}
