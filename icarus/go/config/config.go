// Package config loads icarus.yaml (or an operator-supplied path) via
// viper, with environment variable overrides, and converts it into the
// Config types each component constructor expects.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Jacob-bach/Icarus/icarus/go/engine"
	"github.com/Jacob-bach/Icarus/icarus/go/sentinel"
)

// ByteSize decodes either a plain integer byte count or a human-readable
// size string ("2GiB", "512m") the way the docker CLI accepts --memory.
type ByteSize int64

// UnmarshalText lets viper/mapstructure treat a ByteSize field as a
// string when the YAML node is a string, falling back to an int64 parse
// otherwise. Grounded in docker/go-units, already in the dependency
// closure via the sandbox driver's Docker SDK client.
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	n, err := units.RAMInBytes(s)
	if err != nil {
		return errors.Wrapf(err, "parsing byte size %q", s)
	}
	*b = ByteSize(n)
	return nil
}

// AgentFile is the YAML shape of one `agents.<name>` entry.
type AgentFile struct {
	ImageName      string   `mapstructure:"image_name"`
	CPULimit       float64  `mapstructure:"cpu_limit"`
	MemoryLimit    ByteSize `mapstructure:"memory_limit"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	NetworkMode    string   `mapstructure:"network_mode"`
}

// File is the full decoded shape of icarus.yaml.
type File struct {
	Orchestrator struct {
		Host                string `mapstructure:"host"`
		Port                int    `mapstructure:"port"`
		MaxConcurrentJobs   int    `mapstructure:"max_concurrent_jobs"`
		JobTimeoutSeconds   int    `mapstructure:"job_timeout_seconds"`
		MaxTaskLength       int    `mapstructure:"max_task_length"`
		BroadcastBufferSize int    `mapstructure:"broadcast_buffer_size"`
		SpawnConcurrency    int    `mapstructure:"spawn_concurrency"`
		DBPath              string `mapstructure:"db_path"`
		MetricsPort         int    `mapstructure:"metrics_port"`
		// CallbackBaseURL is the scheme://host:port a sandboxed worker
		// can reach this process at (e.g. via the docker bridge gateway
		// or a host.docker.internal alias); it rarely matches Host,
		// which is a bind address. Falls back to http://Host:Port if
		// left unset.
		CallbackBaseURL string `mapstructure:"callback_base_url"`
	} `mapstructure:"orchestrator"`

	Sentinel struct {
		Enabled             bool    `mapstructure:"enabled"`
		YellowThreshold     float64 `mapstructure:"yellow_threshold"`
		RedThreshold        float64 `mapstructure:"red_threshold"`
		PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"`
	} `mapstructure:"sentinel"`

	Agents struct {
		Builder AgentFile `mapstructure:"builder"`
		Checker AgentFile `mapstructure:"checker"`
	} `mapstructure:"agents"`

	Workspace struct {
		BasePath  string `mapstructure:"base_path"`
		MountType string `mapstructure:"mount_type"`
	} `mapstructure:"workspace"`
}

// Load reads path through viper with AutomaticEnv overrides: any key
// `orchestrator.max_concurrent_jobs` can be overridden by the
// environment variable `ORCHESTRATOR_MAX_CONCURRENT_JOBS`.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	var f File
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&f, viper.DecodeHook(decodeHook)); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return &f, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.host", "0.0.0.0")
	v.SetDefault("orchestrator.port", 8080)
	v.SetDefault("orchestrator.max_concurrent_jobs", 2)
	v.SetDefault("orchestrator.job_timeout_seconds", 1800)
	v.SetDefault("orchestrator.max_task_length", 8192)
	v.SetDefault("orchestrator.broadcast_buffer_size", 64)
	v.SetDefault("orchestrator.spawn_concurrency", 8)
	v.SetDefault("orchestrator.db_path", "/var/lib/icarus/icarus.db")
	v.SetDefault("orchestrator.metrics_port", 9090)

	v.SetDefault("sentinel.enabled", true)
	v.SetDefault("sentinel.yellow_threshold", 80)
	v.SetDefault("sentinel.red_threshold", 90)
	v.SetDefault("sentinel.poll_interval_seconds", 5)

	v.SetDefault("agents.builder.timeout_seconds", 600)
	v.SetDefault("agents.builder.network_mode", "bridge")
	v.SetDefault("agents.checker.timeout_seconds", 300)
	v.SetDefault("agents.checker.network_mode", "none")

	v.SetDefault("workspace.base_path", "/var/lib/icarus/workspaces")
	v.SetDefault("workspace.mount_type", "bind")
}

// EngineConfig converts the decoded file into engine.Config.
func (f *File) EngineConfig() engine.Config {
	return engine.Config{
		MaxConcurrentJobs:   f.Orchestrator.MaxConcurrentJobs,
		JobTimeout:          time.Duration(f.Orchestrator.JobTimeoutSeconds) * time.Second,
		BroadcastBufferSize: f.Orchestrator.BroadcastBufferSize,
		SpawnConcurrency:    f.Orchestrator.SpawnConcurrency,
		Builder:             f.Agents.Builder.engineAgentConfig(),
		Checker:             f.Agents.Checker.engineAgentConfig(),
		Workspace: engine.WorkspaceConfig{
			BasePath:  f.Workspace.BasePath,
			MountType: f.Workspace.MountType,
		},
		CallbackBaseURL: f.callbackBaseURL(),
	}
}

// callbackBaseURL returns the operator-configured callback base, or
// derives one from the gateway bind address when left unset.
func (f *File) callbackBaseURL() string {
	if f.Orchestrator.CallbackBaseURL != "" {
		return f.Orchestrator.CallbackBaseURL
	}
	return "http://" + f.Orchestrator.Host + ":" + strconv.Itoa(f.Orchestrator.Port)
}

func (a AgentFile) engineAgentConfig() engine.AgentConfig {
	return engine.AgentConfig{
		ImageName:   a.ImageName,
		CPULimit:    a.CPULimit,
		MemLimit:    int64(a.MemoryLimit),
		Timeout:     time.Duration(a.TimeoutSeconds) * time.Second,
		NetworkMode: a.NetworkMode,
	}
}

// SentinelConfig converts the decoded file into sentinel.Config.
func (f *File) SentinelConfig() sentinel.Config {
	return sentinel.Config{
		Enabled:           f.Sentinel.Enabled,
		YellowThreshold:   f.Sentinel.YellowThreshold,
		RedThreshold:      f.Sentinel.RedThreshold,
		PollInterval:      time.Duration(f.Sentinel.PollIntervalSeconds) * time.Second,
		WorkspaceBasePath: f.Workspace.BasePath,
	}
}
