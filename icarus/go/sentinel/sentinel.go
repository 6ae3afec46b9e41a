// Package sentinel periodically samples host CPU/RAM/disk and publishes
// an admission level (GREEN/YELLOW/RED), recomputed from each poll on its
// own with no hysteresis across polls. On entering RED
// it pauses every live icarus-managed sandbox; on leaving RED it resumes
// them. It never terminates or destroys a sandbox.
package sentinel

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
	"go.uber.org/zap"

	"github.com/Jacob-bach/Icarus/icarus/go/sandbox"
)

// Level is the Sentinel's published admission level.
type Level string

const (
	Green  Level = "GREEN"
	Yellow Level = "YELLOW"
	Red    Level = "RED"
)

// Config controls sampling cadence and thresholds. See SPEC_FULL.md §6.1
// for the YAML shape this is decoded from.
type Config struct {
	Enabled          bool
	YellowThreshold  float64
	RedThreshold     float64
	PollInterval     time.Duration
	WorkspaceBasePath string
}

// Sample is the latest host resource reading.
type Sample struct {
	Timestamp  time.Time
	CPUPercent float64
	RAMPercent float64
	DiskPercent float64
}

// Sentinel is the periodic host sampler and admission-level publisher.
type Sentinel struct {
	driver sandbox.Driver
	cfg    Config
	log    *zap.SugaredLogger

	onLevelChange func(Level)

	mu        sync.Mutex
	level     Level
	sample    Sample
	pausedSet map[string]struct{}
}

// New constructs a Sentinel. onLevelChange, if non-nil, is invoked
// (outside any lock) every time the published level changes, so the
// Engine's scheduler loop can wake and re-evaluate admission.
func New(driver sandbox.Driver, cfg Config, onLevelChange func(Level), log *zap.SugaredLogger) *Sentinel {
	return &Sentinel{
		driver:        driver,
		cfg:           cfg,
		log:           log,
		onLevelChange: onLevelChange,
		level:         Green,
		pausedSet:     map[string]struct{}{},
	}
}

// Start begins the poll loop. It returns once the first sample has been
// taken (so Level()/Stats() are immediately meaningful), and continues
// polling in the background until ctx is cancelled.
func (s *Sentinel) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Infof("sentinel disabled, admission level permanently GREEN")
		return nil
	}
	if err := s.poll(ctx); err != nil {
		s.log.Errorf("initial sentinel poll failed: %s", err)
	}
	go s.loop(ctx)
	return nil
}

func (s *Sentinel) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				s.log.Errorf("sentinel poll failed: %s", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sentinel) poll(ctx context.Context) error {
	sample, err := s.readSample()
	if err != nil {
		return errors.Wrap(err, "reading host sample")
	}

	newLevel := levelFor(sample.CPUPercent, sample.RAMPercent, s.cfg.YellowThreshold, s.cfg.RedThreshold)

	s.mu.Lock()
	s.sample = sample
	oldLevel := s.level
	s.level = newLevel
	s.mu.Unlock()

	if newLevel == oldLevel {
		return nil
	}
	s.log.Infof("sentinel level transition %s -> %s (cpu=%.1f%% ram=%.1f%%)", oldLevel, newLevel, sample.CPUPercent, sample.RAMPercent)

	if newLevel == Red {
		s.enterRed(ctx)
	} else if oldLevel == Red {
		s.leaveRed(ctx)
	}

	if s.onLevelChange != nil {
		s.onLevelChange(newLevel)
	}
	return nil
}

func levelFor(cpuPercent, ramPercent, yellow, red float64) Level {
	max := cpuPercent
	if ramPercent > max {
		max = ramPercent
	}
	switch {
	case max >= red:
		return Red
	case max >= yellow:
		return Yellow
	default:
		return Green
	}
}

func (s *Sentinel) readSample() (Sample, error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, errors.Wrap(err, "sampling cpu")
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, errors.Wrap(err, "sampling memory")
	}

	diskPercent := 0.0
	if s.cfg.WorkspaceBasePath != "" {
		if du, err := disk.Usage(s.cfg.WorkspaceBasePath); err == nil {
			diskPercent = du.UsedPercent
		} else {
			s.log.Warnf("sampling disk usage at %q: %s", s.cfg.WorkspaceBasePath, err)
		}
	}

	return Sample{
		Timestamp:   time.Now(),
		CPUPercent:  cpuPercent,
		RAMPercent:  vm.UsedPercent,
		DiskPercent: diskPercent,
	}, nil
}

// enterRed pauses every live icarus-managed sandbox and remembers the set
// so leaveRed can resume exactly those. Sandboxes are wall-clock timed by
// the Engine regardless of pause state, so a pause that outlasts a
// phase's remaining deadline becomes a phase-timeout failure -- this is
// documented, intended behavior (spec §4.2).
func (s *Sentinel) enterRed(ctx context.Context) {
	handles, err := s.driver.List(ctx, sandbox.NamePrefix)
	if err != nil {
		s.log.Errorf("listing sandboxes on RED entry: %s", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, handle := range handles {
		status, err := s.driver.Inspect(ctx, handle)
		if err != nil || status.State != sandbox.StateRunning {
			continue
		}
		if err := s.driver.Pause(ctx, handle); err != nil {
			s.log.Errorf("pausing sandbox %s on RED entry: %s", handle, err)
			continue
		}
		s.pausedSet[handle] = struct{}{}
	}
}

// leaveRed unpauses everything enterRed paused and clears the set.
func (s *Sentinel) leaveRed(ctx context.Context) {
	s.mu.Lock()
	paused := make([]string, 0, len(s.pausedSet))
	for handle := range s.pausedSet {
		paused = append(paused, handle)
	}
	s.pausedSet = map[string]struct{}{}
	s.mu.Unlock()

	for _, handle := range paused {
		if err := s.driver.Unpause(ctx, handle); err != nil {
			s.log.Warnf("unpausing sandbox %s on RED exit: %s", handle, err)
		}
	}
}

// Level returns the most recently published admission level.
func (s *Sentinel) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Stats returns the latest host sample.
func (s *Sentinel) Stats() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample
}

// PausedCount reports how many sandboxes the Sentinel currently believes
// it paused and has not yet resumed; exported for tests.
func (s *Sentinel) PausedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pausedSet)
}
