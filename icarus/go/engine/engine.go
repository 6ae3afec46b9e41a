// Package engine is the Job Engine: the status state machine, the
// admission-controlled scheduler, phase execution against the Sandbox
// Driver, the human approval gate, and terminal cleanup. It is the
// in-memory authority for every non-terminal job; the Store is the
// authority after a crash.
package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Jacob-bach/Icarus/icarus/go/sandbox"
	"github.com/Jacob-bach/Icarus/icarus/go/sentinel"
	"github.com/Jacob-bach/Icarus/icarus/go/store"
)

// LevelSource is the subset of Sentinel the Engine depends on: the
// current admission level. Kept narrow so tests can fake it without
// pulling in a real Sentinel.
type LevelSource interface {
	Level() sentinel.Level
}

// activeJob is the Engine's in-memory bookkeeping for one non-terminal
// job, layered on top of its persisted store.Job.
type activeJob struct {
	mu sync.Mutex

	job *store.Job

	phase        Phase
	phaseSettled bool
	phaseTimer   *time.Timer
	outerTimer   *time.Timer
	logCancel    context.CancelFunc
}

// Engine is the Job Engine.
type Engine struct {
	store     *store.Store
	driver    sandbox.Driver
	level     LevelSource
	committer Committer
	cfg       Config
	log       *zap.SugaredLogger
	pool      *Pool

	mu           sync.Mutex
	active       map[string]*activeJob
	broadcasters map[string]*Broadcaster
	stopped      bool
	wakeCh       chan struct{}
}

// New constructs an Engine. Start must be called before it does any
// work.
func New(st *store.Store, driver sandbox.Driver, level LevelSource, committer Committer, cfg Config, log *zap.SugaredLogger) *Engine {
	if cfg.BroadcastBufferSize == 0 {
		cfg.BroadcastBufferSize = 64
	}
	if cfg.SpawnConcurrency == 0 {
		cfg.SpawnConcurrency = 8
	}
	return &Engine{
		store:        st,
		driver:       driver,
		level:        level,
		committer:    committer,
		cfg:          cfg,
		log:          log,
		pool:         NewPool(cfg.SpawnConcurrency),
		active:       map[string]*activeJob{},
		broadcasters: map[string]*Broadcaster{},
		wakeCh:       make(chan struct{}, 1),
	}
}

// Start recovers orphaned jobs from a previous process and begins the
// scheduler loop. It returns once recovery has completed.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.recoverOrphans(ctx); err != nil {
		return errors.Wrap(err, "recovering orphaned jobs")
	}
	if err := e.loadActiveFromStore(ctx); err != nil {
		return errors.Wrap(err, "loading active jobs")
	}
	go e.schedulerLoop(ctx)
	e.wake()
	return nil
}

// recoverOrphans implements spec §4.1's startup recovery: every
// persisted job in a non-terminal status is orphaned on a fresh process
// (no in-memory timers or watchers survive a restart), so it is
// transitioned to failed and any sandbox it still references is killed
// and removed. This holds whether or not the driver still happens to
// know about that sandbox -- the chosen policy is consistency over
// best-effort adoption (spec §4.1, §9).
func (e *Engine) recoverOrphans(ctx context.Context) error {
	jobs, err := e.store.ListNonTerminalJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		e.log.Warnf("orphaned job %s (was %s) on restart", job.ID, job.Status)
		for _, handle := range []string{job.BuilderSandboxID, job.CheckerSandboxID} {
			if handle == "" {
				continue
			}
			if err := e.driver.Kill(ctx, handle); err != nil {
				e.log.Warnf("killing orphaned sandbox %s: %s", handle, err)
			}
			if err := e.driver.Remove(ctx, handle); err != nil {
				e.log.Warnf("removing orphaned sandbox %s: %s", handle, err)
			}
		}
		now := time.Now().UTC()
		job.Status = store.StatusFailed
		job.ErrorMessage = "orphaned on restart"
		job.CompletedAt = &now
		job.BuilderSandboxID = ""
		job.CheckerSandboxID = ""
		if err := e.store.UpdateJob(ctx, job); err != nil {
			e.log.Errorf("persisting orphan failure for %s: %s", job.ID, err)
		}
		e.destroyWorkspace(job.ID)
	}
	return nil
}

// loadActiveFromStore rehydrates the in-memory active map with every
// (now guaranteed non-orphaned, i.e. freshly submitted) pending job that
// survived recoverOrphans -- in practice, only jobs submitted after this
// process started will ever populate it again, since recoverOrphans
// fails everything else.
func (e *Engine) loadActiveFromStore(ctx context.Context) error {
	jobs, err := e.store.ListNonTerminalJobs(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, job := range jobs {
		e.active[job.ID] = &activeJob{job: job}
		e.broadcasters[job.ID] = NewBroadcaster(e.cfg.BroadcastBufferSize)
	}
	return nil
}

func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func (e *Engine) schedulerLoop(ctx context.Context) {
	for {
		select {
		case <-e.wakeCh:
			e.admitEligible(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// OnSentinelLevelChange is wired as the Sentinel's level-change callback
// so a GREEN/YELLOW transition immediately wakes the scheduler instead
// of waiting for the next unrelated event.
func (e *Engine) OnSentinelLevelChange(sentinel.Level) {
	e.wake()
}

// admitEligible is the single logical scheduler decision: it admits as
// many pending jobs, oldest first, as slots and the Sentinel level
// permit, then returns. Serialized by the scheduler loop running on one
// goroutine; actual spawning happens concurrently via e.pool.
func (e *Engine) admitEligible(ctx context.Context) {
	for {
		if e.level.Level() == sentinel.Red {
			return
		}
		e.mu.Lock()
		if e.stopped {
			e.mu.Unlock()
			return
		}
		running := 0
		var pending []*activeJob
		for _, aj := range e.active {
			switch aj.job.Status {
			case store.StatusBuilding, store.StatusChecking, store.StatusApproved:
				running++
			case store.StatusPending:
				pending = append(pending, aj)
			}
		}
		e.mu.Unlock()

		if running >= e.cfg.MaxConcurrentJobs || len(pending) == 0 {
			return
		}

		sort.Slice(pending, func(i, j int) bool {
			if pending[i].job.CreatedAt.Equal(pending[j].job.CreatedAt) {
				return pending[i].job.ID < pending[j].job.ID
			}
			return pending[i].job.CreatedAt.Before(pending[j].job.CreatedAt)
		})

		e.admitOne(ctx, pending[0])
	}
}

func (e *Engine) admitOne(ctx context.Context, aj *activeJob) {
	aj.mu.Lock()
	job := aj.job
	if job.Status != store.StatusPending {
		aj.mu.Unlock()
		return
	}
	job.Status = store.StatusBuilding
	aj.phase = PhaseBuild
	aj.phaseSettled = false
	aj.mu.Unlock()

	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.log.Errorf("persisting admission of %s: %s", job.ID, err)
		return
	}
	e.publish(job.ID, Message{Type: MessageStatusUpdate, Status: string(job.Status)})

	if e.cfg.JobTimeout > 0 {
		aj.mu.Lock()
		aj.outerTimer = time.AfterFunc(e.cfg.JobTimeout, func() { e.onJobTimeout(job.ID) })
		aj.mu.Unlock()
	}

	e.pool.Go(func() { e.spawnPhase(context.Background(), job.ID, PhaseBuild) })
}

// spawnPhase creates and starts the sandbox for the given phase, wires
// up its deadline timer and best-effort log forwarding, and persists the
// sandbox handle. Driver failures here are treated as phase failures.
func (e *Engine) spawnPhase(ctx context.Context, jobID string, phase Phase) {
	aj, ok := e.getActive(jobID)
	if !ok {
		return
	}
	var agentCfg AgentConfig
	if phase == PhaseBuild {
		agentCfg = e.cfg.Builder
	} else {
		agentCfg = e.cfg.Checker
	}

	workspace := e.workspacePath(jobID)
	if phase == PhaseBuild {
		// The builder's mount is seeded from the submitted project so its
		// writes land on top of the existing tree; the checker and the
		// later commit both operate on this same seeded directory.
		if err := seedWorkspace(workspace, aj.job.ProjectPath); err != nil {
			e.failJob(ctx, jobID, phase, "seeding workspace: "+err.Error())
			return
		}
	} else if _, err := os.Stat(workspace); err != nil {
		e.failJob(ctx, jobID, phase, "workspace missing for check phase: "+err.Error())
		return
	}

	spec := sandbox.CreateSpec{
		Name:     sandbox.NamePrefix + jobID + "_" + string(phase),
		Image:    agentCfg.ImageName,
		CPULimit: agentCfg.CPULimit,
		MemLimit: agentCfg.MemLimit,
		Env: map[string]string{
			"JOB_ID":                jobID,
			"TASK":                  aj.job.Task,
			"ORCHESTRATOR_CALLBACK": e.callbackURL(jobID),
		},
		Mounts: []sandbox.MountSpec{
			{HostPath: workspace, ContainerPath: "/workspace", ReadOnly: phase == PhaseCheck},
		},
		NetworkMode: agentCfg.NetworkMode,
	}

	handle, err := e.driver.Create(ctx, spec)
	if err != nil {
		e.failJob(ctx, jobID, phase, "sandbox create failed: "+err.Error())
		return
	}
	if err := e.driver.Start(ctx, handle); err != nil {
		_ = e.driver.Remove(ctx, handle)
		e.failJob(ctx, jobID, phase, "sandbox start failed: "+err.Error())
		return
	}

	aj.mu.Lock()
	if phase == PhaseBuild {
		aj.job.BuilderSandboxID = handle
	} else {
		aj.job.CheckerSandboxID = handle
	}
	aj.phaseTimer = time.AfterFunc(agentCfg.Timeout, func() { e.onPhaseTimeout(jobID, phase) })
	logCtx, cancel := context.WithCancel(context.Background())
	aj.logCancel = cancel
	job := aj.job
	aj.mu.Unlock()

	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.log.Errorf("persisting sandbox handle for %s: %s", jobID, err)
	}

	go e.forwardLogs(logCtx, jobID, handle)
}

func (e *Engine) forwardLogs(ctx context.Context, jobID, handle string) {
	rc, err := e.driver.TailLogs(ctx, handle)
	if err != nil {
		return
	}
	defer rc.Close()
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			e.publish(jobID, Message{Type: MessageLog, Message: string(buf[:n])})
		}
		if err != nil {
			if err != io.EOF {
				e.log.Debugf("log tail for %s ended: %s", handle, err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// onPhaseTimeout is the deadline-timer side of the completion/timeout
// race described in spec §4.1 and §5: whichever of the timer or a
// completion callback settles the phase first wins; the other is a
// no-op.
func (e *Engine) onPhaseTimeout(jobID string, phase Phase) {
	aj, ok := e.getActive(jobID)
	if !ok {
		return
	}
	aj.mu.Lock()
	if aj.phaseSettled || aj.phase != phase {
		aj.mu.Unlock()
		return
	}
	aj.phaseSettled = true
	aj.mu.Unlock()

	e.failJob(context.Background(), jobID, phase, "phase timeout")
}

func (e *Engine) onJobTimeout(jobID string) {
	aj, ok := e.getActive(jobID)
	if !ok {
		return
	}
	aj.mu.Lock()
	settled := aj.phaseSettled
	phase := aj.phase
	status := aj.job.Status
	aj.mu.Unlock()
	if status != store.StatusBuilding && status != store.StatusChecking {
		return // job already left the automated phases; outer cap no longer applies
	}
	if settled {
		return
	}
	aj.mu.Lock()
	aj.phaseSettled = true
	aj.mu.Unlock()
	e.failJob(context.Background(), jobID, phase, "job timeout")
}

// OnCompletion delivers a worker's {status:"completed"} callback to the
// Engine's phase-complete handler for whichever phase the job is
// currently in. auditReport is non-nil only for the CHECK phase.
func (e *Engine) OnCompletion(ctx context.Context, jobID string, auditReport interface{}) {
	aj, ok := e.getActive(jobID)
	if !ok {
		e.log.Infof("completion callback for unknown/terminal job %s discarded", jobID)
		return
	}
	aj.mu.Lock()
	if aj.phaseSettled {
		aj.mu.Unlock()
		return
	}
	phase := aj.phase
	aj.phaseSettled = true
	if aj.phaseTimer != nil {
		aj.phaseTimer.Stop()
	}
	aj.mu.Unlock()

	switch phase {
	case PhaseBuild:
		e.advanceToCheck(ctx, jobID)
	case PhaseCheck:
		e.finishCheck(ctx, jobID, auditReport)
	}
}

// OnError delivers a worker's {status:"error"} callback as a phase
// failure.
func (e *Engine) OnError(ctx context.Context, jobID string, errMsg string) {
	aj, ok := e.getActive(jobID)
	if !ok {
		e.log.Infof("error callback for unknown/terminal job %s discarded", jobID)
		return
	}
	aj.mu.Lock()
	if aj.phaseSettled {
		aj.mu.Unlock()
		return
	}
	phase := aj.phase
	aj.phaseSettled = true
	if aj.phaseTimer != nil {
		aj.phaseTimer.Stop()
	}
	aj.mu.Unlock()

	e.failJob(ctx, jobID, phase, errMsg)
}

// OnProgress appends a telemetry sample and forwards current_tool as a
// best-effort log message. Callbacks for unknown/terminal jobs are
// silently discarded, per spec §4.4.
func (e *Engine) OnProgress(ctx context.Context, jobID string, currentTool string, cpuPercent, ramMB float64) {
	if _, ok := e.getActive(jobID); !ok {
		return
	}
	sample := &store.TelemetrySample{
		JobID:       jobID,
		Timestamp:   time.Now().UTC(),
		CPUPercent:  cpuPercent,
		RAMMB:       ramMB,
		CurrentTool: currentTool,
	}
	if err := e.store.AppendTelemetry(ctx, sample); err != nil {
		e.log.Warnf("appending telemetry for %s: %s", jobID, err)
	}
	if currentTool != "" {
		e.publish(jobID, Message{Type: MessageLog, Message: currentTool})
	}
}

func (e *Engine) advanceToCheck(ctx context.Context, jobID string) {
	aj, ok := e.getActive(jobID)
	if !ok {
		return
	}
	aj.mu.Lock()
	builderHandle := aj.job.BuilderSandboxID
	aj.job.BuilderSandboxID = ""
	aj.job.Status = store.StatusChecking
	aj.phase = PhaseCheck
	aj.phaseSettled = false
	if aj.logCancel != nil {
		aj.logCancel()
	}
	job := aj.job
	aj.mu.Unlock()

	if builderHandle != "" {
		_ = e.driver.Kill(ctx, builderHandle)
		_ = e.driver.Remove(ctx, builderHandle)
	}

	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.log.Errorf("persisting build completion for %s: %s", jobID, err)
	}
	e.publish(jobID, Message{Type: MessageStatusUpdate, Status: string(job.Status)})

	e.pool.Go(func() { e.spawnPhase(context.Background(), jobID, PhaseCheck) })
}

func (e *Engine) finishCheck(ctx context.Context, jobID string, auditReport interface{}) {
	aj, ok := e.getActive(jobID)
	if !ok {
		return
	}
	aj.mu.Lock()
	checkerHandle := aj.job.CheckerSandboxID
	aj.job.CheckerSandboxID = ""
	aj.job.Status = store.StatusAwaitingApproval
	if aj.outerTimer != nil {
		aj.outerTimer.Stop() // approval has no timeout; stop the outer cap (spec §9)
	}
	if aj.logCancel != nil {
		aj.logCancel()
	}
	job := aj.job
	aj.mu.Unlock()

	if checkerHandle != "" {
		_ = e.driver.Kill(ctx, checkerHandle)
		_ = e.driver.Remove(ctx, checkerHandle)
	}

	var audit *store.AuditRecord
	if auditReport != nil {
		audit = &store.AuditRecord{JobID: jobID, Payload: auditReport, CreatedAt: time.Now().UTC()}
	}
	if err := e.store.UpdateJobAndAudit(ctx, job, audit); err != nil {
		e.log.Errorf("persisting check completion for %s: %s", jobID, err)
	}
	e.publish(jobID, Message{Type: MessageStatusUpdate, Status: string(job.Status)})
	e.wake() // a slot just freed up (awaiting_approval holds none)
}

// failJob transitions jobID to failed, killing the sandbox belonging to
// the given phase.
func (e *Engine) failJob(ctx context.Context, jobID string, phase Phase, reason string) {
	aj, ok := e.getActive(jobID)
	if !ok {
		return
	}
	var handle string
	aj.mu.Lock()
	if phase == PhaseBuild {
		handle = aj.job.BuilderSandboxID
	} else {
		handle = aj.job.CheckerSandboxID
	}
	aj.mu.Unlock()
	e.enterTerminal(ctx, aj, store.StatusFailed, reason, handle)
}

// Approve implements the human-approval gate. approved=true commits and
// finalizes to completed/failed; approved=false rejects and cleans up.
func (e *Engine) Approve(ctx context.Context, jobID string, approved bool, comment string) (store.Status, error) {
	aj, ok := e.getActive(jobID)
	if !ok {
		if job, err := e.store.GetJob(ctx, jobID); err == nil {
			return "", &ErrConflict{JobID: jobID, Status: job.Status, Op: "approve"}
		}
		return "", &ErrNotFound{JobID: jobID}
	}
	aj.mu.Lock()
	if aj.job.Status != store.StatusAwaitingApproval {
		status := aj.job.Status
		aj.mu.Unlock()
		return "", &ErrConflict{JobID: jobID, Status: status, Op: "approve"}
	}
	aj.job.ReviewComment = comment
	if !approved {
		aj.mu.Unlock()
		e.enterTerminal(ctx, aj, store.StatusRejected, "", "")
		return store.StatusRejected, nil
	}
	aj.job.Status = store.StatusApproved
	job := aj.job
	aj.mu.Unlock()

	if err := e.store.UpdateJob(ctx, job); err != nil {
		return "", errors.Wrap(err, "persisting approval")
	}
	e.publish(jobID, Message{Type: MessageStatusUpdate, Status: string(job.Status)})

	go e.commitAndFinalize(context.Background(), jobID)
	return store.StatusApproved, nil
}

func (e *Engine) commitAndFinalize(ctx context.Context, jobID string) {
	aj, ok := e.getActive(jobID)
	if !ok {
		return
	}
	if err := e.committer.Commit(ctx, aj.job, e.workspacePath(jobID)); err != nil {
		e.enterTerminal(ctx, aj, store.StatusFailed, "commit failed: "+err.Error(), "")
		return
	}
	e.enterTerminal(ctx, aj, store.StatusCompleted, "", "")
}

// enterTerminal moves a job into a terminal status: it persists the
// transition, kills/removes any live sandbox, destroys the workspace
// unless the job completed successfully, publishes the terminal event,
// and removes the job from the active set.
func (e *Engine) enterTerminal(ctx context.Context, aj *activeJob, status store.Status, errMsg string, extraHandle string) {
	aj.mu.Lock()
	now := time.Now().UTC()
	aj.job.Status = status
	aj.job.CompletedAt = &now
	if errMsg != "" {
		aj.job.ErrorMessage = errMsg
	}
	builderHandle := aj.job.BuilderSandboxID
	checkerHandle := aj.job.CheckerSandboxID
	aj.job.BuilderSandboxID = ""
	aj.job.CheckerSandboxID = ""
	if aj.phaseTimer != nil {
		aj.phaseTimer.Stop()
	}
	if aj.outerTimer != nil {
		aj.outerTimer.Stop()
	}
	if aj.logCancel != nil {
		aj.logCancel()
	}
	job := aj.job
	jobID := job.ID
	aj.mu.Unlock()

	for _, handle := range []string{builderHandle, checkerHandle, extraHandle} {
		if handle == "" {
			continue
		}
		if err := e.driver.Kill(ctx, handle); err != nil {
			e.log.Warnf("killing sandbox %s for %s: %s", handle, jobID, err)
		}
		if err := e.driver.Remove(ctx, handle); err != nil {
			e.log.Warnf("removing sandbox %s for %s: %s", handle, jobID, err)
		}
	}

	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.log.Errorf("persisting terminal status for %s: %s", jobID, err)
	}

	if status != store.StatusCompleted {
		e.destroyWorkspace(jobID)
	}

	e.publish(jobID, Message{Type: MessageStatusUpdate, Status: string(status)})

	e.mu.Lock()
	delete(e.active, jobID)
	e.mu.Unlock()

	e.wake()
}

func (e *Engine) destroyWorkspace(jobID string) {
	if err := os.RemoveAll(e.workspacePath(jobID)); err != nil {
		e.log.Warnf("destroying workspace for %s: %s", jobID, err)
	}
}

func (e *Engine) workspacePath(jobID string) string {
	return filepath.Join(e.cfg.Workspace.BasePath, jobID)
}

// callbackURL builds the externally-reachable URL a sandboxed worker
// posts its callback to, from the configured callback base.
func (e *Engine) callbackURL(jobID string) string {
	return strings.TrimRight(e.cfg.CallbackBaseURL, "/") + "/jobs/" + jobID + "/callback"
}

func (e *Engine) getActive(jobID string) (*activeJob, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	aj, ok := e.active[jobID]
	return aj, ok
}

func (e *Engine) publish(jobID string, msg Message) {
	e.mu.Lock()
	b, ok := e.broadcasters[jobID]
	e.mu.Unlock()
	if ok {
		b.Publish(msg)
	}
}

// Subscribe registers a new push-channel subscriber for jobID. ok is
// false if the Engine holds no broadcaster for the job: it was never
// submitted to this process (including jobs persisted by an earlier
// process). Broadcasters are kept for the life of the process.
func (e *Engine) Subscribe(jobID string) (id int, ch <-chan Message, ok bool) {
	e.mu.Lock()
	b, exists := e.broadcasters[jobID]
	e.mu.Unlock()
	if !exists {
		return 0, nil, false
	}
	id, ch = b.Subscribe()
	return id, ch, true
}

// Unsubscribe releases a push-channel subscription.
func (e *Engine) Unsubscribe(jobID string, id int) {
	e.mu.Lock()
	b, ok := e.broadcasters[jobID]
	e.mu.Unlock()
	if ok {
		b.Unsubscribe(id)
	}
}

// Submit validates and admits a new job into the pipeline, in status
// pending.
func (e *Engine) Submit(ctx context.Context, task, projectPath string, maxTaskLength int) (*store.Job, error) {
	if task == "" {
		return nil, &ErrValidation{Reason: "task must not be empty"}
	}
	if maxTaskLength > 0 && len(task) > maxTaskLength {
		return nil, &ErrValidation{Reason: "task exceeds maximum length"}
	}
	if projectPath == "" {
		return nil, &ErrValidation{Reason: "project_path must not be empty"}
	}

	job := &store.Job{
		ID:          newJobID(),
		Task:        task,
		ProjectPath: projectPath,
		Status:      store.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, errors.Wrap(err, "persisting new job")
	}
	submitted := *job

	e.mu.Lock()
	e.active[job.ID] = &activeJob{job: job}
	e.broadcasters[job.ID] = NewBroadcaster(e.cfg.BroadcastBufferSize)
	e.mu.Unlock()

	e.wake()
	return &submitted, nil
}

// GetJob returns the in-memory view of jobID if active, falling back to
// the Store for terminal jobs.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	if aj, ok := e.getActive(jobID); ok {
		aj.mu.Lock()
		defer aj.mu.Unlock()
		cp := *aj.job
		return &cp, nil
	}
	return e.store.GetJob(ctx, jobID)
}

// ListJobs delegates to the Store, which every transition is persisted
// to before being published (spec §5's ordering guarantee).
func (e *Engine) ListJobs(ctx context.Context, limit int, status store.Status) ([]*store.Job, error) {
	return e.store.ListJobs(ctx, limit, status)
}

// Telemetry returns the latest telemetry sample for jobID.
func (e *Engine) Telemetry(ctx context.Context, jobID string) (*store.TelemetrySample, error) {
	return e.store.LatestTelemetry(ctx, jobID)
}

// Audit returns the audit record for jobID.
func (e *Engine) Audit(ctx context.Context, jobID string) (*store.AuditRecord, error) {
	return e.store.GetAuditRecord(ctx, jobID)
}

// Stop performs a graceful shutdown: no further admissions occur, every
// live sandbox belonging to an active job is killed, and every
// broadcaster emits a terminal event before closing. No attempt is made
// to preserve in-flight worker progress (spec §5).
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	e.stopped = true
	jobIDs := make([]string, 0, len(e.active))
	for id := range e.active {
		jobIDs = append(jobIDs, id)
	}
	e.mu.Unlock()

	for _, jobID := range jobIDs {
		aj, ok := e.getActive(jobID)
		if !ok {
			continue
		}
		aj.mu.Lock()
		status := aj.job.Status
		aj.mu.Unlock()
		if status.Terminal() {
			continue
		}
		e.enterTerminal(ctx, aj, store.StatusFailed, "orchestrator shutting down", "")
	}
	e.pool.Wait()
}
