package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "icarus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &Job{
		ID:          "job-1",
		Task:        "add a health endpoint",
		ProjectPath: "/workspace",
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.Task, got.Task)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJobPersistsTerminalState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &Job{ID: "job-2", Task: "t", ProjectPath: "/p", Status: StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateJob(ctx, job))

	now := time.Now().UTC().Truncate(time.Second)
	job.Status = StatusFailed
	job.ErrorMessage = "phase timeout"
	job.CompletedAt = &now
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "phase timeout", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(now))

	err = s.UpdateJob(ctx, &Job{ID: "no-such-job", Status: StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJobAndAuditIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &Job{ID: "job-3", Task: "t", ProjectPath: "/p", Status: StatusChecking, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateJob(ctx, job))

	job.Status = StatusAwaitingApproval
	audit := &AuditRecord{
		JobID:     job.ID,
		Payload:   map[string]interface{}{"summary": "ok"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpdateJobAndAudit(ctx, job, audit))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingApproval, got.Status)

	rec, err := s.GetAuditRecord(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"summary": "ok"}, rec.Payload)

	_, err = s.GetAuditRecord(ctx, "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListJobsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, status := range []Status{StatusPending, StatusBuilding, StatusPending} {
		job := &Job{
			ID:          "job-" + string(rune('a'+i)),
			Task:        "t",
			ProjectPath: "/p",
			Status:      status,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateJob(ctx, job))
	}

	all, err := s.ListJobs(ctx, 50, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job-c", all[0].ID, "newest first")

	pending, err := s.ListJobs(ctx, 50, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestTelemetryLatestSample(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &Job{ID: "job-4", Task: "t", ProjectPath: "/p", Status: StatusBuilding, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.LatestTelemetry(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	older := &TelemetrySample{JobID: job.ID, Timestamp: time.Now().UTC(), CPUPercent: 10, RAMMB: 128, CurrentTool: "search"}
	require.NoError(t, s.AppendTelemetry(ctx, older))
	newer := &TelemetrySample{JobID: job.ID, Timestamp: older.Timestamp.Add(time.Second), CPUPercent: 40, RAMMB: 256, CurrentTool: "edit"}
	require.NoError(t, s.AppendTelemetry(ctx, newer))

	latest, err := s.LatestTelemetry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "edit", latest.CurrentTool)
	assert.Equal(t, 40.0, latest.CPUPercent)
}

func TestListNonTerminalJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	statuses := []Status{StatusPending, StatusBuilding, StatusCompleted, StatusFailed, StatusAwaitingApproval}
	for i, status := range statuses {
		job := &Job{
			ID:          "job-" + string(rune('a'+i)),
			Task:        "t",
			ProjectPath: "/p",
			Status:      status,
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, s.CreateJob(ctx, job))
	}

	nonTerminal, err := s.ListNonTerminalJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, nonTerminal, 3)
}
