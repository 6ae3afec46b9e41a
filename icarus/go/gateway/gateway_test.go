package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jacob-bach/Icarus/icarus/go/engine"
	"github.com/Jacob-bach/Icarus/icarus/go/sandbox"
	"github.com/Jacob-bach/Icarus/icarus/go/sentinel"
	"github.com/Jacob-bach/Icarus/icarus/go/store"
)

type alwaysGreen struct{}

func (alwaysGreen) Level() sentinel.Level { return sentinel.Green }

type noopCommitter struct{}

func (noopCommitter) Commit(context.Context, *store.Job, string) error { return nil }

// testProjectDir returns a fresh directory standing in for a submitted
// project, seeded with one file so the engine's workspace seeding step
// has something to copy.
func testProjectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	return dir
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "icarus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := engine.New(st, sandbox.NewFakeDriver(), alwaysGreen{}, noopCommitter{}, engine.Config{
		MaxConcurrentJobs: 2,
		Workspace:         engine.WorkspaceConfig{BasePath: filepath.Join(t.TempDir(), "ws")},
		Builder:           engine.AgentConfig{Timeout: time.Minute},
		Checker:           engine.AgentConfig{Timeout: time.Minute},
	}, zap.NewNop().Sugar())
	require.NoError(t, eng.Start(context.Background()))

	srv := New(eng, 10000, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSpawnRejectsEmptyTask(t *testing.T) {
	_, ts := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/jobs/spawn", spawnRequest{Task: "", ProjectPath: testProjectDir(t)})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpawnAndStatusRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/jobs/spawn", spawnRequest{Task: "do it", ProjectPath: testProjectDir(t)})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var spawned spawnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&spawned))
	assert.Equal(t, "pending", spawned.Status)

	statusResp, err := http.Get(ts.URL + "/jobs/" + spawned.JobID + "/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)

	var st statusResponse
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&st))
	assert.Equal(t, spawned.JobID, st.JobID)
}

func TestStatusUnknownJobIs404(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/jobs/does-not-exist/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApproveBeforeAwaitingApprovalIsConflict(t *testing.T) {
	_, ts := newTestServer(t)
	spawnResp := doJSON(t, http.MethodPost, ts.URL+"/jobs/spawn", spawnRequest{Task: "do it", ProjectPath: testProjectDir(t)})
	var spawned spawnResponse
	require.NoError(t, json.NewDecoder(spawnResp.Body).Decode(&spawned))
	spawnResp.Body.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/jobs/"+spawned.JobID+"/approve", approveRequest{Approved: true})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCallbackProgressThenCompletionAdvancesJob(t *testing.T) {
	srv, ts := newTestServer(t)
	spawnResp := doJSON(t, http.MethodPost, ts.URL+"/jobs/spawn", spawnRequest{Task: "do it", ProjectPath: testProjectDir(t)})
	var spawned spawnResponse
	require.NoError(t, json.NewDecoder(spawnResp.Body).Decode(&spawned))
	spawnResp.Body.Close()

	require.Eventually(t, func() bool {
		job, err := srv.engine.GetJob(context.Background(), spawned.JobID)
		return err == nil && job.Status == store.StatusBuilding
	}, time.Second, 5*time.Millisecond)

	progressResp := doJSON(t, http.MethodPost, ts.URL+"/jobs/"+spawned.JobID+"/callback", map[string]interface{}{
		"current_tool": "compiler",
		"cpu_usage":    12.5,
	})
	assert.Equal(t, http.StatusOK, progressResp.StatusCode)
	progressResp.Body.Close()

	telemetryResp, err := http.Get(ts.URL + "/jobs/" + spawned.JobID + "/telemetry")
	require.NoError(t, err)
	var telemetry telemetryResponse
	require.NoError(t, json.NewDecoder(telemetryResp.Body).Decode(&telemetry))
	telemetryResp.Body.Close()
	assert.Equal(t, "compiler", telemetry.CurrentTool)

	completeResp := doJSON(t, http.MethodPost, ts.URL+"/jobs/"+spawned.JobID+"/callback", map[string]interface{}{
		"status": "completed",
	})
	assert.Equal(t, http.StatusOK, completeResp.StatusCode)
	completeResp.Body.Close()

	require.Eventually(t, func() bool {
		job, err := srv.engine.GetJob(context.Background(), spawned.JobID)
		return err == nil && job.Status == store.StatusChecking
	}, time.Second, 5*time.Millisecond)
}

func TestCallbackRejectsUnknownStatus(t *testing.T) {
	_, ts := newTestServer(t)
	spawnResp := doJSON(t, http.MethodPost, ts.URL+"/jobs/spawn", spawnRequest{Task: "do it", ProjectPath: testProjectDir(t)})
	var spawned spawnResponse
	require.NoError(t, json.NewDecoder(spawnResp.Body).Decode(&spawned))
	spawnResp.Body.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/jobs/"+spawned.JobID+"/callback", map[string]interface{}{
		"status": "bogus",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamReceivesStatusUpdate(t *testing.T) {
	srv, ts := newTestServer(t)
	spawnResp := doJSON(t, http.MethodPost, ts.URL+"/jobs/spawn", spawnRequest{Task: "do it", ProjectPath: testProjectDir(t)})
	var spawned spawnResponse
	require.NoError(t, json.NewDecoder(spawnResp.Body).Decode(&spawned))
	spawnResp.Body.Close()

	require.Eventually(t, func() bool {
		job, err := srv.engine.GetJob(context.Background(), spawned.JobID)
		return err == nil && job.Status == store.StatusBuilding
	}, time.Second, 5*time.Millisecond)

	wsURL := "ws" + ts.URL[len("http"):] + "/jobs/" + spawned.JobID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Trigger the next transition only after the subscriber is attached,
	// so there is no race between admission and Subscribe.
	completeResp := doJSON(t, http.MethodPost, ts.URL+"/jobs/"+spawned.JobID+"/callback", map[string]interface{}{
		"status": "completed",
	})
	completeResp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg engine.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, engine.MessageStatusUpdate, msg.Type)
	assert.Equal(t, "checking", msg.Status)
}
