package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/infra/metrics"
	"github.com/runoshun/autocrew/internal/testutil"
	"github.com/runoshun/autocrew/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo      *testutil.MockFeatureRepository
	worktrees *testutil.MockWorktreeManager
	executor  *testutil.MockExecutor
	auto      *usecase.AutoMode
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := testutil.NewMockFeatureRepository()
	worktrees := testutil.NewMockWorktreeManager(t.TempDir())
	executor := &testutil.MockExecutor{Default: testutil.SuccessScript("done")}
	events := testutil.NewEventRecorder()
	registry := usecase.NewRunRegistry()
	transcripts := testutil.NewMockTranscriptStore()
	clock := &testutil.MockClock{NowTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

	auto := usecase.NewAutoMode(usecase.AutoModeDeps{
		Features:    repo,
		Worktrees:   worktrees,
		Executor:    executor,
		Prompts:     &testutil.MockPromptBuilder{},
		Transcripts: transcripts,
		Events:      events,
		Pipelines:   &testutil.MockPipelineLoader{},
		Logger:      testutil.NewMockLogger(),
		Clock:       clock,
		Registry:    registry,
		RepoRoot:    "/repo",
		Agent:       domain.AgentConfig{Provider: "claude"},
		Auto:        domain.AutoConfig{MaxConcurrency: 1, UseWorktrees: true, PollInterval: 10 * time.Millisecond},
	})

	collector := metrics.NewCollector()
	t.Cleanup(collector.Attach(events))

	srv := New(Options{
		Scheduler:     auto,
		Events:        events,
		Metrics:       collector.Handler(),
		ListFeatures:  usecase.NewListFeatures(repo, registry),
		ShowFeature:   usecase.NewShowFeature(repo, transcripts, registry),
		ListWorktrees: usecase.NewListWorktrees(repo, worktrees),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = auto.Stop(ctx)
	})

	return &fixture{repo: repo, worktrees: worktrees, executor: executor, auto: auto, server: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (f *fixture) waitStatus(t *testing.T, id string, want domain.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := f.repo.Snapshot(id)
		return snap != nil && snap.Status == want
	}, 3*time.Second, 5*time.Millisecond)
}

func TestServer_AutoModeLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/auto/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["state"])

	resp, body = f.do(t, http.MethodPost, "/api/auto/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", body["state"])
	assert.EqualValues(t, 1, body["maxConcurrency"])

	resp, body = f.do(t, http.MethodPost, "/api/auto/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already running")

	resp, body = f.do(t, http.MethodPost, "/api/auto/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["state"])

	resp, _ = f.do(t, http.MethodPost, "/api/auto/stop", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_RunFeature(t *testing.T) {
	f := newFixture(t)
	f.repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusBacklog, Description: "do it"})

	resp, body := f.do(t, http.MethodPost, "/api/features/f1/run", `{"resume":false}`)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "f1", body["featureId"])
	f.waitStatus(t, "f1", domain.StatusVerified)

	resp, body = f.do(t, http.MethodGet, "/api/features/f1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	feature := body["feature"].(map[string]any)
	assert.Equal(t, "verified", feature["status"])
	assert.Equal(t, false, body["running"])
}

func TestServer_RunFeature_Errors(t *testing.T) {
	f := newFixture(t)
	f.repo.Add(&domain.Feature{ID: "done", Status: domain.StatusVerified, Description: "x"})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "unknown feature", method: http.MethodPost, path: "/api/features/nope/run", want: http.StatusNotFound},
		{name: "invalid body", method: http.MethodPost, path: "/api/features/done/run", body: "{", want: http.StatusBadRequest},
		{name: "verify needs waiting_approval", method: http.MethodPost, path: "/api/features/done/verify", want: http.StatusConflict},
		{name: "stop without run", method: http.MethodPost, path: "/api/features/done/stop", want: http.StatusConflict},
		{name: "get unknown feature", method: http.MethodGet, path: "/api/features/nope", want: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, path: "/api/auto/start", want: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestServer_ForceStop(t *testing.T) {
	f := newFixture(t)
	f.executor.Default = testutil.Script{
		Steps: []testutil.ScriptStep{{Message: domain.TextMessage("thinking")}},
		Hang:  true,
	}
	f.repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusBacklog, Description: "x"})

	resp, _ := f.do(t, http.MethodPost, "/api/features/f1/run", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return f.executor.Live() == 1 }, 3*time.Second, 5*time.Millisecond)

	resp, body := f.do(t, http.MethodGet, "/api/auto/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["runningCount"])

	resp, _ = f.do(t, http.MethodPost, "/api/features/f1/stop", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	f.waitStatus(t, "f1", domain.StatusBacklog)
}

func TestServer_ListFeaturesAndWorktrees(t *testing.T) {
	f := newFixture(t)
	f.repo.Add(&domain.Feature{ID: "a", Status: domain.StatusVerified, Category: "api", Description: "a"})
	f.repo.Add(&domain.Feature{ID: "b", Status: domain.StatusBacklog, Category: "ui", Description: "b", Dependencies: []string{"a", "zz"}})
	_, err := f.worktrees.Create(context.Background(), "a")
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/api/features?status=backlog", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	features := body["features"].([]any)
	require.Len(t, features, 1)
	b := features[0].(map[string]any)
	assert.Equal(t, "b", b["id"])
	assert.Equal(t, []any{"zz"}, b["blocking"])

	resp, body = f.do(t, http.MethodGet, "/api/worktrees", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	worktrees := body["worktrees"].([]any)
	require.Len(t, worktrees, 1)
	assert.Equal(t, "verified", worktrees[0].(map[string]any)["status"])
	assert.Empty(t, body["missing"])
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	f.repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusBacklog, Description: "x"})
	resp, _ := f.do(t, http.MethodPost, "/api/features/f1/run", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.waitStatus(t, "f1", domain.StatusVerified)

	res, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrFeatureNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(&domain.ConcurrentUpdateConflict{FeatureID: "x"}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&domain.FatalStoreError{Op: "read", Err: assert.AnError}))
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	send := func(method, path, origin string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(""))
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}

	t.Run("cross-site post cannot start auto mode", func(t *testing.T) {
		// Execute
		resp := send(http.MethodPost, "/api/auto/start", "https://evil.example")

		// Assert
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "idle", string(f.auto.Status().State))
	})

	t.Run("cross-site websocket handshake", func(t *testing.T) {
		// Setup
		url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events/ws"

		// Execute
		conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})

		// Assert
		require.Error(t, err)
		assert.Nil(t, conn)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("loopback page is served", func(t *testing.T) {
		// Execute
		resp := send(http.MethodPost, "/api/auto/start", "http://localhost:5173")

		// Assert
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "running", string(f.auto.Status().State))
	})
}
