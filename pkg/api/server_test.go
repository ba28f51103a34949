package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"randooprun/pkg/models"
	"randooprun/pkg/scheduler"
	"randooprun/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func record(pkg string, outcome models.Outcome) *models.RunRecord {
	rec := models.NewRunRecord(pkg)
	rec.Verdict = models.Verdict{Outcome: outcome, Duration: 1500 * time.Millisecond}
	rec.Classes = 3
	rec.CompletedAt = rec.StartedAt.Add(2 * time.Second)
	return rec
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(2)
	a, b, c := record("a", models.OutcomeSucceeded), record("b", models.OutcomeSucceeded), record("c", models.OutcomeSucceeded)
	h.Add(a)
	h.Add(b)
	h.Add(c)
	h.Add(nil)

	assert.Equal(t, 2, h.Len())
	_, ok := h.Get(a.ID)
	assert.False(t, ok)
	list := h.List("", 0)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].PackageName)
	assert.Equal(t, "b", list[1].PackageName)
}

func TestServer_Health(t *testing.T) {
	h := NewHistory(10)
	s := NewServer(Config{History: h})

	w := do(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotContains(t, body, "last_run")

	h.Add(record("com.example", models.OutcomeTimedOut))
	w = do(t, s, http.MethodGet, "/health")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["runs"])
	assert.Contains(t, body, "last_run")
}

func TestServer_ListAndGetRuns(t *testing.T) {
	h := NewHistory(10)
	first := record("com.example.a", models.OutcomeSucceeded)
	second := record("com.example.b", models.OutcomeFailedNonZeroExit)
	second.Error = "generating tests for com.example.b: process exited with code 1"
	h.Add(first)
	h.Add(second)
	s := NewServer(Config{History: h})

	w := do(t, s, http.MethodGet, "/api/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs  []RunResponse `json:"runs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, second.ID, list.Runs[0].ID)
	assert.Equal(t, int64(1500), list.Runs[0].DurationMS)

	w = do(t, s, http.MethodGet, "/api/v1/runs?package=com.example.a")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, models.OutcomeSucceeded, list.Runs[0].Outcome)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/runs?limit=0").Code)

	w = do(t, s, http.MethodGet, "/api/v1/runs/"+second.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var run RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, models.OutcomeFailedNonZeroExit, run.Outcome)
	assert.Equal(t, second.Error, run.Error)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/runs/nope").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/runs/"+models.NewRunRecord("x").ID.String()).Code)
}

func TestServer_RunLog(t *testing.T) {
	store, err := storage.NewLocalLogStore(t.TempDir())
	require.NoError(t, err)

	rec := record("com.example", models.OutcomeSucceeded)
	rec.LogReference, err = store.Store(context.Background(), rec.ID.String(), rec.PackageName, []byte("generated 4 tests\n"))
	require.NoError(t, err)
	noLog := record("com.example", models.OutcomeLaunchFailed)

	h := NewHistory(10)
	h.Add(rec)
	h.Add(noLog)
	s := NewServer(Config{History: h, LogStore: store})

	w := do(t, s, http.MethodGet, "/api/v1/runs/"+rec.ID.String()+"/log")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "generated 4 tests\n", w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/runs/"+noLog.ID.String()+"/log").Code)
}

func TestServer_Metrics(t *testing.T) {
	s := NewServer(Config{})
	do(t, s, http.MethodGet, "/health")

	w := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "randooprun_http_requests_total")
}

// fakeTrigger holds each launched round open until release is closed.
type fakeTrigger struct {
	running atomic.Bool
	release chan struct{}
	started chan struct{}
}

func (f *fakeTrigger) Running() bool { return f.running.Load() }

func (f *fakeTrigger) Launch(ctx context.Context) (<-chan error, error) {
	if !f.running.CompareAndSwap(false, true) {
		return nil, scheduler.ErrRoundInProgress
	}
	done := make(chan error, 1)
	go func() {
		defer f.running.Store(false)
		f.started <- struct{}{}
		<-f.release
		done <- nil
	}()
	return done, nil
}

func TestServer_Trigger(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, do(t, NewServer(Config{}), http.MethodPost, "/api/v1/trigger").Code)

	trig := &fakeTrigger{release: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewServer(Config{Trigger: trig})

	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/api/v1/trigger").Code)
	<-trig.started
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/v1/trigger").Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/health").Body.Bytes(), &health))
	assert.Equal(t, true, health["running"])

	close(trig.release)
	assert.Eventually(t, func() bool { return !trig.Running() }, time.Second, 10*time.Millisecond)
}

// A round started by the scheduler itself blocks the API trigger too.
func TestServer_TriggerSharesSchedulerGuard(t *testing.T) {
	gen := &blockingGenerator{gate: make(chan struct{})}
	core, err := scheduler.NewCore("@daily", gen, models.RunConfig{}, []string{"p"})
	require.NoError(t, err)
	s := NewServer(Config{Trigger: core})

	first := make(chan error, 1)
	go func() { first <- core.Trigger(context.Background()) }()
	require.Eventually(t, core.Running, time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/v1/trigger").Code)

	close(gen.gate)
	require.NoError(t, <-first)
	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/api/v1/trigger").Code)
	assert.Eventually(t, func() bool { return !core.Running() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&gen.rounds))
}

type blockingGenerator struct {
	gate   chan struct{}
	rounds int32
}

func (g *blockingGenerator) RunAll(ctx context.Context, base models.RunConfig, packages []string) ([]*models.RunRecord, error) {
	<-g.gate
	atomic.AddInt32(&g.rounds, 1)
	return nil, nil
}
