package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/api"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/dispatch"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/metrics"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/queue"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/scheduler"
)

type env struct {
	server   *api.Server
	tracker  *lifecycle.Tracker
	store    *lifecycle.MemoryStore
	registry *queue.Registry
	producer *queue.Producer
}

type passRunnerFunc func(ctx context.Context) (scheduler.PassResult, error)

func (f passRunnerFunc) RunPass(ctx context.Context) (scheduler.PassResult, error) {
	return f(ctx)
}

func newEnv(t *testing.T, opts ...api.RouterOption) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := queue.NewClientFromRedis(rdb, "test")

	store := lifecycle.NewMemoryStore()
	reg := prometheus.NewRegistry()
	tracker := lifecycle.NewTracker(store, nil, lifecycle.Settings{}, lifecycle.WithMetrics(metrics.New(reg)))
	registry := queue.NewRegistry(client, time.Minute)
	producer := queue.NewProducer(client, 100)

	base := []api.RouterOption{
		api.WithSignals(tracker),
		api.WithChannels(registry, producer),
		api.WithGatherer(reg),
		api.WithVersion("1.2.3"),
	}
	router := api.NewRouter(store, logger.NewNop(), append(base, opts...)...)
	server := api.NewServer(config.ServerConfig{}, logger.NewNop(), router.Setup)

	return &env{server: server, tracker: tracker, store: store, registry: registry, producer: producer}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func (e *env) submittedJob(t *testing.T, id int64) *domain.Job {
	t.Helper()

	ctx := context.Background()
	job := &domain.Job{ID: id, Status: domain.StatusReady, Channel: "SNAPSHOT", Kind: domain.KindSnapshot}
	job.Add(domain.ConfigKey{Domain: "a.dk", Config: "default"}, domain.Size{Bytes: 100, Objects: 1})
	require.NoError(t, e.tracker.Register(ctx, job))
	require.NoError(t, e.tracker.MarkSubmitted(ctx, job))
	return job
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		e := newEnv(t, api.WithHealthCheck("database", func(context.Context) error { return nil }))

		w := e.do(t, http.MethodGet, "/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "harvest-scheduler", body["service"])
		assert.Equal(t, "1.2.3", body["version"])
	})

	t.Run("failing check is unavailable", func(t *testing.T) {
		e := newEnv(t, api.WithHealthCheck("redis", func(context.Context) error {
			return errors.New("connection refused")
		}))

		w := e.do(t, http.MethodGet, "/health", "")

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decode(t, w)
		assert.Equal(t, "unhealthy", body["status"])
		checks := body["checks"].(map[string]any)
		assert.Equal(t, "connection refused", checks["redis"].(map[string]any)["message"])
	})
}

func TestRequestID(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.submittedJob(t, 1)

	w := e.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "harvest_scheduler_job_transitions_total")
}

func TestListJobs(t *testing.T) {
	e := newEnv(t)
	e.submittedJob(t, 1)
	e.submittedJob(t, 2)
	_, err := e.tracker.OnStarted(context.Background(), 2, "w")
	require.NoError(t, err)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount float64
	}{
		{name: "all", query: "", wantCode: http.StatusOK, wantCount: 2},
		{name: "by status", query: "?status=started", wantCode: http.StatusOK, wantCount: 1},
		{name: "several statuses", query: "?status=SUBMITTED,STARTED", wantCode: http.StatusOK, wantCount: 2},
		{name: "paged", query: "?limit=1&offset=1", wantCode: http.StatusOK, wantCount: 1},
		{name: "unknown status", query: "?status=BOGUS", wantCode: http.StatusBadRequest},
		{name: "bad limit", query: "?limit=0", wantCode: http.StatusBadRequest},
		{name: "bad offset", query: "?offset=-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodGet, "/api/v1/jobs"+tt.query, "")

			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode == http.StatusOK {
				assert.InDelta(t, tt.wantCount, decode(t, w)["count"], 0)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	e := newEnv(t)
	e.submittedJob(t, 7)

	w := e.do(t, http.MethodGet, "/api/v1/jobs/7", "")
	require.Equal(t, http.StatusOK, w.Code)
	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, int64(7), job.ID)
	assert.Equal(t, domain.StatusSubmitted, job.Status)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/jobs/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/jobs/abc", "").Code)
}

func TestSignalEndpoints(t *testing.T) {
	e := newEnv(t)
	e.submittedJob(t, 1)

	w := e.do(t, http.MethodPost, "/api/v1/jobs/1/started", `{"worker":"w-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "STARTED", decode(t, w)["status"])

	w = e.do(t, http.MethodPost, "/api/v1/jobs/1/completed", `{"bytes":120,"objects":2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.InDelta(t, 120, body["actual_bytes"], 0)

	// A second completion is inconsistent and leaves the job untouched.
	w = e.do(t, http.MethodPost, "/api/v1/jobs/1/completed", `{"bytes":1}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "COMPLETED", decode(t, w)["status"])

	job, err := e.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(120), job.ActualBytes)
}

func TestSignalEndpoints_Failed(t *testing.T) {
	e := newEnv(t)
	e.submittedJob(t, 1)

	// Empty body is accepted.
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/jobs/1/started", "").Code)

	w := e.do(t, http.MethodPost, "/api/v1/jobs/1/failed", `{"reason":"crawler crashed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "FAILED", body["status"])
	assert.Equal(t, "crawler crashed", body["failure_reason"])
}

func TestSignalEndpoints_Errors(t *testing.T) {
	e := newEnv(t)
	e.submittedJob(t, 1)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{name: "unknown job", path: "/api/v1/jobs/42/started", wantCode: http.StatusNotFound},
		{name: "not started yet", path: "/api/v1/jobs/1/failed", body: `{"reason":"x"}`, wantCode: http.StatusConflict},
		{name: "malformed body", path: "/api/v1/jobs/1/started", body: `{"worker":`, wantCode: http.StatusBadRequest},
		{name: "negative size", path: "/api/v1/jobs/1/completed", body: `{"bytes":-1}`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestSignalEndpoints_DisabledWithoutHandler(t *testing.T) {
	store := lifecycle.NewMemoryStore()
	router := api.NewRouter(store, logger.NewNop())
	server := api.NewServer(config.ServerConfig{}, logger.NewNop(), router.Setup)

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/1/started", http.NoBody))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChannelEndpoints(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.Equal(t, http.StatusNoContent, e.do(t, http.MethodPut, "/api/v1/channels/SNAPSHOT/workers/w-1", "").Code)
	require.Equal(t, http.StatusNoContent, e.do(t, http.MethodPut, "/api/v1/channels/SNAPSHOT/workers/w-2", "").Code)

	job := &domain.Job{ID: 1, Channel: "SNAPSHOT", Status: domain.StatusReady}
	_, err := e.producer.Submit(ctx, job)
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/api/v1/channels/SNAPSHOT", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.InDelta(t, 2, body["workers"], 0)
	assert.InDelta(t, 1, body["queued"], 0)

	require.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/v1/channels/SNAPSHOT/workers/w-1", "").Code)
	n, err := e.registry.WorkersRegistered(ctx, "SNAPSHOT")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunPass(t *testing.T) {
	runner := passRunnerFunc(func(context.Context) (scheduler.PassResult, error) {
		return scheduler.PassResult{
			Definitions: 2,
			Jobs:        5,
			Dispatch: dispatch.Report{
				Submitted: 4,
				Postponed: 1,
				Errors:    []error{errors.New("boom")},
			},
		}, nil
	})
	e := newEnv(t, api.WithPassRunner(runner))

	w := e.do(t, http.MethodPost, "/api/v1/passes", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.InDelta(t, 5, body["jobs"], 0)
	d := body["dispatch"].(map[string]any)
	assert.InDelta(t, 4, d["submitted"], 0)
	assert.Equal(t, []any{"boom"}, d["errors"])
}

func TestRunPass_Error(t *testing.T) {
	runner := passRunnerFunc(func(context.Context) (scheduler.PassResult, error) {
		return scheduler.PassResult{}, context.Canceled
	})
	e := newEnv(t, api.WithPassRunner(runner))

	assert.Equal(t, http.StatusInternalServerError, e.do(t, http.MethodPost, "/api/v1/passes", "").Code)
}

func TestRecovery(t *testing.T) {
	server := api.NewServer(config.ServerConfig{}, logger.NewNop(), func(r *gin.Engine) {
		r.GET("/panic", func(*gin.Context) { panic("boom") })
	})

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
