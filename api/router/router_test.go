package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoleprov/consoleprov/api/handler"
	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/internal/database"
	"github.com/consoleprov/consoleprov/internal/model"
	"github.com/consoleprov/consoleprov/internal/service"
	"github.com/consoleprov/consoleprov/pkg/console/consoletest"
	"github.com/consoleprov/consoleprov/pkg/metrics"
)

type testEnv struct {
	engine *gin.Engine
	store  *database.RunStore
	svc    *service.ProvisionService
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Provision.Platform = "vyos"
	cfg.Provision.Concurrency = 2
	cfg.Provision.LeaseTTL = time.Minute
	cfg.Provision.LeaseWait = time.Second

	require.NoError(t, database.InitSQLite(config.SQLiteConfig{Path: filepath.Join(dir, "api.db")}))
	t.Cleanup(func() { database.Close() })
	store := database.NewRunStore(database.GetDB())

	m := metrics.New("api_test")
	svc := service.NewProvisionService(cfg,
		service.WithDialer(consoletest.FailingDialer(errors.New("connection refused"))),
		service.WithStore(store),
		service.WithMetrics(m),
	)
	t.Cleanup(func() { svc.Stop() })

	return &testEnv{
		engine: SetupRouter(Deps{Provision: svc, Runs: store, Metrics: m, Mode: gin.TestMode}),
		store:  store,
		svc:    svc,
	}
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vyos")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestInstallAcceptedAndRecorded(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/v1/provision/install", map[string]interface{}{"host": "127.0.0.1", "port": 5000})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted handler.AcceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.RunID)

	require.Eventually(t, func() bool {
		run, err := e.store.Get(accepted.RunID)
		return err == nil && run.Status == model.RunStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	w = e.do(http.MethodGet, "/api/v1/runs/"+accepted.RunID+"?transcript=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail handler.RunDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "transport_failure", detail.Run.Outcome)
	assert.Contains(t, detail.Run.ErrorMsg, "connection refused")

	w = e.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `api_test_sessions_total{outcome="transport_failure",script="vyos-install"} 1`)
}

func TestValidation(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/api/v1/provision/install", map[string]interface{}{"host": "127.0.0.1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/v1/provision/configure", map[string]interface{}{"node_id": "n1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")

	w = e.do(http.MethodPost, "/api/v1/provision/batch", map[string]interface{}{"nodes": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchAccepted(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/v1/provision/batch", map[string]interface{}{
		"batch_id": "b-42",
		"nodes": []map[string]interface{}{
			{"host": "127.0.0.1", "port": 5001, "script_content": "echo a"},
			{"host": "127.0.0.1", "port": 5002, "script_content": "echo b"},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "b-42")

	require.Eventually(t, func() bool {
		_, total, err := e.store.List(database.RunFilter{BatchID: "b-42", Status: model.RunStatusFailed})
		return err == nil && total == 2
	}, 5*time.Second, 20*time.Millisecond)

	w = e.do(http.MethodGet, "/api/v1/runs?batch_id=b-42&kind=install", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list handler.RunListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.EqualValues(t, 2, list.Total)
}

func TestRunNotFound(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "RUN_NOT_FOUND")

	w = e.do(http.MethodGet, "/api/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
