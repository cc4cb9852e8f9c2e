package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dams-sync/internal/models"
	"dams-sync/internal/services"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

type fakeRunner struct {
	report  *services.RunReport
	err     error
	last    *services.RunReport
	anchors []time.Time
	ctxErrs []error
}

func (f *fakeRunner) TryRun(ctx context.Context, anchor time.Time) (*services.RunReport, error) {
	f.anchors = append(f.anchors, anchor)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.report, f.err
}

func (f *fakeRunner) LastReport() *services.RunReport { return f.last }

type fakeObservations struct {
	rows      []models.SourceRow
	err       error
	healthErr error
	dams      []models.Dam
	gotTag    string
	gotFrom   time.Time
	gotTo     time.Time
}

func (f *fakeObservations) GetObservations(_ context.Context, tag string, from, to time.Time) ([]models.SourceRow, error) {
	f.gotTag, f.gotFrom, f.gotTo = tag, from, to
	return f.rows, f.err
}

func (f *fakeObservations) GetDams() []models.Dam { return f.dams }

func (f *fakeObservations) HealthCheck(context.Context) error { return f.healthErr }

var fixedNow = time.Date(2021, 11, 16, 8, 20, 0, 0, time.UTC)

func newTestRouter(runner *fakeRunner, obs *fakeObservations) *mux.Router {
	h := NewSyncHandler(runner, obs, logging.NewDiscardLogger(), metrics.NewCollectorWith("test", prometheus.NewRegistry()))
	h.now = func() time.Time { return fixedNow }
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func serve(router http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestTriggerRun(t *testing.T) {
	report := &services.RunReport{RunID: "abc", Result: services.ResultSuccess}
	runner := &fakeRunner{report: report}
	router := newTestRouter(runner, &fakeObservations{})

	rec := serve(router, http.MethodPost, "/api/v1/runs?time=2021-11-16T08:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	var got services.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "abc", got.RunID)
	require.Len(t, runner.anchors, 1)
	assert.Equal(t, time.Date(2021, 11, 16, 8, 0, 0, 0, time.UTC), runner.anchors[0])
}

func TestTriggerRun_DefaultsToNow(t *testing.T) {
	runner := &fakeRunner{report: &services.RunReport{}}
	router := newTestRouter(runner, &fakeObservations{})

	rec := serve(router, http.MethodPost, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fixedNow, runner.anchors[0])
}

func TestTriggerRun_ClientGoneKeepsRunning(t *testing.T) {
	runner := &fakeRunner{report: &services.RunReport{Result: services.ResultSuccess}}
	router := newTestRouter(runner, &fakeObservations{})

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Len(t, runner.ctxErrs, 1)
	assert.NoError(t, runner.ctxErrs[0], "the run context outlives the request")
}

func TestTriggerRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		target string
		want   int
	}{
		{"bad time", &fakeRunner{}, "/api/v1/runs?time=yesterday-ish", http.StatusBadRequest},
		{"busy", &fakeRunner{err: services.ErrRunInProgress}, "/api/v1/runs", http.StatusConflict},
		{"failed run", &fakeRunner{
			report: &services.RunReport{Result: services.ResultFailed},
			err:    &models.PipelineInvariantError{Variable: "dams_level"},
		}, "/api/v1/runs", http.StatusInternalServerError},
		{"no report", &fakeRunner{err: errors.New("boom")}, "/api/v1/runs", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestRouter(tt.runner, &fakeObservations{}), http.MethodPost, tt.target)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestLatestRun(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeObservations{})
	rec := serve(router, http.MethodGet, "/api/v1/runs/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, http.StatusNotFound, errResp.Code)

	router = newTestRouter(&fakeRunner{last: &services.RunReport{RunID: "xyz"}}, &fakeObservations{})
	rec = serve(router, http.MethodGet, "/api/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"xyz"`)
}

func TestGetObservations(t *testing.T) {
	obs := &fakeObservations{rows: []models.SourceRow{
		{DamCode: "D1", ObservedAt: fixedNow, Value: 101.5},
	}}
	router := newTestRouter(&fakeRunner{}, obs)

	rec := serve(router, http.MethodGet, "/api/v1/observations?tag=LIV&from=2021-11-16+00:00&to=2021-11-16T08:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "LIV", obs.gotTag)
	assert.Equal(t, time.Date(2021, 11, 16, 0, 0, 0, 0, time.UTC), obs.gotFrom)
	assert.Equal(t, time.Date(2021, 11, 16, 8, 0, 0, 0, time.UTC), obs.gotTo)

	var resp struct {
		Data  []models.SourceRow `json:"data"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "D1", resp.Data[0].DamCode)
}

func TestGetObservations_DefaultRangeAndEmpty(t *testing.T) {
	obs := &fakeObservations{}
	router := newTestRouter(&fakeRunner{}, obs)

	rec := serve(router, http.MethodGet, "/api/v1/observations?tag=LIV")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fixedNow, obs.gotTo)
	assert.Equal(t, fixedNow.Add(-24*time.Hour), obs.gotFrom)
	assert.True(t, strings.HasPrefix(rec.Body.String(), `{"data":[],"total":0}`))
}

func TestGetObservations_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		obs    *fakeObservations
		target string
	}{
		{"missing tag", &fakeObservations{}, "/api/v1/observations"},
		{"bad from", &fakeObservations{}, "/api/v1/observations?tag=LIV&from=nope"},
		{"bad to", &fakeObservations{}, "/api/v1/observations?tag=LIV&to=nope"},
		{"validation", &fakeObservations{err: &models.ValidationError{Field: "to", Message: "to must not precede from"}},
			"/api/v1/observations?tag=LIV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestRouter(&fakeRunner{}, tt.obs), http.MethodGet, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := serve(newTestRouter(&fakeRunner{}, &fakeObservations{err: errors.New("db down")}), http.MethodGet,
		"/api/v1/observations?tag=LIV")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListDams(t *testing.T) {
	obs := &fakeObservations{dams: []models.Dam{{Code: "D1", Name: "Ridracoli"}}}
	rec := serve(newTestRouter(&fakeRunner{}, obs), http.MethodGet, "/api/v1/dams")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ridracoli")
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestHealthCheck(t *testing.T) {
	runner := &fakeRunner{last: &services.RunReport{Result: services.ResultSuccess, FinishedAt: fixedNow}}
	rec := serve(newTestRouter(runner, &fakeObservations{}), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])
	assert.Equal(t, services.ResultSuccess, status["last_run_result"])

	rec = serve(newTestRouter(&fakeRunner{}, &fakeObservations{healthErr: errors.New("refused")}), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestDocs(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeObservations{})

	rec := serve(router, http.MethodGet, "/api/docs/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var spec map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	paths, ok := spec["paths"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/runs")

	rec = serve(router, http.MethodGet, "/api/docs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dams Sync API Documentation")
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	rec := serve(newTestRouter(&fakeRunner{}, &fakeObservations{}), http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
