package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/persistence"
	"pulse/internal/task"
)

type fakeTasks struct {
	tasks     map[string]*core.AnalysisTask
	results   map[string]*core.AnalysisResult
	logs      map[string][]core.TaskLog
	submitErr error
	submitted []task.Request
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{
		tasks:   map[string]*core.AnalysisTask{},
		results: map[string]*core.AnalysisResult{},
		logs:    map[string][]core.TaskLog{},
	}
}

func (f *fakeTasks) Submit(ctx context.Context, req task.Request) (*core.AnalysisTask, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	t := &core.AnalysisTask{ID: "task-1", Target: req.Target, State: core.StatePending}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeTasks) Status(ctx context.Context, id string) (*core.AnalysisTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, core.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTasks) Result(ctx context.Context, id string) (*core.AnalysisTask, *core.AnalysisResult, error) {
	t, err := f.Status(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, f.results[id], nil
}

func (f *fakeTasks) Latest(ctx context.Context) (*core.AnalysisResult, error) {
	for _, r := range f.results {
		return r, nil
	}
	return nil, core.ErrResultNotFound
}

func (f *fakeTasks) Logs(ctx context.Context, id string) ([]core.TaskLog, error) {
	if _, err := f.Status(ctx, id); err != nil {
		return nil, err
	}
	return f.logs[id], nil
}

func newTestServer(tasks TaskService, checks map[string]Pinger) *Server {
	return New(tasks, config.Server{Host: "127.0.0.1", Port: 0, RequestTimeout: 5 * time.Second}, checks)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestSubmit(t *testing.T) {
	tasks := newFakeTasks()
	s := newTestServer(tasks, nil)

	rec := do(t, s, http.MethodPost, "/api/analysis/request", `{"target":"  할매국밥 부산  ","max_reviews":50,"sources":["naver"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp SubmitResponse
	decode(t, rec, &resp)
	if resp.TaskID != "task-1" || resp.State != core.StatePending {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(tasks.submitted) != 1 || tasks.submitted[0].Target != "할매국밥 부산" || tasks.submitted[0].MaxReviews != 50 {
		t.Errorf("unexpected submitted request %+v", tasks.submitted)
	}
}

func TestSubmit_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"target":`, "invalid JSON body"},
		{"blank target", `{"target":"   "}`, "target is required"},
		{"max reviews too large", `{"target":"a","max_reviews":5000}`, "max_reviews is invalid"},
		{"unknown source", `{"target":"a","sources":["google"]}`, "unsupported source google"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := newFakeTasks()
			rec := do(t, newTestServer(tasks, nil), http.MethodPost, "/api/analysis/request", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp ErrorResponse
			decode(t, rec, &resp)
			if resp.Error != tt.want {
				t.Errorf("error = %q, want %q", resp.Error, tt.want)
			}
			if len(tasks.submitted) != 0 {
				t.Error("invalid request reached the task manager")
			}
		})
	}
}

func TestSubmit_QueueFullStillAccepted(t *testing.T) {
	db := persistence.NewMemoryDB()
	manager := task.NewManager(db, nil, nil, task.Config{QueueSize: 1})
	s := newTestServer(manager, nil)

	var ids []string
	for _, target := range []string{"할매국밥", "원조국밥"} {
		rec := do(t, s, http.MethodPost, "/api/analysis/request", `{"target":"`+target+`"}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d for %s", rec.Code, target)
		}
		var resp SubmitResponse
		decode(t, rec, &resp)
		if resp.TaskID == "" || resp.State != core.StatePending {
			t.Fatalf("unexpected response %+v", resp)
		}
		ids = append(ids, resp.TaskID)
	}

	rec := do(t, s, http.MethodGet, "/api/analysis/status/"+ids[1], "")
	var status StatusResponse
	decode(t, rec, &status)
	if status.State != core.StatePending {
		t.Errorf("overflow task state = %s", status.State)
	}
}

func TestSubmit_StorageFailure(t *testing.T) {
	tasks := newFakeTasks()
	tasks.submitErr = errors.New("connection refused")
	rec := do(t, newTestServer(tasks, nil), http.MethodPost, "/api/analysis/request", `{"target":"a"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	tasks := newFakeTasks()
	tasks.tasks["t1"] = &core.AnalysisTask{ID: "t1", State: core.StateClustering, Stage: "clustering reviews", Percent: 55}
	s := newTestServer(tasks, nil)

	rec := do(t, s, http.MethodGet, "/api/analysis/status/t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	decode(t, rec, &resp)
	if resp.State != core.StateClustering || resp.Percent != 55 || resp.Error != "" {
		t.Errorf("unexpected status %+v", resp)
	}

	if rec := do(t, s, http.MethodGet, "/api/analysis/status/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d", rec.Code)
	}
}

func TestResult(t *testing.T) {
	tasks := newFakeTasks()
	tasks.tasks["done"] = &core.AnalysisTask{ID: "done", State: core.StateCompleted, Percent: 100}
	tasks.results["done"] = &core.AnalysisResult{TaskID: "done", Strategy: core.StrategyClusterBased, Personas: []core.Persona{{Label: "국물파"}}}
	tasks.tasks["running"] = &core.AnalysisTask{ID: "running", State: core.StateGenerating, Percent: 70}
	tasks.tasks["failed"] = &core.AnalysisTask{ID: "failed", State: core.StateFailed, Error: "target resolution failed: no hit"}
	s := newTestServer(tasks, nil)

	rec := do(t, s, http.MethodGet, "/api/analysis/result/done", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("completed status = %d", rec.Code)
	}
	var result core.AnalysisResult
	decode(t, rec, &result)
	if result.Strategy != core.StrategyClusterBased || len(result.Personas) != 1 {
		t.Errorf("unexpected result %+v", result)
	}

	rec = do(t, s, http.MethodGet, "/api/analysis/result/running", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("running status = %d", rec.Code)
	}
	var pending PendingResponse
	decode(t, rec, &pending)
	if pending.Ready || pending.State != core.StateGenerating {
		t.Errorf("unexpected pending response %+v", pending)
	}

	rec = do(t, s, http.MethodGet, "/api/analysis/result/failed", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("failed status = %d", rec.Code)
	}
	var failed ErrorResponse
	decode(t, rec, &failed)
	if !strings.Contains(failed.Error, "resolution") {
		t.Errorf("failure detail missing: %+v", failed)
	}

	if rec := do(t, s, http.MethodGet, "/api/analysis/result/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown task result = %d", rec.Code)
	}
}

func TestLatestAndLogs(t *testing.T) {
	tasks := newFakeTasks()
	s := newTestServer(tasks, nil)

	if rec := do(t, s, http.MethodGet, "/api/analysis/latest", ""); rec.Code != http.StatusNotFound {
		t.Errorf("latest without results = %d", rec.Code)
	}

	tasks.tasks["t1"] = &core.AnalysisTask{ID: "t1", State: core.StatePending}
	rec := do(t, s, http.MethodGet, "/api/analysis/logs/t1", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty logs = %d %q", rec.Code, rec.Body.String())
	}

	tasks.logs["t1"] = []core.TaskLog{{TaskID: "t1", Message: "entered COLLECTING"}}
	tasks.results["t1"] = &core.AnalysisResult{TaskID: "t1"}
	if rec := do(t, s, http.MethodGet, "/api/analysis/latest", ""); rec.Code != http.StatusOK {
		t.Errorf("latest = %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/api/analysis/logs/t1", "")
	var logs []core.TaskLog
	decode(t, rec, &logs)
	if len(logs) != 1 || logs[0].Message != "entered COLLECTING" {
		t.Errorf("unexpected logs %+v", logs)
	}
}

func TestHealth(t *testing.T) {
	healthy := newTestServer(newFakeTasks(), map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error { return nil }),
	})
	rec := do(t, healthy, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	broken := newTestServer(newFakeTasks(), map[string]Pinger{
		"database":  PingFunc(func(ctx context.Context) error { return nil }),
		"documents": PingFunc(func(ctx context.Context) error { return errors.New("down") }),
	})
	rec = do(t, broken, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d", rec.Code)
	}
	var resp HealthResponse
	decode(t, rec, &resp)
	if resp.Checks["documents"] != "error" || resp.Checks["database"] != "ok" {
		t.Errorf("unexpected checks %+v", resp.Checks)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.Server{RequestTimeout: time.Second, RateLimit: config.RateLimit{Enabled: true, Requests: 1, Window: time.Minute}}
	s := New(newFakeTasks(), cfg, nil)

	if rec := do(t, s, http.MethodPost, "/api/analysis/request", `{"target":"a"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("first request = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/analysis/request", `{"target":"b"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", rec.Code)
	}
	// Polling is never rate limited.
	if rec := do(t, s, http.MethodGet, "/api/analysis/status/task-1", ""); rec.Code != http.StatusOK {
		t.Errorf("status after limit = %d", rec.Code)
	}
}
