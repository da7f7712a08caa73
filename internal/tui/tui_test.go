package tui

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"pulse/internal/core"
)

type stubSource struct {
	task   *core.AnalysisTask
	result *core.AnalysisResult
}

func (s *stubSource) Status(ctx context.Context, id string) (*core.AnalysisTask, error) {
	if s.task == nil {
		return nil, errors.New("task not found")
	}
	return s.task, nil
}

func (s *stubSource) Result(ctx context.Context, id string) (*core.AnalysisResult, error) {
	return s.result, nil
}

func (s *stubSource) Logs(ctx context.Context, id string) ([]core.TaskLog, error) {
	return []core.TaskLog{{Level: "info", Message: "entered COLLECTING"}}, nil
}

func TestModel_PollsUntilCompleted(t *testing.T) {
	src := &stubSource{task: &core.AnalysisTask{ID: "t1", State: core.StateClustering, Percent: 55}}
	m := newModel(src, "t1", time.Millisecond)

	next, cmd := m.Update(m.fetchStatus())
	m = next.(model)
	if m.task.Percent != 55 || len(m.logs) != 1 {
		t.Fatalf("status not applied: %+v", m.task)
	}
	if cmd == nil {
		t.Fatal("running task should schedule another poll")
	}
	if !strings.Contains(m.View(), "CLUSTERING") {
		t.Errorf("view missing state:\n%s", m.View())
	}

	src.task = &core.AnalysisTask{ID: "t1", State: core.StateCompleted, Percent: 100}
	src.result = &core.AnalysisResult{
		Strategy:    core.StrategyClusterBased,
		ReviewCount: 30,
		Personas: []core.Persona{
			{Label: "국물파", Share: 60, Goals: []string{"진한 국물"}},
			{Label: "주차 고민러", Share: 40},
		},
	}
	next, cmd = m.Update(m.fetchStatus())
	m = next.(model)
	if cmd == nil {
		t.Fatal("completed task should fetch its result")
	}
	next, _ = m.Update(cmd())
	m = next.(model)
	if m.result == nil || len(m.result.Personas) != 2 {
		t.Fatalf("result not applied")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(model)
	if m.selectedIdx != 1 {
		t.Errorf("selectedIdx = %d", m.selectedIdx)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if next.(model).selectedIdx != 1 {
		t.Error("selection must stay within the persona list")
	}
	if !strings.Contains(m.View(), "주차 고민러") {
		t.Errorf("view missing persona:\n%s", m.View())
	}
}

func TestModel_StopsOnFailure(t *testing.T) {
	src := &stubSource{task: &core.AnalysisTask{ID: "t1", State: core.StateFailed, Error: "target resolution failed"}}
	m := newModel(src, "t1", time.Millisecond)

	next, cmd := m.Update(m.fetchStatus())
	if cmd != nil {
		t.Error("failed task should not be polled again")
	}
	if !strings.Contains(next.(model).View(), "target resolution failed") {
		t.Error("view missing failure detail")
	}
}

func TestProgressBar(t *testing.T) {
	if bar := progressBar(150, 10); !strings.HasSuffix(bar, "100%") {
		t.Errorf("percent not clamped: %q", bar)
	}
}

func TestAPIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/analysis/status/t1":
			_, _ = w.Write([]byte(`{"task_id":"t1","state":"GENERATING","stage":"writing personas","percent":70}`))
		case "/api/analysis/result/t1":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"state":"GENERATING","ready":false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"task not found"}`))
		}
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL + "/")
	task, err := c.Status(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if task.ID != "t1" || task.State != core.StateGenerating || task.Percent != 70 {
		t.Errorf("unexpected task %+v", task)
	}
	if _, err := c.Result(context.Background(), "t1"); err == nil {
		t.Error("pending result should be an error")
	}
	if _, err := c.Status(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "task not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}
