package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pulse/internal/core"
)

// MemoryDB is an in-process Database with the same conditional-write
// semantics as SQLStore. Used by `pulse analyze` and tests.
type MemoryDB struct {
	mu      sync.Mutex
	tasks   map[string]core.AnalysisTask
	results map[string]core.AnalysisResult
}

// NewMemoryDB creates an empty in-memory relational store
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		tasks:   make(map[string]core.AnalysisTask),
		results: make(map[string]core.AnalysisResult),
	}
}

func (m *MemoryDB) Tasks() TaskRepository         { return memoryTasks{m} }
func (m *MemoryDB) Results() ResultRepository     { return memoryResults{m} }
func (m *MemoryDB) Close() error                  { return nil }
func (m *MemoryDB) Ping(ctx context.Context) error { return nil }

type memoryTasks struct{ m *MemoryDB }

func (r memoryTasks) Create(ctx context.Context, task *core.AnalysisTask) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.tasks[task.ID]; ok {
		return fmt.Errorf("%w: task %s already exists", core.ErrStorage, task.ID)
	}
	t := *task
	t.Sources = append([]string(nil), task.Sources...)
	r.m.tasks[task.ID] = t
	return nil
}

func (r memoryTasks) Get(ctx context.Context, id string) (*core.AnalysisTask, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	t.Sources = append([]string(nil), t.Sources...)
	return &t, nil
}

func (r memoryTasks) Advance(ctx context.Context, id string, to core.TaskState, stage string, percent int) error {
	if to == core.StateCompleted || to == core.StateFailed {
		return fmt.Errorf("%w: terminal state %s must be written through Complete or Fail", core.ErrInvalidTransition, to)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	if !core.CanTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, t.State, to)
	}
	t.State = to
	t.Stage = stage
	if percent > t.Percent {
		t.Percent = percent
	}
	t.UpdatedAt = time.Now().UTC()
	r.m.tasks[id] = t
	return nil
}

func (r memoryTasks) UpdateProgress(ctx context.Context, id string, stage string, percent int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	if t.State.IsTerminal() || percent < t.Percent {
		return nil
	}
	t.Stage = stage
	t.Percent = percent
	t.UpdatedAt = time.Now().UTC()
	r.m.tasks[id] = t
	return nil
}

func (r memoryTasks) SetStoreName(ctx context.Context, id string, name string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	if t.State.IsTerminal() {
		return nil
	}
	t.StoreName = name
	t.UpdatedAt = time.Now().UTC()
	r.m.tasks[id] = t
	return nil
}

func (r memoryTasks) Fail(ctx context.Context, id string, detail string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tasks[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	if t.State.IsTerminal() {
		return false, nil
	}
	t.State = core.StateFailed
	t.Error = detail
	t.UpdatedAt = time.Now().UTC()
	r.m.tasks[id] = t
	return true, nil
}

func (r memoryTasks) ListNonTerminal(ctx context.Context) ([]core.AnalysisTask, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []core.AnalysisTask
	for _, t := range r.m.tasks {
		if !t.State.IsTerminal() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memoryResults struct{ m *MemoryDB }

func (r memoryResults) Complete(ctx context.Context, result *core.AnalysisResult) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tasks[result.TaskID]
	if !ok {
		return false, fmt.Errorf("%w: %s", core.ErrTaskNotFound, result.TaskID)
	}
	if t.State != core.StateGenerating {
		return false, nil
	}
	if _, exists := r.m.results[result.TaskID]; exists {
		return false, nil
	}

	r.m.results[result.TaskID] = *result
	t.State = core.StateCompleted
	t.Stage = "completed"
	t.Percent = 100
	t.StoreName = result.StoreName
	t.UpdatedAt = time.Now().UTC()
	r.m.tasks[result.TaskID] = t
	return true, nil
}

func (r memoryResults) Get(ctx context.Context, taskID string) (*core.AnalysisResult, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	res, ok := r.m.results[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrResultNotFound, taskID)
	}
	return &res, nil
}

func (r memoryResults) Latest(ctx context.Context) (*core.AnalysisResult, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var latest *core.AnalysisResult
	for _, res := range r.m.results {
		res := res
		if latest == nil || res.CreatedAt.After(latest.CreatedAt) {
			latest = &res
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: latest", core.ErrResultNotFound)
	}
	return latest, nil
}

// MemoryDocuments is an in-process DocumentStore
type MemoryDocuments struct {
	mu      sync.Mutex
	reviews map[string][]core.RawReview
	keys    map[string]map[string]bool
	logs    map[string][]core.TaskLog
}

// NewMemoryDocuments creates an empty in-memory document store
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{
		reviews: make(map[string][]core.RawReview),
		keys:    make(map[string]map[string]bool),
		logs:    make(map[string][]core.TaskLog),
	}
}

func (d *MemoryDocuments) AppendReview(ctx context.Context, review core.RawReview) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := d.keys[review.TaskID]
	if seen == nil {
		seen = make(map[string]bool)
		d.keys[review.TaskID] = seen
	}
	if seen[review.NaturalKey] {
		return nil
	}
	seen[review.NaturalKey] = true
	d.reviews[review.TaskID] = append(d.reviews[review.TaskID], review)
	return nil
}

func (d *MemoryDocuments) Reviews(ctx context.Context, taskID string) ([]core.RawReview, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.RawReview(nil), d.reviews[taskID]...), nil
}

func (d *MemoryDocuments) AppendLog(ctx context.Context, entry core.TaskLog) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logs[entry.TaskID] = append(d.logs[entry.TaskID], entry)
	return nil
}

func (d *MemoryDocuments) Logs(ctx context.Context, taskID string) ([]core.TaskLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.TaskLog(nil), d.logs[taskID]...), nil
}

func (d *MemoryDocuments) Ping(ctx context.Context) error  { return nil }
func (d *MemoryDocuments) Close(ctx context.Context) error { return nil }
