// Package task owns the lifecycle of analysis tasks: creation, dispatch to a
// bounded worker pool, progress reporting and the single terminal write.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/metrics"
	"pulse/internal/persistence"
	"pulse/internal/pipeline"
)

var (
	// ErrQueueFull is returned when no worker slot can accept the task
	// right now. The task stays PENDING until the sweeper queues it.
	ErrQueueFull = errors.New("task queue is full")
	// ErrInvalidRequest is returned for a request that cannot become a task
	ErrInvalidRequest = errors.New("invalid analysis request")
	// ErrStopped is returned after Stop
	ErrStopped = errors.New("task manager stopped")
)

// Runner executes the analysis stages for one task
type Runner interface {
	Run(ctx context.Context, task core.AnalysisTask, rep pipeline.Reporter) (*core.AnalysisResult, error)
}

// Config controls task execution
type Config struct {
	Concurrency       int           // Worker goroutines
	QueueSize         int           // Tasks waiting for a worker
	TaskTimeout       time.Duration // Upper bound on one task's execution
	SweepInterval     time.Duration // How often PENDING tasks missing from the queue are picked up
	DefaultMaxReviews int
	DefaultSources    []string
}

// DefaultConfig returns the default pool settings
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		QueueSize:         64,
		TaskTimeout:       15 * time.Minute,
		SweepInterval:     5 * time.Second,
		DefaultMaxReviews: 100,
		DefaultSources:    []string{"naver", "kakao"},
	}
}

// Request is a caller's analysis request
type Request struct {
	Target     string
	MaxReviews int
	Sources    []string
}

// Manager creates tasks and runs them on a bounded worker pool. It is the
// only component that mutates task state.
type Manager struct {
	db     persistence.Database
	logs   persistence.LogStore
	runner Runner
	config Config
	log    zerolog.Logger

	queue    chan string
	mu       sync.Mutex
	queued   map[string]bool
	inflight map[string]bool
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a task manager. logs may be nil.
func NewManager(db persistence.Database, logs persistence.LogStore, runner Runner, config Config) *Manager {
	defaults := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = defaults.TaskTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.DefaultMaxReviews <= 0 {
		config.DefaultMaxReviews = defaults.DefaultMaxReviews
	}
	if len(config.DefaultSources) == 0 {
		config.DefaultSources = defaults.DefaultSources
	}
	return &Manager{
		db:       db,
		logs:     logs,
		runner:   runner,
		config:   config,
		log:      logger.For("task"),
		queue:    make(chan string, config.QueueSize),
		queued:   make(map[string]bool),
		inflight: make(map[string]bool),
	}
}

// Start launches the workers and the pending sweeper. They run until Stop
// or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)

	for i := 0; i < m.config.Concurrency; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	m.wg.Add(1)
	go m.sweep(ctx)
	m.log.Info().Int("workers", m.config.Concurrency).Int("queue", m.config.QueueSize).Msg("Task workers started")
}

// Stop cancels running tasks and waits for the workers to exit. Tasks still
// queued stay PENDING and are picked up by ResumePending on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped || !m.started {
		m.stopped = true
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info().Msg("Task workers stopped")
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.unqueue(id)
			if err := m.Execute(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error().Err(err).Int("worker", n).Str("task_id", id).Msg("Task execution error")
			}
		}
	}
}

// Submit persists a new PENDING task and queues it. It returns as soon as
// the task is stored. A task that finds the queue full stays PENDING and is
// queued by the sweeper once a slot frees up.
func (m *Manager) Submit(ctx context.Context, req Request) (*core.AnalysisTask, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidRequest)
	}
	maxReviews := req.MaxReviews
	if maxReviews <= 0 {
		maxReviews = m.config.DefaultMaxReviews
	}
	sources := req.Sources
	if len(sources) == 0 {
		sources = append([]string(nil), m.config.DefaultSources...)
	}

	now := time.Now().UTC()
	task := &core.AnalysisTask{
		ID:         uuid.NewString(),
		Target:     target,
		MaxReviews: maxReviews,
		Sources:    sources,
		State:      core.StatePending,
		Stage:      "queued",
		Percent:    core.StatePending.Percent(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.db.Tasks().Create(ctx, task); err != nil {
		return nil, err
	}
	metrics.TasksSubmitted.Inc()
	m.journal(ctx, task.ID, core.StatePending, "info", fmt.Sprintf("task created for %q", target))

	if err := m.enqueue(task.ID); err != nil {
		m.log.Warn().Err(err).Str("task_id", task.ID).Msg("Task left pending")
		m.journal(ctx, task.ID, core.StatePending, "warn", "waiting for a free worker: "+err.Error())
		return task, nil
	}

	m.log.Info().Str("task_id", task.ID).Str("target", target).Int("max_reviews", maxReviews).Msg("Task submitted")
	return task, nil
}

// enqueue hands id to the workers without blocking. A task that is already
// queued or running is not queued twice.
func (m *Manager) enqueue(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.queued[id] || m.inflight[id] {
		return nil
	}
	select {
	case m.queue <- id:
		m.queued[id] = true
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Manager) unqueue(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queued, id)
}

// sweep periodically queues PENDING tasks that found the queue full
func (m *Manager) sweep(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepPending(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn().Err(err).Msg("Pending sweep failed")
			}
		}
	}
}

// SweepPending queues PENDING tasks that are neither queued nor running,
// oldest first, until the queue is full. It returns how many were queued.
func (m *Manager) SweepPending(ctx context.Context) (int, error) {
	tasks, err := m.db.Tasks().ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, t := range tasks {
		if t.State != core.StatePending {
			continue
		}
		m.mu.Lock()
		waiting := !m.queued[t.ID] && !m.inflight[t.ID]
		m.mu.Unlock()
		if !waiting {
			continue
		}
		if err := m.enqueue(t.ID); err != nil {
			if errors.Is(err, ErrQueueFull) {
				break
			}
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		m.log.Debug().Int("tasks", swept).Msg("Queued pending tasks")
	}
	return swept, nil
}

// ResumePending queues every task left non-terminal by a previous process.
// Each resumed task continues from its recorded state.
func (m *Manager) ResumePending(ctx context.Context) (int, error) {
	tasks, err := m.db.Tasks().ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, t := range tasks {
		m.mu.Lock()
		busy := m.queued[t.ID] || m.inflight[t.ID]
		if !busy {
			m.queued[t.ID] = true
		}
		m.mu.Unlock()
		if busy {
			continue
		}
		select {
		case m.queue <- t.ID:
			resumed++
			m.journal(ctx, t.ID, t.State, "info", "task resumed after restart")
		case <-ctx.Done():
			m.unqueue(t.ID)
			return resumed, ctx.Err()
		}
	}
	if resumed > 0 {
		m.log.Info().Int("tasks", resumed).Msg("Resumed unfinished tasks")
	}
	return resumed, nil
}

// Execute runs one task to a terminal state in the calling goroutine. A task
// that is already terminal, or already running in this process, is left alone.
func (m *Manager) Execute(ctx context.Context, id string) error {
	if !m.claim(id) {
		return nil
	}
	defer m.release(id)

	task, err := m.db.Tasks().Get(ctx, id)
	if err != nil {
		return err
	}
	if task.State.IsTerminal() {
		return nil
	}

	exec := &execution{
		id:    id,
		state: task.State,
		tasks: m.db.Tasks(),
		logs:  m.logs,
		log:   m.log.With().Str("task_id", id).Logger(),
	}

	metrics.TasksRunning.Inc()
	defer metrics.TasksRunning.Dec()

	runCtx, cancel := context.WithTimeout(ctx, m.config.TaskTimeout)
	defer cancel()
	result, err := m.run(runCtx, *task, exec)

	// Terminal writes must land even when the run was cut short
	writeCtx := context.WithoutCancel(ctx)
	if err == nil && len(result.Personas) == 0 {
		err = fmt.Errorf("%w: no personas generated", core.ErrGenerationExhausted)
	}
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown: leave the task non-terminal so it resumes on the next start
			exec.log.Warn().Err(err).Msg("Task interrupted by shutdown")
			return ctx.Err()
		}
		return m.fail(writeCtx, exec, err)
	}

	wrote, err := m.db.Results().Complete(writeCtx, result)
	if err != nil {
		return m.fail(writeCtx, exec, err)
	}
	if !wrote {
		exec.log.Warn().Msg("Task already terminal, result discarded")
		return nil
	}
	exec.finish(writeCtx, core.StateCompleted,
		fmt.Sprintf("completed with %d personas (%s)", len(result.Personas), result.Strategy))
	exec.log.Info().Int("personas", len(result.Personas)).Str("strategy", string(result.Strategy)).Msg("Task completed")
	return nil
}

// run calls the runner, turning a panic into a task error
func (m *Manager) run(ctx context.Context, task core.AnalysisTask, exec *execution) (result *core.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return m.runner.Run(ctx, task, exec)
}

func (m *Manager) fail(ctx context.Context, exec *execution, cause error) error {
	wrote, err := m.db.Tasks().Fail(ctx, exec.id, cause.Error())
	if err != nil {
		return fmt.Errorf("failed to record task failure (%v): %w", cause, err)
	}
	if wrote {
		exec.finish(ctx, core.StateFailed, cause.Error())
		exec.log.Warn().Err(cause).Msg("Task failed")
	}
	return nil
}

func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[id] {
		return false
	}
	m.inflight[id] = true
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, id)
}

func (m *Manager) journal(ctx context.Context, id string, state core.TaskState, level, message string) {
	if m.logs == nil {
		return
	}
	err := m.logs.AppendLog(ctx, core.TaskLog{TaskID: id, Level: level, State: state, Message: message, Time: time.Now().UTC()})
	if err != nil {
		m.log.Warn().Err(err).Str("task_id", id).Msg("Failed to append task log")
	}
}

// Status returns the task for polling
func (m *Manager) Status(ctx context.Context, id string) (*core.AnalysisTask, error) {
	return m.db.Tasks().Get(ctx, id)
}

// Result returns the task and, when it is COMPLETED, its result
func (m *Manager) Result(ctx context.Context, id string) (*core.AnalysisTask, *core.AnalysisResult, error) {
	task, err := m.db.Tasks().Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if task.State != core.StateCompleted {
		return task, nil, nil
	}
	result, err := m.db.Results().Get(ctx, id)
	if err != nil {
		return task, nil, err
	}
	return task, result, nil
}

// Latest returns the most recently completed result
func (m *Manager) Latest(ctx context.Context) (*core.AnalysisResult, error) {
	return m.db.Results().Latest(ctx)
}

// Logs returns the journal of a task
func (m *Manager) Logs(ctx context.Context, id string) ([]core.TaskLog, error) {
	if _, err := m.db.Tasks().Get(ctx, id); err != nil {
		return nil, err
	}
	if m.logs == nil {
		return nil, nil
	}
	return m.logs.Logs(ctx, id)
}
