package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"pulse/internal/core"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQLStore implements Database over Postgres or SQLite
type SQLStore struct {
	db      *sql.DB
	dialect string
	tasks   TaskRepository
	results ResultRepository
}

// NewSQLStore opens a relational store. driver is "postgres" or "sqlite3".
func NewSQLStore(driver, connectionString string, maxOpenConns int) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	if driver == DriverSQLite {
		maxOpenConns = 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: driver}
	s.tasks = &sqlTaskRepo{store: s}
	s.results = &sqlResultRepo{store: s}
	return s, nil
}

func (s *SQLStore) Tasks() TaskRepository     { return s.tasks }
func (s *SQLStore) Results() ResultRepository { return s.results }
func (s *SQLStore) Dialect() string           { return s.dialect }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// bind rewrites Postgres placeholders for the store's dialect
func (s *SQLStore) bind(query string) string {
	if s.dialect == DriverSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStorage, op, err)
}

// sqlTaskRepo implements TaskRepository
type sqlTaskRepo struct {
	store *SQLStore
}

const taskColumns = `id, target, max_reviews, sources, state, stage, percent, error, store_name, created_at, updated_at`

func (r *sqlTaskRepo) Create(ctx context.Context, task *core.AnalysisTask) error {
	sources, err := json.Marshal(task.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	query := r.store.bind(`
		INSERT INTO analysis_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	_, err = r.store.db.ExecContext(ctx, query,
		task.ID, task.Target, task.MaxReviews, string(sources),
		string(task.State), task.Stage, task.Percent, task.Error, task.StoreName,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		return storageErr("insert task", err)
	}
	return nil
}

func (r *sqlTaskRepo) Get(ctx context.Context, id string) (*core.AnalysisTask, error) {
	return getTask(ctx, r.store, r.store.db, id)
}

func getTask(ctx context.Context, s *SQLStore, q querier, id string) (*core.AnalysisTask, error) {
	row := q.QueryRowContext(ctx, s.bind(`SELECT `+taskColumns+` FROM analysis_tasks WHERE id = $1`), id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get task", err)
	}
	return task, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*core.AnalysisTask, error) {
	var (
		task    core.AnalysisTask
		sources string
		state   string
	)
	err := row.Scan(&task.ID, &task.Target, &task.MaxReviews, &sources, &state,
		&task.Stage, &task.Percent, &task.Error, &task.StoreName, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.State = core.TaskState(state)
	if sources != "" {
		if err := json.Unmarshal([]byte(sources), &task.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
	}
	return &task, nil
}

// predecessors lists the states from which to may be entered
func predecessors(to core.TaskState) []core.TaskState {
	all := []core.TaskState{
		core.StatePending, core.StateCollecting, core.StateNormalizing,
		core.StateClustering, core.StateGenerating,
	}
	var out []core.TaskState
	for _, from := range all {
		if core.CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// stateIn renders "state IN ($n, ...)" starting at placeholder index first
func stateIn(states []core.TaskState, first int) (string, []interface{}) {
	marks := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, st := range states {
		marks[i] = fmt.Sprintf("$%d", first+i)
		args[i] = string(st)
	}
	return "state IN (" + strings.Join(marks, ", ") + ")", args
}

// explain turns a conditional update that matched nothing into a typed error
func (r *sqlTaskRepo) explain(ctx context.Context, id string, to core.TaskState) error {
	task, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, task.State, to)
}

func (r *sqlTaskRepo) Advance(ctx context.Context, id string, to core.TaskState, stage string, percent int) error {
	if to == core.StateCompleted || to == core.StateFailed {
		return fmt.Errorf("%w: terminal state %s must be written through Complete or Fail", core.ErrInvalidTransition, to)
	}
	from := predecessors(to)
	if len(from) == 0 {
		return fmt.Errorf("%w: unknown state %s", core.ErrInvalidTransition, to)
	}

	cond, args := stateIn(from, 6)
	query := r.store.bind(`
		UPDATE analysis_tasks
		SET state = $1, stage = $2, percent = CASE WHEN percent > $3 THEN percent ELSE $3 END, updated_at = $4
		WHERE id = $5 AND ` + cond)
	params := append([]interface{}{string(to), stage, percent, time.Now().UTC(), id}, args...)

	res, err := r.store.db.ExecContext(ctx, query, params...)
	if err != nil {
		return storageErr("advance task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.explain(ctx, id, to)
	}
	return nil
}

func (r *sqlTaskRepo) UpdateProgress(ctx context.Context, id string, stage string, percent int) error {
	query := r.store.bind(`
		UPDATE analysis_tasks
		SET stage = $1, percent = $2, updated_at = $3
		WHERE id = $4 AND percent <= $2 AND state NOT IN ($5, $6)
	`)
	res, err := r.store.db.ExecContext(ctx, query, stage, percent, time.Now().UTC(), id,
		string(core.StateCompleted), string(core.StateFailed))
	if err != nil {
		return storageErr("update progress", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlTaskRepo) SetStoreName(ctx context.Context, id string, name string) error {
	query := r.store.bind(`
		UPDATE analysis_tasks
		SET store_name = $1, updated_at = $2
		WHERE id = $3 AND state NOT IN ($4, $5)
	`)
	res, err := r.store.db.ExecContext(ctx, query, name, time.Now().UTC(), id,
		string(core.StateCompleted), string(core.StateFailed))
	if err != nil {
		return storageErr("set store name", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlTaskRepo) Fail(ctx context.Context, id string, detail string) (bool, error) {
	query := r.store.bind(`
		UPDATE analysis_tasks
		SET state = $1, error = $2, updated_at = $3
		WHERE id = $4 AND state NOT IN ($5, $6)
	`)
	res, err := r.store.db.ExecContext(ctx, query, string(core.StateFailed), detail, time.Now().UTC(), id,
		string(core.StateCompleted), string(core.StateFailed))
	if err != nil {
		return false, storageErr("fail task", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *sqlTaskRepo) ListNonTerminal(ctx context.Context) ([]core.AnalysisTask, error) {
	query := r.store.bind(`
		SELECT ` + taskColumns + ` FROM analysis_tasks
		WHERE state NOT IN ($1, $2)
		ORDER BY created_at ASC
	`)
	rows, err := r.store.db.QueryContext(ctx, query, string(core.StateCompleted), string(core.StateFailed))
	if err != nil {
		return nil, storageErr("list tasks", err)
	}
	defer rows.Close()

	var tasks []core.AnalysisTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, storageErr("scan task", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list tasks", err)
	}
	return tasks, nil
}

// sqlResultRepo implements ResultRepository
type sqlResultRepo struct {
	store *SQLStore
}

func (r *sqlResultRepo) Complete(ctx context.Context, result *core.AnalysisResult) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal result: %w", err)
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("begin", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	update := r.store.bind(`
		UPDATE analysis_tasks
		SET state = $1, stage = $2, percent = 100, store_name = $3, updated_at = $4
		WHERE id = $5 AND state = $6
	`)
	res, err := tx.ExecContext(ctx, update, string(core.StateCompleted), "completed", result.StoreName, now,
		result.TaskID, string(core.StateGenerating))
	if err != nil {
		return false, storageErr("complete task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := getTask(ctx, r.store, tx, result.TaskID); err != nil {
			return false, err
		}
		return false, nil
	}

	insert := r.store.bind(`
		INSERT INTO analysis_results (task_id, store_name, strategy, review_count, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO NOTHING
	`)
	res, err = tx.ExecContext(ctx, insert, result.TaskID, result.StoreName, string(result.Strategy),
		result.ReviewCount, string(payload), result.CreatedAt.UTC())
	if err != nil {
		return false, storageErr("insert result", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("commit", err)
	}
	return true, nil
}

func (r *sqlResultRepo) Get(ctx context.Context, taskID string) (*core.AnalysisResult, error) {
	row := r.store.db.QueryRowContext(ctx, r.store.bind(`SELECT payload FROM analysis_results WHERE task_id = $1`), taskID)
	return scanResult(row, taskID)
}

func (r *sqlResultRepo) Latest(ctx context.Context) (*core.AnalysisResult, error) {
	row := r.store.db.QueryRowContext(ctx, `SELECT payload FROM analysis_results ORDER BY created_at DESC LIMIT 1`)
	return scanResult(row, "latest")
}

func scanResult(row scanner, key string) (*core.AnalysisResult, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrResultNotFound, key)
		}
		return nil, storageErr("get result", err)
	}
	var result core.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}
