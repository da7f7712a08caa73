// Package persistence provides storage for analysis tasks and results
// (relational) and for collected reviews and task logs (document)
package persistence

import (
	"context"

	"pulse/internal/core"
)

// TaskRepository handles analysis task persistence. All mutations are
// conditional on the stored state so that progress never regresses.
type TaskRepository interface {
	// Create inserts a new PENDING task
	Create(ctx context.Context, task *core.AnalysisTask) error

	// Get retrieves a task by ID
	Get(ctx context.Context, id string) (*core.AnalysisTask, error)

	// Advance moves a task forward to state and records its progress label.
	// Returns core.ErrInvalidTransition when the stored state does not allow it.
	Advance(ctx context.Context, id string, to core.TaskState, stage string, percent int) error

	// UpdateProgress raises the percent within the current state
	UpdateProgress(ctx context.Context, id string, stage string, percent int) error

	// SetStoreName records the resolved store name. Terminal tasks are left
	// unchanged.
	SetStoreName(ctx context.Context, id string, name string) error

	// Fail marks a non-terminal task FAILED. It reports whether this call
	// performed the terminal write.
	Fail(ctx context.Context, id string, detail string) (bool, error)

	// ListNonTerminal returns tasks that have not reached COMPLETED or FAILED,
	// oldest first
	ListNonTerminal(ctx context.Context) ([]core.AnalysisTask, error)
}

// ResultRepository handles analysis result persistence
type ResultRepository interface {
	// Complete stores the result and moves its task to COMPLETED in one
	// transaction. It reports whether this call performed the terminal write.
	Complete(ctx context.Context, result *core.AnalysisResult) (bool, error)

	// Get retrieves the result of a task
	Get(ctx context.Context, taskID string) (*core.AnalysisResult, error)

	// Latest retrieves the most recently completed result
	Latest(ctx context.Context) (*core.AnalysisResult, error)
}

// Database represents the relational store
type Database interface {
	// Tasks returns the task repository
	Tasks() TaskRepository

	// Results returns the result repository
	Results() ResultRepository

	// Close closes the database connection
	Close() error

	// Ping verifies the database connection
	Ping(ctx context.Context) error
}

// ReviewStore holds collected reviews keyed by (task id, natural key).
// Duplicate appends are ignored, never updated.
type ReviewStore interface {
	AppendReview(ctx context.Context, review core.RawReview) error
	Reviews(ctx context.Context, taskID string) ([]core.RawReview, error)
}

// LogStore is the append-only per-task journal
type LogStore interface {
	AppendLog(ctx context.Context, entry core.TaskLog) error
	Logs(ctx context.Context, taskID string) ([]core.TaskLog, error)
}

// DocumentStore represents the document store
type DocumentStore interface {
	ReviewStore
	LogStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
