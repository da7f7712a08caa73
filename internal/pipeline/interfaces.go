package pipeline

import (
	"context"

	"pulse/internal/clustering"
	"pulse/internal/collector"
	"pulse/internal/core"
	"pulse/internal/persona"
)

// ReviewCollector crawls reviews for a target
type ReviewCollector interface {
	// Collect gathers deduplicated reviews and the resolved store name
	Collect(ctx context.Context, req collector.Request) (*collector.Result, error)
}

// ReviewReader loads reviews already persisted for a task
type ReviewReader interface {
	Reviews(ctx context.Context, taskID string) ([]core.RawReview, error)
}

// TopicClusterer groups normalized texts into topics
type TopicClusterer interface {
	// Cluster returns core.ErrInsufficientData when there are too few texts
	Cluster(ctx context.Context, texts []string, targetK int) (*clustering.Result, error)
}

// PersonaGenerator turns clustered evidence into personas
type PersonaGenerator interface {
	Generate(ctx context.Context, req persona.Request) (*persona.Outcome, error)

	// Summarize writes a one sentence store description and never fails
	Summarize(ctx context.Context, store persona.StoreContext, reviews []core.RawReview) string
}

// Reporter receives progress from a running pipeline. It is the only way
// the pipeline affects task state.
type Reporter interface {
	// Enter records that the task has reached state
	Enter(ctx context.Context, state core.TaskState, stage string) error

	// Progress records finer progress within the current state
	Progress(ctx context.Context, stage string, percent int)

	// Resolved records the store name the target resolved to
	Resolved(ctx context.Context, storeName string)

	// Log appends a journal line for the task
	Log(ctx context.Context, level, message string)
}
