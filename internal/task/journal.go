package task

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pulse/internal/core"
	"pulse/internal/metrics"
	"pulse/internal/persistence"
)

// execution reports one task's progress to the stores. It implements
// pipeline.Reporter and is never shared between tasks.
type execution struct {
	id    string
	state core.TaskState
	tasks persistence.TaskRepository
	logs  persistence.LogStore
	log   zerolog.Logger
}

// Enter advances the stored state. States at or behind the recorded one are
// skipped so that a resumed task never regresses.
func (e *execution) Enter(ctx context.Context, state core.TaskState, stage string) error {
	if state.Rank() <= e.state.Rank() {
		return nil
	}
	if err := e.tasks.Advance(ctx, e.id, state, stage, state.Percent()); err != nil {
		return err
	}
	e.state = state
	e.log.Info().Str("state", string(state)).Str("stage", stage).Msg("Task advanced")
	e.Log(ctx, "info", "entered "+string(state)+": "+stage)
	return nil
}

func (e *execution) Progress(ctx context.Context, stage string, percent int) {
	if err := e.tasks.UpdateProgress(ctx, e.id, stage, percent); err != nil {
		e.log.Warn().Err(err).Msg("Failed to update progress")
	}
}

func (e *execution) Resolved(ctx context.Context, storeName string) {
	if err := e.tasks.SetStoreName(ctx, e.id, storeName); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record store name")
	}
}

// Log appends to task_logs. Journal failures never fail the task.
func (e *execution) Log(ctx context.Context, level, message string) {
	if e.logs == nil {
		return
	}
	entry := core.TaskLog{
		TaskID:  e.id,
		Level:   level,
		State:   e.state,
		Message: message,
		Time:    time.Now().UTC(),
	}
	if err := e.logs.AppendLog(ctx, entry); err != nil {
		e.log.Warn().Err(err).Msg("Failed to append task log")
	}
}

// finish records the terminal outcome in metrics and the journal
func (e *execution) finish(ctx context.Context, state core.TaskState, message string) {
	metrics.TasksFinished.WithLabelValues(string(state)).Inc()
	level := "info"
	if state == core.StateFailed {
		level = "error"
	}
	e.state = state
	e.Log(ctx, level, message)
}
