// Package executor defines how a claimed task gets worked on.
package executor

import (
	"context"

	"github.com/fentz26/hive/internal/models"
)

// Executor performs a task. It is expected to move the task to a final
// state through the task tools bound to ctx; a task left IN_PROGRESS, or an
// error return, ends in ERROR. The returned text is advisory.
type Executor interface {
	// Name returns the executor identifier.
	Name() string

	// Execute works on the task.
	Execute(ctx context.Context, task models.Task) (string, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, task models.Task) (string, error)

// Name returns "func".
func (f Func) Name() string { return "func" }

// Execute calls f.
func (f Func) Execute(ctx context.Context, task models.Task) (string, error) {
	return f(ctx, task)
}

// Noop completes every task without doing anything.
type Noop struct{}

// Name returns "noop".
func (Noop) Name() string { return "noop" }

// Execute marks the task COMPLETE.
func (Noop) Execute(ctx context.Context, task models.Task) (string, error) {
	return Complete(ctx, task.ID)
}
