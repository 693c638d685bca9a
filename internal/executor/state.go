package executor

import (
	"context"
	"fmt"

	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/tools"
)

// SetState moves a task through the change_task_state tool bound to ctx.
// Lookup failures reported by the tool come back as errors.
func SetState(ctx context.Context, id int64, state models.State) (string, error) {
	msg, err := tools.ChangeTaskState{}.Change(ctx, tools.ChangeTaskStateInput{TaskID: id, State: state})
	if err != nil {
		return "", err
	}
	if msg == tools.MsgNoStore || msg == tools.MsgTaskNotFound {
		return "", fmt.Errorf("set task %d to %s: %s", id, state, msg)
	}
	return msg, nil
}

// Complete marks a task COMPLETE.
func Complete(ctx context.Context, id int64) (string, error) {
	return SetState(ctx, id, models.StateComplete)
}
