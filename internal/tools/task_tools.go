package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/store"
)

// Tool errors.
var (
	ErrInvalidInitialState = errors.New("initial state must be AVAILABLE or ON_HOLD")
	ErrNoStore             = errors.New("no task store bound to execution context")
	ErrInvalidInput        = errors.New("invalid tool input")
)

// Messages returned to agents for lookup failures.
const (
	MsgNoStore      = "No task store is bound to this execution context. Halt execution."
	MsgTaskNotFound = "Task id not correct. Task not found."
)

var stateNames = func() []any {
	names := make([]any, 0, len(models.States))
	for _, s := range models.States {
		names = append(names, string(s))
	}
	return names
}()

// --- create_task ---

// CreateTaskInput is the argument object of create_task.
type CreateTaskInput struct {
	Description   string       `json:"description"`
	Priority      int          `json:"priority"`
	State         models.State `json:"state,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Files         []string     `json:"files,omitempty"`
	AssignedAgent string       `json:"assigned_agent,omitempty"`
	ThreadID      string       `json:"thread_id,omitempty"`
}

// CreateTask adds a new task to the store.
type CreateTask struct{}

// Name returns the tool name.
func (CreateTask) Name() string { return "create_task" }

// Description returns the tool description.
func (CreateTask) Description() string {
	return "Creates a new task. Include all relevant information in the description. " +
		"Lower priority values run first. Use ON_HOLD with a tag explaining why when the task must wait."
}

// InputSchema returns the argument schema.
func (CreateTask) InputSchema() Schema {
	return Schema{
		Properties: map[string]any{
			"description": map[string]any{"type": "string", "description": "What needs to be done."},
			"priority":    map[string]any{"type": "integer", "minimum": 0, "description": "Relative priority, lower runs first."},
			"state":       map[string]any{"type": "string", "enum": []any{string(models.StateAvailable), string(models.StateOnHold)}},
			"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"files":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		Required: []string{"description", "priority"},
	}
}

// Create validates in and persists the new task.
func (CreateTask) Create(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	if in.State == "" {
		in.State = models.StateAvailable
	}
	if in.State != models.StateAvailable && in.State != models.StateOnHold {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidInitialState, in.State)
	}

	task, err := models.NewTask(in.Description, in.Priority,
		models.WithState(in.State),
		models.WithAssignedAgent(in.AssignedAgent),
		models.WithThreadID(in.ThreadID),
	)
	if err != nil {
		return nil, err
	}
	if in.Tags != nil {
		task.Tags = append([]string(nil), in.Tags...)
	}
	if in.Files != nil {
		task.Files = append([]string(nil), in.Files...)
	}

	env, ok := EnvFrom(ctx)
	if !ok {
		return nil, ErrNoStore
	}
	if err := env.Store.Upsert(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	env.Audit.Record(ctx, "task.create", in, "success", task.ID, "by "+env.Actor)
	return task, nil
}

// Run decodes the input and creates the task.
func (c CreateTask) Run(ctx context.Context, input json.RawMessage) (string, error) {
	var in CreateTaskInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	task, err := c.Create(ctx, in)
	if errors.Is(err, ErrNoStore) {
		return MsgNoStore, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task created with id %d.", task.ID), nil
}

// --- change_task_state ---

// ChangeTaskStateInput is the argument object of change_task_state.
type ChangeTaskStateInput struct {
	TaskID int64        `json:"task_id"`
	State  models.State `json:"state"`
}

// ChangeTaskState moves an existing task to a new state.
type ChangeTaskState struct{}

// Name returns the tool name.
func (ChangeTaskState) Name() string { return "change_task_state" }

// Description returns the tool description.
func (ChangeTaskState) Description() string {
	return "Changes the state of a task to one of: IN_PROGRESS, AVAILABLE, COMPLETE, ON_HOLD, CANCELLED or ERROR."
}

// InputSchema returns the argument schema.
func (ChangeTaskState) InputSchema() Schema {
	return Schema{
		Properties: map[string]any{
			"task_id": map[string]any{"type": "integer", "description": "ID of the task."},
			"state":   map[string]any{"type": "string", "enum": stateNames},
		},
		Required: []string{"task_id", "state"},
	}
}

// Change applies the state change. Unknown tasks and a missing store are
// reported as messages; an invalid state or a storage failure is an error.
func (ChangeTaskState) Change(ctx context.Context, in ChangeTaskStateInput) (string, error) {
	if !in.State.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidState, in.State)
	}

	env, ok := EnvFrom(ctx)
	if !ok {
		return MsgNoStore, nil
	}

	task, err := env.Store.Get(ctx, in.TaskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		return MsgTaskNotFound, nil
	}
	if err != nil {
		return "", err
	}

	from := task.State
	task.State = in.State
	if in.State == models.StateAvailable {
		task.ClaimedBy = ""
		task.ClaimedAt = nil
	}
	if err := env.Store.Upsert(ctx, &task); err != nil {
		return "", fmt.Errorf("change task state: %w", err)
	}
	env.Audit.Transition(ctx, task.ID, from, in.State, env.Actor)

	return fmt.Sprintf("Task state has been changed to %s.", in.State), nil
}

// Run decodes the input and changes the state.
func (c ChangeTaskState) Run(ctx context.Context, input json.RawMessage) (string, error) {
	var in ChangeTaskStateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return c.Change(ctx, in)
}

// --- query_tasks ---

// QueryTasksInput is the argument object of query_tasks.
type QueryTasksInput struct {
	States []models.State `json:"states,omitempty"`
	Tag    string         `json:"tag,omitempty"`
	Limit  int            `json:"limit,omitempty"`
}

// QueryTasks lists tasks as one summary line each.
type QueryTasks struct{}

// Name returns the tool name.
func (QueryTasks) Name() string { return "query_tasks" }

// Description returns the tool description.
func (QueryTasks) Description() string {
	return "Lists tasks ordered by priority, optionally restricted to some states or a tag."
}

// InputSchema returns the argument schema.
func (QueryTasks) InputSchema() Schema {
	return Schema{
		Properties: map[string]any{
			"states": map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": stateNames}},
			"tag":    map[string]any{"type": "string"},
			"limit":  map[string]any{"type": "integer", "minimum": 1},
		},
	}
}

// Run decodes the input and lists matching tasks.
func (QueryTasks) Run(ctx context.Context, input json.RawMessage) (string, error) {
	var in QueryTasksInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	env, ok := EnvFrom(ctx)
	if !ok {
		return MsgNoStore, nil
	}

	q := store.Query{OrderBy: []string{"priority", "task_id"}}
	if len(in.States) > 0 {
		q.Filters = map[string]any{"state": in.States}
	}
	if in.Tag == "" {
		q.Limit = in.Limit
	}
	tasks, err := env.Store.Query(ctx, q)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, t := range tasks {
		if in.Tag != "" && !hasTag(t, in.Tag) {
			continue
		}
		lines = append(lines, t.FormatForAI())
		if in.Limit > 0 && len(lines) == in.Limit {
			break
		}
	}
	if len(lines) == 0 {
		return "No tasks found.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func hasTag(t models.Task, tag string) bool {
	for _, x := range t.Tags {
		if x == tag {
			return true
		}
	}
	return false
}
