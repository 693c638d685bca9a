// Package models defines the core domain types for hive.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validation errors for task construction.
var (
	ErrInvalidPriority = errors.New("priority must be a non-negative integer")
	ErrInvalidState    = errors.New("invalid task state")
)

// State represents the lifecycle state of a task.
type State string

const (
	StateAvailable  State = "AVAILABLE"
	StateInProgress State = "IN_PROGRESS"
	StateComplete   State = "COMPLETE"
	StateError      State = "ERROR"
	StateOnHold     State = "ON_HOLD"
	StateCancelled  State = "CANCELLED"
)

// States lists every valid state in declaration order.
var States = []State{
	StateAvailable,
	StateInProgress,
	StateComplete,
	StateError,
	StateOnHold,
	StateCancelled,
}

var stateLabels = map[State]string{
	StateAvailable:  "Available",
	StateInProgress: "In progress",
	StateComplete:   "Complete",
	StateError:      "Error",
	StateOnHold:     "On hold",
	StateCancelled:  "Cancelled",
}

// forward lists the transitions the task lifecycle expects. Anything else,
// including a reset to AVAILABLE, is a manual transition.
var forward = map[State][]State{
	StateAvailable:  {StateInProgress, StateOnHold, StateCancelled},
	StateInProgress: {StateComplete, StateError, StateOnHold, StateCancelled},
}

// ParseState parses a state name or its human label, case-insensitively.
func ParseState(s string) (State, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, st := range States {
		if string(st) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := stateLabels[s]
	return ok
}

// Label returns the human-readable label, e.g. "In progress".
func (s State) Label() string {
	if l, ok := stateLabels[s]; ok {
		return l
	}
	return string(s)
}

// IsTerminal reports whether the state is never selected for dispatch again
// without an explicit reset.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

// CanTransition reports whether to is a forward lifecycle step from s.
func (s State) CanTransition(to State) bool {
	for _, next := range forward[s] {
		if next == to {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts both state names and labels.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Task represents a unit of work tracked by the task store.
// A zero ID means the task has not been persisted yet.
type Task struct {
	ID            int64      `json:"task_id"`
	Description   string     `json:"description"`
	Priority      int        `json:"priority"`
	State         State      `json:"state"`
	AssignedAgent string     `json:"assigned_agent,omitempty"`
	Files         []string   `json:"files,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	ThreadID      string     `json:"thread_id,omitempty"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskOption configures optional task fields.
type TaskOption func(*Task)

// WithState sets the initial state.
func WithState(s State) TaskOption {
	return func(t *Task) { t.State = s }
}

// WithAssignedAgent sets the assigned agent.
func WithAssignedAgent(agent string) TaskOption {
	return func(t *Task) { t.AssignedAgent = agent }
}

// WithFiles sets the associated file paths.
func WithFiles(files ...string) TaskOption {
	return func(t *Task) { t.Files = append([]string(nil), files...) }
}

// WithTags sets the task tags.
func WithTags(tags ...string) TaskOption {
	return func(t *Task) { t.Tags = append([]string(nil), tags...) }
}

// WithThreadID sets the conversation thread id.
func WithThreadID(id string) TaskOption {
	return func(t *Task) { t.ThreadID = id }
}

// NewTask builds an unsaved task in state AVAILABLE unless overridden.
func NewTask(description string, priority int, opts ...TaskOption) (*Task, error) {
	t := &Task{
		Description: description,
		Priority:    priority,
		State:       StateAvailable,
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the construction invariants of a task.
func (t *Task) Validate() error {
	if t.Priority < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, t.Priority)
	}
	if !t.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, t.State)
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	if t.Files != nil {
		c.Files = append([]string(nil), t.Files...)
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		c.ClaimedAt = &at
	}
	return c
}

// FormatForAI renders a single-line summary suitable for an agent prompt.
func (t Task) FormatForAI() string {
	files := "None"
	if len(t.Files) > 0 {
		files = strings.Join(t.Files, ", ")
	}
	parts := []string{
		"Task ID: " + strconv.FormatInt(t.ID, 10),
		"Description: " + t.Description,
		"Priority: " + strconv.Itoa(t.Priority),
		"State: " + t.State.Label(),
		"Files: " + files,
	}
	return strings.Join(parts, " | ")
}

// Run represents one executor invocation for a task.
type Run struct {
	ID         string    `json:"id"`
	TaskID     int64     `json:"task_id"`
	Executor   string    `json:"executor"`
	NodeID     string    `json:"node_id"`
	FinalState State     `json:"final_state,omitempty"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     int64     `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
