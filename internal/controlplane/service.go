// Package controlplane provides the HTTP API and service layer for hive.
package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/fentz26/hive/internal/audit"
	"github.com/fentz26/hive/internal/bus"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/node"
	"github.com/fentz26/hive/internal/store"
	"github.com/fentz26/hive/internal/tools"
)

// Actor names the control plane in audit records and published messages.
const Actor = "controlplane"

// Service provides the control plane business logic.
type Service struct {
	store *store.Store
	bus   *bus.Bus
	nodes *node.Registry
	pdr   *audit.PDRWriter
}

// NewService creates a new control plane service.
func NewService(s *store.Store, b *bus.Bus, nodes *node.Registry, pdr *audit.PDRWriter) *Service {
	return &Service{
		store: s,
		bus:   b,
		nodes: nodes,
		pdr:   pdr,
	}
}

func (s *Service) env(ctx context.Context) context.Context {
	return tools.WithEnv(ctx, tools.Env{Store: s.store, Audit: s.pdr, Actor: Actor})
}

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Task Operations ---

// CreateTask creates a new task. Only AVAILABLE and ON_HOLD are accepted as
// initial states.
func (s *Service) CreateTask(ctx context.Context, in tools.CreateTaskInput) (*models.Task, error) {
	return tools.CreateTask{}.Create(s.env(ctx), in)
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	States []string
	Agent  string
	Limit  int
}

// ListTasks returns tasks matching f in dispatch order.
func (s *Service) ListTasks(ctx context.Context, f ListFilter) ([]models.Task, error) {
	q := store.Query{
		Filters: map[string]any{},
		OrderBy: []string{"priority", "task_id"},
		Limit:   f.Limit,
	}
	if len(f.States) > 0 {
		states := make([]string, 0, len(f.States))
		for _, raw := range f.States {
			st, err := models.ParseState(raw)
			if err != nil {
				return nil, err
			}
			states = append(states, string(st))
		}
		q.Filters["state"] = states
	}
	if f.Agent != "" {
		q.Filters["assigned_agent"] = f.Agent
	}
	return s.store.Query(ctx, q)
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(ctx context.Context, id int64) (models.Task, error) {
	task, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrTaskNotFound) {
		return models.Task{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return task, err
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, id int64) error {
	if _, err := s.GetTask(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.pdr.Record(ctx, "task.delete", map[string]any{"task_id": id}, "success", id, "")
	return nil
}

// ChangeState moves a task to state. Any state may be set; resetting to
// AVAILABLE releases the claim so the task is dispatched again.
func (s *Service) ChangeState(ctx context.Context, id int64, state models.State) (models.Task, error) {
	msg, err := tools.ChangeTaskState{}.Change(s.env(ctx), tools.ChangeTaskStateInput{TaskID: id, State: state})
	if err != nil {
		return models.Task{}, err
	}
	if msg == tools.MsgTaskNotFound {
		return models.Task{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return s.store.Get(ctx, id)
}

// TaskRuns lists execution attempts for a task, newest first.
func (s *Service) TaskRuns(ctx context.Context, id int64) ([]models.Run, error) {
	if _, err := s.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.store.RunsForTask(ctx, id)
}

// TaskAudit lists decision records for a task, oldest first.
func (s *Service) TaskAudit(ctx context.Context, id int64) ([]models.PDREntry, error) {
	return s.store.PDRForTask(ctx, id)
}

// NextAvailable previews the next n tasks a node would claim.
func (s *Service) NextAvailable(ctx context.Context, n int) ([]models.Task, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1", ErrBadRequest)
	}
	return s.store.NextAvailable(ctx, n)
}

// CountByState returns the number of tasks in each state.
func (s *Service) CountByState(ctx context.Context) (map[models.State]int, error) {
	return s.store.CountByState(ctx)
}

// --- Topic Operations ---

// Topics lists topics and their subscriber counts.
func (s *Service) Topics() []bus.TopicInfo {
	return s.bus.Topics()
}

// CreateTopic registers a new topic.
func (s *Service) CreateTopic(name, description string) (bus.TopicInfo, error) {
	if err := s.bus.CreateTopic(name, description); err != nil {
		return bus.TopicInfo{}, err
	}
	return s.bus.Registry().Describe(name)
}

// RemoveTopic deletes a topic and its subscriptions.
func (s *Service) RemoveTopic(name string) error {
	if _, err := s.bus.Registry().Describe(name); err != nil {
		return err
	}
	s.bus.RemoveTopic(name)
	return nil
}

// Publish sends payload to every subscriber of topic. An empty from is
// replaced with the control plane actor.
func (s *Service) Publish(ctx context.Context, topic, from string, payload map[string]any) error {
	if _, err := s.bus.Registry().Describe(topic); err != nil {
		return err
	}
	if from == "" {
		from = Actor
	}
	return s.bus.Publish(ctx, topic, from, payload)
}

// --- Node Operations ---

// Nodes lists every node created in this process.
func (s *Service) Nodes() []node.Info {
	return s.nodes.List()
}

// Node returns a single node by id.
func (s *Service) Node(id string) (node.Info, error) {
	n, ok := s.nodes.Get(id)
	if !ok {
		return node.Info{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.Info(), nil
}
