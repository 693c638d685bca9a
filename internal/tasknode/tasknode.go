// Package tasknode provides the node that pulls tasks from the store and runs
// them through an executor in bounded batches.
package tasknode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fentz26/hive/internal/audit"
	"github.com/fentz26/hive/internal/bus"
	"github.com/fentz26/hive/internal/executor"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/node"
	"github.com/fentz26/hive/internal/store"
	"github.com/fentz26/hive/internal/tools"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Topics the node publishes on. The application creates them at startup.
// Task-queue nodes also subscribe to TopicTaskUpdates to follow their peers.
const (
	TopicTaskUpdates    = "task_updates"
	TopicTaskCompletion = "task_completion"
)

// Deps are the collaborators of a task-queue node.
type Deps struct {
	Store    *store.Store
	Bus      *bus.Bus
	Nodes    *node.Registry
	Executor executor.Executor
	Audit    *audit.PDRWriter
	Log      logrus.FieldLogger
}

// Stats summarizes what the node has done so far.
type Stats struct {
	Batches     int `json:"batches"`
	Processed   int `json:"processed"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Workers     int `json:"workers"`
	PeerUpdates int `json:"peer_updates"`
}

// TaskQueue claims batches of AVAILABLE tasks and waits for each batch to
// finish before claiming the next.
type TaskQueue struct {
	*node.Base

	store *store.Store
	exec  executor.Executor
	audit *audit.PDRWriter
	cfg   Config

	mu    sync.Mutex
	stats Stats
}

// New creates a task-queue node and registers it with deps.Nodes.
func New(deps Deps, cfg Config) *TaskQueue {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}

	q := &TaskQueue{
		store: deps.Store,
		exec:  deps.Executor,
		audit: deps.Audit,
		cfg:   cfg,
	}
	q.stats.Workers = cfg.Workers
	q.Base = node.NewBase(deps.Nodes, deps.Bus, node.KindTaskQueue, cfg.Name, q, deps.Log)
	if _, err := q.Subscribe(TopicTaskUpdates, q.onUpdate); err != nil {
		q.Log().WithError(err).Warn("not following peer task updates")
	}
	return q
}

func (q *TaskQueue) onUpdate(_ context.Context, msg bus.Message) error {
	if msg.From == q.ID() {
		return nil
	}
	q.mu.Lock()
	q.stats.PeerUpdates++
	q.mu.Unlock()

	q.Log().WithFields(logrus.Fields{
		"from":    msg.From,
		"task_id": msg.Payload["task_id"],
		"state":   msg.Payload["state"],
	}).Debug("peer task update")
	return nil
}

// RunOnce claims up to Workers tasks and runs them concurrently. With no
// work it sleeps for Backoff instead.
func (q *TaskQueue) RunOnce(ctx context.Context) error {
	tasks, err := q.store.ClaimAvailable(ctx, q.cfg.Workers, q.ID())
	if err != nil {
		return fmt.Errorf("claim tasks: %w", err)
	}
	if len(tasks) == 0 {
		q.Sleep(ctx, q.cfg.Backoff)
		return nil
	}

	q.Log().WithField("count", len(tasks)).Debug("claimed batch")

	var g errgroup.Group
	g.SetLimit(q.cfg.Workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return q.process(ctx, task)
		})
	}
	err = g.Wait()

	q.mu.Lock()
	q.stats.Batches++
	q.mu.Unlock()
	return err
}

// process runs one claimed task. Executor failures end in ERROR; only
// storage failures are returned.
func (q *TaskQueue) process(ctx context.Context, task models.Task) error {
	entry := q.Log().WithFields(logrus.Fields{
		"task_id":  task.ID,
		"priority": task.Priority,
	})
	q.audit.Transition(ctx, task.ID, models.StateAvailable, models.StateInProgress, q.ID())

	run, err := q.store.CreateRun(ctx, task.ID, q.exec.Name(), q.ID())
	if err != nil {
		entry.WithError(err).Warn("failed to record run")
	}

	output, execErr := q.execute(ctx, task)
	if execErr != nil {
		entry.WithError(execErr).Warn("task execution failed")
	}

	current, err := q.store.Get(ctx, task.ID)
	if errors.Is(err, store.ErrTaskNotFound) {
		entry.Warn("task deleted while running")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload task %d: %w", task.ID, err)
	}

	if execErr != nil || current.State == models.StateInProgress {
		from := current.State
		current.State = models.StateError
		if err := q.store.Upsert(ctx, &current); err != nil {
			return fmt.Errorf("mark task %d failed: %w", task.ID, err)
		}
		q.audit.Transition(ctx, task.ID, from, models.StateError, q.ID())
	}

	if run != nil {
		run.FinalState = current.State
		run.Output = output
		if execErr != nil {
			run.Error = execErr.Error()
		}
		if err := q.store.FinishRun(ctx, run); err != nil {
			entry.WithError(err).Warn("failed to finish run")
		}
	}

	q.record(current.State)
	q.notify(ctx, current)
	entry.WithField("state", current.State).Info("task finished")
	return nil
}

// execute calls the executor with the tool environment bound and converts a
// panic into an error.
func (q *TaskQueue) execute(ctx context.Context, task models.Task) (out string, err error) {
	ectx := tools.WithEnv(ctx, tools.Env{Store: q.store, Audit: q.audit, Actor: q.Name()})
	if q.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ectx, q.cfg.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return q.exec.Execute(ectx, task)
}

func (q *TaskQueue) notify(ctx context.Context, task models.Task) {
	err := q.Publish(ctx, TopicTaskUpdates, map[string]any{
		"task_id": task.ID,
		"state":   string(task.State),
		"node":    q.ID(),
	})
	if err == nil && task.State == models.StateComplete {
		err = q.Publish(ctx, TopicTaskCompletion, map[string]any{
			"task_id": task.ID,
			"status":  "completed",
		})
	}
	if err != nil {
		q.Log().WithError(err).Debug("publish skipped")
	}
}

func (q *TaskQueue) record(final models.State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.Processed++
	switch final {
	case models.StateComplete:
		q.stats.Completed++
	case models.StateError:
		q.stats.Failed++
	}
}

// Stats returns current node statistics.
func (q *TaskQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
