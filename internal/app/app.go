// Package app wires the store, bus, tools and nodes into one application
// context with an explicit lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/fentz26/hive/internal/audit"
	"github.com/fentz26/hive/internal/bus"
	"github.com/fentz26/hive/internal/config"
	"github.com/fentz26/hive/internal/executor"
	"github.com/fentz26/hive/internal/executor/claude"
	"github.com/fentz26/hive/internal/executor/localexec"
	"github.com/fentz26/hive/internal/node"
	"github.com/fentz26/hive/internal/store"
	"github.com/fentz26/hive/internal/tasknode"
	"github.com/fentz26/hive/internal/tools"
	"github.com/sirupsen/logrus"
)

// Default topics, created before any configured ones.
var defaultTopics = []config.TopicConfig{
	{Name: tasknode.TopicTaskUpdates, Description: "Task state changes reported by task-queue nodes"},
	{Name: tasknode.TopicTaskCompletion, Description: "Tasks that finished in COMPLETE"},
}

// App owns every long-lived component of the daemon.
type App struct {
	Config    *config.Config
	Log       logrus.FieldLogger
	Store     *store.Store
	Bus       *bus.Bus
	Nodes     *node.Registry
	Tools     *tools.Registry
	Audit     *audit.PDRWriter
	Executor  executor.Executor
	TaskQueue *tasknode.TaskQueue
	Observers []*node.Observer
}

// Option customizes App construction.
type Option func(*App)

// WithExecutor replaces the executor selected by the configuration.
func WithExecutor(e executor.Executor) Option {
	return func(a *App) { a.Executor = e }
}

// New builds the application from cfg. Nothing runs until Start.
func New(cfg *config.Config, log logrus.FieldLogger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a := &App{
		Config: cfg,
		Log:    log,
		Store:  st,
		Bus:    bus.New(cfg.Bus, log),
		Nodes:  node.NewRegistry(),
		Tools:  tools.Defaults(),
		Audit:  audit.NewPDRWriter(st, log),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.init(); err != nil {
		a.Bus.Close(context.Background())
		st.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	for _, t := range append(append([]config.TopicConfig{}, defaultTopics...), a.Config.Topics...) {
		if err := a.Bus.CreateTopic(t.Name, t.Description); err != nil {
			if errors.Is(err, bus.ErrDuplicateTopic) {
				continue
			}
			return fmt.Errorf("create topic %q: %w", t.Name, err)
		}
	}

	if a.Executor == nil {
		exec, err := newExecutor(a.Config.Executor, a.Tools, a.Log)
		if err != nil {
			return err
		}
		a.Executor = exec
	}

	a.TaskQueue = tasknode.New(tasknode.Deps{
		Store:    a.Store,
		Bus:      a.Bus,
		Nodes:    a.Nodes,
		Executor: a.Executor,
		Audit:    a.Audit,
		Log:      a.Log,
	}, a.Config.TaskQueue)

	for _, oc := range a.Config.Observers {
		obs, err := node.NewObserver(a.Nodes, a.Bus, oc.Name, oc.Topics, a.Log)
		if err != nil {
			return fmt.Errorf("create observer %q: %w", oc.Name, err)
		}
		a.Observers = append(a.Observers, obs)
	}
	return nil
}

func newExecutor(cfg config.ExecutorConfig, reg *tools.Registry, log logrus.FieldLogger) (executor.Executor, error) {
	switch cfg.Kind {
	case config.ExecutorNoop, "":
		return executor.Noop{}, nil
	case config.ExecutorLocalExec:
		return localexec.New(cfg.LocalExec), nil
	case config.ExecutorAnthropic:
		return claude.New(cfg.Anthropic, reg, log)
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}

// Start launches every registered node.
func (a *App) Start(ctx context.Context) error {
	for _, n := range a.Nodes.Nodes() {
		if err := n.Start(ctx); err != nil {
			return fmt.Errorf("start node %s: %w", n.Name(), err)
		}
	}
	a.Log.WithFields(logrus.Fields{
		"nodes":    len(a.Nodes.Nodes()),
		"executor": a.Executor.Name(),
	}).Info("hive started")
	return nil
}

// Shutdown stops all nodes, waits for their loops to exit, then drains the
// bus and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	nodes := a.Nodes.Nodes()
	for _, n := range nodes {
		n.Stop()
	}

	var errs []error
	for _, n := range nodes {
		select {
		case <-n.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("node %s did not stop: %w", n.Name(), ctx.Err()))
		}
	}

	if err := a.Bus.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	a.Log.Info("hive stopped")
	return errors.Join(errs...)
}
