package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/hive/internal/config"
	"github.com/fentz26/hive/internal/executor"
	"github.com/fentz26/hive/internal/logging"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/node"
	"github.com/fentz26/hive/internal/tasknode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.TaskQueue.Backoff = 10 * time.Millisecond
	return cfg
}

func TestNewCreatesTopicsAndNodes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Topics = []config.TopicConfig{
		{Name: "alerts"},
		{Name: tasknode.TopicTaskUpdates},
	}
	cfg.Observers = []config.ObserverConfig{{Name: "watcher", Topics: []string{"alerts", tasknode.TopicTaskCompletion}}}

	a, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	var names []string
	for _, info := range a.Bus.Topics() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"alerts", tasknode.TopicTaskCompletion, tasknode.TopicTaskUpdates}, names)

	infos := a.Nodes.List()
	require.Len(t, infos, 2)
	assert.Equal(t, node.KindTaskQueue, infos[0].Kind)
	assert.Equal(t, node.KindObserver, infos[1].Kind)
	assert.Equal(t, "noop", a.Executor.Name())
}

func TestNewFailsOnUnknownObserverTopic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observers = []config.ObserverConfig{{Name: "lost", Topics: []string{"nowhere"}}}

	_, err := New(cfg, logging.Discard())
	assert.Error(t, err)
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.Kind = config.ExecutorAnthropic
	cfg.Executor.Anthropic.APIKeyEnv = "HIVE_TEST_MISSING_KEY"
	t.Setenv("HIVE_TEST_MISSING_KEY", "")

	_, err := New(cfg, logging.Discard())
	assert.Error(t, err)
}

func TestLifecycleProcessesTasks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observers = []config.ObserverConfig{{Name: "watcher", Topics: []string{tasknode.TopicTaskCompletion}}}

	a, err := New(cfg, logging.Discard(), WithExecutor(executor.Noop{}))
	require.NoError(t, err)

	ctx := context.Background()
	task, err := models.NewTask("ship it", 1)
	require.NoError(t, err)
	require.NoError(t, a.Store.Upsert(ctx, task))

	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool {
		got, err := a.Store.Get(ctx, task.ID)
		return err == nil && got.State == models.StateComplete
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.Observers[0].Count(tasknode.TopicTaskCompletion) == 1
	}, 2*time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))

	for _, info := range a.Nodes.List() {
		assert.False(t, info.Running, info.Name)
	}
}
