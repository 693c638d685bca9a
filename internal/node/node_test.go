package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/hive/internal/bus"
	"github.com/fentz26/hive/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.Config{Workers: 2}, logging.Discard())
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

func waitDone(t *testing.T, n Node) {
	t.Helper()
	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("node loop did not exit")
	}
}

func TestRunLoopSurvivesErrorsAndPanics(t *testing.T) {
	var calls int32
	loop := LoopFunc(func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		switch n {
		case 1:
			panic("first iteration explodes")
		case 2:
			return errors.New("second iteration fails")
		}
		time.Sleep(time.Millisecond)
		return nil
	})

	reg := NewRegistry()
	n := NewBase(reg, newTestBus(t), KindTaskQueue, "worker", loop, logging.Discard())
	n.ErrorBackoff = time.Millisecond

	require.NoError(t, n.Start(context.Background()))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 5 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, n.Running())

	n.Stop()
	waitDone(t, n)
	assert.False(t, n.Running())
}

func TestStopIsCooperative(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	var once sync.Once

	loop := LoopFunc(func(ctx context.Context) error {
		once.Do(func() { close(entered) })
		<-release
		atomic.StoreInt32(&finished, 1)
		return nil
	})

	n := NewBase(nil, newTestBus(t), KindTaskQueue, "", loop, logging.Discard())
	require.NoError(t, n.Start(context.Background()))
	<-entered

	n.Stop()
	select {
	case <-n.Done():
		t.Fatal("loop exited before the iteration finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	waitDone(t, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestStartTwice(t *testing.T) {
	n := NewBase(nil, newTestBus(t), KindObserver, "idle", nil, logging.Discard())
	require.NoError(t, n.Start(context.Background()))
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyRunning)

	n.Stop()
	waitDone(t, n)
	require.NoError(t, n.Start(context.Background()), "restart after stop")
	n.Stop()
	waitDone(t, n)
}

func TestContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := NewBase(nil, newTestBus(t), KindObserver, "idle", nil, logging.Discard())
	require.NoError(t, n.Start(ctx))
	cancel()
	waitDone(t, n)
	assert.False(t, n.Running())
}

func TestSleepInterruptedByStop(t *testing.T) {
	slept := make(chan bool, 1)
	loop := LoopFunc(func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	n := NewBase(nil, newTestBus(t), KindTaskQueue, "", loop, logging.Discard())
	require.NoError(t, n.Start(context.Background()))

	go func() { slept <- n.Sleep(context.Background(), time.Hour) }()
	time.Sleep(10 * time.Millisecond)
	n.Stop()

	select {
	case full := <-slept:
		assert.False(t, full)
	case <-time.After(time.Second):
		t.Fatal("Sleep was not interrupted")
	}
	waitDone(t, n)
}

func TestSubscriptionsTracked(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.CreateTopic("a", ""))
	require.NoError(t, b.CreateTopic("b", ""))

	n := NewBase(nil, b, KindObserver, "n", nil, logging.Discard())
	h := func(context.Context, bus.Message) error { return nil }

	subA, err := n.Subscribe("a", h)
	require.NoError(t, err)
	_, err = n.Subscribe("b", h)
	require.NoError(t, err)
	_, err = n.Subscribe("missing", h)
	assert.ErrorIs(t, err, bus.ErrUnknownTopic)

	assert.Equal(t, []string{"a", "b"}, n.Topics())
	n.Unsubscribe(subA)
	assert.Equal(t, []string{"b"}, n.Topics())
}

func TestRegistryAppendOnly(t *testing.T) {
	reg := NewRegistry()
	b := newTestBus(t)
	first := NewBase(reg, b, KindTaskQueue, "first", nil, logging.Discard())
	NewBase(reg, b, KindObserver, "second", nil, logging.Discard())

	require.NoError(t, first.Start(context.Background()))
	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "first", infos[0].Name)
	assert.Equal(t, KindTaskQueue, infos[0].Kind)
	assert.True(t, infos[0].Running)
	assert.False(t, infos[1].Running)

	first.Stop()
	waitDone(t, first)
	assert.Len(t, reg.List(), 2, "stopped nodes stay registered")

	got, ok := reg.Get(first.ID())
	require.True(t, ok)
	assert.Equal(t, "first", got.Name())
}

func TestObserverCountsMessages(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.CreateTopic("task_updates", ""))
	reg := NewRegistry()

	o, err := NewObserver(reg, b, "monitor", []string{"task_updates"}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"task_updates"}, o.Info().Topics)

	require.NoError(t, b.Publish(context.Background(), "task_updates", "x", map[string]any{"task_id": 1}))
	require.Eventually(t, func() bool { return o.Count("task_updates") == 1 }, time.Second, 5*time.Millisecond)

	msg, ok := o.Last("task_updates")
	require.True(t, ok)
	assert.Equal(t, "x", msg.From)
}

func TestObserverUnknownTopic(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.CreateTopic("known", ""))
	reg := NewRegistry()
	_, err := NewObserver(reg, b, "monitor", []string{"known", "unknown"}, logging.Discard())
	assert.ErrorIs(t, err, bus.ErrUnknownTopic)

	assert.Empty(t, reg.List(), "a rejected observer is not registered")
	info, err := b.Registry().Describe("known")
	require.NoError(t, err)
	assert.Zero(t, info.Subscribers)
}
