// Package node provides the long-running participants attached to the bus.
//
// A node owns one run-loop goroutine while started. Each iteration calls the
// node's Loop; a failing or panicking iteration is logged and the loop keeps
// going. Stop is cooperative: the current iteration finishes first.
package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/hive/internal/bus"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned by Start on a node whose loop is still active.
var ErrAlreadyRunning = errors.New("node already running")

// Kind tags the concrete type of a node for introspection.
type Kind string

const (
	KindTaskQueue Kind = "task_queue"
	KindObserver  Kind = "observer"
)

// Loop is one unit of node work.
type Loop interface {
	RunOnce(ctx context.Context) error
}

// LoopFunc adapts a function to Loop.
type LoopFunc func(ctx context.Context) error

// RunOnce calls f.
func (f LoopFunc) RunOnce(ctx context.Context) error { return f(ctx) }

// Node is the behavior shared by every bus participant.
type Node interface {
	ID() string
	Name() string
	Kind() Kind
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Done() <-chan struct{}
	Info() Info
}

// Info is a point-in-time description of a node.
type Info struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Kind    Kind     `json:"kind"`
	Running bool     `json:"running"`
	Topics  []string `json:"topics"`
}

// Base implements Node. Concrete nodes embed it and supply a Loop.
type Base struct {
	id   string
	name string
	kind Kind
	bus  *bus.Bus
	loop Loop
	log  logrus.FieldLogger

	// ErrorBackoff is the pause after a failed iteration.
	ErrorBackoff time.Duration

	running atomic.Bool

	mu   sync.Mutex
	subs []*bus.Subscription
	quit chan struct{}
	done chan struct{}
}

// NewBase creates a node and appends it to reg. A nil loop makes the node
// idle until stopped, which suits purely reactive nodes.
func NewBase(reg *Registry, b *bus.Bus, kind Kind, name string, loop Loop, log logrus.FieldLogger) *Base {
	id := uuid.New().String()
	if name == "" {
		name = fmt.Sprintf("%s-%s", kind, id[:8])
	}
	n := &Base{
		id:           id,
		name:         name,
		kind:         kind,
		bus:          b,
		loop:         loop,
		ErrorBackoff: time.Second,
		log: log.WithFields(logrus.Fields{
			"node": name,
			"kind": kind,
		}),
	}
	closed := make(chan struct{})
	close(closed)
	n.done = closed

	if reg != nil {
		reg.Add(n)
	}
	return n
}

// ID returns the process-unique node id.
func (n *Base) ID() string { return n.id }

// Name returns the node name.
func (n *Base) Name() string { return n.name }

// Kind returns the node kind.
func (n *Base) Kind() Kind { return n.kind }

// Running reports whether the node has been started and not stopped.
func (n *Base) Running() bool { return n.running.Load() }

// Log returns the node's logger.
func (n *Base) Log() logrus.FieldLogger { return n.log }

// Done is closed once the run loop has exited.
func (n *Base) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

// Start launches the run loop. It returns ErrAlreadyRunning while a previous
// loop has not exited yet.
func (n *Base) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	select {
	case <-n.done:
	default:
		return ErrAlreadyRunning
	}

	n.quit = make(chan struct{})
	n.done = make(chan struct{})
	n.running.Store(true)
	go n.run(ctx, n.quit, n.done)

	n.log.Info("node started")
	return nil
}

// Stop asks the run loop to exit after its current iteration.
func (n *Base) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running.Swap(false) {
		return
	}
	close(n.quit)
	n.log.Info("node stopping")
}

// Sleep waits for d, returning early when ctx is done or the node is stopped.
// It reports whether the full duration elapsed.
func (n *Base) Sleep(ctx context.Context, d time.Duration) bool {
	n.mu.Lock()
	quit := n.quit
	n.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-quit:
		return false
	}
}

func (n *Base) run(ctx context.Context, quit, done chan struct{}) {
	defer close(done)
	defer n.log.Info("node stopped")

	for n.running.Load() {
		select {
		case <-ctx.Done():
			n.running.Store(false)
			return
		default:
		}

		if n.loop == nil {
			select {
			case <-ctx.Done():
			case <-quit:
			}
			continue
		}

		if err := n.iterate(ctx); err != nil {
			n.log.WithError(err).Error("node iteration failed")
			n.Sleep(ctx, n.ErrorBackoff)
		}
	}
}

func (n *Base) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return n.loop.RunOnce(ctx)
}

// Subscribe attaches handler to topic and records the subscription.
func (n *Base) Subscribe(topic string, handler bus.Handler) (*bus.Subscription, error) {
	sub, err := n.bus.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	return sub, nil
}

// Unsubscribe detaches a subscription made through this node.
func (n *Base) Unsubscribe(sub *bus.Subscription) {
	n.bus.Unsubscribe(sub)

	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll detaches every subscription made through this node.
func (n *Base) UnsubscribeAll() {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	for _, s := range subs {
		n.bus.Unsubscribe(s)
	}
}

// Publish sends payload on topic with this node as the sender.
func (n *Base) Publish(ctx context.Context, topic string, payload map[string]any) error {
	return n.bus.Publish(ctx, topic, n.id, payload)
}

// Topics returns the distinct topics this node is subscribed to.
func (n *Base) Topics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	seen := make(map[string]bool, len(n.subs))
	topics := make([]string, 0, len(n.subs))
	for _, s := range n.subs {
		if !seen[s.Topic()] {
			seen[s.Topic()] = true
			topics = append(topics, s.Topic())
		}
	}
	sort.Strings(topics)
	return topics
}

// Info describes the node.
func (n *Base) Info() Info {
	return Info{
		ID:      n.id,
		Name:    n.name,
		Kind:    n.kind,
		Running: n.Running(),
		Topics:  n.Topics(),
	}
}
