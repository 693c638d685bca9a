// Package bus provides topic-based publish/subscribe between nodes.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry errors.
var (
	ErrDuplicateTopic = errors.New("topic already exists")
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrInvalidTopic   = errors.New("topic name cannot be empty")
)

// Message is a single publication on a topic.
type Message struct {
	Topic     string         `json:"topic"`
	From      string         `json:"from,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler consumes messages delivered on a topic.
type Handler func(ctx context.Context, msg Message) error

// Subscription is the handle returned by Subscribe. Subscribing the same
// handler twice yields two distinct subscriptions.
type Subscription struct {
	id      string
	topic   string
	handler Handler
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string { return s.topic }

// TopicInfo describes a registered topic.
type TopicInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Subscribers int    `json:"subscribers"`
}

type topic struct {
	description string
	subs        []*Subscription
}

// Registry maps topic names to their subscriptions. Topics must be created
// before anyone can subscribe to them.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]*topic)}
}

// Create registers a new topic.
func (r *Registry) Create(name, description string) error {
	if name == "" {
		return ErrInvalidTopic
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTopic, name)
	}
	r.topics[name] = &topic{description: description}
	return nil
}

// Remove deletes a topic and all of its subscriptions. Missing topics are ignored.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics, name)
}

// Subscribe attaches handler to an existing topic.
func (r *Registry) Subscribe(name string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, name)
	}
	sub := &Subscription{id: uuid.New().String(), topic: name, handler: handler}
	t.subs = append(t.subs, sub)
	return sub, nil
}

// Unsubscribe detaches one subscription. A topic left with no subscriptions
// is deleted.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[sub.topic]
	if !ok {
		return
	}
	for i, s := range t.subs {
		if s == sub {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			break
		}
	}
	if len(t.subs) == 0 {
		delete(r.topics, sub.topic)
	}
}

// Subscribers returns a snapshot of the subscriptions on a topic.
func (r *Registry) Subscribers(name string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.topics[name]
	if !ok {
		return nil
	}
	return append([]*Subscription(nil), t.subs...)
}

// Describe returns information about one topic.
func (r *Registry) Describe(name string) (TopicInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.topics[name]
	if !ok {
		return TopicInfo{}, fmt.Errorf("%w: %q", ErrUnknownTopic, name)
	}
	return TopicInfo{Name: name, Description: t.description, Subscribers: len(t.subs)}, nil
}

// List returns all topics sorted by name.
func (r *Registry) List() []TopicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]TopicInfo, 0, len(r.topics))
	for name, t := range r.topics {
		infos = append(infos, TopicInfo{Name: name, Description: t.description, Subscribers: len(t.subs)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
