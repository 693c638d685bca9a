package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned when publishing on a bus that has been closed.
var ErrClosed = errors.New("bus closed")

// Config defines the bus configuration.
type Config struct {
	// Workers is the number of concurrent deliveries.
	Workers int `yaml:"workers" toml:"workers"`
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{Workers: 10}
}

// Bus fans published messages out to topic subscribers on a bounded pool.
// Delivery is at-most-once and unordered.
type Bus struct {
	registry *Registry
	pool     pond.Pool
	log      logrus.FieldLogger
}

// Stats is a point-in-time view of the delivery pool.
type Stats struct {
	Workers   int    `json:"workers"`
	Running   int64  `json:"running"`
	Waiting   uint64 `json:"waiting"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// New creates a bus with its own registry and delivery pool.
func New(cfg Config, log logrus.FieldLogger) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Bus{
		registry: NewRegistry(),
		pool:     pond.NewPool(cfg.Workers),
		log:      log.WithField("component", "bus"),
	}
}

// Registry returns the underlying topic registry.
func (b *Bus) Registry() *Registry { return b.registry }

// CreateTopic registers a new topic.
func (b *Bus) CreateTopic(name, description string) error {
	return b.registry.Create(name, description)
}

// RemoveTopic deletes a topic and its subscriptions.
func (b *Bus) RemoveTopic(name string) {
	b.registry.Remove(name)
}

// Subscribe attaches handler to an existing topic.
func (b *Bus) Subscribe(topic string, handler Handler) (*Subscription, error) {
	return b.registry.Subscribe(topic, handler)
}

// Unsubscribe detaches a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.registry.Unsubscribe(sub)
}

// Topics lists registered topics.
func (b *Bus) Topics() []TopicInfo {
	return b.registry.List()
}

// Publish schedules delivery of payload to every current subscriber of
// topic and returns without waiting. Publishing to a topic with no
// subscribers, or one that does not exist, delivers nothing.
func (b *Bus) Publish(ctx context.Context, topic, from string, payload map[string]any) error {
	subs := b.registry.Subscribers(topic)
	if len(subs) == 0 {
		return nil
	}

	msg := Message{
		Topic:     topic,
		From:      from,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	// Deliveries outlive the publisher's request.
	dctx := context.WithoutCancel(ctx)

	for _, sub := range subs {
		sub := sub
		if err := b.pool.Go(func() { b.deliver(dctx, sub, msg) }); err != nil {
			if errors.Is(err, pond.ErrPoolStopped) {
				return ErrClosed
			}
			return fmt.Errorf("schedule delivery: %w", err)
		}
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, msg Message) {
	entry := b.log.WithFields(logrus.Fields{
		"topic":        msg.Topic,
		"subscription": sub.id,
	})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", fmt.Sprint(r)).Error("subscriber panicked")
		}
	}()
	if err := sub.handler(ctx, msg); err != nil {
		entry.WithError(err).Warn("subscriber failed")
	}
}

// Stats reports delivery pool usage.
func (b *Bus) Stats() Stats {
	return Stats{
		Workers:   b.pool.MaxConcurrency(),
		Running:   b.pool.RunningWorkers(),
		Waiting:   b.pool.WaitingTasks(),
		Completed: b.pool.CompletedTasks(),
		Failed:    b.pool.FailedTasks(),
	}
}

// Close stops accepting publications and waits for queued and in-flight
// deliveries, or for ctx to be done.
func (b *Bus) Close(ctx context.Context) error {
	select {
	case <-b.pool.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
