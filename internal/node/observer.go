package node

import (
	"context"
	"sync"

	"github.com/fentz26/hive/internal/bus"
	"github.com/sirupsen/logrus"
)

// Observer is a reactive node that logs and counts messages on its topics.
type Observer struct {
	*Base

	mu     sync.Mutex
	counts map[string]int
	last   map[string]bus.Message
}

// NewObserver creates an observer subscribed to topics. Every topic must
// already exist on the bus.
func NewObserver(reg *Registry, b *bus.Bus, name string, topics []string, log logrus.FieldLogger) (*Observer, error) {
	// Check topics before NewBase registers the node.
	for _, topic := range topics {
		if _, err := b.Registry().Describe(topic); err != nil {
			return nil, err
		}
	}

	o := &Observer{
		counts: make(map[string]int),
		last:   make(map[string]bus.Message),
	}
	o.Base = NewBase(reg, b, KindObserver, name, nil, log)

	for _, topic := range topics {
		if _, err := o.Subscribe(topic, o.handle); err != nil {
			o.UnsubscribeAll()
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) handle(_ context.Context, msg bus.Message) error {
	o.mu.Lock()
	o.counts[msg.Topic]++
	o.last[msg.Topic] = msg
	o.mu.Unlock()

	o.Log().WithFields(logrus.Fields{
		"topic":   msg.Topic,
		"from":    msg.From,
		"payload": msg.Payload,
	}).Info("message received")
	return nil
}

// Count returns how many messages arrived on topic.
func (o *Observer) Count(topic string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[topic]
}

// Last returns the most recent message on topic.
func (o *Observer) Last(topic string) (bus.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.last[topic]
	return m, ok
}
