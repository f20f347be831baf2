package events

import (
	"context"
	"sync"
	"time"
)

// Message is one delivered event on the in-process broker
type Message struct {
	Topic     string
	Payload   interface{}
	Timestamp time.Time
}

// Subscriber is a channel that receives messages
type Subscriber chan Message

// Broker is the in-process Publisher used by single-instance deployments
// and tests. Subscribers register per topic; slow subscribers drop messages
// rather than stall the publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]bool
	closed      bool
}

var _ Publisher = (*Broker)(nil)

// NewBroker creates an in-process broker
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]map[Subscriber]bool)}
}

// Subscribe registers a buffered channel for one topic
func (b *Broker) Subscribe(topic string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[Subscriber]bool)
	}
	b.subscribers[topic][sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs := b.subscribers[topic]; subs[sub] {
		delete(subs, sub)
		close(sub)
	}
}

// Publish delivers the payload to every subscriber of the topic. Full
// subscriber buffers are skipped.
func (b *Broker) Publish(_ context.Context, topic string, payload interface{}) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	msg := Message{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for sub := range b.subscribers[topic] {
		select {
		case sub <- msg:
		default:
		}
	}
	return nil
}

// Close closes every subscriber channel
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for sub := range subs {
			close(sub)
		}
	}
	b.subscribers = make(map[string]map[Subscriber]bool)
	return nil
}

// SubscriberCount reports active subscriptions on a topic
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
