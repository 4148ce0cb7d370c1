// ABOUTME: In-memory fan-out of supervisor lifecycle events to live subscribers
// ABOUTME: Subscribers follow one agent id or "*" for everything; slow subscribers drop events

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-swarm/internal/agent"
)

const (
	// AllTopics subscribes to events for every agent, broadcasts included.
	AllTopics = "*"

	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for lifecycle events. It implements
// agent.Recorder so the supervisor can publish to it directly.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan agent.Event // topic -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan agent.Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber for events on topic (an agent id or
// AllTopics). The subscription is removed and its channel closed when ctx
// is cancelled or the broadcaster is closed.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan agent.Event, string) {
	subID := uuid.New().String()
	ch := make(chan agent.Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan agent.Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers e to the subscribers of its agent id and of AllTopics.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(e agent.Event) {
	// Sends never block, so they happen under the read lock; Unsubscribe
	// can then close channels without racing a send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if e.AgentID != "" {
		b.deliverLocked(e.AgentID, e)
	}
	b.deliverLocked(AllTopics, e)
}

func (b *Broadcaster) deliverLocked(topic string, e agent.Event) {
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber", "topic", topic, "event_id", e.ID)
		}
	}
}

// Record implements agent.Recorder.
func (b *Broadcaster) Record(_ context.Context, e agent.Event) {
	b.Publish(e)
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Broadcaster) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
