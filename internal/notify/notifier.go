package notify

import (
	"context"
	"encoding/json"
	"log"

	"festival-sync-backend/internal/hub"
	"festival-sync-backend/internal/push"
)

// Broadcaster is the live-connection side of a publish. Satisfied by hub.Hub.
type Broadcaster interface {
	Broadcast(topic string, payload json.RawMessage) int
}

// Deliverer is the offline-target side of a publish. Satisfied by push.Service.
type Deliverer interface {
	DeliverToAll(ctx context.Context, payload []byte) (push.Result, error)
}

// Notifier bridges domain mutations to both delivery paths: a synchronous
// broadcast to live connections and an asynchronous push dispatch handled by
// a pool of workers.
type Notifier struct {
	broadcaster Broadcaster
	deliverer   Deliverer
	size        int
	jobs        chan hub.Event
}

// NewNotifier creates a notifier with a worker pool of the given size and a
// bounded dispatch queue.
func NewNotifier(b Broadcaster, d Deliverer, size, queueSize int) *Notifier {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	return &Notifier{
		broadcaster: b,
		deliverer:   d,
		size:        size,
		jobs:        make(chan hub.Event, queueSize),
	}
}

// Start launches the worker goroutines. They run until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	for i := 0; i < n.size; i++ {
		go n.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (n *Notifier) worker(ctx context.Context, id int) {
	log.Printf("notify: worker %d started", id)
	for {
		select {
		case event := <-n.jobs:
			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("notify: worker %d failed to encode event %q: %v", id, event.Topic, err)
				continue
			}
			if _, err := n.deliverer.DeliverToAll(ctx, payload); err != nil {
				log.Printf("notify: worker %d delivery for %q not executed: %v", id, event.Topic, err)
			}
		case <-ctx.Done():
			log.Printf("notify: worker %d shutting down", id)
			return
		}
	}
}

// Publish broadcasts a topic event to all live connections and queues a push
// delivery for offline targets. A failure on either path never propagates to
// the triggering domain operation: a full queue drops the push job with a
// warning.
func (n *Notifier) Publish(topic string, payload json.RawMessage) {
	delivered := n.broadcaster.Broadcast(topic, payload)
	log.Printf("notify: broadcast %q to %d connections", topic, delivered)

	select {
	case n.jobs <- hub.Event{Topic: topic, Payload: payload}:
	default:
		log.Printf("notify: push queue full, dropping delivery for %q", topic)
	}
}

// Jobs returns the jobs channel for testing.
func (n *Notifier) Jobs() chan hub.Event {
	return n.jobs
}
