package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"festival-sync-backend/internal/push"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	topics []string
}

func (b *fakeBroadcaster) Broadcast(topic string, payload json.RawMessage) int {
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
	return 1
}

type fakeDeliverer struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (d *fakeDeliverer) DeliverToAll(ctx context.Context, payload []byte) (push.Result, error) {
	d.mu.Lock()
	d.payloads = append(d.payloads, payload)
	d.mu.Unlock()
	return push.Result{}, d.err
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.payloads)
}

func TestPublishBroadcastsAndDelivers(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	deliverer := &fakeDeliverer{}
	n := NewNotifier(broadcaster, deliverer, 2, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Publish("schedule.changed", json.RawMessage(`{"event":5}`))

	assert.Equal(t, []string{"schedule.changed"}, broadcaster.topics)
	require.Eventually(t, func() bool { return deliverer.count() == 1 }, time.Second, 10*time.Millisecond)

	deliverer.mu.Lock()
	payload := deliverer.payloads[0]
	deliverer.mu.Unlock()
	assert.JSONEq(t, `{"topic":"schedule.changed","payload":{"event":5}}`, string(payload))
}

func TestPublishFullQueueDropsJob(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	n := NewNotifier(broadcaster, &fakeDeliverer{}, 1, 1)
	// Workers not started: queue capacity is 1.

	n.Publish("a", nil)
	n.Publish("b", nil)
	n.Publish("c", nil)

	assert.Len(t, n.Jobs(), 1, "overflow jobs are dropped, not queued")
	// Broadcasts still went out for all three publishes.
	assert.Equal(t, []string{"a", "b", "c"}, broadcaster.topics)
}

func TestWorkerSurvivesDeliveryError(t *testing.T) {
	deliverer := &fakeDeliverer{err: push.ErrRateLimited}
	n := NewNotifier(&fakeBroadcaster{}, deliverer, 1, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Publish("x", nil)
	n.Publish("y", nil)

	require.Eventually(t, func() bool { return deliverer.count() == 2 }, time.Second, 10*time.Millisecond)
}
