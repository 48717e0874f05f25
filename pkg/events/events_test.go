package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventEpisodeOpened, EpisodeID: "ep-1"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventEpisodeOpened, ev.Type)
		assert.Equal(t, "ep-1", ev.EpisodeID)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerPublishState(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	ep := &types.Episode{
		ID:     "ep-2",
		State:  types.StateExecuting,
		Target: types.Target{Cluster: "prod", Namespace: "payments", Resource: "deployment/checkout"},
	}
	b.PublishState(ep, "plan approved")

	select {
	case ev := <-sub:
		assert.Equal(t, EventEpisodeState, ev.Type)
		assert.Equal(t, "executing", ev.Metadata["state"])
		assert.Equal(t, "prod/payments/deployment/checkout", ev.Metadata["target"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	// Never drained; its buffer fills and further events drop.
	_ = b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventActionApplied, EpisodeID: "ep-3"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
