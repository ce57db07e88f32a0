package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(ChannelDeployments)
	defer sub.Unsubscribe()

	b.Publish(Event{Channel: ChannelDeployments, Type: "started", Publisher: "orchestrator"})

	select {
	case evt := <-sub.Events():
		assert.Equal(t, "started", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishIgnoresOtherChannels(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(ChannelHealth)
	defer sub.Unsubscribe()

	b.Publish(Event{Channel: ChannelAlerts, Type: "x"})

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected event delivered: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOverflowDropsOldestAndNotifies(t *testing.T) {
	b := New(1)
	sub := b.Subscribe(ChannelPipelines)
	defer sub.Unsubscribe()

	b.Publish(Event{Channel: ChannelPipelines, Type: "first"})
	b.Publish(Event{Channel: ChannelPipelines, Type: "second"})

	evt := <-sub.Events()
	assert.Equal(t, "second", evt.Type)

	select {
	case overflow := <-sub.Events():
		assert.Equal(t, overflowEventType, overflow.Type)
	case <-time.After(time.Second):
		t.Fatal("expected overflow meta-event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(ChannelCompliance)
	require.Equal(t, 1, b.SubscriberCount(ChannelCompliance))

	sub.Unsubscribe()
	require.Equal(t, 0, b.SubscriberCount(ChannelCompliance))

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
