package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *recordingSink) Alert(_ context.Context, level Level, title, message string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, string(level)+":"+title)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestDispatcherForwardsAlertsToSink(t *testing.T) {
	bus := eventbus.New(16)
	sink := &recordingSink{}
	d := NewDispatcher(bus, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool { return bus.SubscriberCount(eventbus.ChannelAlerts) == 1 }, time.Second, time.Millisecond)
	bus.Publish(eventbus.Event{Channel: eventbus.ChannelAlerts, Type: "new", Publisher: "pipeline-monitor:owner/r", Payload: domain.AlertEvent{Kind: "health", Repository: "owner/r"}})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "critical:health", sink.calls[0])
}

func TestDispatcherSurvivesSinkError(t *testing.T) {
	bus := eventbus.New(16)
	sink := &recordingSink{err: errors.New("slack down")}
	d := NewDispatcher(bus, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool { return bus.SubscriberCount(eventbus.ChannelAlerts) == 1 }, time.Second, time.Millisecond)
	bus.Publish(eventbus.Event{Channel: eventbus.ChannelAlerts, Type: "new", Publisher: "pipeline-monitor:owner/r", Payload: domain.AlertEvent{Kind: "trend", Repository: "owner/r"}})
	bus.Publish(eventbus.Event{Channel: eventbus.ChannelAlerts, Type: "new", Publisher: "pipeline-monitor:owner/r", Payload: domain.AlertEvent{Kind: "prediction", Repository: "owner/r"}})

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
}
