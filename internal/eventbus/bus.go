// Package eventbus implements the in-process publish/subscribe surface:
// channel-scoped, bounded per-subscriber buffers, drop-oldest on overflow.
// Subscriber lifecycle is mutex-guarded per channel, generalized from a
// single ticker loop to many independent subscriber channels.
package eventbus

import (
	"context"
	"sync"
)

// Channel is one of the normative bus channels.
type Channel string

const (
	ChannelDeployments Channel = "deployments"
	ChannelPipelines   Channel = "pipelines"
	ChannelCompliance  Channel = "compliance"
	ChannelHealth      Channel = "health"
	ChannelAlerts      Channel = "alerts"
)

// DefaultBufferSize is the default bounded per-subscriber buffer.
const DefaultBufferSize = 256

// Event is a single published message. Type is channel-specific (e.g. for
// `deployments`: started|stage-update|completed|failed|rollback-initiated|
// rollback-completed).
type Event struct {
	Channel   Channel
	Type      string
	Publisher string
	Payload   interface{}
}

// overflowEventType is the type of the meta-event emitted to a subscriber whose buffer
// overflowed ("emits an overflow meta-event").
const overflowEventType = "overflow"

type subscriber struct {
	id     uint64
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func (s *subscriber) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// The channel holds one slot beyond the configured buffer size, kept
	// free for the overflow meta-event.
	limit := cap(s.ch) - 1
	if len(s.ch) < limit {
		s.ch <- evt
		return
	}

	// Buffer full: drop the oldest undelivered events for this subscriber,
	// then enqueue the new one, and note the overflow.
	for len(s.ch) >= limit {
		select {
		case <-s.ch:
		default:
		}
	}
	select {
	case s.ch <- evt:
	default:
	}
	select {
	case s.ch <- Event{Channel: evt.Channel, Type: overflowEventType, Publisher: evt.Publisher}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Bus is the process-wide event bus. Publish never blocks the caller.
type Bus struct {
	mu         sync.RWMutex
	bufferSize int
	nextID     uint64
	subs       map[Channel]map[uint64]*subscriber
}

// New constructs a Bus with the given per-subscriber buffer size (0 uses
// DefaultBufferSize).
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{bufferSize: bufferSize, subs: make(map[Channel]map[uint64]*subscriber)}
}

// Publish delivers evt to every current subscriber of evt.Channel. It never
// blocks: a subscriber whose buffer is full has its oldest event dropped
//.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs[evt.Channel]))
	for _, s := range b.subs[evt.Channel] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(evt)
	}
}

// Subscription is a live subscriber handle; call Unsubscribe when done.
type Subscription struct {
	bus     *Bus
	channel Channel
	id      uint64
	sub     *subscriber
}

// Events returns the subscriber's receive channel.
func (s *Subscription) Events() <-chan Event { return s.sub.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs[s.channel], s.id)
	s.bus.mu.Unlock()
	s.sub.close()
}

// Subscribe registers a new subscriber on channel with a bounded buffer.
// The returned Subscription is restartable in the sense that the caller may
// range over Events() for as long as it lives; it carries no replay of past
// events ("lazy, restartable sequence per subscriber").
func (b *Bus) Subscribe(channel Channel) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan Event, b.bufferSize+1)}

	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]*subscriber)
	}
	b.subs[channel][id] = sub

	return &Subscription{bus: b, channel: channel, id: id, sub: sub}
}

// SubscriberCount reports how many live subscribers a channel currently has.
func (b *Bus) SubscriberCount(channel Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Drain consumes sub.Events() until ctx is cancelled, invoking fn per event.
// Convenience for subscribers (e.g. the external real-time UI channel) that
// simply want to forward events until torn down.
func Drain(ctx context.Context, sub *Subscription, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			fn(evt)
		}
	}
}
