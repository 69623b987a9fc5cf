package application

import (
	"context"
	"sync"
	"time"

	"github.com/cskr/pubsub"
)

const DefaultBusCapacity = 16

// DeviceMessage is an inbound device state message that passed the throttle.
type DeviceMessage struct {
	DeviceID   string
	Topic      string
	Payload    string
	ReceivedAt time.Time
}

// DeviceStateBus fans admitted device messages out to in-process consumers.
// Close waits for in-flight Publish calls, so every subscriber has to keep
// reading or unsubscribe.
type DeviceStateBus struct {
	ps *pubsub.PubSub

	mu     sync.RWMutex
	closed bool
}

func NewDeviceStateBus(capacity int) *DeviceStateBus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &DeviceStateBus{ps: pubsub.New(capacity)}
}

func busTopic(deviceID string) string {
	return "device/" + deviceID
}

// Publish delivers msg to every subscriber of msg.DeviceID. It can be used
// directly as the connection manager message handler.
func (b *DeviceStateBus) Publish(msg DeviceMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.ps.Pub(msg, busTopic(msg.DeviceID))
}

func (b *DeviceStateBus) Subscribe(deviceIDs ...string) *DeviceSubscription {
	topics := make([]string, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		topics = append(topics, busTopic(id))
	}
	return &DeviceSubscription{bus: b, ch: b.ps.Sub(topics...)}
}

func (b *DeviceStateBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		b.ps.Shutdown()
	}
}

type DeviceSubscription struct {
	bus *DeviceStateBus
	ch  chan interface{}
}

// Next blocks until a message arrives, ctx is done or the bus is closed.
func (s *DeviceSubscription) Next(ctx context.Context) (DeviceMessage, bool) {
	for {
		select {
		case <-ctx.Done():
			return DeviceMessage{}, false
		case v, ok := <-s.ch:
			if !ok {
				return DeviceMessage{}, false
			}
			if msg, ok := v.(DeviceMessage); ok {
				return msg, true
			}
		}
	}
}

func (s *DeviceSubscription) Unsubscribe() {
	// keep draining so the dispatcher never blocks on an abandoned channel
	go func() {
		for range s.ch {
		}
	}()
	go func() {
		s.bus.mu.RLock()
		defer s.bus.mu.RUnlock()

		if !s.bus.closed {
			s.bus.ps.Unsub(s.ch)
		}
	}()
}
