package application

import (
	"sync"
	"time"
)

const DefaultThrottleWindow = 1000 * time.Millisecond

// MessageThrottle drops messages that arrive on a topic less than window
// after the last admitted one.
type MessageThrottle struct {
	window time.Duration

	mu       sync.Mutex
	lastSeen map[string]int64
}

func NewMessageThrottle(window time.Duration) *MessageThrottle {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &MessageThrottle{window: window, lastSeen: make(map[string]int64)}
}

func (t *MessageThrottle) Admit(topic string, nowMillis int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastSeen[topic]; ok && nowMillis-last < t.window.Milliseconds() {
		return false
	}
	t.lastSeen[topic] = nowMillis
	return true
}

// Reset forgets every topic.
func (t *MessageThrottle) Reset() {
	t.mu.Lock()
	t.lastSeen = make(map[string]int64)
	t.mu.Unlock()
}

func (t *MessageThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}
