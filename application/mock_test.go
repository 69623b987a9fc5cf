package application

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockTransport struct {
	mock.Mock

	handler TransportHandler
}

func (m *MockTransport) SetHandler(handler TransportHandler) {
	m.handler = handler
}

func (m *MockTransport) Connect(attempt ConnectionAttempt, opts ConnectOptions) error {
	args := m.Called(attempt, opts)
	return args.Error(0)
}

func (m *MockTransport) Subscribe(topic string, qos byte) error {
	args := m.Called(topic, qos)
	return args.Error(0)
}

func (m *MockTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	args := m.Called(topic, qos, retained, payload)
	return args.Error(0)
}

func (m *MockTransport) Disconnect() {
	m.Called()
}

var _ MQTTTransport = &MockTransport{}

type MockReadiness struct {
	mock.Mock
}

func (m *MockReadiness) IsReady() bool {
	args := m.Called()
	return args.Bool(0)
}

var _ ReadinessChecker = &MockReadiness{}

type MockCommandSender struct {
	mock.Mock
}

func (m *MockCommandSender) Send(deviceID string, state PowerState) error {
	args := m.Called(deviceID, state)
	return args.Error(0)
}

var _ CommandSender = &MockCommandSender{}

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeScheduler records delayed tasks instead of running them.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &fakeTimer{}
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
	s.timers = append(s.timers, t)
	return t
}

// fire runs the i-th task even when it was stopped, as a timer that
// already fired would.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	f := s.funcs[i]
	s.mu.Unlock()
	f()
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.funcs)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
