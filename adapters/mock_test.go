package adapters

import (
	"sync"
	"time"

	"mqtt-relay-control/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	args := m.Called()
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	args := m.Called(topic, qos, callback)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	args := m.Called(filters, callback)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	args := m.Called(topics)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	args := m.Called()
	return args.Get(0).(mqtt.ClientOptionsReader)
}

var _ mqtt.Client = &MockMQTTClient{}

type MockToken struct {
	mock.Mock
}

func (m *MockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func (m *MockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

var _ mqtt.Token = &MockToken{}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ mqtt.Message = fakeMessage{}

type connectResult struct {
	attempt application.ConnectionAttempt
	err     error
	success bool
}

type lostResult struct {
	code int
	err  error
}

type subscribeResult struct {
	topic string
	err   error
}

// recordingHandler forwards transport callbacks to channels.
type recordingHandler struct {
	connects   chan connectResult
	losts      chan lostResult
	subscribes chan subscribeResult

	mu       sync.Mutex
	messages []fakeMessage
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connects:   make(chan connectResult, 8),
		losts:      make(chan lostResult, 8),
		subscribes: make(chan subscribeResult, 8),
	}
}

func (h *recordingHandler) OnConnectSuccess(attempt application.ConnectionAttempt) {
	h.connects <- connectResult{attempt: attempt, success: true}
}

func (h *recordingHandler) OnConnectFailure(attempt application.ConnectionAttempt, err error) {
	h.connects <- connectResult{attempt: attempt, err: err}
}

func (h *recordingHandler) OnConnectionLost(errorCode int, err error) {
	h.losts <- lostResult{code: errorCode, err: err}
}

func (h *recordingHandler) OnSubscribeResult(topic string, err error) {
	h.subscribes <- subscribeResult{topic: topic, err: err}
}

func (h *recordingHandler) OnMessageArrived(topic string, payload []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, fakeMessage{topic: topic, payload: payload})
	h.mu.Unlock()
}

func (h *recordingHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

var _ application.TransportHandler = &recordingHandler{}
