package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

const (
	DefaultRetryDelay              = 5 * time.Second
	DefaultMaxRetries              = 3
	DefaultConnectTimeout          = 10 * time.Second
	DefaultSecondaryConnectTimeout = 15 * time.Second
	DefaultKeepAlive               = 60 * time.Second
	DefaultEventQueueSize          = 64

	// SubscribeQoS is used for every device topic subscription.
	SubscribeQoS = byte(0)

	// TestPayload is published by devices as a liveness probe and never
	// reaches the message handler.
	TestPayload = "TEST"
)

var ErrManagerRunning = fmt.Errorf("connection manager already running")

// Timer is a pending delayed task.
type Timer interface {
	Stop() bool
}

type ConnectionManagerParams struct {
	Primary   BrokerEndpoint
	Secondary BrokerEndpoint

	Topics    *TopicRegistry
	Transport MQTTTransport
	Notifier  *StatusNotifier
	Throttle  *MessageThrottle

	// MessageHandler receives admitted inbound messages on the manager
	// goroutine. It should not block.
	MessageHandler func(msg DeviceMessage)

	RetryDelay              time.Duration
	MaxRetries              int
	ConnectTimeout          time.Duration
	SecondaryConnectTimeout time.Duration
	KeepAlive               time.Duration
	EventQueueSize          int

	AfterFunc         func(d time.Duration, f func()) Timer
	Now               func() time.Time
	NewClientIDSuffix func() string

	Log zerolog.Logger
}

func (p *ConnectionManagerParams) EnsureDefaults() {
	if p.RetryDelay == 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = DefaultConnectTimeout
	}
	if p.SecondaryConnectTimeout == 0 {
		p.SecondaryConnectTimeout = DefaultSecondaryConnectTimeout
	}
	if p.KeepAlive == 0 {
		p.KeepAlive = DefaultKeepAlive
	}
	if p.EventQueueSize == 0 {
		p.EventQueueSize = DefaultEventQueueSize
	}
	if p.Throttle == nil {
		p.Throttle = NewMessageThrottle(DefaultThrottleWindow)
	}
	if p.Notifier == nil {
		p.Notifier = NewStatusNotifier(p.Log)
	}
	if p.AfterFunc == nil {
		p.AfterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.NewClientIDSuffix == nil {
		p.NewClientIDSuffix = randomClientIDSuffix
	}
}

func randomClientIDSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

type (
	startEvent          struct{}
	stopEvent           struct{}
	connectSuccessEvent struct{ attempt ConnectionAttempt }
	connectFailureEvent struct {
		attempt ConnectionAttempt
		err     error
	}
	connectionLostEvent struct {
		code int
		err  error
	}
	subscribeResultEvent struct {
		topic string
		err   error
	}
	messageEvent struct {
		topic   string
		payload []byte
		at      time.Time
	}
	reconnectEvent struct{ generation uint64 }
)

// ConnectionManager owns the broker connection lifecycle. All state is
// mutated by a single goroutine started with Run; every other method only
// enqueues an event or reads a published copy.
type ConnectionManager struct {
	params ConnectionManagerParams

	events  chan any
	done    chan struct{}
	running atomic.Bool

	// owned by the Run goroutine
	state         ConnectionState
	generation    uint64
	connectLock   bool
	retries       int
	attemptNumber int
	current       *ConnectionAttempt
	lastEndpoint  BrokerEndpoint
	lostFromReady bool
	subscribed    map[string]struct{}
	timer         Timer

	stateValue atomic.Int32
	snapMu     sync.RWMutex
	snap       ConnectionSnapshot

	log zerolog.Logger
}

func NewConnectionManager(params ConnectionManagerParams) (*ConnectionManager, error) {
	params.EnsureDefaults()

	if params.Topics == nil {
		return nil, fmt.Errorf("Topics is nil")
	}
	if params.Transport == nil {
		return nil, fmt.Errorf("Transport is nil")
	}
	if params.Primary.Address == "" || params.Secondary.Address == "" {
		return nil, fmt.Errorf("primary and secondary broker endpoints are required")
	}

	m := &ConnectionManager{
		params:     params,
		events:     make(chan any, params.EventQueueSize),
		done:       make(chan struct{}),
		subscribed: make(map[string]struct{}),
		log:        params.Log,
	}
	m.lastEndpoint = params.Secondary
	params.Transport.SetHandler(m)
	m.refreshSnapshot()

	return m, nil
}

// Run processes events until ctx is cancelled. The connection is closed
// before Run returns.
func (m *ConnectionManager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrManagerRunning
	}
	defer close(m.done)

	m.log.Debug().Msg("connection manager started")
	defer m.log.Debug().Msg("connection manager stopped")

	for {
		select {
		case <-ctx.Done():
			m.handleStop()
			m.refreshSnapshot()
			return nil
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// Start begins a connection cycle. It is a no-op while a connection attempt
// is in flight or the connection is Ready.
func (m *ConnectionManager) Start() { m.post(startEvent{}) }

// Stop disconnects and returns the manager to Idle.
func (m *ConnectionManager) Stop() { m.post(stopEvent{}) }

func (m *ConnectionManager) State() ConnectionState {
	return ConnectionState(m.stateValue.Load())
}

func (m *ConnectionManager) IsReady() bool {
	return m.State() == StateReady
}

func (m *ConnectionManager) Snapshot() ConnectionSnapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()

	s := m.snap
	s.Subscribed = append([]string(nil), m.snap.Subscribed...)
	return s
}

// Notifier returns the notifier transitions are published to.
func (m *ConnectionManager) Notifier() *StatusNotifier {
	return m.params.Notifier
}

// Done is closed once Run has returned.
func (m *ConnectionManager) Done() <-chan struct{} {
	return m.done
}

func (m *ConnectionManager) OnConnectSuccess(attempt ConnectionAttempt) {
	m.post(connectSuccessEvent{attempt: attempt})
}

func (m *ConnectionManager) OnConnectFailure(attempt ConnectionAttempt, err error) {
	m.post(connectFailureEvent{attempt: attempt, err: err})
}

func (m *ConnectionManager) OnConnectionLost(errorCode int, err error) {
	m.post(connectionLostEvent{code: errorCode, err: err})
}

func (m *ConnectionManager) OnSubscribeResult(topic string, err error) {
	m.post(subscribeResultEvent{topic: topic, err: err})
}

func (m *ConnectionManager) OnMessageArrived(topic string, payload []byte) {
	m.post(messageEvent{topic: topic, payload: payload, at: m.params.Now()})
}

func (m *ConnectionManager) post(ev any) {
	select {
	case m.events <- ev:
	case <-m.done:
		m.log.Debug().Msgf("dropping %T, manager stopped", ev)
	}
}

func (m *ConnectionManager) handle(ev any) {
	switch e := ev.(type) {
	case startEvent:
		m.handleStart()
	case stopEvent:
		m.handleStop()
	case connectSuccessEvent:
		m.handleConnectSuccess(e.attempt)
	case connectFailureEvent:
		m.handleConnectFailure(e.attempt, e.err)
	case connectionLostEvent:
		m.handleConnectionLost(e.code, e.err)
	case subscribeResultEvent:
		m.handleSubscribeResult(e.topic, e.err)
	case messageEvent:
		m.handleMessage(e.topic, e.payload, e.at)
	case reconnectEvent:
		m.handleReconnect(e.generation)
	default:
		m.log.Warn().Msgf("unknown event %T", ev)
	}
	m.refreshSnapshot()
}

func (m *ConnectionManager) handleStart() {
	if m.state == StateConnecting || m.connectLock {
		m.log.Info().Msg("connection attempt already in progress")
		return
	}
	if m.state == StateReady {
		m.log.Info().Msg("already connected")
		return
	}

	m.cancelReconnect()
	m.generation++
	m.retries = 0
	m.attemptNumber = 0
	m.lostFromReady = false

	m.connect(m.params.Primary)
}

func (m *ConnectionManager) handleStop() {
	m.cancelReconnect()
	m.generation++

	wasReady := m.state == StateReady
	m.connectLock = false
	m.current = nil
	m.clearSession()
	m.setState(StateIdle)
	m.params.Transport.Disconnect()

	if wasReady {
		m.params.Notifier.Publish(false)
	}
	m.log.Info().Msg("disconnected")
}

func (m *ConnectionManager) connect(endpoint BrokerEndpoint) {
	m.attemptNumber++
	attempt := ConnectionAttempt{
		Endpoint:   endpoint,
		Number:     m.attemptNumber,
		ClientID:   endpoint.ClientIDPrefix + m.params.NewClientIDSuffix(),
		Generation: m.generation,
	}

	m.current = &attempt
	m.lastEndpoint = endpoint
	m.connectLock = true
	m.setState(StateConnecting)

	timeout := m.params.ConnectTimeout
	if endpoint == m.params.Secondary {
		timeout = m.params.SecondaryConnectTimeout
	}

	m.log.Info().
		Int("attempt", attempt.Number).
		Str("broker", endpoint.Name).
		Str("client_id", attempt.ClientID).
		Msg("connecting to broker")

	err := m.params.Transport.Connect(attempt, ConnectOptions{
		TLS:          endpoint.UseTLS,
		Timeout:      timeout,
		KeepAlive:    m.params.KeepAlive,
		CleanSession: true,
	})
	if err != nil {
		m.handleConnectFailure(attempt, err)
	}
}

func (m *ConnectionManager) isCurrent(attempt ConnectionAttempt) bool {
	return m.current != nil &&
		attempt.Generation == m.generation &&
		attempt.Number == m.current.Number
}

func (m *ConnectionManager) handleConnectSuccess(attempt ConnectionAttempt) {
	if attempt.Generation != m.generation {
		m.log.Debug().Int("attempt", attempt.Number).Msg("ignoring connect success from a previous cycle")
		if m.state == StateIdle {
			m.params.Transport.Disconnect()
		}
		return
	}

	if m.state == StateReady {
		m.log.Debug().Msg("connect success while ready")
		m.subscribeMissing()
		return
	}

	if m.state != StateConnecting || !m.isCurrent(attempt) {
		m.log.Debug().Int("attempt", attempt.Number).Msg("ignoring stale connect success")
		return
	}

	m.connectLock = false
	m.retries = 0
	m.lostFromReady = false
	m.setState(StateReady)
	m.log.Info().Str("broker", attempt.Endpoint.Name).Msg("connected")

	m.subscribeMissing()
	m.params.Notifier.Publish(true)
}

func (m *ConnectionManager) subscribeMissing() {
	for _, topic := range m.params.Topics.Topics() {
		if _, ok := m.subscribed[topic]; ok {
			continue
		}
		if err := m.params.Transport.Subscribe(topic, SubscribeQoS); err != nil {
			m.log.Warn().Err(err).Str("topic", topic).Msg("subscribe request failed")
		}
	}
}

func (m *ConnectionManager) handleSubscribeResult(topic string, err error) {
	if err != nil {
		m.log.Warn().Err(err).Str("topic", topic).Msg("failed to subscribe")
		return
	}
	if m.state != StateReady {
		m.log.Debug().Str("topic", topic).Msg("ignoring subscribe ack, not ready")
		return
	}
	if _, ok := m.params.Topics.DeviceForTopic(topic); !ok {
		m.log.Debug().Str("topic", topic).Msg("ignoring subscribe ack for unknown topic")
		return
	}

	m.subscribed[topic] = struct{}{}
	m.log.Info().Str("topic", topic).Msg("subscribed")
}

func (m *ConnectionManager) handleConnectFailure(attempt ConnectionAttempt, err error) {
	if m.state != StateConnecting || !m.isCurrent(attempt) {
		m.log.Debug().Int("attempt", attempt.Number).Msg("ignoring stale connect failure")
		return
	}

	m.connectLock = false
	m.log.Warn().Err(err).Int("attempt", attempt.Number).Str("broker", attempt.Endpoint.Name).Msg("connection failed")
	m.enterLost(false)
}

func (m *ConnectionManager) handleConnectionLost(code int, err error) {
	if code == 0 {
		m.log.Debug().Msg("connection closed")
		return
	}
	if m.state != StateReady {
		m.log.Debug().Err(err).Stringer("state", m.state).Msg("ignoring connection lost")
		return
	}

	m.log.Warn().Err(err).Int("error_code", code).Msg("connection lost")
	m.enterLost(true)
}

func (m *ConnectionManager) enterLost(fromReady bool) {
	m.clearSession()
	m.setState(StateLost)
	m.params.Notifier.Publish(false)

	m.retries++
	m.lostFromReady = fromReady
	m.scheduleReconnect()
}

func (m *ConnectionManager) scheduleReconnect() {
	m.cancelReconnect()

	if m.retries >= m.params.MaxRetries {
		m.setState(StateFailedPermanently)
		m.log.Error().Int("retries", m.retries).Msg("max reconnection attempts reached, stopping")
		return
	}

	generation := m.generation
	m.timer = m.params.AfterFunc(m.params.RetryDelay, func() {
		m.post(reconnectEvent{generation: generation})
	})
	m.log.Info().Int("retries", m.retries).Dur("delay", m.params.RetryDelay).Msg("reconnect scheduled")
}

func (m *ConnectionManager) cancelReconnect() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnectionManager) handleReconnect(generation uint64) {
	if generation != m.generation || m.state != StateLost {
		m.log.Debug().Uint64("generation", generation).Msg("ignoring stale reconnect")
		return
	}

	m.timer = nil
	m.connect(m.nextEndpoint())
}

// nextEndpoint picks the secondary right after losing a Ready connection and
// otherwise the endpoint the last attempt did not use.
func (m *ConnectionManager) nextEndpoint() BrokerEndpoint {
	if m.lostFromReady || m.lastEndpoint == m.params.Primary {
		return m.params.Secondary
	}
	return m.params.Primary
}

func (m *ConnectionManager) handleMessage(topic string, payload []byte, at time.Time) {
	if string(payload) == TestPayload {
		return
	}

	deviceID, ok := m.params.Topics.DeviceForTopic(topic)
	if !ok {
		m.log.Debug().Str("topic", topic).Msg("message on unknown topic")
		return
	}

	if !m.params.Throttle.Admit(topic, at.UnixMilli()) {
		m.log.Debug().Str("device", deviceID).Msg("skipping duplicate message")
		return
	}

	m.log.Debug().Str("device", deviceID).Str("payload", string(payload)).Msg("message received")
	if m.params.MessageHandler == nil {
		return
	}

	var pc panics.Catcher
	pc.Try(func() {
		m.params.MessageHandler(DeviceMessage{
			DeviceID:   deviceID,
			Topic:      topic,
			Payload:    string(payload),
			ReceivedAt: at,
		})
	})
	if r := pc.Recovered(); r != nil {
		m.log.Error().Interface("panic", r.Value).Str("device", deviceID).Msg("message handler panicked")
	}
}

func (m *ConnectionManager) clearSession() {
	m.subscribed = make(map[string]struct{})
	m.params.Throttle.Reset()
}

func (m *ConnectionManager) setState(s ConnectionState) {
	if m.state != s {
		m.log.Debug().Stringer("from", m.state).Stringer("to", s).Msg("state transition")
	}
	m.state = s
	m.stateValue.Store(int32(s))
}

func (m *ConnectionManager) refreshSnapshot() {
	subscribed := make([]string, 0, len(m.subscribed))
	for topic := range m.subscribed {
		subscribed = append(subscribed, topic)
	}
	sort.Strings(subscribed)

	var endpoint string
	if m.state != StateIdle {
		endpoint = m.lastEndpoint.Name
	}

	m.snapMu.Lock()
	m.snap = ConnectionSnapshot{
		State:      m.state,
		Retries:    m.retries,
		Attempt:    m.attemptNumber,
		Endpoint:   endpoint,
		Subscribed: subscribed,
		UpdatedAt:  m.params.Now(),
	}
	m.snapMu.Unlock()
}

var _ TransportHandler = &ConnectionManager{}
