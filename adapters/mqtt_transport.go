package adapters

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"mqtt-relay-control/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultSubscribeTimeout  = 10 * time.Second
	MQTTDefaultDisconnectQuiesce = 250
)

var (
	ErrMQTTNotConnected   = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout = fmt.Errorf("connect timeout")
	ErrMQTTNoHandler      = fmt.Errorf("transport handler not set")
)

type MQTTTransportParams struct {
	SubscribeTimeout  time.Duration
	DisconnectQuiesce uint

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTTransportParams) EnsureDefaults() {
	if m.SubscribeTimeout == 0 {
		m.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}

	if m.DisconnectQuiesce == 0 {
		m.DisconnectQuiesce = MQTTDefaultDisconnectQuiesce
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTTransport implements application.MQTTTransport on top of paho. Every
// Connect builds a fresh paho client; callbacks of replaced clients are
// dropped. Reconnection is left to the connection manager.
type MQTTTransport struct {
	params MQTTTransportParams

	mu      sync.RWMutex
	client  mqtt.Client
	handler application.TransportHandler

	log zerolog.Logger
}

func NewMQTTTransport(params MQTTTransportParams) *MQTTTransport {
	params.EnsureDefaults()
	return &MQTTTransport{params: params, log: params.Log}
}

func (m *MQTTTransport) SetHandler(handler application.TransportHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

func (m *MQTTTransport) Connect(attempt application.ConnectionAttempt, opts application.ConnectOptions) error {
	handler := m.getHandler()
	if handler == nil {
		return ErrMQTTNoHandler
	}

	brokerURL, err := brokerURL(attempt.Endpoint.Address)
	if err != nil {
		return err
	}

	var client mqtt.Client
	options := m.newClientOptions(brokerURL, attempt.ClientID, opts)
	options.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		if !m.isCurrent(client) {
			return
		}
		m.log.Info().Msgf("connect lost: %v", err)
		handler.OnConnectionLost(errorCode(err), err)
	})
	options.SetDefaultPublishHandler(func(c mqtt.Client, msg mqtt.Message) {
		if !m.isCurrent(client) {
			return
		}
		handler.OnMessageArrived(msg.Topic(), msg.Payload())
	})

	client = m.params.NewClientFunc(options)

	m.mu.Lock()
	previous := m.client
	m.client = client
	m.mu.Unlock()

	if previous != nil && previous.IsConnectionOpen() {
		previous.Disconnect(0)
	}

	token := client.Connect()
	go func() {
		if !token.WaitTimeout(opts.Timeout) {
			m.release(client)
			handler.OnConnectFailure(attempt, ErrMQTTConnectTimeout)

			// paho keeps dialing after the timeout; close the session if it
			// still comes up
			token.Wait()
			if token.Error() == nil {
				m.closeStale(client)
			}
			return
		}
		if err := token.Error(); err != nil {
			handler.OnConnectFailure(attempt, err)
			return
		}
		if !m.isCurrent(client) {
			m.closeStale(client)
			return
		}
		m.log.Info().Msgf("connected")
		handler.OnConnectSuccess(attempt)
	}()

	return nil
}

func (m *MQTTTransport) Subscribe(topic string, qos byte) error {
	handler := m.getHandler()
	if handler == nil {
		return ErrMQTTNoHandler
	}

	client := m.getClient()
	if client == nil {
		return ErrMQTTNotConnected
	}

	// nil callback routes messages to the default publish handler
	token := client.Subscribe(topic, qos, nil)
	go func() {
		completed := token.WaitTimeout(m.params.SubscribeTimeout)
		if !m.isCurrent(client) {
			m.log.Debug().Str("topic", topic).Msg("dropping subscribe result of replaced client")
			return
		}
		if !completed {
			handler.OnSubscribeResult(topic, fmt.Errorf("subscribe timeout"))
			return
		}
		handler.OnSubscribeResult(topic, token.Error())
	}()

	return nil
}

func (m *MQTTTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	client := m.getClient()
	if client == nil || !client.IsConnectionOpen() {
		return ErrMQTTNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}

func (m *MQTTTransport) Disconnect() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(m.params.DisconnectQuiesce)
	}
}

// release forgets client if it is still the current one.
func (m *MQTTTransport) release(client mqtt.Client) {
	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	m.mu.Unlock()
}

// closeStale disconnects a client that finished connecting after it was
// replaced, released or disconnected.
func (m *MQTTTransport) closeStale(client mqtt.Client) {
	m.log.Debug().Msg("closing late connected client")
	client.Disconnect(m.params.DisconnectQuiesce)
}

func (m *MQTTTransport) newClientOptions(brokerURL, clientID string, opts application.ConnectOptions) *mqtt.ClientOptions {
	options := mqtt.NewClientOptions()

	options.AddBroker(brokerURL)
	options.SetClientID(clientID)
	options.SetCleanSession(opts.CleanSession)
	options.SetKeepAlive(opts.KeepAlive)
	options.SetConnectTimeout(opts.Timeout)
	options.SetAutoReconnect(false)
	options.SetConnectRetry(false)

	if opts.TLS {
		options.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return options
}

func (m *MQTTTransport) getHandler() application.TransportHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler
}

func (m *MQTTTransport) getClient() mqtt.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *MQTTTransport) isCurrent(client mqtt.Client) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return client != nil && m.client == client
}

// brokerURL normalises mqtt:// and mqtts:// to the schemes paho dials.
func brokerURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(u.Scheme) {
	case "mqtt":
		u.Scheme = "tcp"
	case "mqtts", "tls":
		u.Scheme = "ssl"
	}
	return u.String(), nil
}

func errorCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

var _ application.MQTTTransport = &MQTTTransport{}
