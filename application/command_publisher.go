package application

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

const (
	CommandQoS      = byte(1)
	CommandRetained = false
)

type PowerState int

const (
	PowerOff PowerState = iota
	PowerOn
)

func ParsePowerState(s string) (PowerState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return PowerOn, nil
	case "off":
		return PowerOff, nil
	default:
		return PowerOff, fmt.Errorf("invalid power state %q, expected on or off", s)
	}
}

// Payload is the wire payload understood by the relays.
func (p PowerState) Payload() string {
	if p == PowerOn {
		return "ON"
	}
	return "OFF"
}

func (p PowerState) String() string {
	return strings.ToLower(p.Payload())
}

// ReadinessChecker reports whether commands may be sent.
type ReadinessChecker interface {
	IsReady() bool
}

type CommandPublisherParams struct {
	Topics     *TopicRegistry
	Connection ReadinessChecker
	Transport  MQTTTransport

	Log zerolog.Logger
}

type CommandPublisher struct {
	params CommandPublisherParams

	log zerolog.Logger
}

func NewCommandPublisher(params CommandPublisherParams) (*CommandPublisher, error) {
	if params.Topics == nil {
		return nil, fmt.Errorf("Topics is nil")
	}
	if params.Connection == nil {
		return nil, fmt.Errorf("Connection is nil")
	}
	if params.Transport == nil {
		return nil, fmt.Errorf("Transport is nil")
	}
	return &CommandPublisher{params: params, log: params.Log}, nil
}

// Send publishes the desired power state for a device. It never waits for a
// broker acknowledgment and never queues while disconnected.
func (c *CommandPublisher) Send(deviceID string, state PowerState) error {
	topic, err := c.params.Topics.Resolve(deviceID)
	if err != nil {
		return err
	}

	if !c.params.Connection.IsReady() {
		c.log.Info().Str("device", deviceID).Msg("cannot send message, not connected")
		return ErrNotConnected
	}

	var pc panics.Catcher
	pc.Try(func() {
		err = c.params.Transport.Publish(topic, CommandQoS, CommandRetained, []byte(state.Payload()))
	})
	if r := pc.Recovered(); r != nil {
		err = fmt.Errorf("publish panicked: %v", r.Value)
	}
	if err != nil {
		c.log.Error().Err(err).Str("device", deviceID).Msg("error sending message")
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.log.Info().Str("device", deviceID).Str("payload", state.Payload()).Msg("published")
	return nil
}
