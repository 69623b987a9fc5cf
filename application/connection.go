package application

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type ConnectionState int32

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateReady
	StateLost
	StateFailedPermanently
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateLost:
		return "lost"
	case StateFailedPermanently:
		return "failed_permanently"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// BrokerEndpoint is one broker the manager may connect to.
type BrokerEndpoint struct {
	Name           string
	Address        string
	UseTLS         bool
	ClientIDPrefix string
}

// ParseBrokerEndpoint builds an endpoint from a broker url. TLS is derived
// from the scheme.
func ParseBrokerEndpoint(name, address, clientIDPrefix string) (BrokerEndpoint, error) {
	u, err := url.Parse(address)
	if err != nil {
		return BrokerEndpoint{}, fmt.Errorf("invalid broker address %q: %w", name, err)
	}
	if u.Host == "" {
		return BrokerEndpoint{}, fmt.Errorf("invalid broker address %q: missing host", name)
	}

	var useTLS bool
	switch strings.ToLower(u.Scheme) {
	case "ssl", "tls", "wss", "mqtts":
		useTLS = true
	case "tcp", "mqtt", "ws":
	default:
		return BrokerEndpoint{}, fmt.Errorf("invalid broker address %q: unsupported scheme %q", name, u.Scheme)
	}

	return BrokerEndpoint{
		Name:           name,
		Address:        address,
		UseTLS:         useTLS,
		ClientIDPrefix: clientIDPrefix,
	}, nil
}

// Host returns the host part of the broker address.
func (b BrokerEndpoint) Host() string {
	u, err := url.Parse(b.Address)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

type ConnectOptions struct {
	TLS          bool
	Timeout      time.Duration
	KeepAlive    time.Duration
	CleanSession bool
}

// ConnectionAttempt describes a single connect call. Generation ties the
// attempt to the start cycle that issued it.
type ConnectionAttempt struct {
	Endpoint   BrokerEndpoint
	Number     int
	ClientID   string
	Generation uint64
}

// ConnectionSnapshot is a read-only copy of the manager state.
type ConnectionSnapshot struct {
	State      ConnectionState
	Retries    int
	Attempt    int
	Endpoint   string
	Subscribed []string
	UpdatedAt  time.Time
}
