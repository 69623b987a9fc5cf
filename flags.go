package main

import (
	"time"

	"mqtt-relay-control/application"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagBrokerPrimary = &cli.StringFlag{
	Name:     "broker-primary",
	Usage:    "wss://broker:port/path",
	EnvVars:  []string{"MQTT_BROKER_1"},
	Value:    "wss://test.mosquitto.org:8081/mqtt",
	Required: false,
}

var FlagBrokerSecondary = &cli.StringFlag{
	Name:     "broker-secondary",
	Usage:    "failover broker, wss://broker:port/path",
	EnvVars:  []string{"MQTT_BROKER_2"},
	Value:    "wss://broker.emqx.io:8084/mqtt",
	Required: false,
}

var FlagClientIDPrefix = &cli.StringFlag{
	Name:     "client-id-prefix",
	Usage:    "a random suffix is appended on every connect",
	EnvVars:  []string{"MQTT_CLIENT_ID"},
	Value:    "ESP32Client-Ritam1234",
	Required: false,
}

var FlagRelay = &cli.StringSliceFlag{
	Name:     "relay",
	Usage:    "device binding, deviceId=topic",
	EnvVars:  []string{"MQTT_RELAYS"},
	Value:    cli.NewStringSlice("1=x12kf9_a1/relay/1", "2=x12kf9_a1/relay/2"),
	Required: false,
}

var FlagDevicesFile = &cli.PathFlag{
	Name:     "devices-file",
	Usage:    "yaml room layout, defaults to one room with every relay",
	EnvVars:  []string{"DEVICES_FILE"},
	Required: false,
}

var FlagConnectTimeout = &cli.DurationFlag{
	Name:     "connect-timeout",
	EnvVars:  []string{"MQTT_CONNECT_TIMEOUT"},
	Value:    application.DefaultConnectTimeout,
	Required: false,
}

var FlagKeepAlive = &cli.DurationFlag{
	Name:     "keep-alive",
	EnvVars:  []string{"MQTT_KEEP_ALIVE"},
	Value:    application.DefaultKeepAlive,
	Required: false,
}

var FlagRetryDelay = &cli.DurationFlag{
	Name:     "retry-delay",
	EnvVars:  []string{"MQTT_RETRY_DELAY"},
	Value:    application.DefaultRetryDelay,
	Required: false,
}

var FlagMaxRetries = &cli.IntFlag{
	Name:     "max-retries",
	EnvVars:  []string{"MQTT_MAX_RETRIES"},
	Value:    application.DefaultMaxRetries,
	Required: false,
}

var FlagDevice = &cli.StringFlag{
	Name:     "device",
	Usage:    "device id",
	Required: true,
}

var FlagState = &cli.StringFlag{
	Name:     "state",
	Usage:    "one of: [on, off]",
	Required: true,
}

var FlagWait = &cli.DurationFlag{
	Name:     "wait",
	Usage:    "how long to wait for the broker connection",
	Value:    30 * time.Second,
	Required: false,
}
