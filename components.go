package main

import (
	"mqtt-relay-control/adapters"
	"mqtt-relay-control/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

type components struct {
	Topics     *application.TopicRegistry
	Notifier   *application.StatusNotifier
	Bus        *application.DeviceStateBus
	Connection *application.ConnectionManager
	Commands   *application.CommandPublisher
	Registry   *application.DeviceRegistry
}

func newComponents(ctx *cli.Context, logger zerolog.Logger) (*components, error) {
	prefix := ctx.String(FlagClientIDPrefix.Name)

	primary, err := application.ParseBrokerEndpoint("primary", ctx.String(FlagBrokerPrimary.Name), prefix)
	if err != nil {
		return nil, err
	}
	secondary, err := application.ParseBrokerEndpoint("secondary", ctx.String(FlagBrokerSecondary.Name), prefix)
	if err != nil {
		return nil, err
	}

	var bindings []application.TopicBinding
	for _, s := range ctx.StringSlice(FlagRelay.Name) {
		b, err := application.ParseTopicBinding(s)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	topics, err := application.NewTopicRegistry(bindings)
	if err != nil {
		return nil, err
	}

	var rooms []application.Room
	if path := ctx.Path(FlagDevicesFile.Name); path != "" {
		rooms, err = adapters.LoadRoomLayout(path)
		if err != nil {
			return nil, err
		}
	}

	notifier := application.NewStatusNotifier(logger.With().Str("module", "status-notifier").Logger())
	bus := application.NewDeviceStateBus(application.DefaultBusCapacity)

	transport := adapters.NewMQTTTransport(adapters.MQTTTransportParams{
		Log: logger.With().Str("module", "mqtt-transport").Logger(),
	})

	connection, err := application.NewConnectionManager(application.ConnectionManagerParams{
		Primary:        primary,
		Secondary:      secondary,
		Topics:         topics,
		Transport:      transport,
		Notifier:       notifier,
		Throttle:       application.NewMessageThrottle(application.DefaultThrottleWindow),
		MessageHandler: bus.Publish,
		RetryDelay:     ctx.Duration(FlagRetryDelay.Name),
		MaxRetries:     ctx.Int(FlagMaxRetries.Name),
		ConnectTimeout: ctx.Duration(FlagConnectTimeout.Name),
		KeepAlive:      ctx.Duration(FlagKeepAlive.Name),
		Log:            logger.With().Str("module", "connection-manager").Logger(),
	})
	if err != nil {
		return nil, err
	}

	commands, err := application.NewCommandPublisher(application.CommandPublisherParams{
		Topics:     topics,
		Connection: connection,
		Transport:  transport,
		Log:        logger.With().Str("module", "command-publisher").Logger(),
	})
	if err != nil {
		return nil, err
	}

	registry, err := application.NewDeviceRegistry(application.DeviceRegistryParams{
		Rooms:    rooms,
		Topics:   topics,
		Commands: commands,
		Notifier: notifier,
		Log:      logger.With().Str("module", "device-registry").Logger(),
	})
	if err != nil {
		return nil, err
	}

	return &components{
		Topics:     topics,
		Notifier:   notifier,
		Bus:        bus,
		Connection: connection,
		Commands:   commands,
		Registry:   registry,
	}, nil
}

// logSecrets lists the values masked in every log line.
func logSecrets(ctx *cli.Context) []string {
	secrets := make([]string, 0, 8)
	for _, name := range []string{FlagBrokerPrimary.Name, FlagBrokerSecondary.Name} {
		address := ctx.String(name)
		secrets = append(secrets, address)
		if endpoint, err := application.ParseBrokerEndpoint(name, address, ""); err == nil {
			secrets = append(secrets, endpoint.Host())
		}
	}
	for _, s := range ctx.StringSlice(FlagRelay.Name) {
		if b, err := application.ParseTopicBinding(s); err == nil {
			secrets = append(secrets, b.Topic)
		}
	}
	return secrets
}
