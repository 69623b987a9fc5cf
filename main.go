package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mqtt-relay-control/adapters"
	"mqtt-relay-control/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagBrokerPrimary,
	FlagBrokerSecondary,
	FlagClientIDPrefix,
	FlagRelay,
	FlagDevicesFile,
	FlagConnectTimeout,
	FlagKeepAlive,
	FlagRetryDelay,
	FlagMaxRetries,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "relay-control",
		Usage:   "toggle mqtt relays and watch the broker connection",
		Version: "v0.0.1",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			switch ctx.String(FlagLogWriter.Name) {
			case "console":
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			case "json":
				logWriter = os.Stderr
			default:
				return fmt.Errorf("invalid log writer %q", ctx.String(FlagLogWriter.Name))
			}

			logWriter = adapters.NewRedactingWriter(logWriter, logSecrets(ctx)...)

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "relay-control").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			return runAction(ctx, logger)
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "keep the broker connection and track device state",
				Action: func(ctx *cli.Context) error {
					return runAction(ctx, logger)
				},
			},
			{
				Name:  "toggle",
				Usage: "send one power command once connected",
				Flags: []cli.Flag{FlagDevice, FlagState, FlagWait},
				Action: func(ctx *cli.Context) error {
					return toggleAction(ctx, logger)
				},
			},
			{
				Name:  "devices",
				Usage: "print the room layout",
				Action: func(ctx *cli.Context) error {
					return devicesAction(ctx, logger)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
		os.Exit(1)
	}
}

func signalContext(logger zerolog.Logger) (context.Context, context.CancelFunc) {
	appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-c:
			logger.Warn().Msg("interrupt signal received")
			cancel()
		case <-appCtx.Done():
		}
		signal.Stop(c)
	}()
	return appCtx, cancel
}

func runAction(ctx *cli.Context, logger zerolog.Logger) error {
	logger.Info().Msg("service starting...")

	appCtx, cancel := signalContext(logger)
	defer cancel()

	c, err := newComponents(ctx, logger)
	if err != nil {
		return err
	}

	unsubscribe := c.Notifier.Subscribe(func(connected bool) {
		logger.Info().Bool("connected", connected).Msg("connection status changed")
	})
	defer unsubscribe()

	service, err := application.NewRelayControlService(application.RelayControlServiceParams{
		Connection: c.Connection,
		Registry:   c.Registry,
		Bus:        c.Bus,
		Log:        logger.With().Str("module", "relay-control-service").Logger(),
	})
	if err != nil {
		return err
	}

	logger.Info().Msg("service started")
	err = service.Run(appCtx)
	if err != nil {
		return err
	}

	logger.Info().Msg("service terminating...")
	return nil
}

func toggleAction(ctx *cli.Context, logger zerolog.Logger) error {
	state, err := application.ParsePowerState(ctx.String(FlagState.Name))
	if err != nil {
		return err
	}
	deviceID := ctx.String(FlagDevice.Name)

	appCtx, cancel := signalContext(logger)
	defer cancel()

	c, err := newComponents(ctx, logger)
	if err != nil {
		return err
	}
	defer c.Registry.Close()
	defer c.Bus.Close()

	if _, err := c.Topics.Resolve(deviceID); err != nil {
		return err
	}

	ready := make(chan struct{}, 1)
	unsubscribe := c.Notifier.Subscribe(func(connected bool) {
		if connected {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	runCtx, stop := context.WithCancel(appCtx)
	go func() {
		_ = c.Connection.Run(runCtx)
	}()
	defer func() {
		stop()
		<-c.Connection.Done()
	}()
	c.Connection.Start()

	select {
	case <-ready:
	case <-appCtx.Done():
		return appCtx.Err()
	case <-time.After(ctx.Duration(FlagWait.Name)):
		return fmt.Errorf("no broker connection after %s: %w", ctx.Duration(FlagWait.Name), application.ErrNotConnected)
	}

	if err := c.Registry.Toggle(deviceID, state); err != nil {
		return err
	}

	fmt.Fprintf(ctx.App.Writer, "device %s: %s\n", deviceID, state)
	return nil
}

func devicesAction(ctx *cli.Context, logger zerolog.Logger) error {
	c, err := newComponents(ctx, logger)
	if err != nil {
		return err
	}
	defer c.Registry.Close()
	defer c.Bus.Close()

	for _, room := range c.Registry.Rooms() {
		fmt.Fprintf(ctx.App.Writer, "%s\n", room.Name)
		for _, d := range room.Devices {
			fmt.Fprintf(ctx.App.Writer, "  %-4s %-8s %s\n", d.ID, d.Kind, d.Name)
		}
	}
	return nil
}
