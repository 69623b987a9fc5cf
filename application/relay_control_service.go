package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultReportInterval = 30 * time.Second

type RelayControlService interface {
	Run(ctx context.Context) error
}

type RelayControlServiceParams struct {
	Connection *ConnectionManager
	Registry   *DeviceRegistry
	Bus        *DeviceStateBus

	ReportInterval time.Duration

	Log zerolog.Logger
}

type relayControlService struct {
	params RelayControlServiceParams

	log zerolog.Logger
}

func NewRelayControlService(params RelayControlServiceParams) (RelayControlService, error) {
	if params.Connection == nil {
		return nil, fmt.Errorf("Connection is nil")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("Registry is nil")
	}
	if params.Bus == nil {
		return nil, fmt.Errorf("Bus is nil")
	}
	if params.ReportInterval == 0 {
		params.ReportInterval = DefaultReportInterval
	}
	return &relayControlService{params: params, log: params.Log}, nil
}

func (s relayControlService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// connection state machine
	g.Go(func() error {
		return s.params.Connection.Run(ctx)
	})
	s.params.Connection.Start()

	// inbound device state
	sub := s.params.Bus.Subscribe(s.params.Registry.DeviceIDs()...)
	g.Go(func() error {
		s.log.Info().Msg("start consuming device state")
		defer s.log.Info().Msg("stop consuming device state")

		return s.params.Registry.Consume(ctx, sub)
	})

	// connection status report
	g.Go(func() error {
		ticker := time.NewTicker(s.params.ReportInterval)
		defer ticker.Stop()

		lastState := StateIdle

	ReporterLoop:
		for {
			select {
			case <-ctx.Done():
				break ReporterLoop
			case <-ticker.C:
				snap := s.params.Connection.Snapshot()
				s.log.Info().
					Stringer("state", snap.State).
					Bool("state_changed", snap.State != lastState).
					Str("broker", snap.Endpoint).
					Int("retries", snap.Retries).
					Int("attempt", snap.Attempt).
					Strs("subscribed", snap.Subscribed).
					Msg("connection report")
				lastState = snap.State
			}
		}

		return nil
	})

	err := g.Wait()
	s.params.Bus.Close()
	s.params.Registry.Close()
	return err
}
