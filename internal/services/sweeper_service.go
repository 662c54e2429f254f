package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartgarden/iot-hub/internal/ingest"
	"github.com/smartgarden/iot-hub/internal/protocol"
	"github.com/smartgarden/iot-hub/internal/store"
)

// SweeperService periodically demotes silent devices to offline. It is the
// only mechanism that catches devices that stopped talking without closing
// their socket (power loss, radio dropout); the per-connection close handler
// only sees clean disconnects.
type SweeperService struct {
	interval    time.Duration
	window      time.Duration
	devices     store.DeviceStore
	broadcaster ingest.Broadcaster
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeperService initializes a new SweeperService.
func NewSweeperService(interval, window time.Duration, devices store.DeviceStore,
	broadcaster ingest.Broadcaster, logger zerolog.Logger) *SweeperService {

	return &SweeperService{
		interval:    interval,
		window:      window,
		devices:     devices,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start launches the sweep loop in a separate goroutine.
func (s *SweeperService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("SweeperService is already running")
		return errors.New("sweeper service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSweepLoop()
	}()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("window", s.window).
		Msg("SweeperService started successfully")
	return nil
}

// Stop gracefully stops the sweeper.
func (s *SweeperService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("SweeperService is not running")
		return errors.New("sweeper service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("SweeperService stopped successfully")
	return nil
}

// runSweepLoop runs one sweep per tick until stopped.
func (s *SweeperService) runSweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.ctx.Done():
			s.logger.Info().Msg("SweeperService stopping gracefully")
			return
		}
	}
}

// sweep demotes online devices whose lastSeen fell outside the liveness
// window and notifies dashboards with one aggregate event per pass.
func (s *SweeperService) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	now := time.Now().UTC()
	cutoff := now.Add(-s.window)

	stale, err := s.devices.FindOnlineDevicesOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query stale devices")
		return
	}
	if len(stale) == 0 {
		return
	}

	ids := make([]string, len(stale))
	for i, device := range stale {
		ids[i] = device.DeviceID
	}

	count, err := s.devices.MarkDevicesOffline(ctx, ids, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to mark stale devices offline")
		return
	}
	if count == 0 {
		return
	}

	s.logger.Info().Int64("count", count).Strs("device_ids", ids).Msg("Marked silent devices as offline")
	s.broadcaster.Broadcast(protocol.DevicesOffline(count))
}
