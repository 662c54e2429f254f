package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/smartgarden/iot-hub/internal/ingest"
	"github.com/smartgarden/iot-hub/internal/protocol"
)

// HubCounts exposes the connection counters the stats broadcast reports.
type HubCounts interface {
	DeviceCount() int
	ObserverCount() int
}

// ServerStats is the payload of the periodic server_stats broadcast.
type ServerStats struct {
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryPercent  float64 `json:"memoryPercent"`
	MemoryUsedMB   uint64  `json:"memoryUsedMb"`
	DeviceConns    int     `json:"deviceConnections"`
	DashboardConns int     `json:"dashboardConnections"`
}

// StatsService periodically broadcasts hub process statistics to dashboards.
type StatsService struct {
	interval    time.Duration
	counts      HubCounts
	broadcaster ingest.Broadcaster
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatsService initializes a new StatsService.
func NewStatsService(interval time.Duration, counts HubCounts,
	broadcaster ingest.Broadcaster, logger zerolog.Logger) *StatsService {

	return &StatsService{
		interval:    interval,
		counts:      counts,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "stats").Logger(),
	}
}

// Start launches the stats loop in a separate goroutine.
func (s *StatsService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("StatsService is already running")
		return errors.New("stats service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runStatsLoop()
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("StatsService started successfully")
	return nil
}

// Stop gracefully stops the stats service.
func (s *StatsService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("StatsService is not running")
		return errors.New("stats service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("StatsService stopped successfully")
	return nil
}

func (s *StatsService) runStatsLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.collectAndBroadcast()
		case <-s.ctx.Done():
			s.logger.Info().Msg("StatsService stopping gracefully")
			return
		}
	}
}

func (s *StatsService) collectAndBroadcast() {
	stats := ServerStats{
		DeviceConns:    s.counts.DeviceCount(),
		DashboardConns: s.counts.ObserverCount(),
	}

	if percentages, err := cpu.Percent(0, false); err != nil {
		s.logger.Error().Err(err).Msg("Failed to collect CPU usage")
	} else if len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to collect memory usage")
	} else {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsedMB = vm.Used / 1024 / 1024
	}

	s.broadcaster.Broadcast(protocol.ServerStats(stats))
}
