package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartgarden/iot-hub/internal/automation"
	"github.com/smartgarden/iot-hub/internal/constants"
	"github.com/smartgarden/iot-hub/internal/models"
	"github.com/smartgarden/iot-hub/internal/protocol"
	"github.com/smartgarden/iot-hub/internal/store"
	"github.com/smartgarden/iot-hub/internal/utils"
)

const evaluationTimeout = 10 * time.Second

// Broadcaster pushes an event to every dashboard observer.
type Broadcaster interface {
	Broadcast(msg protocol.ServerMessage)
}

// Result summarizes one ingestion run.
type Result struct {
	ReadingsCount int
	Bundle        *models.TelemetryBundle
}

// Pipeline validates and normalizes device telemetry, persists it, updates
// the device document, kicks off automation evaluation and forwards the
// bundle to dashboards. One instance serves the WebSocket, REST and MQTT
// intake paths.
type Pipeline struct {
	devices     store.DeviceStore
	readings    store.ReadingStore
	evaluator   automation.Evaluator
	broadcaster Broadcaster
	pool        *utils.WorkerPool
	logger      zerolog.Logger
}

// NewPipeline wires an ingestion pipeline.
func NewPipeline(
	devices store.DeviceStore,
	readings store.ReadingStore,
	evaluator automation.Evaluator,
	broadcaster Broadcaster,
	pool *utils.WorkerPool,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		devices:     devices,
		readings:    readings,
		evaluator:   evaluator,
		broadcaster: broadcaster,
		pool:        pool,
		logger:      logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest runs the full pipeline for one device_data payload. When
// requireKnown is set (REST path, out-of-band provisioning), an unknown
// device id aborts with store.ErrDeviceNotFound before anything is written.
//
// Persistence failures do not stop the later stages: the device document is
// still refreshed and the bundle still broadcast, so dashboards keep seeing
// device activity. The accumulated error tells the caller to acknowledge
// with an error status.
func (p *Pipeline) Ingest(ctx context.Context, deviceID string, payload protocol.DataPayload, requireKnown bool) (*Result, error) {
	if requireKnown {
		if _, err := p.devices.FindDevice(ctx, deviceID); err != nil {
			return nil, err
		}
	}

	receivedAt := time.Now().UTC()
	timestamp := payload.Timestamp.Or(receivedAt)
	readings := NormalizeReadings(deviceID, payload.Sensors, timestamp, receivedAt)

	var insertErr error
	if len(readings) > 0 {
		if insertErr = p.readings.InsertReadings(ctx, readings); insertErr != nil {
			p.logger.Error().Err(insertErr).Str("device_id", deviceID).Msg("Failed to persist sensor readings")
		}
	}

	bundle := &models.TelemetryBundle{
		DeviceID:   deviceID,
		Timestamp:  timestamp,
		Sensors:    payload.Sensors,
		System:     payload.System,
		ReceivedAt: receivedAt,
	}
	if bundle.Sensors == nil {
		bundle.Sensors = map[string]float64{}
	}

	var upsertErr error
	if upsertErr = p.devices.UpsertDevice(ctx, deviceID, models.DevicePatch{
		Status:        constants.StatusOnline,
		LastSeen:      &receivedAt,
		LastTelemetry: bundle,
	}); upsertErr != nil {
		p.logger.Error().Err(upsertErr).Str("device_id", deviceID).Msg("Failed to update device status")
	}

	p.evaluateAsync(deviceID, readings)

	p.broadcaster.Broadcast(protocol.DeviceData(bundle))

	p.logger.Debug().
		Str("device_id", deviceID).
		Int("readings", len(readings)).
		Msg("Telemetry ingested")

	return &Result{ReadingsCount: len(readings), Bundle: bundle}, errors.Join(insertErr, upsertErr)
}

// evaluateAsync hands the readings to the automation evaluator on the worker
// pool. The evaluation is decoupled on purpose: its outcome never joins the
// ingestion success path.
func (p *Pipeline) evaluateAsync(deviceID string, readings []models.SensorReading) {
	if p.evaluator == nil {
		return
	}
	p.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
		defer cancel()

		result, err := p.evaluator.Evaluate(ctx, deviceID, readings)
		if err != nil {
			p.logger.Error().Err(err).Str("device_id", deviceID).Msg("Automation evaluation failed")
			return
		}
		if result.Triggered {
			p.logger.Info().
				Str("device_id", deviceID).
				Int("actions", len(result.Actions)).
				Msg("Automation rules triggered")
		}
	})
}
