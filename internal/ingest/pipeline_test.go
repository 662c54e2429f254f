package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/smartgarden/iot-hub/internal/constants"
	"github.com/smartgarden/iot-hub/internal/ingest"
	"github.com/smartgarden/iot-hub/internal/models"
	"github.com/smartgarden/iot-hub/internal/protocol"
	"github.com/smartgarden/iot-hub/internal/store"
	"github.com/smartgarden/iot-hub/internal/utils"
	"github.com/smartgarden/iot-hub/tests/mocks"
)

func newTestPipeline(evaluator *mocks.MockEvaluator) (*ingest.Pipeline, *mocks.MockDeviceStore, *mocks.MockReadingStore, *mocks.MockBroadcaster, *utils.WorkerPool) {
	mockDevices := new(mocks.MockDeviceStore)
	mockReadings := new(mocks.MockReadingStore)
	mockBroadcaster := new(mocks.MockBroadcaster)
	pool := utils.NewWorkerPool(2)

	var pipeline *ingest.Pipeline
	if evaluator != nil {
		pipeline = ingest.NewPipeline(mockDevices, mockReadings, evaluator, mockBroadcaster, pool, zerolog.Nop())
	} else {
		pipeline = ingest.NewPipeline(mockDevices, mockReadings, nil, mockBroadcaster, pool, zerolog.Nop())
	}
	return pipeline, mockDevices, mockReadings, mockBroadcaster, pool
}

// TestPipeline_Ingest_Success tests the happy path: readings persisted, the
// device document refreshed and the bundle broadcast to dashboards.
func TestPipeline_Ingest_Success(t *testing.T) {
	// Setup
	pipeline, mockDevices, mockReadings, mockBroadcaster, pool := newTestPipeline(nil)
	defer pool.Shutdown()

	mockReadings.On("InsertReadings", mock.Anything, mock.MatchedBy(func(readings []models.SensorReading) bool {
		return len(readings) == 2
	})).Return(nil)
	mockDevices.On("UpsertDevice", mock.Anything, "garden-01", mock.MatchedBy(func(patch models.DevicePatch) bool {
		return patch.Status == constants.StatusOnline && patch.LastSeen != nil && patch.LastTelemetry != nil
	})).Return(nil)
	mockBroadcaster.On("Broadcast", mock.MatchedBy(func(msg protocol.ServerMessage) bool {
		return msg.Type == "device_data"
	})).Return()

	payload := protocol.DataPayload{
		Sensors: map[string]float64{"temperature": 22.5, "humidity": 55},
	}

	// Execute
	result, err := pipeline.Ingest(context.Background(), "garden-01", payload, false)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 2, result.ReadingsCount)
	assert.Equal(t, "garden-01", result.Bundle.DeviceID)
	assert.Equal(t, payload.Sensors, result.Bundle.Sensors)
	mockReadings.AssertExpectations(t)
	mockDevices.AssertExpectations(t)
	mockBroadcaster.AssertExpectations(t)
}

// TestPipeline_Ingest_EmptySensors tests that a payload without usable sensor
// values still refreshes the device and notifies dashboards.
func TestPipeline_Ingest_EmptySensors(t *testing.T) {
	// Setup
	pipeline, mockDevices, mockReadings, mockBroadcaster, pool := newTestPipeline(nil)
	defer pool.Shutdown()

	mockDevices.On("UpsertDevice", mock.Anything, "garden-01", mock.Anything).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything).Return()

	// Execute
	result, err := pipeline.Ingest(context.Background(), "garden-01", protocol.DataPayload{}, false)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 0, result.ReadingsCount)
	assert.NotNil(t, result.Bundle.Sensors)
	mockReadings.AssertNotCalled(t, "InsertReadings", mock.Anything, mock.Anything)
	mockDevices.AssertExpectations(t)
	mockBroadcaster.AssertExpectations(t)
}

// TestPipeline_Ingest_InsertFailure tests that a persistence failure does not
// stop the device refresh or the dashboard broadcast, but surfaces in the
// returned error.
func TestPipeline_Ingest_InsertFailure(t *testing.T) {
	// Setup
	pipeline, mockDevices, mockReadings, mockBroadcaster, pool := newTestPipeline(nil)
	defer pool.Shutdown()

	mockReadings.On("InsertReadings", mock.Anything, mock.Anything).Return(errors.New("write concern failed"))
	mockDevices.On("UpsertDevice", mock.Anything, "garden-01", mock.Anything).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything).Return()

	payload := protocol.DataPayload{Sensors: map[string]float64{"temperature": 22.5}}

	// Execute
	result, err := pipeline.Ingest(context.Background(), "garden-01", payload, false)

	// Assert
	assert.Error(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, 1, result.ReadingsCount)
	mockDevices.AssertExpectations(t)
	mockBroadcaster.AssertExpectations(t)
}

// TestPipeline_Ingest_RequireKnown_UnknownDevice tests the REST-path guard:
// an unknown device aborts before anything is written or broadcast.
func TestPipeline_Ingest_RequireKnown_UnknownDevice(t *testing.T) {
	// Setup
	pipeline, mockDevices, mockReadings, mockBroadcaster, pool := newTestPipeline(nil)
	defer pool.Shutdown()

	mockDevices.On("FindDevice", mock.Anything, "ghost-01").Return(nil, store.ErrDeviceNotFound)

	payload := protocol.DataPayload{Sensors: map[string]float64{"temperature": 22.5}}

	// Execute
	result, err := pipeline.Ingest(context.Background(), "ghost-01", payload, true)

	// Assert
	assert.ErrorIs(t, err, store.ErrDeviceNotFound)
	assert.Nil(t, result)
	mockReadings.AssertNotCalled(t, "InsertReadings", mock.Anything, mock.Anything)
	mockDevices.AssertNotCalled(t, "UpsertDevice", mock.Anything, mock.Anything, mock.Anything)
	mockBroadcaster.AssertNotCalled(t, "Broadcast", mock.Anything)
}

// TestPipeline_Ingest_EvaluatorInvoked tests that automation evaluation runs
// asynchronously with the normalized readings.
func TestPipeline_Ingest_EvaluatorInvoked(t *testing.T) {
	// Setup
	mockEvaluator := new(mocks.MockEvaluator)
	pipeline, mockDevices, mockReadings, mockBroadcaster, pool := newTestPipeline(mockEvaluator)
	defer pool.Shutdown()

	evaluated := make(chan struct{})
	mockEvaluator.On("Evaluate", mock.Anything, "garden-01", mock.MatchedBy(func(readings []models.SensorReading) bool {
		return len(readings) == 1 && readings[0].SensorType == "soil_moisture"
	})).Return(models.EvaluationResult{Triggered: true}, nil).Run(func(mock.Arguments) {
		close(evaluated)
	})
	mockReadings.On("InsertReadings", mock.Anything, mock.Anything).Return(nil)
	mockDevices.On("UpsertDevice", mock.Anything, "garden-01", mock.Anything).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything).Return()

	payload := protocol.DataPayload{Sensors: map[string]float64{"soilMoisture": 18.4}}

	// Execute
	_, err := pipeline.Ingest(context.Background(), "garden-01", payload, false)

	// Assert
	assert.NoError(t, err)
	select {
	case <-evaluated:
	case <-time.After(2 * time.Second):
		t.Fatal("automation evaluation never ran")
	}
	mockEvaluator.AssertExpectations(t)
}

// TestPipeline_Ingest_EvaluatorFailureIsolated tests that an evaluation error
// never affects the ingestion result.
func TestPipeline_Ingest_EvaluatorFailureIsolated(t *testing.T) {
	// Setup
	mockEvaluator := new(mocks.MockEvaluator)
	pipeline, mockDevices, mockReadings, mockBroadcaster, pool := newTestPipeline(mockEvaluator)
	defer pool.Shutdown()

	evaluated := make(chan struct{})
	mockEvaluator.On("Evaluate", mock.Anything, "garden-01", mock.Anything).
		Return(models.EvaluationResult{}, errors.New("rule query timed out")).
		Run(func(mock.Arguments) { close(evaluated) })
	mockReadings.On("InsertReadings", mock.Anything, mock.Anything).Return(nil)
	mockDevices.On("UpsertDevice", mock.Anything, "garden-01", mock.Anything).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything).Return()

	payload := protocol.DataPayload{Sensors: map[string]float64{"temperature": 22.5}}

	// Execute
	result, err := pipeline.Ingest(context.Background(), "garden-01", payload, false)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, 1, result.ReadingsCount)
	select {
	case <-evaluated:
	case <-time.After(2 * time.Second):
		t.Fatal("automation evaluation never ran")
	}
}
