package services_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/smartgarden/iot-hub/internal/models"
	"github.com/smartgarden/iot-hub/internal/protocol"
	"github.com/smartgarden/iot-hub/internal/services"
	"github.com/smartgarden/iot-hub/tests/mocks"
)

// TestSweeperService_Start_Success tests the successful start of the SweeperService.
func TestSweeperService_Start_Success(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	mockBroadcaster := new(mocks.MockBroadcaster)
	logger := zerolog.Nop()

	s := services.NewSweeperService(time.Hour, 30*time.Second, mockDevices, mockBroadcaster, logger)

	// Execute
	err := s.Start()

	// Assert
	assert.NoError(t, err)

	// Try to start again (should fail)
	err = s.Start()
	assert.Error(t, err)
	assert.Equal(t, "sweeper service is already running", err.Error())

	// Cleanup
	err = s.Stop()
	assert.NoError(t, err)
}

// TestSweeperService_Stop_Success tests the successful stop of the SweeperService.
func TestSweeperService_Stop_Success(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	mockBroadcaster := new(mocks.MockBroadcaster)
	logger := zerolog.Nop()

	s := services.NewSweeperService(time.Hour, 30*time.Second, mockDevices, mockBroadcaster, logger)

	// Start the service
	err := s.Start()
	assert.NoError(t, err)

	// Execute
	err = s.Stop()

	// Assert
	assert.NoError(t, err)

	// Try to stop again (should fail)
	err = s.Stop()
	assert.Error(t, err)
	assert.Equal(t, "sweeper service is not running", err.Error())
}

// TestSweeperService_Sweep_MarksStaleDevices tests that silent devices are
// demoted and dashboards get one aggregate notification per pass.
func TestSweeperService_Sweep_MarksStaleDevices(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	mockBroadcaster := new(mocks.MockBroadcaster)
	logger := zerolog.Nop()

	stale := []models.Device{
		{DeviceID: "garden-01"},
		{DeviceID: "garden-02"},
	}
	mockDevices.On("FindOnlineDevicesOlderThan", mock.Anything, mock.Anything).Return(stale, nil)
	mockDevices.On("MarkDevicesOffline", mock.Anything, []string{"garden-01", "garden-02"}, mock.Anything).Return(int64(2), nil)

	broadcasted := make(chan protocol.ServerMessage, 1)
	mockBroadcaster.On("Broadcast", mock.Anything).Return().Run(func(args mock.Arguments) {
		select {
		case broadcasted <- args.Get(0).(protocol.ServerMessage):
		default:
		}
	})

	s := services.NewSweeperService(20*time.Millisecond, 30*time.Second, mockDevices, mockBroadcaster, logger)

	// Execute
	err := s.Start()
	assert.NoError(t, err)

	// Assert
	select {
	case msg := <-broadcasted:
		assert.Equal(t, "devices_offline", msg.Type)
		assert.Equal(t, int64(2), msg.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never broadcast an offline event")
	}

	// Cleanup
	err = s.Stop()
	assert.NoError(t, err)
	mockDevices.AssertExpectations(t)
}

// TestSweeperService_Sweep_NoStaleDevices tests that a clean pass stays silent.
func TestSweeperService_Sweep_NoStaleDevices(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	mockBroadcaster := new(mocks.MockBroadcaster)
	logger := zerolog.Nop()

	mockDevices.On("FindOnlineDevicesOlderThan", mock.Anything, mock.Anything).Return([]models.Device{}, nil)

	s := services.NewSweeperService(20*time.Millisecond, 30*time.Second, mockDevices, mockBroadcaster, logger)

	// Execute
	err := s.Start()
	assert.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	// Assert
	mockBroadcaster.AssertNotCalled(t, "Broadcast", mock.Anything)
	mockDevices.AssertNotCalled(t, "MarkDevicesOffline", mock.Anything, mock.Anything, mock.Anything)

	// Cleanup
	err = s.Stop()
	assert.NoError(t, err)
}
