package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/smartgarden/iot-hub/internal/models"
)

// MockDeviceStore is a mock implementation of the store.DeviceStore interface
type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) UpsertDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error {
	args := m.Called(ctx, deviceID, patch)
	return args.Error(0)
}

func (m *MockDeviceStore) FindDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if device, ok := args.Get(0).(*models.Device); ok {
		return device, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDeviceStore) FindDeviceByMAC(ctx context.Context, macAddress string) (*models.Device, error) {
	args := m.Called(ctx, macAddress)
	if device, ok := args.Get(0).(*models.Device); ok {
		return device, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDeviceStore) FindOnlineDevicesOlderThan(ctx context.Context, cutoff time.Time) ([]models.Device, error) {
	args := m.Called(ctx, cutoff)
	if devices, ok := args.Get(0).([]models.Device); ok {
		return devices, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDeviceStore) MarkDevicesOffline(ctx context.Context, deviceIDs []string, offlineAt time.Time) (int64, error) {
	args := m.Called(ctx, deviceIDs, offlineAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDeviceStore) FindLatestTelemetry(ctx context.Context) (*models.TelemetryBundle, error) {
	args := m.Called(ctx)
	if bundle, ok := args.Get(0).(*models.TelemetryBundle); ok {
		return bundle, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockReadingStore is a mock implementation of the store.ReadingStore interface
type MockReadingStore struct {
	mock.Mock
}

func (m *MockReadingStore) InsertReadings(ctx context.Context, readings []models.SensorReading) error {
	args := m.Called(ctx, readings)
	return args.Error(0)
}

func (m *MockReadingStore) FindLatestReadingPerDevice(ctx context.Context) ([]models.LatestReading, error) {
	args := m.Called(ctx)
	if latest, ok := args.Get(0).([]models.LatestReading); ok {
		return latest, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRuleStore is a mock implementation of the store.RuleStore interface
type MockRuleStore struct {
	mock.Mock
}

func (m *MockRuleStore) FindRulesForDevice(ctx context.Context, deviceID string) ([]models.AutomationRule, error) {
	args := m.Called(ctx, deviceID)
	if rules, ok := args.Get(0).([]models.AutomationRule); ok {
		return rules, args.Error(1)
	}
	return nil, args.Error(1)
}
