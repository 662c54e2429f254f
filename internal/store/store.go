package store

import (
	"context"
	"errors"
	"time"

	"github.com/smartgarden/iot-hub/internal/models"
)

// ErrDeviceNotFound is returned when a lookup misses; callers on the REST
// ingestion path translate it into a 404.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceStore is the persistence boundary for device documents.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error
	FindDevice(ctx context.Context, deviceID string) (*models.Device, error)
	FindDeviceByMAC(ctx context.Context, macAddress string) (*models.Device, error)
	FindOnlineDevicesOlderThan(ctx context.Context, cutoff time.Time) ([]models.Device, error)
	MarkDevicesOffline(ctx context.Context, deviceIDs []string, offlineAt time.Time) (int64, error)
	FindLatestTelemetry(ctx context.Context) (*models.TelemetryBundle, error)
}

// ReadingStore is the persistence boundary for sensor readings.
type ReadingStore interface {
	InsertReadings(ctx context.Context, readings []models.SensorReading) error
	FindLatestReadingPerDevice(ctx context.Context) ([]models.LatestReading, error)
}

// RuleStore is the persistence boundary for automation rules.
type RuleStore interface {
	FindRulesForDevice(ctx context.Context, deviceID string) ([]models.AutomationRule, error)
}
