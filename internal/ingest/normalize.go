package ingest

import (
	"time"

	"github.com/smartgarden/iot-hub/internal/models"
)

// sensorSpec maps one device payload key to its canonical sensor type and
// unit, with an optional uncalibrated counterpart key.
type sensorSpec struct {
	key        string
	sensorType string
	unit       string
	rawKey     string
}

// sensorCatalog is the closed set of payload keys the pipeline understands.
// Keys outside the catalog are dropped silently; rejecting them would brick
// fleets running newer firmware than the server.
var sensorCatalog = []sensorSpec{
	{key: "soilMoisture", sensorType: "soil_moisture", unit: "percentage", rawKey: "soilMoistureRaw"},
	{key: "temperature", sensorType: "temperature", unit: "celsius"},
	{key: "humidity", sensorType: "humidity", unit: "percentage"},
	{key: "lightLevel", sensorType: "light_level", unit: "lux", rawKey: "lightLevelRaw"},
	{key: "batteryLevel", sensorType: "battery_level", unit: "percentage"},
}

// NormalizeReadings turns a raw sensors map into canonical SensorReading
// facts. Order follows the catalog, so output is deterministic.
func NormalizeReadings(deviceID string, sensors map[string]float64, timestamp, receivedAt time.Time) []models.SensorReading {
	if len(sensors) == 0 {
		return nil
	}

	readings := make([]models.SensorReading, 0, len(sensorCatalog))
	for _, spec := range sensorCatalog {
		value, ok := sensors[spec.key]
		if !ok {
			continue
		}
		raw := value
		if spec.rawKey != "" {
			if rv, ok := sensors[spec.rawKey]; ok {
				raw = rv
			}
		}
		readings = append(readings, models.SensorReading{
			DeviceID:   deviceID,
			Timestamp:  timestamp,
			ReceivedAt: receivedAt,
			SensorType: spec.sensorType,
			Value:      value,
			Unit:       spec.unit,
			RawValue:   raw,
		})
	}
	return readings
}
