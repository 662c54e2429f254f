package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SensorReading is one immutable measurement taken from a device payload.
// Readings are created by the ingestion pipeline and never mutated.
type SensorReading struct {
	ID         primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	DeviceID   string             `json:"deviceId" bson:"deviceId"`
	Timestamp  time.Time          `json:"timestamp" bson:"timestamp"`
	ReceivedAt time.Time          `json:"receivedAt" bson:"receivedAt"`
	SensorType string             `json:"sensorType" bson:"sensorType"`
	Value      float64            `json:"value" bson:"value"`
	Unit       string             `json:"unit" bson:"unit"`
	RawValue   float64            `json:"rawValue" bson:"rawValue"`
}

// LatestReading is the per-device, per-sensor summary produced by the
// latest-readings aggregation.
type LatestReading struct {
	DeviceID   string    `json:"deviceId" bson:"deviceId"`
	SensorType string    `json:"sensorType" bson:"sensorType"`
	Value      float64   `json:"value" bson:"value"`
	Unit       string    `json:"unit" bson:"unit"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
}

// TelemetryBundle is the normalized form of one device_data payload. It is
// what gets broadcast to dashboards and remembered per device for the
// dashboard-connect snapshot.
type TelemetryBundle struct {
	DeviceID   string                 `json:"deviceId" bson:"deviceId"`
	Timestamp  time.Time              `json:"timestamp" bson:"timestamp"`
	Sensors    map[string]float64     `json:"sensors" bson:"sensors"`
	System     map[string]interface{} `json:"system,omitempty" bson:"system,omitempty"`
	ReceivedAt time.Time              `json:"receivedAt" bson:"receivedAt"`
}
