package models

import "time"

// Device represents an IoT device document as stored in the devices collection.
type Device struct {
	DeviceID         string                 `json:"deviceId" bson:"deviceId"`
	Status           string                 `json:"status" bson:"status"`
	MACAddress       string                 `json:"macAddress,omitempty" bson:"macAddress,omitempty"`
	FirmwareVersion  string                 `json:"firmwareVersion,omitempty" bson:"firmwareVersion,omitempty"`
	FirmwareOutdated bool                   `json:"firmwareOutdated,omitempty" bson:"firmwareOutdated,omitempty"`
	LastSeen         time.Time              `json:"lastSeen" bson:"lastSeen"`
	LastHeartbeat    *time.Time             `json:"lastHeartbeat,omitempty" bson:"lastHeartbeat,omitempty"`
	LastOffline      *time.Time             `json:"lastOffline,omitempty" bson:"lastOffline,omitempty"`
	DeviceKeyHash    string                 `json:"-" bson:"deviceKeyHash,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	LastTelemetry    *TelemetryBundle       `json:"lastTelemetry,omitempty" bson:"lastTelemetry,omitempty"`
	UpdatedAt        time.Time              `json:"updatedAt" bson:"updatedAt"`
}

// DevicePatch carries the fields an upsert is allowed to touch. Nil pointer
// fields are left untouched in the stored document.
type DevicePatch struct {
	Status           string
	LastSeen         *time.Time
	LastHeartbeat    *time.Time
	LastOffline      *time.Time
	FirmwareVersion  string
	FirmwareOutdated *bool
	Metadata         map[string]interface{}
	LastTelemetry    *TelemetryBundle
}
