package protocol

import (
	"encoding/json"
	"time"

	"github.com/smartgarden/iot-hub/internal/models"
)

// ServerMessage is the outbound envelope for both device replies and
// dashboard events. Zero-valued fields are omitted from the wire frame.
type ServerMessage struct {
	Type      string      `json:"type"`
	DeviceID  string      `json:"deviceId,omitempty"`
	Status    string      `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	Count     int64       `json:"count,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Encode serializes the message to a JSON text frame.
func (m ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func now() time.Time { return time.Now().UTC() }

// Connection is the welcome frame sent on every new connection.
func Connection() ServerMessage {
	return ServerMessage{Type: TypeConnection, Message: "Connected to Smart Garden WebSocket", Timestamp: now()}
}

// RegistrationSuccess acknowledges a device_register frame.
func RegistrationSuccess(deviceID string) ServerMessage {
	return ServerMessage{Type: TypeRegistrationSuccess, DeviceID: deviceID, Message: "Device registered successfully", Timestamp: now()}
}

// DataReceived acknowledges a device_data frame. It is sent on both success
// and failure so constrained clients never reconnect over a missing ack.
func DataReceived(deviceID, status string) ServerMessage {
	return ServerMessage{Type: TypeDataReceived, DeviceID: deviceID, Status: status, Timestamp: now()}
}

// HeartbeatAck acknowledges a heartbeat frame.
func HeartbeatAck(deviceID string) ServerMessage {
	return ServerMessage{Type: TypeHeartbeatAck, DeviceID: deviceID, Timestamp: now()}
}

// Pong answers a ping liveness probe.
func Pong() ServerMessage {
	return ServerMessage{Type: TypePong, Timestamp: now()}
}

// Error reports a protocol-level problem on the originating connection.
func Error(message string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: message, Timestamp: now()}
}

// DeviceOnline notifies dashboards that a device registered.
func DeviceOnline(deviceID string) ServerMessage {
	return ServerMessage{Type: TypeDeviceOnline, DeviceID: deviceID, Timestamp: now()}
}

// DeviceOffline notifies dashboards that a single device went offline.
func DeviceOffline(deviceID string) ServerMessage {
	return ServerMessage{Type: TypeDeviceOffline, DeviceID: deviceID, Timestamp: now()}
}

// DevicesOffline is the sweeper's aggregate notification for devices demoted
// in one pass.
func DevicesOffline(count int64) ServerMessage {
	return ServerMessage{Type: TypeDevicesOffline, Count: count, Timestamp: now()}
}

// DeviceData carries a normalized telemetry bundle to dashboards.
func DeviceData(bundle *models.TelemetryBundle) ServerMessage {
	return ServerMessage{Type: string(TypeDeviceData), Data: bundle, Timestamp: now()}
}

// ServerStats carries periodic hub process statistics to dashboards.
func ServerStats(stats interface{}) ServerMessage {
	return ServerMessage{Type: TypeServerStats, Data: stats, Timestamp: now()}
}
