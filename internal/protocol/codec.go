package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// MessageType identifies an inbound frame. The set is closed; anything else
// is handled by the explicit unknown arm at the dispatch site.
type MessageType string

const (
	TypeDeviceRegister   MessageType = "device_register"
	TypeDeviceData       MessageType = "device_data"
	TypeHeartbeat        MessageType = "heartbeat"
	TypeDashboardConnect MessageType = "dashboard_connect"
	TypePing             MessageType = "ping"
)

// Outbound message types.
const (
	TypeConnection          = "connection"
	TypeRegistrationSuccess = "registration_success"
	TypeDataReceived        = "data_received"
	TypeHeartbeatAck        = "heartbeat_ack"
	TypePong                = "pong"
	TypeError               = "error"
	TypeDeviceOnline        = "device_online"
	TypeDeviceOffline       = "device_offline"
	TypeDevicesOffline      = "devices_offline"
	TypeServerStats         = "server_stats"
)

// ErrInvalidFormat marks frames that are not parseable JSON objects.
var ErrInvalidFormat = errors.New("invalid message format")

// Frame is a decoded inbound message. Data holds the nested payload object
// when present; Raw keeps the full frame so payloads flattened at the top
// level (older ESP8266 firmware) can still be recovered.
type Frame struct {
	Type     MessageType
	DeviceID string
	Data     json.RawMessage
	Raw      json.RawMessage
}

// Known reports whether the frame type belongs to the closed enumeration.
func (f *Frame) Known() bool {
	switch f.Type {
	case TypeDeviceRegister, TypeDeviceData, TypeHeartbeat, TypeDashboardConnect, TypePing:
		return true
	default:
		return false
	}
}

// Decode parses a raw text frame. It fails only on malformed JSON; frames
// with a missing or unrecognized type decode fine and are sorted out by the
// dispatcher, so forward-compatible firmware is never disconnected.
func Decode(raw []byte) (*Frame, error) {
	var env struct {
		Type     string          `json:"type"`
		DeviceID string          `json:"deviceId"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidFormat
	}

	data := env.Data
	if string(data) == "null" {
		data = nil
	}

	return &Frame{
		Type:     MessageType(env.Type),
		DeviceID: env.DeviceID,
		Data:     data,
		Raw:      json.RawMessage(raw),
	}, nil
}

// Timestamp accepts either epoch milliseconds or an RFC 3339 string, the two
// shapes device firmware has shipped with.
type Timestamp struct {
	t time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		if ms > 0 {
			ts.t = time.UnixMilli(ms)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if parsed, perr := time.Parse(time.RFC3339, s); perr == nil {
			ts.t = parsed
		}
		return nil
	}
	// Unparseable timestamps degrade to the server clock, they do not fail
	// the whole payload.
	return nil
}

// Or returns the decoded time, or fallback when the device sent none.
func (ts Timestamp) Or(fallback time.Time) time.Time {
	if ts.t.IsZero() {
		return fallback
	}
	return ts.t
}

// DataPayload is the sensor payload of a device_data frame.
type DataPayload struct {
	Timestamp Timestamp              `json:"timestamp"`
	Sensors   map[string]float64     `json:"sensors"`
	System    map[string]interface{} `json:"system"`
}

// DataPayload extracts the sensor payload, preferring the nested data object
// and falling back to top-level fields when the device flattened the frame.
func (f *Frame) DataPayload() (DataPayload, error) {
	var p DataPayload
	src := f.Data
	if len(src) == 0 {
		src = f.Raw
	}
	if err := json.Unmarshal(src, &p); err != nil {
		return DataPayload{}, err
	}
	return p, nil
}

// Metadata extracts registration metadata. For flattened frames the envelope
// fields are stripped so only device-supplied attributes remain.
func (f *Frame) Metadata() map[string]interface{} {
	meta := make(map[string]interface{})
	src := f.Data
	if len(src) == 0 {
		src = f.Raw
	}
	if err := json.Unmarshal(src, &meta); err != nil {
		return nil
	}
	delete(meta, "type")
	delete(meta, "deviceId")
	return meta
}
