package hub

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/smartgarden/iot-hub/internal/constants"
	"github.com/smartgarden/iot-hub/internal/ingest"
	"github.com/smartgarden/iot-hub/internal/models"
	"github.com/smartgarden/iot-hub/internal/protocol"
	"github.com/smartgarden/iot-hub/internal/registry"
	"github.com/smartgarden/iot-hub/internal/store"
)

// storeTimeout bounds the persistence calls made from session handlers.
const storeTimeout = 5 * time.Second

// Hub drives the per-connection session state machines and fans events out
// to dashboard observers. Persistence failures inside a handler are logged
// and never close the connection; protocol acknowledgments are still sent.
type Hub struct {
	registry    *registry.Registry
	devices     store.DeviceStore
	pipeline    *ingest.Pipeline
	minFirmware *semver.Version
	logger      zerolog.Logger
}

// New creates a Hub. The ingestion pipeline is attached afterwards with
// SetPipeline because the pipeline broadcasts through the hub.
func New(reg *registry.Registry, devices store.DeviceStore, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: reg,
		devices:  devices,
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

// SetPipeline attaches the telemetry ingestion pipeline.
func (h *Hub) SetPipeline(p *ingest.Pipeline) { h.pipeline = p }

// SetMinimumFirmware configures the advisory firmware floor for registering
// devices. An empty version disables the check.
func (h *Hub) SetMinimumFirmware(version string) error {
	if version == "" {
		h.minFirmware = nil
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return err
	}
	h.minFirmware = v
	return nil
}

// ServeConn takes ownership of an upgraded WebSocket connection: sends the
// welcome frame and starts the read/write pumps.
func (h *Hub) ServeConn(conn *websocket.Conn) {
	c := newClient(conn)
	h.logger.Info().Str("conn_id", c.ID()).Str("remote", conn.RemoteAddr().String()).Msg("New WebSocket connection")

	go c.writePump()
	h.reply(c, protocol.Connection())
	go c.readPump(h)
}

// HandleMessage decodes one inbound frame and dispatches it. Malformed JSON
// earns a single error frame; unrecognized types are logged and ignored so
// forward-compatible firmware stays connected.
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		h.logger.Warn().Str("conn_id", c.ID()).Msg("Malformed WebSocket frame")
		h.reply(c, protocol.Error("Invalid message format"))
		return
	}

	switch frame.Type {
	case protocol.TypeDeviceRegister:
		h.handleRegister(c, frame)
	case protocol.TypeDeviceData:
		h.handleData(c, frame)
	case protocol.TypeHeartbeat:
		h.handleHeartbeat(c, frame)
	case protocol.TypeDashboardConnect:
		h.handleDashboardConnect(c)
	case protocol.TypePing:
		h.reply(c, protocol.Pong())
	default:
		h.logger.Warn().Str("conn_id", c.ID()).Str("type", string(frame.Type)).Msg("Unknown message type")
	}
}

// handleRegister binds the connection, upserts the device as online and
// notifies dashboards. A rebind displaces the previous connection, which is
// closed explicitly; last writer wins.
func (h *Hub) handleRegister(c *Client, frame *protocol.Frame) {
	if frame.DeviceID == "" {
		h.logger.Warn().Str("conn_id", c.ID()).Msg("device_register without deviceId")
		h.reply(c, protocol.Error("deviceId is required"))
		return
	}

	if prev := h.registry.Bind(frame.DeviceID, c); prev != nil {
		h.logger.Warn().Str("device_id", frame.DeviceID).Msg("Device re-registered, closing previous connection")
		prev.Close()
	}

	now := time.Now().UTC()
	patch := models.DevicePatch{
		Status:   constants.StatusOnline,
		LastSeen: &now,
		Metadata: frame.Metadata(),
	}
	h.applyFirmwareAdvisory(frame.DeviceID, &patch)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.devices.UpsertDevice(ctx, frame.DeviceID, patch); err != nil {
		h.logger.Error().Err(err).Str("device_id", frame.DeviceID).Msg("Failed to persist device registration")
	}

	h.logger.Info().Str("device_id", frame.DeviceID).Msg("Device registered")
	h.Broadcast(protocol.DeviceOnline(frame.DeviceID))
	h.reply(c, protocol.RegistrationSuccess(frame.DeviceID))
}

// applyFirmwareAdvisory lifts firmwareVersion out of the metadata and flags
// devices running below the configured floor. OTA itself is handled
// elsewhere; this only marks the document and logs.
func (h *Hub) applyFirmwareAdvisory(deviceID string, patch *models.DevicePatch) {
	fw, ok := patch.Metadata["firmwareVersion"].(string)
	if !ok || fw == "" {
		return
	}
	delete(patch.Metadata, "firmwareVersion")
	patch.FirmwareVersion = fw

	if h.minFirmware == nil {
		return
	}
	v, err := semver.NewVersion(fw)
	if err != nil {
		h.logger.Warn().Str("device_id", deviceID).Str("firmware", fw).Msg("Unparseable firmware version")
		return
	}
	outdated := v.LessThan(h.minFirmware)
	patch.FirmwareOutdated = &outdated
	if outdated {
		h.logger.Warn().
			Str("device_id", deviceID).
			Str("firmware", fw).
			Str("minimum", h.minFirmware.String()).
			Msg("Device firmware below minimum version")
	}
}

// handleData feeds the payload through the ingestion pipeline. The device
// document is refreshed even when ingestion fails, and the acknowledgment is
// sent either way so constrained clients never reconnect over a missing ack.
func (h *Hub) handleData(c *Client, frame *protocol.Frame) {
	if frame.DeviceID == "" {
		h.logger.Warn().Str("conn_id", c.ID()).Msg("device_data without deviceId")
		h.reply(c, protocol.DataReceived("", constants.AckError))
		return
	}

	status := constants.AckSuccess

	payload, err := frame.DataPayload()
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", frame.DeviceID).Msg("Unreadable device_data payload")
		status = constants.AckError
		h.touchDevice(frame.DeviceID, false)
	} else {
		// Ingestion is not tied to the connection's lifetime: once accepted
		// it runs to completion even if the socket closes mid-processing.
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if _, err := h.pipeline.Ingest(ctx, frame.DeviceID, payload, false); err != nil {
			status = constants.AckError
		}
	}

	h.reply(c, protocol.DataReceived(frame.DeviceID, status))
}

// handleHeartbeat refreshes liveness bookkeeping and acknowledges.
func (h *Hub) handleHeartbeat(c *Client, frame *protocol.Frame) {
	if frame.DeviceID == "" {
		h.logger.Warn().Str("conn_id", c.ID()).Msg("heartbeat without deviceId")
		h.reply(c, protocol.Error("deviceId is required"))
		return
	}

	h.touchDevice(frame.DeviceID, true)
	h.logger.Debug().Str("device_id", frame.DeviceID).Msg("Heartbeat received")
	h.reply(c, protocol.HeartbeatAck(frame.DeviceID))
}

// touchDevice upserts the device as online with a fresh lastSeen, optionally
// recording the heartbeat time.
func (h *Hub) touchDevice(deviceID string, heartbeat bool) {
	now := time.Now().UTC()
	patch := models.DevicePatch{
		Status:   constants.StatusOnline,
		LastSeen: &now,
	}
	if heartbeat {
		patch.LastHeartbeat = &now
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.devices.UpsertDevice(ctx, deviceID, patch); err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to update device liveness")
	}
}

// handleDashboardConnect joins the broadcast group and primes the dashboard
// with the most recent known reading set, so a reconnecting dashboard is not
// left blank until the next device event.
func (h *Hub) handleDashboardConnect(c *Client) {
	h.registry.AddObserver(c)
	h.logger.Info().Str("conn_id", c.ID()).Msg("Dashboard connected")

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	bundle, err := h.devices.FindLatestTelemetry(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load latest telemetry for dashboard")
		return
	}
	if bundle != nil {
		h.reply(c, protocol.DeviceData(bundle))
	}
}

// HandleDisconnect cleans up after a transport close or error: the
// connection leaves the broadcast group, and a bound device is marked
// offline with a single device_offline broadcast. A binding already taken
// over by a newer connection is not touched, so no spurious offline event is
// emitted on re-registration.
func (h *Hub) HandleDisconnect(c *Client) {
	h.registry.RemoveObserver(c)

	deviceID, ok := h.registry.Unbind(c)
	if !ok {
		h.logger.Debug().Str("conn_id", c.ID()).Msg("Connection closed")
		return
	}

	now := time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.devices.UpsertDevice(ctx, deviceID, models.DevicePatch{
		Status:      constants.StatusOffline,
		LastOffline: &now,
	}); err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to mark device offline")
	}

	h.logger.Info().Str("device_id", deviceID).Msg("Device disconnected")
	h.Broadcast(protocol.DeviceOffline(deviceID))
}

// Broadcast serializes the event once and pushes it to a snapshot of the
// dashboard set. Closed or saturated connections are skipped; they get
// removed for good on their own close path.
func (h *Hub) Broadcast(msg protocol.ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode broadcast")
		return
	}
	for _, observer := range h.registry.Observers() {
		if !observer.TrySend(data) {
			h.logger.Debug().Str("conn_id", observer.ID()).Msg("Dropped broadcast frame")
		}
	}
}

// reply sends a frame back on the originating connection.
func (h *Hub) reply(c *Client, msg protocol.ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode reply")
		return
	}
	if !c.TrySend(data) {
		h.logger.Debug().Str("conn_id", c.ID()).Str("type", msg.Type).Msg("Dropped reply frame")
	}
}
