package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/smartgarden/iot-hub/internal/ingest"
	"github.com/smartgarden/iot-hub/internal/protocol"
	"github.com/smartgarden/iot-hub/pkg/mqtt"
)

const ingestTimeout = 10 * time.Second

// BridgeService feeds telemetry published over MQTT into the same ingestion
// pipeline the WebSocket path uses. Battery-powered devices in the fleet
// publish here instead of holding a WebSocket open.
//
// The subscription topic must contain a single-level wildcard for the device
// id, e.g. garden/+/telemetry.
type BridgeService struct {
	topic      string
	qos        int
	mqttClient mqtt.MQTTClient
	pipeline   *ingest.Pipeline
	logger     zerolog.Logger

	running bool
}

// NewBridgeService initializes a new BridgeService.
func NewBridgeService(topic string, qos int, mqttClient mqtt.MQTTClient,
	pipeline *ingest.Pipeline, logger zerolog.Logger) *BridgeService {

	return &BridgeService{
		topic:      topic,
		qos:        qos,
		mqttClient: mqttClient,
		pipeline:   pipeline,
		logger:     logger.With().Str("component", "mqtt_bridge").Logger(),
	}
}

// Start subscribes to the telemetry topic.
func (b *BridgeService) Start() error {
	if b.running {
		b.logger.Warn().Msg("BridgeService is already running")
		return errors.New("mqtt bridge is already running")
	}

	token := b.mqttClient.Subscribe(b.topic, byte(b.qos), b.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}

	b.running = true
	b.logger.Info().Str("topic", b.topic).Msg("BridgeService started successfully")
	return nil
}

// Stop unsubscribes from the telemetry topic.
func (b *BridgeService) Stop() error {
	if !b.running {
		b.logger.Warn().Msg("BridgeService is not running")
		return errors.New("mqtt bridge is not running")
	}

	token := b.mqttClient.Unsubscribe(b.topic)
	token.Wait()
	if err := token.Error(); err != nil {
		b.logger.Error().Err(err).Str("topic", b.topic).Msg("Failed to unsubscribe")
		return err
	}

	b.running = false
	b.logger.Info().Msg("BridgeService stopped successfully")
	return nil
}

// handleMessage parses one published payload and runs ingestion. Bad
// payloads are logged and dropped; there is no reply channel on this path.
func (b *BridgeService) handleMessage(_ MQTT.Client, msg MQTT.Message) {
	deviceID := deviceIDFromTopic(msg.Topic())
	if deviceID == "" {
		b.logger.Warn().Str("topic", msg.Topic()).Msg("Telemetry on unexpected topic, dropping")
		return
	}

	var payload protocol.DataPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		b.logger.Error().Err(err).Str("device_id", deviceID).Msg("Unreadable MQTT telemetry payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	if _, err := b.pipeline.Ingest(ctx, deviceID, payload, false); err != nil {
		b.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to ingest MQTT telemetry")
	}
}

// deviceIDFromTopic extracts the device id segment, assuming the
// garden/<deviceId>/telemetry layout.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
