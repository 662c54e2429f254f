package utils

import (
	"time"

	"github.com/smartgarden/iot-hub/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Server struct {
		Host          string `yaml:"host"`           // Listen address
		Port          int    `yaml:"port"`           // Listen port
		WebSocketPath string `yaml:"websocket_path"` // Path the WebSocket endpoint is served on
	} `yaml:"server"`

	Mongo struct {
		URI            string        `yaml:"uri"`             // MongoDB connection string
		Database       string        `yaml:"database"`        // Database name
		ConnectTimeout time.Duration `yaml:"connect_timeout"` // Timeout for the initial connect/ping
	} `yaml:"mongo"`

	Liveness struct {
		SweepInterval time.Duration `yaml:"sweep_interval"` // How often the sweeper runs
		Window        time.Duration `yaml:"window"`         // Max silence before a device is presumed offline
	} `yaml:"liveness"`

	Ingestion struct {
		Workers int `yaml:"workers"` // Worker pool size for automation evaluation
	} `yaml:"ingestion"`

	Automation struct {
		Enabled bool `yaml:"enabled"` // Enable/disable automation rule evaluation
	} `yaml:"automation"`

	Firmware struct {
		MinimumVersion string `yaml:"minimum_version"` // Advisory firmware floor, empty disables the check
	} `yaml:"firmware"`

	Stats struct {
		Enabled  bool          `yaml:"enabled"`  // Enable/disable the server stats broadcast
		Interval time.Duration `yaml:"interval"` // Interval between stats broadcasts
	} `yaml:"stats"`

	MQTTBridge struct {
		Enabled       bool   `yaml:"enabled"`        // Enable/disable the MQTT telemetry bridge
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		Topic         string `yaml:"topic"`          // Telemetry topic pattern, e.g. garden/+/telemetry
		QOS           int    `yaml:"qos"`            // MQTT QoS level
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty for plain TCP
	} `yaml:"mqtt_bridge"`

	Logging struct {
		Level  string `yaml:"level"`  // zerolog level: debug, info, warn, error
		Pretty bool   `yaml:"pretty"` // Human-readable console output instead of JSON
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file and fills
// in defaults for anything the file leaves out.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if config.Server.Port == 0 {
		config.Server.Port = 3000
	}
	if config.Server.WebSocketPath == "" {
		config.Server.WebSocketPath = "/api/iot/websocket"
	}
	if config.Mongo.ConnectTimeout == 0 {
		config.Mongo.ConnectTimeout = 10 * time.Second
	}
	if config.Liveness.SweepInterval == 0 {
		config.Liveness.SweepInterval = 10 * time.Second
	}
	if config.Liveness.Window == 0 {
		config.Liveness.Window = 30 * time.Second
	}
	if config.Ingestion.Workers == 0 {
		config.Ingestion.Workers = 10
	}
	if config.Stats.Interval == 0 {
		config.Stats.Interval = 30 * time.Second
	}

	return &config, nil
}
