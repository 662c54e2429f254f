package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartgarden/iot-hub/internal/automation"
	"github.com/smartgarden/iot-hub/internal/httpapi"
	"github.com/smartgarden/iot-hub/internal/hub"
	"github.com/smartgarden/iot-hub/internal/ingest"
	"github.com/smartgarden/iot-hub/internal/mqttbridge"
	"github.com/smartgarden/iot-hub/internal/registry"
	"github.com/smartgarden/iot-hub/internal/service_registry"
	"github.com/smartgarden/iot-hub/internal/services"
	"github.com/smartgarden/iot-hub/internal/store"
	"github.com/smartgarden/iot-hub/internal/utils"
	"github.com/smartgarden/iot-hub/pkg/file"
	"github.com/smartgarden/iot-hub/pkg/mqtt"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration from file
	fileClient := file.NewFileService()
	configPath := os.Getenv("IOT_HUB_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	config, err := utils.LoadConfig(configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(config.Logging.Level); err == nil && config.Logging.Level != "" {
		logger = logger.Level(level)
	}
	if config.Logging.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	// Connect the persistence gateway
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), config.Mongo.ConnectTimeout)
	defer cancelConnect()
	mongoStore, err := store.NewMongoStore(connectCtx, config.Mongo.URI, config.Mongo.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	// Connection registry and hub
	connRegistry := registry.New(logger)
	wsHub := hub.New(connRegistry, mongoStore, logger)
	if err := wsHub.SetMinimumFirmware(config.Firmware.MinimumVersion); err != nil {
		logger.Fatal().Err(err).Msg("Invalid minimum firmware version in configuration")
	}

	// Ingestion pipeline with optional automation evaluation
	var evaluator automation.Evaluator
	if config.Automation.Enabled {
		evaluator = automation.NewThresholdEvaluator(mongoStore, logger)
	}
	workerPool := utils.NewWorkerPool(config.Ingestion.Workers)
	pipeline := ingest.NewPipeline(mongoStore, mongoStore, evaluator, wsHub, workerPool, logger)
	wsHub.SetPipeline(pipeline)

	// Background services
	serviceRegistry := service_registry.NewServiceRegistry(logger)
	serviceRegistry.RegisterService("sweeper", services.NewSweeperService(
		config.Liveness.SweepInterval,
		config.Liveness.Window,
		mongoStore,
		wsHub,
		logger,
	))
	if config.Stats.Enabled {
		serviceRegistry.RegisterService("stats", services.NewStatsService(
			config.Stats.Interval,
			connRegistry,
			wsHub,
			logger,
		))
	}

	var mqttClient *mqtt.MqttService
	if config.MQTTBridge.Enabled {
		mqttClient = mqtt.NewMqttService(fileClient)
		clientID := config.MQTTBridge.ClientID + "-" + uuid.New().String()
		if err := mqttClient.Initialize(config.MQTTBridge.Broker, clientID, config.MQTTBridge.CACertificate); err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		serviceRegistry.RegisterService("mqtt_bridge", mqttbridge.NewBridgeService(
			config.MQTTBridge.Topic,
			config.MQTTBridge.QOS,
			mqttClient,
			pipeline,
			logger,
		))
	}

	addr := net.JoinHostPort(config.Server.Host, strconv.Itoa(config.Server.Port))
	serviceRegistry.RegisterService("http", httpapi.NewServer(
		addr,
		config.Server.WebSocketPath,
		wsHub,
		pipeline,
		connRegistry,
		mongoStore,
		mongoStore,
		logger,
	))

	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop services cleanly")
	}
	workerPool.Shutdown()
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}

	disconnectCtx, cancelDisconnect := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDisconnect()
	if err := mongoStore.Close(disconnectCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to disconnect from MongoDB")
	}
}
