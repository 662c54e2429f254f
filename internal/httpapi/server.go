package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/smartgarden/iot-hub/internal/hub"
	"github.com/smartgarden/iot-hub/internal/ingest"
	"github.com/smartgarden/iot-hub/internal/registry"
	"github.com/smartgarden/iot-hub/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the WebSocket endpoint, the REST ingestion route and a
// health probe. It is registered as a lifecycle service like everything else.
type Server struct {
	addr     string
	wsPath   string
	engine   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader

	hub      *hub.Hub
	pipeline *ingest.Pipeline
	registry *registry.Registry
	devices  store.DeviceStore
	readings store.ReadingStore
	logger   zerolog.Logger

	startedAt time.Time
}

// NewServer builds the router. Devices connect from home networks with no
// meaningful origin, so the upgrader accepts any origin; authentication on
// the REST path is header-based.
func NewServer(
	addr, wsPath string,
	h *hub.Hub,
	pipeline *ingest.Pipeline,
	reg *registry.Registry,
	devices store.DeviceStore,
	readings store.ReadingStore,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:   addr,
		wsPath: wsPath,
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hub:      h,
		pipeline: pipeline,
		registry: reg,
		devices:  devices,
		readings: readings,
		logger:   logger.With().Str("component", "httpapi").Logger(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.GET(wsPath, s.handleWebSocket)
	s.engine.POST("/api/sensors/data", s.handleSensorData)
	s.engine.GET("/api/sensors/data", s.handleLatestReadings)
	s.engine.GET("/healthz", s.handleHealth)

	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	if s.server != nil {
		return errors.New("http server is already running")
	}

	s.server = &http.Server{Addr: s.addr, Handler: s.engine}
	s.startedAt = time.Now().UTC()

	go func() {
		s.logger.Info().Str("addr", s.addr).Str("ws_path", s.wsPath).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	if s.server == nil {
		return errors.New("http server is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped successfully")
	return nil
}

// handleWebSocket upgrades the connection and hands it to the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	s.hub.ServeConn(conn)
}

// handleHealth reports process liveness and connection counters.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "ok",
		"uptimeSeconds":        int64(time.Since(s.startedAt).Seconds()),
		"deviceConnections":    s.registry.DeviceCount(),
		"dashboardConnections": s.registry.ObserverCount(),
	})
}
