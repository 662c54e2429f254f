package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartgarden/iot-hub/internal/protocol"
	"github.com/smartgarden/iot-hub/internal/store"
	"github.com/smartgarden/iot-hub/pkg/deviceauth"
)

// handleSensorData is the REST ingestion path ESP32 firmware posts to.
// Unlike the WebSocket path, devices here must be provisioned out of band:
// the MAC address has to resolve to an existing device document.
func (s *Server) handleSensorData(c *gin.Context) {
	creds, err := deviceauth.FromHeaders(c.GetHeader("X-Device-Key"), c.GetHeader("X-Device-MAC"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Device authentication required"})
		return
	}

	ctx := c.Request.Context()

	device, err := s.devices.FindDeviceByMAC(ctx, creds.MACAddress)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
			return
		}
		s.logger.Error().Err(err).Str("mac", creds.MACAddress).Msg("Device lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := deviceauth.VerifyKey(device.DeviceKeyHash, creds.DeviceKey); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Device authentication required"})
		return
	}

	var payload protocol.DataPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if payload.Sensors == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: sensors"})
		return
	}

	result, err := s.pipeline.Ingest(ctx, device.DeviceID, payload, true)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
			return
		}
		s.logger.Error().Err(err).Str("device_id", device.DeviceID).Msg("REST ingestion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Sensor data received successfully",
		"readingsCount": result.ReadingsCount,
	})
}

// handleLatestReadings returns the newest reading per device/sensor pair,
// the summary dashboards poll for.
func (s *Server) handleLatestReadings(c *gin.Context) {
	latest, err := s.readings.FindLatestReadingPerDevice(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load latest readings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"latestReadings": latest,
		"totalCount":     len(latest),
	})
}
