package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/smartgarden/iot-hub/internal/hub"
	"github.com/smartgarden/iot-hub/internal/ingest"
	"github.com/smartgarden/iot-hub/internal/models"
	"github.com/smartgarden/iot-hub/internal/registry"
	"github.com/smartgarden/iot-hub/internal/store"
	"github.com/smartgarden/iot-hub/pkg/deviceauth"
	"github.com/smartgarden/iot-hub/tests/mocks"
)

func newTestServer(mockDevices *mocks.MockDeviceStore, mockReadings *mocks.MockReadingStore) *Server {
	logger := zerolog.Nop()
	reg := registry.New(logger)
	h := hub.New(reg, mockDevices, logger)
	pipeline := ingest.NewPipeline(mockDevices, mockReadings, nil, h, nil, logger)
	h.SetPipeline(pipeline)
	return NewServer("127.0.0.1:0", "/ws", h, pipeline, reg, mockDevices, mockReadings, logger)
}

func postSensorData(s *Server, body []byte, deviceKey, mac string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/sensors/data", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if deviceKey != "" {
		req.Header.Set("X-Device-Key", deviceKey)
	}
	if mac != "" {
		req.Header.Set("X-Device-MAC", mac)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

// TestHandleSensorData_Success tests the authenticated REST ingestion path.
func TestHandleSensorData_Success(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	mockReadings := new(mocks.MockReadingStore)
	s := newTestServer(mockDevices, mockReadings)

	hash, err := deviceauth.HashKey("secret-key")
	assert.NoError(t, err)
	device := &models.Device{DeviceID: "garden-01", MACAddress: "A4:CF:12:9B:41:7E", DeviceKeyHash: hash}

	mockDevices.On("FindDeviceByMAC", mock.Anything, "A4:CF:12:9B:41:7E").Return(device, nil)
	mockDevices.On("FindDevice", mock.Anything, "garden-01").Return(device, nil)
	mockDevices.On("UpsertDevice", mock.Anything, "garden-01", mock.Anything).Return(nil)
	mockReadings.On("InsertReadings", mock.Anything, mock.Anything).Return(nil)

	body := []byte(`{"sensors":{"temperature":22.5,"humidity":55}}`)

	// Execute
	w := postSensorData(s, body, "secret-key", "a4-cf-12-9b-41-7e")

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Sensor data received successfully", resp["message"])
	assert.Equal(t, float64(2), resp["readingsCount"])
	mockReadings.AssertExpectations(t)
}

// TestHandleSensorData_MissingHeaders tests rejection without credentials.
func TestHandleSensorData_MissingHeaders(t *testing.T) {
	s := newTestServer(new(mocks.MockDeviceStore), new(mocks.MockReadingStore))

	w := postSensorData(s, []byte(`{"sensors":{"temperature":22.5}}`), "", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestHandleSensorData_UnknownDevice tests the 404 for an unprovisioned MAC.
func TestHandleSensorData_UnknownDevice(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	s := newTestServer(mockDevices, new(mocks.MockReadingStore))
	mockDevices.On("FindDeviceByMAC", mock.Anything, mock.Anything).Return(nil, store.ErrDeviceNotFound)

	// Execute
	w := postSensorData(s, []byte(`{"sensors":{"temperature":22.5}}`), "secret-key", "A4:CF:12:9B:41:7E")

	// Assert
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHandleSensorData_WrongKey tests rejection of a bad device key.
func TestHandleSensorData_WrongKey(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	s := newTestServer(mockDevices, new(mocks.MockReadingStore))

	hash, err := deviceauth.HashKey("secret-key")
	assert.NoError(t, err)
	device := &models.Device{DeviceID: "garden-01", MACAddress: "A4:CF:12:9B:41:7E", DeviceKeyHash: hash}
	mockDevices.On("FindDeviceByMAC", mock.Anything, "A4:CF:12:9B:41:7E").Return(device, nil)

	// Execute
	w := postSensorData(s, []byte(`{"sensors":{"temperature":22.5}}`), "wrong-key", "A4:CF:12:9B:41:7E")

	// Assert
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestHandleSensorData_MissingSensors tests the 400 for a payload without the
// sensors object.
func TestHandleSensorData_MissingSensors(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	s := newTestServer(mockDevices, new(mocks.MockReadingStore))

	device := &models.Device{DeviceID: "garden-01", MACAddress: "A4:CF:12:9B:41:7E"}
	mockDevices.On("FindDeviceByMAC", mock.Anything, "A4:CF:12:9B:41:7E").Return(device, nil)

	// Execute
	w := postSensorData(s, []byte(`{"system":{"rssi":-60}}`), "secret-key", "A4:CF:12:9B:41:7E")

	// Assert
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Missing required field: sensors", resp["error"])
}

// TestHandleSensorData_InvalidBody tests the 400 for unparseable JSON.
func TestHandleSensorData_InvalidBody(t *testing.T) {
	// Setup
	mockDevices := new(mocks.MockDeviceStore)
	s := newTestServer(mockDevices, new(mocks.MockReadingStore))

	device := &models.Device{DeviceID: "garden-01", MACAddress: "A4:CF:12:9B:41:7E"}
	mockDevices.On("FindDeviceByMAC", mock.Anything, "A4:CF:12:9B:41:7E").Return(device, nil)

	// Execute
	w := postSensorData(s, []byte(`{"sensors":`), "secret-key", "A4:CF:12:9B:41:7E")

	// Assert
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleLatestReadings tests the dashboard summary route.
func TestHandleLatestReadings(t *testing.T) {
	// Setup
	mockReadings := new(mocks.MockReadingStore)
	s := newTestServer(new(mocks.MockDeviceStore), mockReadings)

	mockReadings.On("FindLatestReadingPerDevice", mock.Anything).Return([]models.LatestReading{
		{DeviceID: "garden-01", SensorType: "temperature", Value: 22.5, Unit: "celsius"},
		{DeviceID: "garden-01", SensorType: "humidity", Value: 55, Unit: "percentage"},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sensors/data", nil)
	w := httptest.NewRecorder()

	// Execute
	s.engine.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["totalCount"])
}

// TestHandleHealth tests the liveness probe.
func TestHandleHealth(t *testing.T) {
	s := newTestServer(new(mocks.MockDeviceStore), new(mocks.MockReadingStore))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
