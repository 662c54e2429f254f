package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/smartgarden/iot-hub/internal/protocol"
)

// MockBroadcaster is a mock implementation of the ingest.Broadcaster interface
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(msg protocol.ServerMessage) {
	m.Called(msg)
}
