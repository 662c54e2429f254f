package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/smartgarden/iot-hub/internal/models"
)

// MockEvaluator is a mock implementation of the automation.Evaluator interface
type MockEvaluator struct {
	mock.Mock
}

func (m *MockEvaluator) Evaluate(ctx context.Context, deviceID string, readings []models.SensorReading) (models.EvaluationResult, error) {
	args := m.Called(ctx, deviceID, readings)
	return args.Get(0).(models.EvaluationResult), args.Error(1)
}
