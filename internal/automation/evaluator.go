package automation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/smartgarden/iot-hub/internal/models"
	"github.com/smartgarden/iot-hub/internal/store"
)

// Evaluator decides which automation rules fire for a batch of readings.
// The ingestion pipeline invokes it fire-and-forget; failures never block
// or roll back persisted readings.
type Evaluator interface {
	Evaluate(ctx context.Context, deviceID string, readings []models.SensorReading) (models.EvaluationResult, error)
}

// ThresholdEvaluator evaluates simple below/above threshold rules stored per
// device, e.g. soil_moisture below 30 -> start_irrigation.
type ThresholdEvaluator struct {
	rules  store.RuleStore
	logger zerolog.Logger
}

// NewThresholdEvaluator creates an evaluator backed by the given rule store.
func NewThresholdEvaluator(rules store.RuleStore, logger zerolog.Logger) *ThresholdEvaluator {
	return &ThresholdEvaluator{
		rules:  rules,
		logger: logger.With().Str("component", "automation").Logger(),
	}
}

// Evaluate loads the device's enabled rules and matches them against the
// readings. Every fired rule contributes one action to the result.
func (e *ThresholdEvaluator) Evaluate(ctx context.Context, deviceID string, readings []models.SensorReading) (models.EvaluationResult, error) {
	if len(readings) == 0 {
		return models.EvaluationResult{}, nil
	}

	rules, err := e.rules.FindRulesForDevice(ctx, deviceID)
	if err != nil {
		return models.EvaluationResult{}, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		return models.EvaluationResult{}, nil
	}

	var result models.EvaluationResult
	for _, rule := range rules {
		for _, reading := range readings {
			if reading.SensorType != rule.SensorType {
				continue
			}
			if !crossed(rule, reading.Value) {
				continue
			}
			result.Triggered = true
			result.Actions = append(result.Actions, models.RuleAction{
				RuleID:     rule.ID.Hex(),
				Action:     rule.Action,
				SensorType: rule.SensorType,
				Value:      reading.Value,
				Threshold:  rule.Threshold,
			})
			e.logger.Info().
				Str("device_id", deviceID).
				Str("sensor_type", rule.SensorType).
				Str("action", rule.Action).
				Float64("value", reading.Value).
				Float64("threshold", rule.Threshold).
				Msg("Automation rule triggered")
		}
	}
	return result, nil
}

func crossed(rule models.AutomationRule, value float64) bool {
	switch rule.Condition {
	case models.ConditionBelow:
		return value < rule.Threshold
	case models.ConditionAbove:
		return value > rule.Threshold
	default:
		return false
	}
}
