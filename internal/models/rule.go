package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Rule condition operators.
const (
	ConditionBelow = "below"
	ConditionAbove = "above"
)

// AutomationRule is a threshold rule attached to a device. When a reading of
// the matching sensor type crosses the threshold, the rule's action fires.
type AutomationRule struct {
	ID         primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	DeviceID   string             `json:"deviceId" bson:"deviceId"`
	SensorType string             `json:"sensorType" bson:"sensorType"`
	Condition  string             `json:"condition" bson:"condition"`
	Threshold  float64            `json:"threshold" bson:"threshold"`
	Action     string             `json:"action" bson:"action"`
	Enabled    bool               `json:"enabled" bson:"enabled"`
	UpdatedAt  time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// RuleAction describes one fired rule inside an evaluation result.
type RuleAction struct {
	RuleID     string  `json:"ruleId"`
	Action     string  `json:"action"`
	SensorType string  `json:"sensorType"`
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
}

// EvaluationResult is the outcome of running automation rules against a
// batch of readings.
type EvaluationResult struct {
	Triggered bool         `json:"triggered"`
	Actions   []RuleAction `json:"actions"`
}
