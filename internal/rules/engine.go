package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rowanvale/fieldlink-core/internal/infrastructure/mqtt"
	"github.com/rowanvale/fieldlink-core/internal/telemetry"
)

// Logger interface for engine logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// MQTTClient is the interface for publishing rule triggers.
type MQTTClient interface {
	// Publish sends a message to the specified MQTT topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Condition compares a reading value against a rule threshold.
type Condition string

// Rule conditions.
const (
	ConditionGreaterThan Condition = "gt"
	ConditionLessThan    Condition = "lt"
	ConditionEquals      Condition = "eq"
	ConditionNotEquals   Condition = "ne"
)

// Rule is one threshold rule evaluated against incoming readings.
//
// An empty DeviceID matches readings from any device.
type Rule struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id,omitempty"`
	Key       string    `json:"key"`
	Condition Condition `json:"condition"`
	Threshold float64   `json:"threshold"`
	Enabled   bool      `json:"enabled"`
}

// Validate checks the rule for obvious misconfiguration.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if r.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidRule)
	}
	switch r.Condition {
	case ConditionGreaterThan, ConditionLessThan, ConditionEquals, ConditionNotEquals:
		return nil
	default:
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidRule, r.Condition)
	}
}

// matches reports whether a numeric value satisfies the rule.
func (r Rule) matches(value float64) bool {
	switch r.Condition {
	case ConditionGreaterThan:
		return value > r.Threshold
	case ConditionLessThan:
		return value < r.Threshold
	case ConditionEquals:
		return value == r.Threshold
	case ConditionNotEquals:
		return value != r.Threshold
	default:
		return false
	}
}

// Trigger is the message published when a rule fires.
type Trigger struct {
	RuleID    string    `json:"rule_id"`
	DeviceID  string    `json:"device_id"`
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Condition Condition `json:"condition"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"ts"`
}

// Engine evaluates threshold rules against saved telemetry and publishes
// a trigger message on the internal bus for each match.
//
// The engine sits downstream of ingestion: the telemetry service hands
// saved readings over asynchronously and discards any error, so a broken
// rule or an unavailable broker never affects ingestion.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	mqtt   MQTTClient
	logger Logger

	mu    sync.RWMutex
	rules map[string]Rule
}

// NewEngine creates a rule engine.
func NewEngine(mqttClient MQTTClient, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		mqtt:   mqttClient,
		logger: logger,
		rules:  make(map[string]Rule),
	}
}

// SetRule adds or replaces a rule.
func (e *Engine) SetRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()

	e.logger.Info("rule registered",
		"rule_id", rule.ID, "key", rule.Key,
		"condition", rule.Condition, "threshold", rule.Threshold)
	return nil
}

// RemoveRule deletes a rule by ID. Unknown IDs are a no-op.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	delete(e.rules, id)
	e.mu.Unlock()
}

// Rules returns a snapshot of the registered rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	return out
}

// ProcessTelemetry evaluates every enabled rule against the readings and
// publishes a trigger for each match. Satisfies the telemetry service's
// RulesSink.
//
// Evaluation is best-effort: a publish failure is counted and reported
// but does not stop the remaining readings from being evaluated.
func (e *Engine) ProcessTelemetry(ctx context.Context, deviceID string, readings []telemetry.Reading) error {
	if e.mqtt == nil {
		return ErrMQTTUnavailable
	}

	e.mu.RLock()
	rules := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled && (r.DeviceID == "" || r.DeviceID == deviceID) {
			rules = append(rules, r)
		}
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	var publishErrs int
	for _, reading := range readings {
		if err := ctx.Err(); err != nil {
			return err
		}

		value, ok := numericValue(reading.Value)
		if !ok {
			continue
		}

		for _, rule := range rules {
			if rule.Key != reading.Key || !rule.matches(value) {
				continue
			}
			if err := e.publishTrigger(deviceID, rule, reading, value); err != nil {
				publishErrs++
				e.logger.Warn("failed to publish rule trigger",
					"rule_id", rule.ID, "device_id", deviceID, "error", err)
			}
		}
	}

	if publishErrs > 0 {
		return fmt.Errorf("%d rule trigger(s) failed to publish", publishErrs)
	}
	return nil
}

// publishTrigger emits one trigger message on the internal bus.
func (e *Engine) publishTrigger(deviceID string, rule Rule, reading telemetry.Reading, value float64) error {
	trigger := Trigger{
		RuleID:    rule.ID,
		DeviceID:  deviceID,
		Key:       reading.Key,
		Value:     value,
		Condition: rule.Condition,
		Threshold: rule.Threshold,
		Timestamp: reading.Timestamp,
	}

	payload, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("marshalling trigger: %w", err)
	}

	topic := mqtt.Topics{}.InternalRuleTrigger(deviceID)
	if err := e.mqtt.Publish(topic, payload, 1, false); err != nil {
		return fmt.Errorf("publishing trigger to %s: %w", topic, err)
	}

	e.logger.Debug("rule triggered",
		"rule_id", rule.ID, "device_id", deviceID,
		"key", reading.Key, "value", value)
	return nil
}

// numericValue extracts a float64 for rule comparison. Booleans coerce
// to 1/0; strings are not evaluated.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
