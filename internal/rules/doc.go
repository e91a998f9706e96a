// Package rules provides threshold rule evaluation for FieldLink Core.
//
// The engine receives saved readings from the telemetry service - always
// asynchronously, with errors swallowed by the caller - and compares
// them against registered threshold rules. Each match publishes a
// trigger message on the internal MQTT bus, where downstream automation
// (alerting, actuation) subscribes.
//
// Rule evaluation is deliberately decoupled from ingestion: a slow or
// failing rule never delays or fails a telemetry save.
//
// # Usage
//
//	engine := rules.NewEngine(mqttClient, log)
//	engine.SetRule(rules.Rule{
//	    ID:        "overvoltage",
//	    Key:       "voltage",
//	    Condition: rules.ConditionGreaterThan,
//	    Threshold: 250,
//	    Enabled:   true,
//	})
//
//	// Wired as the telemetry service's rules sink:
//	svc := telemetry.NewService(repo, devices, bus, telemetry.ServiceConfig{Rules: engine})
package rules
