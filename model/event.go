package model

import "time"

// EventType categorizes lifecycle events emitted by the engine.
type EventType string

const (
	// Template lifecycle.
	EventTemplateCreated  EventType = "TemplateCreated"
	EventTemplateUpdated  EventType = "TemplateUpdated"
	EventTemplateDeleted  EventType = "TemplateDeleted"
	EventTemplateCompiled EventType = "TemplateCompiled"

	// Version history.
	EventVersionCreated EventType = "VersionCreated"
	EventVersionsPruned EventType = "VersionsPruned"

	// Telemetry and analytics.
	EventExecutionRecorded  EventType = "ExecutionRecorded"
	EventAnomaliesDetected  EventType = "AnomaliesDetected"
	EventSnapshotAggregated EventType = "SnapshotAggregated"
	EventSnapshotsPruned    EventType = "SnapshotsPruned"

	// Typed failures surfaced to observers.
	EventError EventType = "Error"
)

// Event is one lifecycle notification. Emission is synchronous and
// strictly ordered relative to the mutation that produced it.
type Event struct {
	Type       EventType      `json:"type"`
	TemplateID string         `json:"template_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}
