// Package adapter defines the event-bus adapter boundary.
//
// Adapters publish session completion notifications to downstream systems
// (fleet dashboards, deployment pipelines). The CLI owns adapter lifecycle
// and invokes Publish after the session loop returns; the updater core
// never touches adapters.
package adapter

import "context"

// UpdateCompletedEvent is the payload published when an update session
// finishes.
type UpdateCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "update_completed"
	DeviceID        string `json:"device_id"`
	SessionID       string `json:"session_id"`
	Outcome         string `json:"outcome"` // synced, updated, error
	FromVersion     string `json:"from_version"`
	ToVersion       string `json:"to_version,omitempty"`
	Timestamp       string `json:"timestamp"` // ISO 8601
	Attempt         int    `json:"attempt"`
	ChunksWritten   int64  `json:"chunks_written"`
	BytesWritten    int64  `json:"bytes_written"`
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes update completion events to a downstream system.
// Implementations must be safe for single-use per session.
type Adapter interface {
	// Publish sends an update completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *UpdateCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
