// Package types defines core domain types shared across the otalink agent.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// SessionMeta contains update session identity metadata.
// A session is one invocation of the updater loop against one device.
type SessionMeta struct {
	// DeviceID identifies the device the session runs against.
	DeviceID string
	// SessionID is the canonical session identifier. Must be unique per device.
	SessionID string
	// Attempt is the attempt number. Starts at 1 for initial sessions.
	Attempt int
}

// Validate validates session identity rules:
//   - device_id and session_id must be non-empty
//   - attempt >= 1
func (s *SessionMeta) Validate() error {
	if s.DeviceID == "" {
		return errors.New("device_id must be non-empty")
	}

	if s.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}

	if s.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1, got %d", s.Attempt)
	}

	return nil
}
