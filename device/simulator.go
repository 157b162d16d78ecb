// Package device provides FirmwareDevice implementations: an in-memory
// simulator for tests and benches, and a file-backed device for running
// the agent against local storage.
package device

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/lanternworks/otalink/updater"
)

// DefaultMaxChunkSize is the simulator's default per-write payload bound.
const DefaultMaxChunkSize = 1024

// WriteCall records one Write invocation on the simulator.
type WriteCall struct {
	Offset uint32
	Len    int
}

// Simulator is an in-memory firmware device. It records every capability
// invocation so tests can assert on the exact operation sequence, and
// supports failure injection per operation.
type Simulator struct {
	mu sync.Mutex

	version      []byte
	maxChunkSize uint32

	// Resume state reported by Status. Zero values mean a fresh device.
	nextOffset  uint32
	nextVersion []byte

	// Image accumulates written chunks.
	image []byte

	// Recorded invocations.
	StartVersions [][]byte
	Writes        []WriteCall
	SyncedCalls   int
	UpdateCalls   int

	// Activation arguments from the last Update call.
	UpdatedVersion []byte
	UpdatedSum     []byte

	// Failure injection. When set, the corresponding operation fails.
	FailStatus error
	FailStart  error
	FailWrite  error
	FailUpdate error
	FailSynced error
}

// NewSimulator creates a simulator reporting the given current version.
func NewSimulator(version []byte) *Simulator {
	return &Simulator{
		version:      bytes.Clone(version),
		maxChunkSize: DefaultMaxChunkSize,
	}
}

// WithMaxChunkSize overrides the per-write payload bound.
func (s *Simulator) WithMaxChunkSize(n uint32) *Simulator {
	s.maxChunkSize = n
	return s
}

// WithResumeState injects a partially transferred download, as a device
// that persisted progress across a reset would report. The staged image
// is zero-filled up to offset so subsequent writes append at the resume
// point.
func (s *Simulator) WithResumeState(offset uint32, version []byte) *Simulator {
	s.nextOffset = offset
	s.nextVersion = bytes.Clone(version)
	s.image = make([]byte, offset)
	return s
}

// Status implements updater.FirmwareDevice.
func (s *Simulator) Status(_ context.Context) (*updater.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailStatus != nil {
		return nil, s.FailStatus
	}
	return &updater.DeviceState{
		CurrentVersion: bytes.Clone(s.version),
		NextOffset:     s.nextOffset,
		NextVersion:    bytes.Clone(s.nextVersion),
	}, nil
}

// Start implements updater.FirmwareDevice.
func (s *Simulator) Start(_ context.Context, version []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailStart != nil {
		return s.FailStart
	}
	s.StartVersions = append(s.StartVersions, bytes.Clone(version))
	s.image = s.image[:0]
	return nil
}

// Write implements updater.FirmwareDevice.
func (s *Simulator) Write(_ context.Context, offset uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrite != nil {
		return s.FailWrite
	}
	if int(offset) != len(s.image) {
		return fmt.Errorf("write at offset %d, image has %d bytes", offset, len(s.image))
	}
	s.image = append(s.image, data...)
	s.Writes = append(s.Writes, WriteCall{Offset: offset, Len: len(data)})
	return nil
}

// Update implements updater.FirmwareDevice.
func (s *Simulator) Update(_ context.Context, version, checksum []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdate != nil {
		return s.FailUpdate
	}
	s.UpdateCalls++
	s.UpdatedVersion = bytes.Clone(version)
	s.UpdatedSum = bytes.Clone(checksum)
	s.version = bytes.Clone(version)
	return nil
}

// Synced implements updater.FirmwareDevice.
func (s *Simulator) Synced(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSynced != nil {
		return s.FailSynced
	}
	s.SyncedCalls++
	return nil
}

// MaxChunkSize implements updater.FirmwareDevice.
func (s *Simulator) MaxChunkSize() uint32 {
	return s.maxChunkSize
}

// Image returns a copy of the bytes written so far.
func (s *Simulator) Image() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.image)
}

var _ updater.FirmwareDevice = (*Simulator)(nil)
