package device

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lanternworks/otalink/iox"
	"github.com/lanternworks/otalink/updater"
)

// File layout inside the device directory.
const (
	stagingName  = "staging.bin"
	firmwareName = "firmware.bin"
	stateName    = "state.json"
)

// fileState is the persisted download progress. Its presence marks an
// in-progress transfer; it is removed on activation.
type fileState struct {
	NextOffset  uint32 `json:"next_offset"`
	NextVersion string `json:"next_version"`
}

// File is a firmware device backed by a local directory. Downloads land
// in a staging file and are promoted on activation. Progress is persisted
// alongside, so an interrupted transfer resumes at the recorded offset.
type File struct {
	dir          string
	version      []byte
	maxChunkSize uint32
}

// NewFile creates a file-backed device rooted at dir, reporting the given
// current firmware version.
func NewFile(dir string, version []byte, maxChunkSize uint32) (*File, error) {
	if maxChunkSize == 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	return &File{
		dir:          dir,
		version:      bytes.Clone(version),
		maxChunkSize: maxChunkSize,
	}, nil
}

// Status implements updater.FirmwareDevice.
func (f *File) Status(_ context.Context) (*updater.DeviceState, error) {
	state := &updater.DeviceState{CurrentVersion: bytes.Clone(f.version)}

	data, err := os.ReadFile(f.statePath())
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress state: %w", err)
	}

	var progress fileState
	if err := json.Unmarshal(data, &progress); err != nil {
		// Corrupt progress state: restart the download from scratch.
		return state, nil
	}
	state.NextOffset = progress.NextOffset
	state.NextVersion = []byte(progress.NextVersion)
	return state, nil
}

// Start implements updater.FirmwareDevice. It truncates the staging file
// and resets persisted progress.
func (f *File) Start(_ context.Context, version []byte) error {
	if err := os.WriteFile(f.stagingPath(), nil, 0o644); err != nil {
		return fmt.Errorf("truncate staging image: %w", err)
	}
	return f.writeState(&fileState{NextOffset: 0, NextVersion: string(version)})
}

// Write implements updater.FirmwareDevice.
func (f *File) Write(_ context.Context, offset uint32, data []byte) error {
	file, err := os.OpenFile(f.stagingPath(), os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open staging image: %w", err)
	}
	defer iox.DiscardClose(file)

	if _, err := file.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("write chunk at %d: %w", offset, err)
	}

	// Persist progress only after the chunk is durably written.
	state, err := f.readState()
	if err != nil {
		return err
	}
	state.NextOffset = offset + uint32(len(data))
	return f.writeState(state)
}

// Update implements updater.FirmwareDevice. It verifies the staged image
// against the checksum and promotes it to the firmware slot.
func (f *File) Update(_ context.Context, version, checksum []byte) error {
	image, err := os.ReadFile(f.stagingPath())
	if err != nil {
		return fmt.Errorf("read staged image: %w", err)
	}

	sum := sha256.Sum256(image)
	if !bytes.Equal(sum[:], checksum) {
		return fmt.Errorf("checksum mismatch for version %q", version)
	}

	if err := os.Rename(f.stagingPath(), filepath.Join(f.dir, firmwareName)); err != nil {
		return fmt.Errorf("promote staged image: %w", err)
	}
	if err := os.Remove(f.statePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear progress state: %w", err)
	}

	f.version = bytes.Clone(version)
	return nil
}

// Synced implements updater.FirmwareDevice. Any stale progress state is
// discarded: the service has confirmed the current firmware is desired.
func (f *File) Synced(_ context.Context) error {
	if err := os.Remove(f.statePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear progress state: %w", err)
	}
	return nil
}

// MaxChunkSize implements updater.FirmwareDevice.
func (f *File) MaxChunkSize() uint32 {
	return f.maxChunkSize
}

func (f *File) stagingPath() string { return filepath.Join(f.dir, stagingName) }
func (f *File) statePath() string   { return filepath.Join(f.dir, stateName) }

func (f *File) readState() (*fileState, error) {
	data, err := os.ReadFile(f.statePath())
	if os.IsNotExist(err) {
		return &fileState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress state: %w", err)
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return &fileState{}, nil
	}
	return &state, nil
}

func (f *File) writeState(state *fileState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal progress state: %w", err)
	}
	if err := os.WriteFile(f.statePath(), data, 0o644); err != nil {
		return fmt.Errorf("write progress state: %w", err)
	}
	return nil
}

var _ updater.FirmwareDevice = (*File)(nil)
