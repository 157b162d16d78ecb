package updater

import (
	"bytes"
	"context"
	"fmt"

	"github.com/lanternworks/otalink/log"
	"github.com/lanternworks/otalink/metrics"
	"github.com/lanternworks/otalink/protocol"
	"github.com/lanternworks/otalink/types"
)

// DeviceState is the device's own view of its firmware state, reported
// at the start of a session.
type DeviceState struct {
	// CurrentVersion is the firmware version currently running.
	CurrentVersion []byte
	// NextOffset is the resume point of a partially transferred image.
	// Zero when no download is in progress.
	NextOffset uint32
	// NextVersion is the version of a partially transferred image, or nil
	// when no download is in progress.
	NextVersion []byte
}

// FirmwareDevice abstracts the device's flash/storage layer.
// Implementations include hardware drivers and in-memory simulators.
type FirmwareDevice interface {
	// Status returns the device's firmware state snapshot.
	Status(ctx context.Context) (*DeviceState, error)
	// Start prepares storage for a new image with the given version.
	Start(ctx context.Context, version []byte) error
	// Write persists one chunk at the given offset.
	Write(ctx context.Context, offset uint32, data []byte) error
	// Update validates and activates a fully transferred image.
	Update(ctx context.Context, version, checksum []byte) error
	// Synced confirms the device is already at the desired version.
	Synced(ctx context.Context) error
	// MaxChunkSize is the maximum payload length accepted per write.
	MaxChunkSize() uint32
}

// UpdateService abstracts the remote update-decision service.
// Request sends one status report and returns exactly one command.
type UpdateService interface {
	Request(ctx context.Context, report *protocol.StatusReport) (protocol.Command, error)
}

// Delay abstracts timed suspension between protocol exchanges.
type Delay interface {
	// DelayMs suspends for the requested number of milliseconds.
	DelayMs(ctx context.Context, ms uint32) error
}

// DeviceStatus is the terminal outcome of a session.
type DeviceStatus string

const (
	// StatusSynced means no update was needed, or the device just
	// confirmed it is in sync.
	StatusSynced DeviceStatus = "synced"
	// StatusUpdated means a new image was fully transferred and handed to
	// the device for activation. Rebooting into the new firmware is the
	// caller's responsibility.
	StatusUpdated DeviceStatus = "updated"
)

// Progress describes one accepted write, reported to the observer.
type Progress struct {
	// Version is the version of the image being downloaded.
	Version []byte
	// Offset is the session offset after the write.
	Offset uint32
	// Written is the payload length of the write.
	Written int
}

// ProgressObserver is an optional callback invoked synchronously after
// each accepted write. It is additive instrumentation layered on top of
// the session loop, not part of the state machine's contract.
type ProgressObserver func(Progress)

// Config configures an Updater.
type Config struct {
	// Service is the update-decision service the updater reports to.
	// The updater takes exclusive ownership of it.
	Service UpdateService
	// Meta is the session identity used for logging and metrics.
	Meta *types.SessionMeta
	// Observer is an optional progress callback.
	Observer ProgressObserver
	// Collector is the metrics collector for sessions run by this updater.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
}

// Updater drives the firmware update protocol for a device. If the device
// needs an update, the updater follows the update protocol until the image
// is fully transferred and handed off for activation.
type Updater struct {
	service   UpdateService
	logger    *log.Logger
	observer  ProgressObserver
	collector *metrics.Collector
}

// New creates an updater from the given config.
// Returns an error if session metadata is invalid.
func New(config *Config) (*Updater, error) {
	if config.Service == nil {
		return nil, fmt.Errorf("updater requires a service")
	}
	if err := config.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session metadata: %w", err)
	}

	return &Updater{
		service:   config.Service,
		logger:    log.NewLogger(config.Meta),
		observer:  config.Observer,
		collector: config.Collector,
	}, nil
}

// sessionState is the in-session progress state. Created fresh per Run,
// held exclusively by the session loop, discarded on terminal outcome.
type sessionState struct {
	currentVersion []byte
	nextOffset     uint32
	nextVersion    []byte // nil until the first write chunk arrives
}

// Run drives the update protocol to completion. It requires exclusive
// access to the device and delay capabilities for the duration of the
// call; concurrent sessions against the same device must be serialized
// by the caller.
//
// The session finishes with one of two outcomes:
//
//  1. The device is in sync: StatusSynced is returned.
//  2. The device was updated: StatusUpdated is returned. It is the
//     caller's responsibility to reset the device so the new firmware runs.
func (u *Updater) Run(ctx context.Context, device FirmwareDevice, delay Delay) (DeviceStatus, error) {
	u.collector.IncSessionStarted()

	synced, err := u.check(ctx, device, delay)
	if err != nil {
		u.collector.IncSessionFailed()
		return "", err
	}

	if synced {
		u.collector.IncSessionSynced()
		return StatusSynced, nil
	}
	u.collector.IncSessionUpdated()
	return StatusUpdated, nil
}

// check runs the session loop. Returns true when the device is in sync,
// false when an image was fully transferred and activated.
func (u *Updater) check(ctx context.Context, device FirmwareDevice, delay Delay) (bool, error) {
	initial, err := device.Status(ctx)
	if err != nil {
		return false, deviceError("status", err)
	}

	// Copy reported versions into session-owned buffers. Versions over the
	// protocol bound fail the session before any exchange happens.
	if len(initial.CurrentVersion) > protocol.VersionMaxLen {
		return false, encodeError("current version")
	}
	state := sessionState{
		currentVersion: bytes.Clone(initial.CurrentVersion),
		nextOffset:     initial.NextOffset,
	}
	if initial.NextVersion != nil {
		if len(initial.NextVersion) > protocol.VersionMaxLen {
			return false, encodeError("next version")
		}
		state.nextVersion = bytes.Clone(initial.NextVersion)
	}

	mtu := device.MaxChunkSize()

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		var report *protocol.StatusReport
		if state.nextVersion != nil {
			report = protocol.UpdateReport(state.currentVersion, &mtu, state.nextOffset, state.nextVersion, nil)
		} else {
			report = protocol.FirstReport(state.currentVersion, &mtu, nil)
		}

		u.logger.Debug("sending status report", map[string]any{
			"version": string(report.Version),
			"offset":  state.nextOffset,
		})

		cmd, err := u.service.Request(ctx, report)
		if err != nil {
			// Service failures are treated as transient: log and resend the
			// same report. No retry limit, no backoff.
			u.logger.Warn("status report failed, retrying", map[string]any{
				"error": err.Error(),
			})
			u.collector.IncServiceRetry()
			continue
		}

		switch cmd := cmd.(type) {
		case *protocol.Write:
			if cmd.Offset == 0 {
				u.logger.Info("starting firmware download", map[string]any{
					"from": string(state.currentVersion),
					"to":   string(cmd.Version),
				})
				if err := device.Start(ctx, cmd.Version); err != nil {
					return false, deviceError("start", err)
				}
			}
			if err := device.Write(ctx, cmd.Offset, cmd.Data); err != nil {
				return false, deviceError("write", err)
			}
			state.nextOffset += uint32(len(cmd.Data))
			if len(cmd.Version) > protocol.VersionMaxLen {
				return false, decodeError("chunk version")
			}
			state.nextVersion = bytes.Clone(cmd.Version)
			u.collector.AddChunkWritten(len(cmd.Data))
			if u.observer != nil {
				u.observer(Progress{
					Version: state.nextVersion,
					Offset:  state.nextOffset,
					Written: len(cmd.Data),
				})
			}

		case *protocol.Sync:
			u.logger.Info("device firmware is up to date", nil)
			if err := device.Synced(ctx); err != nil {
				return false, deviceError("synced", err)
			}
			return true, nil

		case *protocol.Wait:
			if cmd.Poll != nil {
				u.logger.Debug("waiting before next report", map[string]any{
					"poll_seconds": *cmd.Poll,
				})
				if err := delay.DelayMs(ctx, *cmd.Poll*1000); err != nil {
					return false, delayError(err)
				}
			}
			u.collector.IncWait()

		case *protocol.Swap:
			u.logger.Info("swapping firmware", map[string]any{
				"version": string(cmd.Version),
			})
			if err := device.Update(ctx, cmd.Version, cmd.Checksum); err != nil {
				return false, deviceError("update", err)
			}
			return false, nil

		default:
			return false, decodeError(fmt.Sprintf("unexpected command %T", cmd))
		}
	}
}
