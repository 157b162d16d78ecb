// Package cmd provides CLI commands for the otalink binary.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/lanternworks/otalink/adapter"
	"github.com/lanternworks/otalink/adapter/redis"
	"github.com/lanternworks/otalink/adapter/webhook"
	"github.com/lanternworks/otalink/cli/config"
	"github.com/lanternworks/otalink/cli/tui"
	"github.com/lanternworks/otalink/delay"
	"github.com/lanternworks/otalink/device"
	"github.com/lanternworks/otalink/iox"
	"github.com/lanternworks/otalink/metrics"
	"github.com/lanternworks/otalink/service"
	"github.com/lanternworks/otalink/types"
	"github.com/lanternworks/otalink/updater"
)

// Exit codes for the run command.
const (
	exitSuccess      = 0
	exitSessionError = 1
	exitInvalidInput = 2
)

// delayTimer is the process-clock Delay used by CLI sessions.
var delayTimer = delay.Timer{}

// RunCommand returns the run command: one update session against the
// configured service and local device.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one update session against the update service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to otalink.yaml config file",
			},
			&cli.StringFlag{
				Name:  "service-url",
				Usage: "Update service endpoint URL",
			},
			&cli.StringFlag{
				Name:  "device-id",
				Usage: "Device identifier",
			},
			&cli.StringFlag{
				Name:  "session-id",
				Usage: "Session ID (generated when omitted)",
			},
			&cli.IntFlag{
				Name:  "attempt",
				Usage: "Attempt number (starts at 1)",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "device-dir",
				Usage: "Directory backing the local firmware device",
			},
			&cli.StringFlag{
				Name:  "device-version",
				Usage: "Current firmware version the device reports",
			},
			&cli.UintFlag{
				Name:  "max-chunk-size",
				Usage: "Maximum payload length per write chunk",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Show a live transfer view",
			},
			&cli.UintFlag{
				Name:  "image-size",
				Usage: "Expected image size in bytes for the transfer view",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		},
		Action: runAction,
	}
}

// runResult is the JSON result printed after a session.
type runResult struct {
	DeviceID   string `json:"device_id"`
	SessionID  string `json:"session_id"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	Chunks     int64  `json:"chunks_written"`
	Bytes      int64  `json:"bytes_written"`
	DurationMs int64  `json:"duration_ms"`
}

func runAction(c *cli.Context) error {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		cfg = loaded
	}

	serviceURL := firstNonEmpty(c.String("service-url"), cfg.Service.URL)
	deviceDir := firstNonEmpty(c.String("device-dir"), cfg.Device.Dir)
	deviceVersion := firstNonEmpty(c.String("device-version"), cfg.Device.Version)
	deviceID := firstNonEmpty(c.String("device-id"), cfg.DeviceID)
	switch {
	case serviceURL == "":
		return cli.Exit("service URL is required (--service-url or config)", exitInvalidInput)
	case deviceDir == "":
		return cli.Exit("device directory is required (--device-dir or config)", exitInvalidInput)
	case deviceVersion == "":
		return cli.Exit("device version is required (--device-version or config)", exitInvalidInput)
	case deviceID == "":
		return cli.Exit("device ID is required (--device-id or config)", exitInvalidInput)
	}

	sessionID := c.String("session-id")
	if sessionID == "" {
		sessionID = fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}

	maxChunk := uint32(c.Uint("max-chunk-size"))
	if maxChunk == 0 {
		maxChunk = cfg.Device.MaxChunkSize
	}

	svc, err := service.NewHTTPClient(service.HTTPConfig{
		URL:     serviceURL,
		Headers: cfg.Service.Headers,
		Timeout: cfg.Service.Timeout.Duration,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	defer iox.DiscardClose(svc)

	dev, err := device.NewFile(deviceDir, []byte(deviceVersion), maxChunk)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	meta := &types.SessionMeta{
		DeviceID:  deviceID,
		SessionID: sessionID,
		Attempt:   c.Int("attempt"),
	}
	collector := metrics.NewCollector(deviceID, sessionID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	var status updater.DeviceStatus
	if c.Bool("watch") {
		status, err = runWatched(ctx, svc, meta, collector, dev, uint32(c.Uint("image-size")))
	} else {
		var u *updater.Updater
		u, err = updater.New(&updater.Config{Service: svc, Meta: meta, Collector: collector})
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		status, err = u.Run(ctx, dev, delayTimer)
	}
	duration := time.Since(start)

	outcome := string(status)
	if err != nil {
		outcome = "error"
	}

	snap := collector.Snapshot()
	publishEvent(c.Context, cfg.Adapter, meta, outcome, deviceVersion, duration, snap)

	if !c.Bool("quiet") {
		result := runResult{
			DeviceID:   deviceID,
			SessionID:  sessionID,
			Outcome:    outcome,
			Chunks:     snap.ChunksWritten,
			Bytes:      snap.BytesWritten,
			DurationMs: duration.Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(os.Stdout, string(out))
	}

	if err != nil {
		return cli.Exit(fmt.Sprintf("session failed: %v", err), exitSessionError)
	}
	return nil
}

// runWatched drives the session under a Bubble Tea program so progress is
// rendered live.
func runWatched(ctx context.Context, svc updater.UpdateService, meta *types.SessionMeta, collector *metrics.Collector, dev updater.FirmwareDevice, imageSize uint32) (updater.DeviceStatus, error) {
	program := tea.NewProgram(tui.NewTransferModel(imageSize))

	u, err := updater.New(&updater.Config{
		Service:   svc,
		Meta:      meta,
		Collector: collector,
		Observer: func(p updater.Progress) {
			program.Send(tui.ProgressMsg{
				Version: string(p.Version),
				Offset:  p.Offset,
				Written: p.Written,
			})
		},
	})
	if err != nil {
		return "", err
	}

	type sessionResult struct {
		status updater.DeviceStatus
		err    error
	}
	resultCh := make(chan sessionResult, 1)

	go func() {
		status, err := u.Run(ctx, dev, delayTimer)
		resultCh <- sessionResult{status: status, err: err}
		program.Send(tui.DoneMsg{Outcome: string(status), Err: err})
	}()

	if _, err := program.Run(); err != nil {
		return "", fmt.Errorf("transfer view failed: %w", err)
	}

	result := <-resultCh
	return result.status, result.err
}

// publishEvent notifies the configured adapter, if any. Publish failures
// are reported on stderr but never fail the session.
func publishEvent(ctx context.Context, cfg config.AdapterConfig, meta *types.SessionMeta, outcome, fromVersion string, duration time.Duration, snap metrics.Snapshot) {
	a, err := newAdapter(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adapter: %v\n", err)
		return
	}
	if a == nil {
		return
	}
	defer iox.DiscardClose(a)

	event := &adapter.UpdateCompletedEvent{
		ContractVersion: types.Version,
		EventType:       "update_completed",
		DeviceID:        meta.DeviceID,
		SessionID:       meta.SessionID,
		Outcome:         outcome,
		FromVersion:     fromVersion,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Attempt:         meta.Attempt,
		ChunksWritten:   snap.ChunksWritten,
		BytesWritten:    snap.BytesWritten,
		DurationMs:      duration.Milliseconds(),
	}
	if err := a.Publish(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "adapter publish: %v\n", err)
	}
}

// newAdapter builds the configured adapter, or nil when none is configured.
func newAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := webhook.DefaultRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
