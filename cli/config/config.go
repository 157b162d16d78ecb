package config

import (
	"fmt"
	"time"
)

// Config represents an otalink.yaml configuration file.
// All values are optional and act as defaults for otalink run/serve flags.
// CLI flags always override config values.
type Config struct {
	DeviceID string        `yaml:"device_id"`
	Service  ServiceConfig `yaml:"service"`
	Device   DeviceConfig  `yaml:"device"`
	Adapter  AdapterConfig `yaml:"adapter"`
	Serve    ServeConfig   `yaml:"serve"`
}

// ServiceConfig holds update-service transport defaults.
type ServiceConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
}

// DeviceConfig holds local device defaults.
type DeviceConfig struct {
	// Dir is the device directory for the file-backed device.
	Dir string `yaml:"dir"`
	// Version is the current firmware version the device reports.
	Version string `yaml:"version"`
	// MaxChunkSize bounds payload length per write (0 uses the default).
	MaxChunkSize uint32 `yaml:"max_chunk_size"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"` // webhook or redis
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ServeConfig holds dev-server defaults.
type ServeConfig struct {
	Listen  string   `yaml:"listen"`
	Version string   `yaml:"version"`
	Image   string   `yaml:"image"`
	S3      S3Config `yaml:"s3"`
}

// S3Config selects an S3 image source for the dev server.
type S3Config struct {
	Bucket      string `yaml:"bucket"`
	Key         string `yaml:"key"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
