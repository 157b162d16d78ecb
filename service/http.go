package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lanternworks/otalink/iox"
	"github.com/lanternworks/otalink/protocol"
	"github.com/lanternworks/otalink/updater"
)

// ContentType is the media type of framed protocol messages.
const ContentType = "application/vnd.otalink.frame"

// DefaultTimeout is the default per-request HTTP timeout.
const DefaultTimeout = 30 * time.Second

// HTTPConfig configures the HTTP transport client.
type HTTPConfig struct {
	// URL is the update service endpoint to POST status reports to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
}

// HTTPClient reaches an update service over HTTP. Each Request POSTs one
// framed status report and decodes one framed command from the response.
//
// All failures are returned as-is: the session loop treats service errors
// as transient and retries the same report, so no retry policy lives here.
type HTTPClient struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPClient creates an HTTP transport client from the given config.
// Returns an error if the URL is empty.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("http service requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &HTTPClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Request implements updater.UpdateService.
func (c *HTTPClient) Request(ctx context.Context, report *protocol.StatusReport) (protocol.Command, error) {
	payload, err := protocol.EncodeStatusReport(report)
	if err != nil {
		return nil, fmt.Errorf("encode status report: %w", err)
	}

	var body bytes.Buffer
	if err := protocol.NewFrameEncoder(&body).WriteFrame(payload); err != nil {
		return nil, fmt.Errorf("frame status report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	framed, err := protocol.NewFrameDecoder(resp.Body).ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read command frame: %w", err)
	}

	cmd, err := protocol.DecodeCommand(framed)
	if err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

// Close releases transport resources.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

var _ updater.UpdateService = (*HTTPClient)(nil)
