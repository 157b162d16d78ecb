// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters during a single update session. It is
// a leaf package with no internal dependencies. All increment methods are
// nil-receiver safe so instrumentation can be omitted entirely.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted int64
	SessionsSynced  int64
	SessionsUpdated int64
	SessionsFailed  int64

	// Transfer
	ChunksWritten int64
	BytesWritten  int64

	// Protocol
	ServiceRetries int64
	Waits          int64

	// Dimensions (informational, set at construction)
	DeviceID  string
	SessionID string
}

// Collector accumulates metrics during a single update session.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	sessionsStarted int64
	sessionsSynced  int64
	sessionsUpdated int64
	sessionsFailed  int64

	chunksWritten int64
	bytesWritten  int64

	serviceRetries int64
	waits          int64

	deviceID  string
	sessionID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(deviceID, sessionID string) *Collector {
	return &Collector{
		deviceID:  deviceID,
		sessionID: sessionID,
	}
}

// IncSessionStarted increments the sessions-started counter.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsStarted++
}

// IncSessionSynced increments the sessions-synced counter.
func (c *Collector) IncSessionSynced() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsSynced++
}

// IncSessionUpdated increments the sessions-updated counter.
func (c *Collector) IncSessionUpdated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsUpdated++
}

// IncSessionFailed increments the sessions-failed counter.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsFailed++
}

// AddChunkWritten records one accepted write of n payload bytes.
func (c *Collector) AddChunkWritten(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunksWritten++
	c.bytesWritten += int64(n)
}

// IncServiceRetry increments the service-retry counter.
func (c *Collector) IncServiceRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serviceRetries++
}

// IncWait increments the wait counter.
func (c *Collector) IncWait() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits++
}

// Snapshot returns an immutable view of all counters.
// Returns a zero Snapshot for a nil Collector.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionsStarted: c.sessionsStarted,
		SessionsSynced:  c.sessionsSynced,
		SessionsUpdated: c.sessionsUpdated,
		SessionsFailed:  c.sessionsFailed,
		ChunksWritten:   c.chunksWritten,
		BytesWritten:    c.bytesWritten,
		ServiceRetries:  c.serviceRetries,
		Waits:           c.waits,
		DeviceID:        c.deviceID,
		SessionID:       c.sessionID,
	}
}
