// Package service provides UpdateService implementations: an in-memory
// decision service for tests and the dev server, and an HTTP transport
// client for reaching a remote service.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"sync"

	"github.com/lanternworks/otalink/protocol"
	"github.com/lanternworks/otalink/updater"
)

// DefaultChunkSize is used when a status report carries no MTU.
const DefaultChunkSize = 512

// InMemory is an update service holding a single target image. Devices
// already at the target version are answered with sync; all others are
// driven through a chunked transfer of the image, then a swap carrying
// the image's SHA-256 digest.
type InMemory struct {
	mu sync.Mutex

	version  []byte
	image    []byte
	checksum [sha256.Size]byte

	// Requests records every status report received, in order.
	Requests []*protocol.StatusReport

	// Poll, when set, is attached to sync commands.
	Poll *uint32
}

// NewInMemory creates an in-memory service serving the given image as the
// given target version.
func NewInMemory(version, image []byte) *InMemory {
	return &InMemory{
		version:  bytes.Clone(version),
		image:    bytes.Clone(image),
		checksum: sha256.Sum256(image),
	}
}

// SetTarget atomically replaces the target version and image.
func (s *InMemory) SetTarget(version, image []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = bytes.Clone(version)
	s.image = bytes.Clone(image)
	s.checksum = sha256.Sum256(image)
}

// Request implements updater.UpdateService.
func (s *InMemory) Request(_ context.Context, report *protocol.StatusReport) (protocol.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, report)

	if bytes.Equal(report.Version, s.version) {
		return protocol.NewSync(bytes.Clone(s.version), s.Poll, report.CorrelationID), nil
	}

	// Resume only applies to a download of the current target; a stale
	// in-progress version restarts from offset zero.
	var offset uint32
	if report.Update != nil && bytes.Equal(report.Update.Version, s.version) {
		offset = report.Update.Offset
	}

	if int(offset) >= len(s.image) {
		return protocol.NewSwap(bytes.Clone(s.version), s.checksum[:], report.CorrelationID), nil
	}

	chunkSize := uint32(DefaultChunkSize)
	if report.MTU != nil && *report.MTU > 0 {
		chunkSize = *report.MTU
	}

	end := int(offset) + int(chunkSize)
	if end > len(s.image) {
		end = len(s.image)
	}
	chunk := bytes.Clone(s.image[offset:end])

	return protocol.NewWrite(bytes.Clone(s.version), offset, chunk, report.CorrelationID), nil
}

var _ updater.UpdateService = (*InMemory)(nil)
