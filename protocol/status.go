// Package protocol defines the OTA update protocol messages and their
// wire framing.
//
// A session is a sequence of status report / command exchanges between a
// device agent and an update service. The agent sends a StatusReport and
// the service answers with exactly one Command.
package protocol

// VersionMaxLen is the maximum length in bytes of a firmware version
// identifier. Versions exceeding the bound fail encoding or decoding,
// never silent truncation.
const VersionMaxLen = 32

// StatusReport is the outbound report sent by a device agent on every
// protocol exchange.
//
// A first-contact report carries only the current version and the MTU.
// An in-progress report additionally carries Update, describing the
// download being resumed or continued.
type StatusReport struct {
	// Version is the device's current firmware version.
	Version []byte `msgpack:"version"`
	// MTU is the device's maximum accepted payload length per write.
	MTU *uint32 `msgpack:"mtu,omitempty"`
	// Update is set only while a download is in progress.
	Update *UpdateStatus `msgpack:"update,omitempty"`
	// CorrelationID is an opaque token echoed by the service. The agent
	// does not interpret it.
	CorrelationID []byte `msgpack:"correlation_id,omitempty"`
}

// UpdateStatus describes an in-progress firmware download.
type UpdateStatus struct {
	// Offset is the byte position at which the next chunk must be written.
	Offset uint32 `msgpack:"offset"`
	// Version is the version of the image being downloaded.
	Version []byte `msgpack:"version"`
}

// FirstReport builds a first-contact status report.
func FirstReport(version []byte, mtu *uint32, correlationID []byte) *StatusReport {
	return &StatusReport{
		Version:       version,
		MTU:           mtu,
		CorrelationID: correlationID,
	}
}

// UpdateReport builds an in-progress status report.
func UpdateReport(version []byte, mtu *uint32, offset uint32, nextVersion []byte, correlationID []byte) *StatusReport {
	return &StatusReport{
		Version: version,
		MTU:     mtu,
		Update: &UpdateStatus{
			Offset:  offset,
			Version: nextVersion,
		},
		CorrelationID: correlationID,
	}
}
