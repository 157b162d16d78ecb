package protocol

// Command type discriminants carried in the wire "type" field.
const (
	WriteType = "write"
	SyncType  = "sync"
	WaitType  = "wait"
	SwapType  = "swap"
)

// Command is one service instruction in response to a status report.
// Concrete types: *Write, *Sync, *Wait, *Swap.
type Command interface {
	commandType() string
}

// Write instructs the device to persist one firmware chunk.
// Offset zero marks the start of a (possibly new) image.
type Write struct {
	Type string `msgpack:"type"`
	// Version is the version of the image the chunk belongs to.
	Version []byte `msgpack:"version"`
	// Offset is the byte position the chunk must be written at.
	Offset uint32 `msgpack:"offset"`
	// Data is the chunk payload.
	Data []byte `msgpack:"data"`
	// CorrelationID is an opaque token, not interpreted by the agent.
	CorrelationID []byte `msgpack:"correlation_id,omitempty"`
}

// Sync tells the device it already holds the desired firmware.
type Sync struct {
	Type    string  `msgpack:"type"`
	Version []byte  `msgpack:"version"`
	Poll    *uint32 `msgpack:"poll,omitempty"`
	// CorrelationID is an opaque token, not interpreted by the agent.
	CorrelationID []byte `msgpack:"correlation_id,omitempty"`
}

// Wait tells the device to hold off and report again later.
// Poll, when present, is the wait duration in seconds.
type Wait struct {
	Type string  `msgpack:"type"`
	Poll *uint32 `msgpack:"poll,omitempty"`
	// CorrelationID is an opaque token, not interpreted by the agent.
	CorrelationID []byte `msgpack:"correlation_id,omitempty"`
}

// Swap tells the device the image is fully transferred and should be
// validated against Checksum and activated.
type Swap struct {
	Type    string `msgpack:"type"`
	Version []byte `msgpack:"version"`
	// Checksum is the whole-image digest used by the device to validate
	// the download before applying it.
	Checksum []byte `msgpack:"checksum"`
	// CorrelationID is an opaque token, not interpreted by the agent.
	CorrelationID []byte `msgpack:"correlation_id,omitempty"`
}

func (*Write) commandType() string { return WriteType }
func (*Sync) commandType() string  { return SyncType }
func (*Wait) commandType() string  { return WaitType }
func (*Swap) commandType() string  { return SwapType }

// NewWrite builds a write command with the type discriminant set.
func NewWrite(version []byte, offset uint32, data []byte, correlationID []byte) *Write {
	return &Write{Type: WriteType, Version: version, Offset: offset, Data: data, CorrelationID: correlationID}
}

// NewSync builds a sync command with the type discriminant set.
func NewSync(version []byte, poll *uint32, correlationID []byte) *Sync {
	return &Sync{Type: SyncType, Version: version, Poll: poll, CorrelationID: correlationID}
}

// NewWait builds a wait command with the type discriminant set.
func NewWait(poll *uint32, correlationID []byte) *Wait {
	return &Wait{Type: WaitType, Poll: poll, CorrelationID: correlationID}
}

// NewSwap builds a swap command with the type discriminant set.
func NewSwap(version, checksum []byte, correlationID []byte) *Swap {
	return &Swap{Type: SwapType, Version: version, Checksum: checksum, CorrelationID: correlationID}
}
