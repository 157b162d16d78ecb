package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (1 MiB), including length prefix.
	MaxFrameSize = 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error or a decoded
	// field violating a protocol bound.
	FrameErrorDecode
	// FrameErrorEncode indicates a msgpack encoding error or an outbound
	// field violating a protocol bound.
	FrameErrorEncode
)

// FrameError represents a frame encoding or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a frame decode error.
func IsDecodeError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr) && frameErr.Kind == FrameErrorDecode
}

// IsEncodeError reports whether err is a frame encode error.
func IsEncodeError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr) && frameErr.Kind == FrameErrorEncode
}

// checkVersionBound enforces VersionMaxLen on a version identifier.
// kind selects encode vs decode classification for the failure.
func checkVersionBound(version []byte, kind FrameErrorKind) error {
	if len(version) > VersionMaxLen {
		return &FrameError{
			Kind: kind,
			Msg:  fmt.Sprintf("version length %d exceeds maximum %d", len(version), VersionMaxLen),
		}
	}
	return nil
}

// EncodeStatusReport encodes a status report payload.
// Version identifiers exceeding VersionMaxLen fail with an encode error.
func EncodeStatusReport(report *StatusReport) ([]byte, error) {
	if err := checkVersionBound(report.Version, FrameErrorEncode); err != nil {
		return nil, err
	}
	if report.Update != nil {
		if err := checkVersionBound(report.Update.Version, FrameErrorEncode); err != nil {
			return nil, err
		}
	}

	payload, err := msgpack.Marshal(report)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorEncode,
			Msg:  "failed to encode status report",
			Err:  err,
		}
	}
	return payload, nil
}

// DecodeStatusReport decodes a status report payload.
func DecodeStatusReport(payload []byte) (*StatusReport, error) {
	var report StatusReport
	if err := msgpack.Unmarshal(payload, &report); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode status report",
			Err:  err,
		}
	}
	if err := checkVersionBound(report.Version, FrameErrorDecode); err != nil {
		return nil, err
	}
	if report.Update != nil {
		if err := checkVersionBound(report.Update.Version, FrameErrorDecode); err != nil {
			return nil, err
		}
	}
	return &report, nil
}

// EncodeCommand encodes a command payload.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := msgpack.Marshal(cmd)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorEncode,
			Msg:  fmt.Sprintf("failed to encode %s command", cmd.commandType()),
			Err:  err,
		}
	}
	return payload, nil
}

// commandProbe is used to peek at the type field without full decode.
type commandProbe struct {
	Type string `msgpack:"type"`
}

// DecodeCommand decodes a command payload.
// Discriminates on the type field: write, sync, wait, swap.
// Version identifiers exceeding VersionMaxLen fail with a decode error.
func DecodeCommand(payload []byte) (Command, error) {
	var probe commandProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode command type",
			Err:  err,
		}
	}

	var (
		cmd     Command
		version []byte
	)
	switch probe.Type {
	case WriteType:
		var write Write
		if err := unmarshalCommand(payload, &write); err != nil {
			return nil, err
		}
		cmd, version = &write, write.Version
	case SyncType:
		var sync Sync
		if err := unmarshalCommand(payload, &sync); err != nil {
			return nil, err
		}
		cmd, version = &sync, sync.Version
	case WaitType:
		var wait Wait
		if err := unmarshalCommand(payload, &wait); err != nil {
			return nil, err
		}
		cmd = &wait
	case SwapType:
		var swap Swap
		if err := unmarshalCommand(payload, &swap); err != nil {
			return nil, err
		}
		cmd, version = &swap, swap.Version
	default:
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("unknown command type %q", probe.Type),
		}
	}

	if err := checkVersionBound(version, FrameErrorDecode); err != nil {
		return nil, err
	}
	return cmd, nil
}

func unmarshalCommand(payload []byte, dst any) error {
	if err := msgpack.Unmarshal(payload, dst); err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode command",
			Err:  err,
		}
	}
	return nil
}

// FrameEncoder writes length-prefixed msgpack frames to a stream.
type FrameEncoder struct {
	writer io.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// WriteFrame writes a single payload as a length-prefixed frame.
func (e *FrameEncoder) WriteFrame(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := e.writer.Write(lengthBuf[:]); err != nil {
		return &FrameError{
			Kind: FrameErrorEncode,
			Msg:  "failed to write length prefix",
			Err:  err,
		}
	}
	if _, err := e.writer.Write(payload); err != nil {
		return &FrameError{
			Kind: FrameErrorEncode,
			Msg:  "failed to write payload",
			Err:  err,
		}
	}
	return nil
}

// FrameDecoder decodes length-prefixed msgpack frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
// Returns the raw payload bytes (msgpack-encoded).
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])

	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}
