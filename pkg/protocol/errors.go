package protocol

import "errors"

var (
	// ErrEncode is returned when a message cannot be encoded
	ErrEncode = errors.New("protocol: encode error")
	// ErrDecode is returned for truncated, malformed or unknown payloads
	ErrDecode = errors.New("protocol: decode error")
	// ErrUnknownVariant is wrapped by ErrDecode when the tag is not known
	ErrUnknownVariant = errors.New("protocol: unknown variant")
	// ErrTruncated is returned when a stream ends inside a frame
	ErrTruncated = errors.New("protocol: stream closed before full frame was read")
	// ErrFrameTooLarge is returned when the declared length exceeds MaxPayloadSize
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrInvalidFrame is returned when a Frame's pixel count disagrees with its dimensions
	ErrInvalidFrame = errors.New("protocol: invalid frame")
)

// Stream and connection error codes shared by producer and consumer
const (
	CodeNoError  uint64 = 0x0
	CodeProtocol uint64 = 0x1
	CodeBusy     uint64 = 0x2
	CodeInternal uint64 = 0x3
)
