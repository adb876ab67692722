// Package protocol defines the request/response messages exchanged on a
// stream, their payload codecs and the length-prefixed framing.
package protocol

import "fmt"

// Tag identifies a message variant on the wire
type Tag uint8

// Request tags
const (
	TagPing        Tag = 0
	TagVideoStream Tag = 1
)

// Response tags
const (
	TagPong  Tag = 0
	TagFrame Tag = 1
)

// Request is a message sent by the consumer to open an exchange.
// Implemented by Ping and VideoStream.
type Request interface {
	requestTag() Tag
}

// Response is a message sent by the producer.
// Implemented by Pong and Frame.
type Response interface {
	responseTag() Tag
}

// Ping is a liveness probe
type Ping struct {
	Nonce uint64
}

// VideoStream asks the producer to start streaming at Offset milliseconds
type VideoStream struct {
	Offset uint64
}

// Pong echoes the nonce of a Ping
type Pong struct {
	Nonce uint64
}

// Frame is one decoded picture, packed 0x00RRGGBB, row-major
type Frame struct {
	Pixels []uint32
	Width  uint32
	Height uint32
}

func (Ping) requestTag() Tag        { return TagPing }
func (VideoStream) requestTag() Tag { return TagVideoStream }
func (Pong) responseTag() Tag       { return TagPong }
func (Frame) responseTag() Tag      { return TagFrame }

// Validate checks that the pixel count matches the frame dimensions
func (f *Frame) Validate() error {
	want := uint64(f.Width) * uint64(f.Height)
	if uint64(len(f.Pixels)) != want {
		return fmt.Errorf("%w: %d pixels for %dx%d", ErrInvalidFrame, len(f.Pixels), f.Width, f.Height)
	}
	return nil
}

// String implements fmt.Stringer without dumping pixel data
func (f Frame) String() string {
	return fmt.Sprintf("Frame{%dx%d, %d pixels}", f.Width, f.Height, len(f.Pixels))
}

// RequestName returns a short name for logging
func RequestName(r Request) string {
	switch r.(type) {
	case Ping, *Ping:
		return "ping"
	case VideoStream, *VideoStream:
		return "video_stream"
	default:
		return fmt.Sprintf("%T", r)
	}
}
