package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the big-endian length prefix
const HeaderSize = 4

// MaxPayloadSize bounds the declared payload length (64 MiB)
const MaxPayloadSize = 64 << 20

// WriteFrame writes u32_be(len(payload)) ++ payload with a single Write call.
// A short write is reported as io.ErrShortWrite and never retried.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrame reads exactly one length-prefixed payload.
// It returns io.EOF if the stream ends cleanly before a prefix, and
// ErrTruncated if it ends inside the prefix or the payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: partial length prefix", ErrTruncated)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d payload bytes", ErrTruncated, n)
		}
		return nil, err
	}
	return payload, nil
}

// WriteRequest encodes r with c and writes it as one frame
func WriteRequest(w io.Writer, c Codec, r Request) error {
	payload, err := c.EncodeRequest(r)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadRequest reads one frame and decodes it as a Request
func ReadRequest(r io.Reader, c Codec) (Request, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return c.DecodeRequest(payload)
}

// WriteResponse encodes r with c and writes it as one frame
func WriteResponse(w io.Writer, c Codec, r Response) error {
	payload, err := c.EncodeResponse(r)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadResponse reads one frame and decodes it as a Response
func ReadResponse(r io.Reader, c Codec) (Response, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return c.DecodeResponse(payload)
}
