package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Codec encodes messages into a self-describing binary payload.
// Decode must be the exact inverse of Encode. Implementations are
// deterministic and safe for concurrent use.
type Codec interface {
	Name() string
	EncodeRequest(r Request) ([]byte, error)
	DecodeRequest(data []byte) (Request, error)
	EncodeResponse(r Response) ([]byte, error)
	DecodeResponse(data []byte) (Response, error)
}

// DefaultCodec is the codec used when none is configured
const DefaultCodec = "cbor"

// Codecs lists the registered codec names
var Codecs = []string{"cbor", "msgpack", "proto"}

// CodecByName returns the codec registered under name
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cbor":
		return CBOR()
	case "msgpack":
		return MsgPack(), nil
	case "proto", "protobuf":
		return Proto(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want one of %s)", name, strings.Join(Codecs, ", "))
	}
}

func derefRequest(r Request) (Request, error) {
	switch v := r.(type) {
	case Ping, VideoStream:
		return v, nil
	case *Ping:
		if v != nil {
			return *v, nil
		}
	case *VideoStream:
		if v != nil {
			return *v, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported request %T", ErrEncode, r)
}

func derefResponse(r Response) (Response, error) {
	switch v := r.(type) {
	case Pong, Frame:
		return v, nil
	case *Pong:
		if v != nil {
			return *v, nil
		}
	case *Frame:
		if v != nil {
			return *v, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported response %T", ErrEncode, r)
}

func normalizePixels(px []uint32) []uint32 {
	if px == nil {
		return []uint32{}
	}
	return px
}

func unknownTag(kind string, tag uint64) error {
	return fmt.Errorf("%w: %w: %s tag %d", ErrDecode, ErrUnknownVariant, kind, tag)
}

func decodeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrDecode, err)
}

func encodeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrEncode, err)
}

var errUnreachable = errors.New("unhandled variant")
