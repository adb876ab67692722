package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf wire layout, written by hand so no generated code is needed:
//
//	message Request  { oneof kind { Nonce ping = 1; Nonce video_stream = 2; } }
//	message Response { oneof kind { Nonce pong = 1; Frame frame = 2; } }
//	message Nonce    { uint64 value = 1; }
//	message Frame    { repeated fixed32 pixels = 1 [packed = true]; uint32 width = 2; uint32 height = 3; }
const (
	fieldNonceValue  protowire.Number = 1
	fieldFramePixels protowire.Number = 1
	fieldFrameWidth  protowire.Number = 2
	fieldFrameHeight protowire.Number = 3
)

type protoCodec struct{}

// Proto returns a Protocol Buffers codec with deterministic field order
func Proto() Codec { return protoCodec{} }

func (protoCodec) Name() string { return "proto" }

func variantField(tag Tag) protowire.Number { return protowire.Number(tag) + 1 }

func appendNonce(b []byte, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, fieldNonceValue, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFrame(b []byte, f Frame) []byte {
	if len(f.Pixels) > 0 {
		packed := make([]byte, 0, len(f.Pixels)*4)
		for _, px := range f.Pixels {
			packed = protowire.AppendFixed32(packed, px)
		}
		b = protowire.AppendTag(b, fieldFramePixels, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if f.Width != 0 {
		b = protowire.AppendTag(b, fieldFrameWidth, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Width))
	}
	if f.Height != 0 {
		b = protowire.AppendTag(b, fieldFrameHeight, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Height))
	}
	return b
}

func wrapVariant(tag Tag, body []byte) []byte {
	out := protowire.AppendTag(nil, variantField(tag), protowire.BytesType)
	return protowire.AppendBytes(out, body)
}

// openVariant returns the oneof field number and its embedded message
func openVariant(data []byte, maxTag Tag, kind string) (Tag, []byte, error) {
	if len(data) == 0 {
		return 0, nil, decodeErr(fmt.Errorf("proto: empty %s", kind))
	}
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return 0, nil, decodeErr(protowire.ParseError(n))
	}
	if num < 1 || num > variantField(maxTag) {
		return 0, nil, unknownTag(kind, uint64(num)-1)
	}
	if typ != protowire.BytesType {
		return 0, nil, decodeErr(fmt.Errorf("proto: %s field %d has wire type %d", kind, num, typ))
	}
	body, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return 0, nil, decodeErr(protowire.ParseError(m))
	}
	if rest := len(data) - n - m; rest != 0 {
		return 0, nil, decodeErr(fmt.Errorf("proto: %d bytes after %s variant", rest, kind))
	}
	return Tag(num - 1), body, nil
}

func consumeNonce(b []byte) (uint64, error) {
	var value uint64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, decodeErr(protowire.ParseError(n))
		}
		b = b[n:]
		if num == fieldNonceValue && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0, decodeErr(protowire.ParseError(m))
			}
			value = v
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return 0, decodeErr(protowire.ParseError(m))
		}
		b = b[m:]
	}
	return value, nil
}

func consumeUint32(b []byte) (uint32, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, decodeErr(protowire.ParseError(n))
	}
	if v > math.MaxUint32 {
		return 0, 0, decodeErr(fmt.Errorf("proto: value %d overflows uint32", v))
	}
	return uint32(v), n, nil
}

func consumeFrame(b []byte) (Frame, error) {
	f := Frame{Pixels: []uint32{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, decodeErr(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldFramePixels && typ == protowire.BytesType:
			packed, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Frame{}, decodeErr(protowire.ParseError(m))
			}
			if len(packed)%4 != 0 {
				return Frame{}, decodeErr(fmt.Errorf("proto: packed pixels length %d not a multiple of 4", len(packed)))
			}
			for i := 0; i < len(packed); i += 4 {
				f.Pixels = append(f.Pixels, binary.LittleEndian.Uint32(packed[i:]))
			}
			b = b[m:]
		case num == fieldFramePixels && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return Frame{}, decodeErr(protowire.ParseError(m))
			}
			f.Pixels = append(f.Pixels, v)
			b = b[m:]
		case num == fieldFrameWidth && typ == protowire.VarintType:
			v, m, err := consumeUint32(b)
			if err != nil {
				return Frame{}, err
			}
			f.Width = v
			b = b[m:]
		case num == fieldFrameHeight && typ == protowire.VarintType:
			v, m, err := consumeUint32(b)
			if err != nil {
				return Frame{}, err
			}
			f.Height = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Frame{}, decodeErr(protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return f, nil
}

func (protoCodec) EncodeRequest(r Request) ([]byte, error) {
	r, err := derefRequest(r)
	if err != nil {
		return nil, err
	}
	switch v := r.(type) {
	case Ping:
		return wrapVariant(TagPing, appendNonce(nil, v.Nonce)), nil
	case VideoStream:
		return wrapVariant(TagVideoStream, appendNonce(nil, v.Offset)), nil
	}
	return nil, encodeErr(errUnreachable)
}

func (protoCodec) DecodeRequest(data []byte) (Request, error) {
	tag, body, err := openVariant(data, TagVideoStream, "request")
	if err != nil {
		return nil, err
	}
	v, err := consumeNonce(body)
	if err != nil {
		return nil, err
	}
	if tag == TagPing {
		return Ping{Nonce: v}, nil
	}
	return VideoStream{Offset: v}, nil
}

func (protoCodec) EncodeResponse(r Response) ([]byte, error) {
	r, err := derefResponse(r)
	if err != nil {
		return nil, err
	}
	switch v := r.(type) {
	case Pong:
		return wrapVariant(TagPong, appendNonce(nil, v.Nonce)), nil
	case Frame:
		return wrapVariant(TagFrame, appendFrame(nil, v)), nil
	}
	return nil, encodeErr(errUnreachable)
}

func (protoCodec) DecodeResponse(data []byte) (Response, error) {
	tag, body, err := openVariant(data, TagFrame, "response")
	if err != nil {
		return nil, err
	}
	if tag == TagPong {
		v, err := consumeNonce(body)
		if err != nil {
			return nil, err
		}
		return Pong{Nonce: v}, nil
	}
	f, err := consumeFrame(body)
	if err != nil {
		return nil, err
	}
	return f, nil
}
