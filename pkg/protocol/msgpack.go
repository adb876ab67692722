package protocol

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type msgpackEnvelope struct {
	_msgpack struct{} `msgpack:",as_array"`
	Tag      uint64
	Body     msgpack.RawMessage
}

type msgpackNonce struct {
	_msgpack struct{} `msgpack:",as_array"`
	Value    uint64
}

type msgpackFrame struct {
	_msgpack struct{} `msgpack:",as_array"`
	Pixels   []uint32
	Width    uint32
	Height   uint32
}

type msgpackCodec struct{}

// MsgPack returns a MessagePack codec. Structs are encoded as arrays so the
// payload does not depend on field names.
func MsgPack() Codec { return msgpackCodec{} }

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) envelope(tag Tag, body any) ([]byte, error) {
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, encodeErr(err)
	}
	out, err := msgpack.Marshal(&msgpackEnvelope{Tag: uint64(tag), Body: raw})
	if err != nil {
		return nil, encodeErr(err)
	}
	return out, nil
}

// strictUnmarshal decodes exactly one value and rejects trailing bytes
func strictUnmarshal(data []byte, v any) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return decodeErr(err)
	}
	if r.Len() > 0 {
		return decodeErr(fmt.Errorf("msgpack: %d bytes of extraneous data", r.Len()))
	}
	return nil
}

func (c msgpackCodec) EncodeRequest(r Request) ([]byte, error) {
	r, err := derefRequest(r)
	if err != nil {
		return nil, err
	}
	switch v := r.(type) {
	case Ping:
		return c.envelope(TagPing, &msgpackNonce{Value: v.Nonce})
	case VideoStream:
		return c.envelope(TagVideoStream, &msgpackNonce{Value: v.Offset})
	}
	return nil, encodeErr(errUnreachable)
}

func (msgpackCodec) DecodeRequest(data []byte) (Request, error) {
	var env msgpackEnvelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Tag > uint64(TagVideoStream) {
		return nil, unknownTag("request", env.Tag)
	}
	var n msgpackNonce
	if err := strictUnmarshal(env.Body, &n); err != nil {
		return nil, err
	}
	if Tag(env.Tag) == TagPing {
		return Ping{Nonce: n.Value}, nil
	}
	return VideoStream{Offset: n.Value}, nil
}

func (c msgpackCodec) EncodeResponse(r Response) ([]byte, error) {
	r, err := derefResponse(r)
	if err != nil {
		return nil, err
	}
	switch v := r.(type) {
	case Pong:
		return c.envelope(TagPong, &msgpackNonce{Value: v.Nonce})
	case Frame:
		return c.envelope(TagFrame, &msgpackFrame{Pixels: normalizePixels(v.Pixels), Width: v.Width, Height: v.Height})
	}
	return nil, encodeErr(errUnreachable)
}

func (msgpackCodec) DecodeResponse(data []byte) (Response, error) {
	var env msgpackEnvelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, err
	}
	switch {
	case env.Tag == uint64(TagPong):
		var n msgpackNonce
		if err := strictUnmarshal(env.Body, &n); err != nil {
			return nil, err
		}
		return Pong{Nonce: n.Value}, nil
	case env.Tag == uint64(TagFrame):
		var f msgpackFrame
		if err := strictUnmarshal(env.Body, &f); err != nil {
			return nil, err
		}
		return Frame{Pixels: normalizePixels(f.Pixels), Width: f.Width, Height: f.Height}, nil
	}
	return nil, unknownTag("response", env.Tag)
}
