package protocol

import (
	cbor "github.com/fxamacker/cbor/v2"
)

// envelope is the [tag, body] pair every CBOR payload carries
type cborEnvelope struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint64
	Body cbor.RawMessage
}

type cborNonce struct {
	_     struct{} `cbor:",toarray"`
	Value uint64
}

type cborFrame struct {
	_      struct{} `cbor:",toarray"`
	Pixels []uint32
	Width  uint32
	Height uint32
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec (RFC 8949 core deterministic encoding)
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{
		MaxArrayElements: MaxPayloadSize,
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) Name() string { return "cbor" }

func (c cborCodec) envelope(tag Tag, body any) ([]byte, error) {
	raw, err := c.enc.Marshal(body)
	if err != nil {
		return nil, encodeErr(err)
	}
	out, err := c.enc.Marshal(cborEnvelope{Tag: uint64(tag), Body: raw})
	if err != nil {
		return nil, encodeErr(err)
	}
	return out, nil
}

func (c cborCodec) open(data []byte) (cborEnvelope, error) {
	var env cborEnvelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return env, decodeErr(err)
	}
	return env, nil
}

func (c cborCodec) EncodeRequest(r Request) ([]byte, error) {
	r, err := derefRequest(r)
	if err != nil {
		return nil, err
	}
	switch v := r.(type) {
	case Ping:
		return c.envelope(TagPing, cborNonce{Value: v.Nonce})
	case VideoStream:
		return c.envelope(TagVideoStream, cborNonce{Value: v.Offset})
	}
	return nil, encodeErr(errUnreachable)
}

func (c cborCodec) DecodeRequest(data []byte) (Request, error) {
	env, err := c.open(data)
	if err != nil {
		return nil, err
	}
	if env.Tag > uint64(TagVideoStream) {
		return nil, unknownTag("request", env.Tag)
	}
	var n cborNonce
	if err := c.dec.Unmarshal(env.Body, &n); err != nil {
		return nil, decodeErr(err)
	}
	if Tag(env.Tag) == TagPing {
		return Ping{Nonce: n.Value}, nil
	}
	return VideoStream{Offset: n.Value}, nil
}

func (c cborCodec) EncodeResponse(r Response) ([]byte, error) {
	r, err := derefResponse(r)
	if err != nil {
		return nil, err
	}
	switch v := r.(type) {
	case Pong:
		return c.envelope(TagPong, cborNonce{Value: v.Nonce})
	case Frame:
		return c.envelope(TagFrame, cborFrame{Pixels: normalizePixels(v.Pixels), Width: v.Width, Height: v.Height})
	}
	return nil, encodeErr(errUnreachable)
}

func (c cborCodec) DecodeResponse(data []byte) (Response, error) {
	env, err := c.open(data)
	if err != nil {
		return nil, err
	}
	if env.Tag > uint64(TagFrame) {
		return nil, unknownTag("response", env.Tag)
	}
	switch Tag(env.Tag) {
	case TagPong:
		var n cborNonce
		if err := c.dec.Unmarshal(env.Body, &n); err != nil {
			return nil, decodeErr(err)
		}
		return Pong{Nonce: n.Value}, nil
	default:
		var f cborFrame
		if err := c.dec.Unmarshal(env.Body, &f); err != nil {
			return nil, decodeErr(err)
		}
		return Frame{Pixels: normalizePixels(f.Pixels), Width: f.Width, Height: f.Height}, nil
	}
}
