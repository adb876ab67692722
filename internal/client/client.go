// Package client connects to a producer, verifies it with a ping and
// renders the video stream it sends.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/internal/transport"
	"github.com/perceptual-video/pvstream/internal/trust"
	"github.com/perceptual-video/pvstream/pkg/protocol"
)

var (
	// ErrHandshake is returned when the ping or the first frame fails
	ErrHandshake = errors.New("client: handshake failed")
	// ErrStreamLost is returned when the video stream fails after the handshake
	ErrStreamLost = errors.New("client: video stream lost")
	// ErrUnexpectedResponse is returned when the producer answers with the wrong variant
	ErrUnexpectedResponse = errors.New("client: unexpected response")
)

// Options configures a consumer connection
type Options struct {
	Codec            protocol.Codec
	TLS              *tls.Config
	Transport        transport.Options
	PingNonce        uint64
	Offset           uint64 // Requested stream offset in ms
	HandshakeTimeout time.Duration
}

// LoadTLS builds a TLS config that trusts only the certificate published at path
func LoadTLS(path, serverName string) (*tls.Config, error) {
	roots, err := trust.LoadCertPool(path)
	if err != nil {
		return nil, err
	}
	return transport.ClientTLSConfig(roots, serverName), nil
}

// Client is a connection to one producer
type Client struct {
	conn quic.Connection
	opts Options
}

// Dial connects to the producer at addr
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.TLS == nil {
		return nil, errors.New("client: TLS config is required")
	}
	if opts.Codec == nil {
		codec, err := protocol.CodecByName(protocol.DefaultCodec)
		if err != nil {
			return nil, err
		}
		opts.Codec = codec
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Transport == (transport.Options{}) {
		opts.Transport = transport.DefaultOptions()
	}

	dctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()
	conn, err := transport.Dial(dctx, addr, opts.TLS, opts.Transport)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	logger.Info("Client", "Connected to %s", conn.RemoteAddr())
	return &Client{conn: conn, opts: opts}, nil
}

// Ping sends a ping with nonce and waits for the matching pong.
// It returns the round-trip time.
func (c *Client) Ping(ctx context.Context, nonce uint64) (time.Duration, error) {
	s, err := c.open(ctx)
	if err != nil {
		return 0, err
	}
	defer s.CancelRead(quic.StreamErrorCode(protocol.CodeNoError))

	start := time.Now()
	if err := protocol.WriteRequest(s, c.opts.Codec, protocol.Ping{Nonce: nonce}); err != nil {
		return 0, fmt.Errorf("send ping: %w", err)
	}
	_ = s.Close()

	resp, err := protocol.ReadResponse(s, c.opts.Codec)
	if err != nil {
		return 0, fmt.Errorf("read pong: %w", err)
	}
	pong, ok := resp.(protocol.Pong)
	if !ok {
		return 0, fmt.Errorf("%w: %T to ping", ErrUnexpectedResponse, resp)
	}
	if pong.Nonce != nonce {
		return 0, fmt.Errorf("%w: pong nonce %d, want %d", ErrUnexpectedResponse, pong.Nonce, nonce)
	}
	return time.Since(start), nil
}

// RequestStream opens a video stream and waits for its first frame
func (c *Client) RequestStream(ctx context.Context, offset uint64) (*Stream, protocol.Frame, error) {
	s, err := c.open(ctx)
	if err != nil {
		return nil, protocol.Frame{}, err
	}
	if err := protocol.WriteRequest(s, c.opts.Codec, protocol.VideoStream{Offset: offset}); err != nil {
		transport.ResetStream(s, protocol.CodeInternal)
		return nil, protocol.Frame{}, fmt.Errorf("send video request: %w", err)
	}

	vs := &Stream{s: s, codec: c.opts.Codec}
	first, err := vs.Next()
	if err != nil {
		vs.Close()
		return nil, protocol.Frame{}, fmt.Errorf("first frame: %w", err)
	}
	// Later frames arrive at the producer's pace
	_ = s.SetReadDeadline(time.Time{})
	return vs, first, nil
}

// Handshake verifies the producer with a ping, then requests the video
// stream. The returned buffer is sized by and holds the first frame.
func (c *Client) Handshake(ctx context.Context) (*Stream, *FrameBuffer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	rtt, err := c.Ping(ctx, c.opts.PingNonce)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	logger.Info("Client", "Ping %d answered in %v", c.opts.PingNonce, rtt)

	stream, first, err := c.RequestStream(ctx, c.opts.Offset)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	buf := NewFrameBuffer(int(first.Width), int(first.Height))
	if err := buf.Replace(first); err != nil {
		stream.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	logger.Info("Client", "Streaming %dx%d", first.Width, first.Height)
	return stream, buf, nil
}

// Close closes the connection with CodeNoError
func (c *Client) Close() error {
	return transport.CloseConn(c.conn, protocol.CodeNoError, "done")
}

// open opens a stream whose deadlines follow ctx
func (c *Client) open(ctx context.Context) (quic.Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}
	return s, nil
}

// Stream is an open video stream
type Stream struct {
	s     quic.Stream
	codec protocol.Codec
}

// Next blocks until the next frame arrives
func (v *Stream) Next() (protocol.Frame, error) {
	return readFrame(v.s, v.codec)
}

// Close abandons the stream
func (v *Stream) Close() {
	transport.ResetStream(v.s, protocol.CodeNoError)
}

func readFrame(r io.Reader, codec protocol.Codec) (protocol.Frame, error) {
	resp, err := protocol.ReadResponse(r, codec)
	if err != nil {
		return protocol.Frame{}, err
	}
	frame, ok := resp.(protocol.Frame)
	if !ok {
		return protocol.Frame{}, fmt.Errorf("%w: %T in video stream", ErrUnexpectedResponse, resp)
	}
	if err := frame.Validate(); err != nil {
		return protocol.Frame{}, err
	}
	return frame, nil
}
