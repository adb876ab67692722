package server

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perceptual-video/pvstream/internal/broadcast"
	"github.com/perceptual-video/pvstream/internal/filter"
	"github.com/perceptual-video/pvstream/internal/metrics"
	"github.com/perceptual-video/pvstream/internal/transport"
	"github.com/perceptual-video/pvstream/internal/trust"
	"github.com/perceptual-video/pvstream/pkg/protocol"
	"github.com/perceptual-video/pvstream/pkg/types"
)

const testNonce uint64 = 12313897890

type harness struct {
	addr    string
	hub     *broadcast.Hub
	metrics *metrics.Metrics
	certs   string
	codec   protocol.Codec
}

func startServer(t *testing.T, opts Options) *harness {
	t.Helper()

	id, err := trust.Generate(nil, 0)
	require.NoError(t, err)
	certPath := filepath.Join(t.TempDir(), "pub_key.pem")
	require.NoError(t, trust.FilePublisher{Path: certPath}.Publish(id))

	l, err := transport.Listen("127.0.0.1:0", id.Certificate, transport.DefaultOptions())
	require.NoError(t, err)

	hub := broadcast.NewHub()
	m := metrics.New()
	srv := New(hub, m, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		hub.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return &harness{
		addr:    l.Addr().String(),
		hub:     hub,
		metrics: m,
		certs:   certPath,
		codec:   srv.opts.Codec,
	}
}

func (h *harness) dial(t *testing.T) quic.Connection {
	t.Helper()
	roots, err := trust.LoadCertPool(h.certs)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, h.addr, transport.ClientTLSConfig(roots, "localhost"), transport.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.CloseConn(conn, protocol.CodeNoError, "done") })
	return conn
}

func (h *harness) open(t *testing.T, conn quic.Connection) quic.Stream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := conn.OpenStreamSync(ctx)
	require.NoError(t, err)
	_ = s.SetReadDeadline(time.Now().Add(5 * time.Second))
	return s
}

// publishLoop publishes a 4x2 frame every few milliseconds until the test ends
func publishLoop(t *testing.T, hub *broadcast.Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		var seq uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				seq++
				hub.Publish(&types.VideoFrame{
					Pixels: types.FillPixels(4, 2, uint32(seq)),
					Width:  4,
					Height: 2,
					Seq:    seq,
				})
			}
		}
	}()
}

func TestPingEchoesNonce(t *testing.T) {
	h := startServer(t, Options{})
	conn := h.dial(t)
	s := h.open(t, conn)

	require.NoError(t, protocol.WriteRequest(s, h.codec, protocol.Ping{Nonce: testNonce}))
	resp, err := protocol.ReadResponse(s, h.codec)
	require.NoError(t, err)
	assert.Equal(t, protocol.Pong{Nonce: testNonce}, resp)

	// The producer closes its send side after the pong
	_, err = protocol.ReadResponse(s, h.codec)
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return h.metrics.PingsServed.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestVideoStreamSendsFrames(t *testing.T) {
	h := startServer(t, Options{})
	h.hub.Publish(&types.VideoFrame{Pixels: types.FillPixels(4, 2, types.NeutralGray), Width: 4, Height: 2, Seq: 0})
	publishLoop(t, h.hub)

	conn := h.dial(t)
	s := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(s, h.codec, protocol.VideoStream{Offset: 0}))

	for i := 0; i < 5; i++ {
		resp, err := protocol.ReadResponse(s, h.codec)
		require.NoError(t, err)
		frame, ok := resp.(protocol.Frame)
		require.True(t, ok, "response %d is %T", i, resp)
		assert.Positive(t, frame.Width)
		assert.Positive(t, frame.Height)
		assert.Len(t, frame.Pixels, int(frame.Width*frame.Height))
	}

	assert.Equal(t, int64(1), h.metrics.ActiveSessions.Load())
	assert.GreaterOrEqual(t, h.metrics.FramesSent.Load(), uint64(5))
}

func TestVideoStreamEndsWhenConsumerLeaves(t *testing.T) {
	h := startServer(t, Options{})
	publishLoop(t, h.hub)

	conn := h.dial(t)
	s := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(s, h.codec, protocol.VideoStream{}))
	_, err := protocol.ReadResponse(s, h.codec)
	require.NoError(t, err)

	require.NoError(t, transport.CloseConn(conn, protocol.CodeNoError, "done"))

	assert.Eventually(t, func() bool {
		return h.metrics.ActiveSessions.Load() == 0 && h.metrics.ActiveConnections.Load() == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.metrics.ConnectionErrors.Load())
	assert.Zero(t, h.hub.Stats().Subscribers)
}

func TestAbnormalCloseIsCountedAsConnectionError(t *testing.T) {
	h := startServer(t, Options{})
	conn := h.dial(t)

	s := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(s, h.codec, protocol.Ping{Nonce: testNonce}))
	_, err := protocol.ReadResponse(s, h.codec)
	require.NoError(t, err)

	require.NoError(t, transport.CloseConn(conn, protocol.CodeInternal, "crash"))

	assert.Eventually(t, func() bool {
		return h.metrics.ActiveConnections.Load() == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), h.metrics.ConnectionErrors.Load())
}

// publishSeq publishes a 1x1 frame whose pixel carries seq
func publishSeq(hub *broadcast.Hub, seq uint64) {
	hub.Publish(&types.VideoFrame{Pixels: []uint32{uint32(seq)}, Width: 1, Height: 1, Seq: seq})
}

func readSeq(t *testing.T, s quic.Stream, codec protocol.Codec) uint32 {
	t.Helper()
	resp, err := protocol.ReadResponse(s, codec)
	require.NoError(t, err)
	frame, ok := resp.(protocol.Frame)
	require.True(t, ok, "expected a frame, got %T", resp)
	require.Len(t, frame.Pixels, 1)
	return frame.Pixels[0]
}

func TestEachVideoSessionGetsItsOwnFilter(t *testing.T) {
	h := startServer(t, Options{NewFilter: func() (filter.Filter, error) {
		return filter.New(filter.Config{Policy: filter.PolicyPeriodic, KeepInterval: 2})
	}})
	conn := h.dial(t)
	waitSubscribers := func(n int) {
		require.Eventually(t, func() bool { return h.hub.Stats().Subscribers == n }, 3*time.Second, 5*time.Millisecond)
	}

	first := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(first, h.codec, protocol.VideoStream{}))
	waitSubscribers(1)
	publishSeq(h.hub, 1)
	publishSeq(h.hub, 2)
	assert.Equal(t, uint32(2), readSeq(t, first, h.codec))

	// The second session counts from its own start: frame 2 is its first
	second := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(second, h.codec, protocol.VideoStream{}))
	waitSubscribers(2)
	publishSeq(h.hub, 3)
	assert.Equal(t, uint32(3), readSeq(t, second, h.codec))
	publishSeq(h.hub, 4)
	assert.Equal(t, uint32(4), readSeq(t, first, h.codec))

	assert.Equal(t, uint64(7), h.metrics.FramesEvaluated.Load())
	assert.Equal(t, uint64(3), h.metrics.FramesKept.Load())
}

func TestVideoStreamFailsWhenFilterCannotBeBuilt(t *testing.T) {
	h := startServer(t, Options{NewFilter: func() (filter.Filter, error) {
		return filter.New(filter.Config{Policy: "random"})
	}})
	publishLoop(t, h.hub)
	conn := h.dial(t)

	s := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(s, h.codec, protocol.VideoStream{}))
	_, err := protocol.ReadResponse(s, h.codec)
	require.Error(t, err)
	code, ok := transport.StreamCode(err)
	require.True(t, ok, "expected a stream reset, got %v", err)
	assert.Equal(t, protocol.CodeInternal, code)
	assert.Eventually(t, func() bool { return h.metrics.ActiveSessions.Load() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAdmissionRejectsExtraStreams(t *testing.T) {
	h := startServer(t, Options{MaxStreams: 1})
	publishLoop(t, h.hub)
	conn := h.dial(t)

	first := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(first, h.codec, protocol.VideoStream{}))
	_, err := protocol.ReadResponse(first, h.codec)
	require.NoError(t, err)

	second := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(second, h.codec, protocol.VideoStream{}))
	_, err = protocol.ReadResponse(second, h.codec)
	require.Error(t, err)
	code, ok := transport.StreamCode(err)
	require.True(t, ok, "expected a stream reset, got %v", err)
	assert.Equal(t, protocol.CodeBusy, code)
	assert.Equal(t, uint64(1), h.metrics.SessionsRejected.Load())

	// The admitted session is unaffected
	_, err = protocol.ReadResponse(first, h.codec)
	assert.NoError(t, err)
}

func TestMalformedRequestIsIsolated(t *testing.T) {
	h := startServer(t, Options{})
	conn := h.dial(t)

	bad := h.open(t, conn)
	require.NoError(t, protocol.WriteFrame(bad, []byte{0xff, 0x00, 0x13}))

	good := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(good, h.codec, protocol.Ping{Nonce: testNonce}))
	resp, err := protocol.ReadResponse(good, h.codec)
	require.NoError(t, err)
	assert.Equal(t, protocol.Pong{Nonce: testNonce}, resp)

	_, err = protocol.ReadResponse(bad, h.codec)
	require.Error(t, err)
	code, ok := transport.StreamCode(err)
	require.True(t, ok, "expected a stream reset, got %v", err)
	assert.Equal(t, protocol.CodeProtocol, code)

	assert.Eventually(t, func() bool { return h.metrics.ProtocolErrors.Load() == 1 }, time.Second, 10*time.Millisecond)

	// The connection still serves new streams
	again := h.open(t, conn)
	require.NoError(t, protocol.WriteRequest(again, h.codec, protocol.Ping{Nonce: 1}))
	resp, err = protocol.ReadResponse(again, h.codec)
	require.NoError(t, err)
	assert.Equal(t, protocol.Pong{Nonce: 1}, resp)
}

func TestTruncatedRequestIsRejected(t *testing.T) {
	h := startServer(t, Options{})
	conn := h.dial(t)

	s := h.open(t, conn)
	// Declares 16 payload bytes but ends after 2
	_, err := s.Write([]byte{0, 0, 0, 16, 0xa1, 0x00})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = protocol.ReadResponse(s, h.codec)
	require.Error(t, err)
	code, ok := transport.StreamCode(err)
	require.True(t, ok, "expected a stream reset, got %v", err)
	assert.Equal(t, protocol.CodeProtocol, code)
}

func TestCodecsInterop(t *testing.T) {
	for _, name := range protocol.Codecs {
		t.Run(name, func(t *testing.T) {
			codec, err := protocol.CodecByName(name)
			require.NoError(t, err)
			h := startServer(t, Options{Codec: codec})
			conn := h.dial(t)
			s := h.open(t, conn)

			require.NoError(t, protocol.WriteRequest(s, codec, protocol.Ping{Nonce: testNonce}))
			resp, err := protocol.ReadResponse(s, codec)
			require.NoError(t, err)
			assert.Equal(t, protocol.Pong{Nonce: testNonce}, resp)
		})
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	id, err := trust.Generate(nil, 0)
	require.NoError(t, err)
	l, err := transport.Listen("127.0.0.1:0", id.Certificate, transport.DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(broadcast.NewHub(), nil, Options{}).Serve(ctx, l) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
