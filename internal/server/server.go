// Package server accepts QUIC connections and answers the requests carried
// on their bidirectional streams.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/semaphore"

	"github.com/perceptual-video/pvstream/internal/broadcast"
	"github.com/perceptual-video/pvstream/internal/filter"
	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/internal/metrics"
	"github.com/perceptual-video/pvstream/internal/transport"
	"github.com/perceptual-video/pvstream/pkg/protocol"
	"github.com/perceptual-video/pvstream/pkg/types"
)

var (
	// ErrUnknownRequest is returned when a stream does not start with a valid request
	ErrUnknownRequest = errors.New("server: unknown request")
	// ErrBusy is returned when a video stream is refused by admission control
	ErrBusy = errors.New("server: too many video streams")
)

// Options tunes request handling
type Options struct {
	Codec          protocol.Codec
	MaxStreams     int64         // Concurrent video sessions across all connections
	RequestTimeout time.Duration // Time allowed for the request to arrive
	WriteTimeout   time.Duration // Deadline for each frame write

	// NewFilter builds the frame filter of one video session. Nil forwards
	// every published frame.
	NewFilter func() (filter.Filter, error)
}

// DefaultOptions returns the default request handling options
func DefaultOptions() Options {
	codec, _ := protocol.CodecByName(protocol.DefaultCodec)
	return Options{
		Codec:          codec,
		MaxStreams:     16,
		RequestTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Server dispatches stream requests to the ping responder and to video
// sessions fed by the hub
type Server struct {
	opts    Options
	hub     *broadcast.Hub
	metrics *metrics.Metrics
	streams *semaphore.Weighted
	wg      sync.WaitGroup
}

// New creates a server. A nil metrics set is replaced by a private one.
func New(hub *broadcast.Hub, m *metrics.Metrics, opts Options) *Server {
	def := DefaultOptions()
	if opts.Codec == nil {
		opts.Codec = def.Codec
	}
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = def.MaxStreams
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		opts:    opts,
		hub:     hub,
		metrics: m,
		streams: semaphore.NewWeighted(opts.MaxStreams),
	}
}

// Metrics returns the server's metrics set
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Serve accepts connections on l until ctx is cancelled or l is closed.
// It closes l and waits for every connection handler before returning.
// A shutdown through ctx or a closed listener returns nil.
func (s *Server) Serve(ctx context.Context, l *quic.Listener) error {
	defer s.wg.Wait()
	defer l.Close()

	logger.Info("Server", "Listening on %s (codec: %s, max streams: %d)",
		l.Addr(), s.opts.Codec.Name(), s.opts.MaxStreams)

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || transport.IsClosed(err) {
				logger.Info("Server", "Listener stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.handleConnection(ctx, conn); err != nil {
				logger.Warn("Server", "%v", err)
			}
		}()
	}
}

// handleConnection accepts streams until the peer or ctx closes the connection
func (s *Server) handleConnection(ctx context.Context, conn quic.Connection) error {
	id := uuid.NewString()[:8]
	s.metrics.ConnectionsAccepted.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)

	logger.Info("Server", "Connection %s from %s", id, conn.RemoteAddr())

	var streams sync.WaitGroup
	defer streams.Wait()

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = transport.CloseConn(conn, protocol.CodeNoError, "shutdown")
				return nil
			}
			if transport.IsClosed(err) {
				logger.Info("Server", "Connection %s closed", id)
				return nil
			}
			s.metrics.ConnectionErrors.Add(1)
			if transport.IsTimeout(err) {
				return fmt.Errorf("connection %s timed out: %w", id, err)
			}
			return fmt.Errorf("connection %s: %w", id, err)
		}

		s.metrics.StreamsAccepted.Add(1)
		streams.Add(1)
		go func() {
			defer streams.Done()
			if err := s.handleStream(ctx, stream); err != nil {
				logger.Warn("Server", "Connection %s stream %d: %v", id, stream.StreamID(), err)
			}
		}()
	}
}

// handleStream reads exactly one request and answers it
func (s *Server) handleStream(ctx context.Context, stream quic.Stream) error {
	_ = stream.SetReadDeadline(time.Now().Add(s.opts.RequestTimeout))
	req, err := protocol.ReadRequest(stream, s.opts.Codec)
	if err != nil {
		transport.ResetStream(stream, protocol.CodeProtocol)
		if isProtocolViolation(err) {
			s.metrics.ProtocolErrors.Add(1)
			return fmt.Errorf("%w: %w", ErrUnknownRequest, err)
		}
		if transport.IsClosed(err) {
			return nil
		}
		return fmt.Errorf("read request: %w", err)
	}
	_ = stream.SetReadDeadline(time.Time{})

	switch r := req.(type) {
	case protocol.Ping:
		return s.servePing(stream, r)
	case protocol.VideoStream:
		return s.serveVideo(ctx, stream, r)
	default:
		transport.ResetStream(stream, protocol.CodeProtocol)
		s.metrics.ProtocolErrors.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownRequest, protocol.RequestName(req))
	}
}

func (s *Server) servePing(stream quic.Stream, ping protocol.Ping) error {
	_ = stream.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := protocol.WriteResponse(stream, s.opts.Codec, protocol.Pong{Nonce: ping.Nonce}); err != nil {
		transport.ResetStream(stream, protocol.CodeInternal)
		s.metrics.SendErrors.Add(1)
		return fmt.Errorf("send pong: %w", err)
	}
	s.metrics.PingsServed.Add(1)
	logger.Debug("Server", "Pong %d", ping.Nonce)
	return stream.Close()
}

// serveVideo streams hub frames until the stream, the connection or ctx ends
func (s *Server) serveVideo(ctx context.Context, stream quic.Stream, req protocol.VideoStream) error {
	if !s.streams.TryAcquire(1) {
		s.metrics.SessionsRejected.Add(1)
		transport.ResetStream(stream, protocol.CodeBusy)
		return ErrBusy
	}
	defer s.streams.Release(1)

	s.metrics.TotalSessions.Add(1)
	s.metrics.ActiveSessions.Add(1)
	defer s.metrics.ActiveSessions.Add(-1)

	// The stream context ends when the peer resets it or the connection closes
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(stream.Context(), cancel)
	defer stop()

	probe, policy, err := s.sessionProbe()
	if err != nil {
		transport.ResetStream(stream, protocol.CodeInternal)
		return fmt.Errorf("create filter: %w", err)
	}
	sub := s.hub.SubscribeFiltered(probe)
	var sent uint64
	defer func() {
		sub.Close()
		s.metrics.MailboxDrops.Add(sub.Dropped())
		logger.Info("Server", "Video session %s ended (sent: %d, filtered: %d, dropped: %d)",
			sub.ID(), sent, sub.Filtered(), sub.Dropped())
	}()
	logger.Info("Server", "Video session %s started (offset: %dms, filter: %s)", sub.ID(), req.Offset, policy)

	for {
		vf, err := sub.Next(sctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrClosed) {
				return stream.Close()
			}
			stream.CancelRead(quic.StreamErrorCode(protocol.CodeNoError))
			return nil
		}

		frame := protocol.Frame{Pixels: vf.Pixels, Width: uint32(vf.Width), Height: uint32(vf.Height)}
		if err := frame.Validate(); err != nil {
			logger.Warn("Server", "Skipping frame #%d: %v", vf.Seq, err)
			continue
		}

		start := time.Now()
		_ = stream.SetWriteDeadline(start.Add(s.opts.WriteTimeout))
		if err := protocol.WriteResponse(stream, s.opts.Codec, frame); err != nil {
			if _, reset := transport.StreamCode(err); reset || transport.IsClosed(err) {
				return nil
			}
			s.metrics.SendErrors.Add(1)
			transport.ResetStream(stream, protocol.CodeInternal)
			return fmt.Errorf("send frame #%d: %w", vf.Seq, err)
		}
		s.metrics.UpdateSendLatency(time.Since(start))
		s.metrics.FramesSent.Add(1)
		sent++

		if sent%300 == 0 {
			logger.Debug("Server", "Video session %s sent frame #%d (%dx%d)", sub.ID(), vf.Seq, vf.Width, vf.Height)
		}
	}
}

// sessionProbe builds a fresh filter for one video session and wraps it
// as a hub probe that also feeds the decision counters
func (s *Server) sessionProbe() (broadcast.Probe, string, error) {
	if s.opts.NewFilter == nil {
		return nil, "none", nil
	}
	f, err := s.opts.NewFilter()
	if err != nil {
		return nil, "", err
	}
	probe := func(meta types.BufferMeta) types.Decision {
		d := f.OnBuffer(meta)
		s.metrics.RecordDecision(d == types.Keep)
		return d
	}
	return probe, string(f.Policy()), nil
}

func isProtocolViolation(err error) bool {
	return errors.Is(err, protocol.ErrDecode) ||
		errors.Is(err, protocol.ErrTruncated) ||
		errors.Is(err, protocol.ErrFrameTooLarge) ||
		errors.Is(err, io.EOF)
}
