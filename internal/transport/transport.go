// Package transport configures the QUIC endpoints shared by producer and
// consumer.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/perceptual-video/pvstream/pkg/protocol"
)

// ALPN is the application protocol negotiated on every connection
const ALPN = "pv-stream"

// Options tunes the QUIC endpoints
type Options struct {
	IdleTimeout   time.Duration
	KeepAlive     time.Duration
	MaxStreams    int64 // Incoming bidirectional streams per connection
	HandshakeIdle time.Duration
}

// DefaultOptions returns the default endpoint options
func DefaultOptions() Options {
	return Options{
		IdleTimeout:   30 * time.Second,
		KeepAlive:     10 * time.Second,
		MaxStreams:    100,
		HandshakeIdle: 5 * time.Second,
	}
}

// QUICConfig builds a quic-go config. Unidirectional streams are disabled.
func (o Options) QUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        o.IdleTimeout,
		KeepAlivePeriod:       o.KeepAlive,
		HandshakeIdleTimeout:  o.HandshakeIdle,
		MaxIncomingStreams:    o.MaxStreams,
		MaxIncomingUniStreams: -1,
	}
}

// ServerTLSConfig returns the producer's TLS config
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig returns a consumer TLS config trusting roots only
func ClientTLSConfig(roots *x509.CertPool, serverName string) *tls.Config {
	return &tls.Config{
		RootCAs:    roots,
		ServerName: serverName,
		NextProtos: []string{ALPN},
		MinVersion: tls.VersionTLS13,
	}
}

// Listen opens a QUIC listener on addr
func Listen(addr string, cert tls.Certificate, opts Options) (*quic.Listener, error) {
	l, err := quic.ListenAddr(addr, ServerTLSConfig(cert), opts.QUICConfig())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return l, nil
}

// Dial connects to a producer
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, opts Options) (quic.Connection, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, opts.QUICConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// ServerName derives the TLS server name from a host:port address
func ServerName(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// IsClosed reports whether err is the normal end of a connection: a
// no-error application or transport close from either side, a closed
// listener or a cancelled context. quic-go connection errors all match
// net.ErrClosed, so they are classified before the generic checks.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return uint64(appErr.ErrorCode) == protocol.CodeNoError
	}
	var transportErr *quic.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.ErrorCode == quic.NoError
	}
	if IsTimeout(err) || isConnectionFailure(err) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, quic.ErrServerClosed) || errors.Is(err, net.ErrClosed)
}

func isConnectionFailure(err error) bool {
	var reset *quic.StatelessResetError
	var version *quic.VersionNegotiationError
	return errors.As(err, &reset) || errors.As(err, &version)
}

// IsTimeout reports whether err is an idle or handshake timeout
func IsTimeout(err error) bool {
	var idle *quic.IdleTimeoutError
	var hs *quic.HandshakeTimeoutError
	return errors.As(err, &idle) || errors.As(err, &hs)
}

// StreamCode returns the application error code a stream was reset with
func StreamCode(err error) (uint64, bool) {
	var streamErr *quic.StreamError
	if errors.As(err, &streamErr) {
		return uint64(streamErr.ErrorCode), true
	}
	return 0, false
}

// CloseConn closes conn with code and reason
func CloseConn(conn quic.Connection, code uint64, reason string) error {
	return conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

// ResetStream aborts both directions of s with code
func ResetStream(s quic.Stream, code uint64) {
	s.CancelRead(quic.StreamErrorCode(code))
	s.CancelWrite(quic.StreamErrorCode(code))
}
