package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"

	"github.com/perceptual-video/pvstream/pkg/protocol"
)

func TestIsClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", fmt.Errorf("accept: %w", context.Canceled), true},
		{"server_closed", quic.ErrServerClosed, true},
		{"app_close_ok", &quic.ApplicationError{Remote: true, ErrorCode: quic.ApplicationErrorCode(protocol.CodeNoError)}, true},
		{"app_close_err", &quic.ApplicationError{Remote: true, ErrorCode: quic.ApplicationErrorCode(protocol.CodeInternal)}, false},
		{"app_close_local", fmt.Errorf("accept stream: %w", &quic.ApplicationError{ErrorCode: quic.ApplicationErrorCode(protocol.CodeNoError)}), true},
		{"idle", &quic.IdleTimeoutError{}, false},
		{"handshake_timeout", &quic.HandshakeTimeoutError{}, false},
		{"stateless_reset", &quic.StatelessResetError{}, false},
		{"transport_err", &quic.TransportError{ErrorCode: quic.ProtocolViolation, Remote: true}, false},
		{"transport_no_error", &quic.TransportError{ErrorCode: quic.NoError, Remote: true}, true},
		{"listener_closed", fmt.Errorf("accept: %w", net.ErrClosed), true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsClosed(tt.err))
		})
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(fmt.Errorf("read: %w", &quic.IdleTimeoutError{})))
	assert.True(t, IsTimeout(&quic.HandshakeTimeoutError{}))
	assert.False(t, IsTimeout(errors.New("boom")))
}

func TestStreamCode(t *testing.T) {
	code, ok := StreamCode(fmt.Errorf("read: %w", &quic.StreamError{ErrorCode: quic.StreamErrorCode(protocol.CodeBusy), Remote: true}))
	assert.True(t, ok)
	assert.Equal(t, protocol.CodeBusy, code)

	_, ok = StreamCode(errors.New("boom"))
	assert.False(t, ok)
}

func TestServerName(t *testing.T) {
	assert.Equal(t, "127.0.0.1", ServerName("127.0.0.1:4433"))
	assert.Equal(t, "localhost", ServerName(":4433"))
	assert.Equal(t, "localhost", ServerName("garbage"))
}

func TestQUICConfigDisablesUniStreams(t *testing.T) {
	conf := DefaultOptions().QUICConfig()
	assert.Equal(t, int64(-1), conf.MaxIncomingUniStreams)
	assert.Equal(t, int64(100), conf.MaxIncomingStreams)
}
