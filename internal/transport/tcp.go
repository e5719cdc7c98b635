package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const DefaultPort = 3333

// NewTCP connects to host:port, 3333 when port is zero.
func NewTCP(host string, port int, timeout time.Duration, log zerolog.Logger) *Stream {
	if port <= 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	address := net.JoinHostPort(host, fmt.Sprint(port))
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return NewStream("tcp://"+address, func(ctx context.Context) (io.ReadWriteCloser, error) {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", address, err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		return conn, nil
	}, log)
}
