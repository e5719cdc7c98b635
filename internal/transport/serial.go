package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"menu-remote/internal/utils"
)

// DefaultBaudRate is what embedded menu devices usually run their serial
// remote at.
const DefaultBaudRate = 115200

// NewSerial opens the serial port described by sp on every connect.
func NewSerial(sp utils.SerialParams, log zerolog.Logger) *Stream {
	if sp.BaudRate == 0 {
		sp.BaudRate = DefaultBaudRate
	}
	return NewStream("serial://"+sp.Address, func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		port, err := utils.OpenSerial(sp)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", sp.Address, err)
		}
		return &quietPort{ReadWriteCloser: port}, nil
	}, log)
}

// quietPort turns the port's read timeouts into empty polls so an idle
// line does not look like a dropped connection. Heartbeats detect a dead
// peer.
type quietPort struct {
	io.ReadWriteCloser
	closed atomic.Bool
}

func (q *quietPort) Read(p []byte) (int, error) {
	for {
		n, err := q.ReadWriteCloser.Read(p)
		if n > 0 || err == nil || !isTimeout(err) || q.closed.Load() {
			return n, err
		}
	}
}

func (q *quietPort) Close() error {
	q.closed.Store(true)
	return q.ReadWriteCloser.Close()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return strings.Contains(err.Error(), "timeout")
}
