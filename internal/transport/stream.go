// Package transport provides the byte streams a connector runs over.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

var ErrNotConnected = errors.New("transport not connected")

// Dialer opens a fresh stream to the device.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Stream adapts any dialable io.ReadWriteCloser to the connector's transport
// contract. Each Connect replaces the previous stream.
type Stream struct {
	name string
	dial Dialer
	log  zerolog.Logger

	mu  sync.Mutex
	rwc io.ReadWriteCloser
}

func NewStream(name string, dial Dialer, log zerolog.Logger) *Stream {
	return &Stream{name: name, dial: dial, log: log}
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	old := s.rwc
	s.rwc = nil
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	rwc, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rwc = rwc
	s.mu.Unlock()
	s.log.Debug().Str("transport", s.name).Msg("stream opened")
	return nil
}

func (s *Stream) current() io.ReadWriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rwc
}

// Read returns io.EOF once the stream has been closed.
func (s *Stream) Read(p []byte) (int, error) {
	rwc := s.current()
	if rwc == nil {
		return 0, io.EOF
	}
	return rwc.Read(p)
}

func (s *Stream) Write(p []byte) (int, error) {
	rwc := s.current()
	if rwc == nil {
		return 0, ErrNotConnected
	}
	return rwc.Write(p)
}

// Close closes the current stream, unblocking any pending Read.
func (s *Stream) Close() error {
	s.mu.Lock()
	rwc := s.rwc
	s.rwc = nil
	s.mu.Unlock()
	if rwc == nil {
		return nil
	}
	return rwc.Close()
}

func (s *Stream) IsConnected() bool { return s.current() != nil }
