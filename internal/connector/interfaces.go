package connector

//go:generate mockgen -destination=mock_connector.go -package=connector menu-remote/internal/connector Clock,Ticker,Transport

import (
	"context"
	"time"

	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

// Transport is a byte stream to one device. Read blocks until data arrives
// and returns io.EOF (or 0 bytes) once the stream is closed. Close must be
// safe to call while a Read is blocked and must make that Read return.
type Transport interface {
	Connect(ctx context.Context) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	IsConnected() bool
	Name() string
}

// Clock abstracts time so heartbeat and retry timing can be driven by tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Listener receives connector events. Callbacks run one at a time in the
// order the events happened, never while the connector holds a lock, and
// may call any connector method including Stop.
type Listener interface {
	ConnectionChanged(status AuthStatus, reason string)
	MenuChanged(item menu.Item, structural bool)
	AckReceived(corr protocol.CorrelationID, status protocol.AckStatus, matched bool)
	DialogUpdated(d protocol.Dialog)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) ConnectionChanged(AuthStatus, string)                         {}
func (NopListener) MenuChanged(menu.Item, bool)                                  {}
func (NopListener) AckReceived(protocol.CorrelationID, protocol.AckStatus, bool) {}
func (NopListener) DialogUpdated(protocol.Dialog)                                {}
