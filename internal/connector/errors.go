package connector

import "errors"

var (
	ErrNotConnected       = errors.New("connection is not ready")
	ErrStopped            = errors.New("connection stopped")
	ErrConnectionLost     = errors.New("connection lost")
	ErrAckTimeout         = errors.New("timed out waiting for acknowledgement")
	ErrUnknownCorrelation = errors.New("unknown correlation id")
	ErrWriteTimeout       = errors.New("write timed out")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	errMissingTransport   = errors.New("transport is required")
	errMissingTree        = errors.New("menu tree is required")
)
