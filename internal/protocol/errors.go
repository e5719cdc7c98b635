package protocol

import "errors"

var (
	// ErrIncomplete means the buffer does not yet hold a whole frame.
	ErrIncomplete     = errors.New("incomplete frame")
	ErrMalformed      = errors.New("malformed frame")
	ErrUnknownCommand = errors.New("unknown command")
	ErrFrameTooLarge  = errors.New("frame too large")
)
