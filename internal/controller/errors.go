package controller

import "errors"

var (
	ErrReadOnly      = errors.New("item is read only")
	ErrPairingFailed = errors.New("pairing rejected by device")
)
