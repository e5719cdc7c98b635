package utils

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/goburrow/serial"
)

type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	// Timeout bounds a single read; an idle line times out and is polled again.
	Timeout time.Duration
}

func EnsureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 115200
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 500 * time.Millisecond
	}
}

func OpenSerial(sp SerialParams) (io.ReadWriteCloser, error) {
	EnsureSerialDefaults(&sp)
	return serial.Open(&serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	})
}

// SocatPair names the two linked pseudo terminals of a virtual null modem.
type SocatPair struct {
	Link string
	Peer string
}

// BuildSocatPairCmd returns the socat command that creates pair. The
// simulator serves one end so a serial remote can open the other.
func BuildSocatPairCmd(ctx context.Context, pair SocatPair) *exec.Cmd {
	return exec.CommandContext(ctx, "socat",
		"-d", "-d",
		"pty,raw,echo=0,link="+pair.Link,
		"pty,raw,echo=0,link="+pair.Peer,
	)
}
