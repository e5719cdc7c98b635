package manager

import (
	"fmt"

	"github.com/rs/zerolog"

	"menu-remote/internal/config"
	"menu-remote/internal/connector"
	"menu-remote/internal/simulator"
	"menu-remote/internal/transport"
	"menu-remote/internal/utils"
)

// NewTransport builds the transport a connection is configured for. The
// returned cleanup releases anything the transport owns, such as the device
// behind a simulator connection.
func NewTransport(cc config.Connection, log zerolog.Logger) (connector.Transport, func(), error) {
	switch cc.Transport {
	case "tcp":
		return transport.NewTCP(cc.Host, cc.Port, cc.Timeout, log), func() {}, nil
	case "serial":
		return transport.NewSerial(utils.SerialParams{
			Address:  cc.SerialPort,
			BaudRate: cc.BaudRate,
			DataBits: cc.DataBits,
			StopBits: cc.StopBits,
			Parity:   cc.Parity,
		}, log), func() {}, nil
	case "ble":
		return transport.NewBLE(cc.BLEAddress, log), func() {}, nil
	case "simulator":
		tree, err := simulator.LoadTree(cc.MenuJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("connection %s: %w", cc.Name, err)
		}
		d := simulator.NewDevice(simulator.Config{Name: cc.Name, Tree: tree, Logger: log})
		return transport.NewInProcess(cc.Name, d.Serve, log), d.Close, nil
	}
	return nil, nil, fmt.Errorf("connection %s: unknown transport %q", cc.Name, cc.Transport)
}
