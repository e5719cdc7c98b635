package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	mb "github.com/goburrow/modbus"
)

// Reading is everything the bridge exposes for one item id.
type Reading struct {
	ItemID   uint16
	Coil     bool
	Discrete bool
	Holding  uint16
	Value    float32
}

func (r Reading) String() string {
	return fmt.Sprintf("item %d: value=%s holding=%d coil=%t discrete=%t",
		r.ItemID, strconv.FormatFloat(float64(r.Value), 'f', -1, 32), r.Holding, r.Coil, r.Discrete)
}

// Probe reads the four areas of item id through a Modbus client.
func Probe(client mb.Client, id uint16) (Reading, error) {
	if int(id) > MaxItemID {
		return Reading{}, ErrAddrOutOfRange(int(id))
	}
	r := Reading{ItemID: id}

	coil, err := client.ReadCoils(id, 1)
	if err != nil {
		return r, fmt.Errorf("coil %d: %w", id, err)
	}
	r.Coil = len(coil) > 0 && coil[0]&0x01 == 0x01

	di, err := client.ReadDiscreteInputs(id, 1)
	if err != nil {
		return r, fmt.Errorf("discrete input %d: %w", id, err)
	}
	r.Discrete = len(di) > 0 && di[0]&0x01 == 0x01

	hr, err := client.ReadHoldingRegisters(id, 1)
	if err != nil {
		return r, fmt.Errorf("holding register %d: %w", id, err)
	}
	if len(hr) >= 2 {
		r.Holding = binary.BigEndian.Uint16(hr)
	}

	ir, err := client.ReadInputRegisters(2*id, 2)
	if err != nil {
		return r, fmt.Errorf("input registers %d: %w", 2*id, err)
	}
	if len(ir) < 4 {
		return r, fmt.Errorf("float32 read returned %d bytes", len(ir))
	}
	r.Value = math.Float32frombits(binary.BigEndian.Uint32(ir))
	return r, nil
}
