package modbus

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const bankSize = 65536

// Bank holds the four data tables of one unit.
type Bank struct {
	mu               sync.RWMutex
	HoldingRegisters []uint16
	InputRegisters   []uint16
	Coils            []bool
	DiscreteInputs   []bool
}

func NewBank() *Bank {
	return &Bank{
		HoldingRegisters: make([]uint16, bankSize),
		InputRegisters:   make([]uint16, bankSize),
		Coils:            make([]bool, bankSize),
		DiscreteInputs:   make([]bool, bankSize),
	}
}

// ErrAddrOutOfRange returns a formatted error for an address past the bank.
func ErrAddrOutOfRange(addr int) error {
	return fmt.Errorf("address %d out of range", addr)
}

func (b *Bank) readBits(source []bool, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 2000 {
		return nil, errInvalidQty
	}
	end := int(start) + int(quantity)
	if end > len(source) {
		return nil, errOutOfRange
	}

	byteCount := (int(quantity) + 7) / 8
	result := make([]byte, byteCount)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := 0; i < int(quantity); i++ {
		if source[int(start)+i] {
			result[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return result, nil
}

func (b *Bank) readRegisters(source []uint16, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 125 {
		return nil, errInvalidQty
	}
	end := int(start) + int(quantity)
	if end > len(source) {
		return nil, errOutOfRange
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]byte, quantity*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:(i+1)*2], source[int(start)+i])
	}
	return result, nil
}

// store writes values into a writable table starting at start.
func (b *Bank) store(area Area, start uint16, values []uint16) error {
	if int(start)+len(values) > bankSize {
		return ErrAddrOutOfRange(int(start) + len(values) - 1)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range values {
		switch area {
		case Coils:
			b.Coils[int(start)+i] = v != 0
		case DiscreteInputs:
			b.DiscreteInputs[int(start)+i] = v != 0
		case HoldingRegisters:
			b.HoldingRegisters[int(start)+i] = v
		case InputRegisters:
			b.InputRegisters[int(start)+i] = v
		}
	}
	return nil
}

func (b *Bank) SetHoldingRegister(address, value uint16) {
	b.mu.Lock()
	b.HoldingRegisters[address] = value
	b.mu.Unlock()
}

func (b *Bank) SetInputRegister(address, value uint16) {
	b.mu.Lock()
	b.InputRegisters[address] = value
	b.mu.Unlock()
}

func (b *Bank) SetCoil(address uint16, value bool) {
	b.mu.Lock()
	b.Coils[address] = value
	b.mu.Unlock()
}

func (b *Bank) SetDiscreteInput(address uint16, value bool) {
	b.mu.Lock()
	b.DiscreteInputs[address] = value
	b.mu.Unlock()
}

func (b *Bank) HoldingRegister(address uint16) uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.HoldingRegisters[address]
}

func (b *Bank) InputRegister(address uint16) uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.InputRegisters[address]
}

func (b *Bank) Coil(address uint16) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.Coils[address]
}

func (b *Bank) DiscreteInput(address uint16) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.DiscreteInputs[address]
}
