package modbus

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

const (
	functionReadCoils          = 0x01
	functionReadDiscreteInputs = 0x02
	functionReadHoldingRegs    = 0x03
	functionReadInputRegs      = 0x04
	functionWriteSingleCoil    = 0x05
	functionWriteSingleReg     = 0x06
	functionWriteMultipleCoils = 0x0F
	functionWriteMultipleRegs  = 0x10

	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03
	exceptionDeviceFailure   = 0x04
	exceptionGatewayPath     = 0x0A
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
	errUnknownUnit   = errors.New("unknown unit")

	// ErrIllegalAddress and ErrIllegalValue let a WriteFunc choose the
	// exception code sent back to the client.
	ErrIllegalAddress = errors.New("illegal data address")
	ErrIllegalValue   = errors.New("illegal data value")
)

// Area names one of the four Modbus data tables.
type Area int

const (
	Coils Area = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

func (a Area) String() string {
	switch a {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discrete_inputs"
	case HoldingRegisters:
		return "holding_registers"
	case InputRegisters:
		return "input_registers"
	}
	return "unknown"
}

// WriteFunc receives client writes. Coil values are 0 or 1. When a server
// has a WriteFunc it does not store written values itself.
type WriteFunc func(unit byte, area Area, address uint16, values []uint16) error

// Server implements a minimal Modbus TCP server with one register bank per
// unit id.
type Server struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger

	mu    sync.RWMutex
	units map[byte]*Bank

	OnWrite WriteFunc
}

func NewServer(log zerolog.Logger) *Server {
	return &Server{
		quit:  make(chan struct{}),
		log:   log,
		units: make(map[byte]*Bank),
	}
}

// Unit returns the bank of a unit id, creating it on first use.
func (s *Server) Unit(id byte) *Bank {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.units[id]
	if !ok {
		b = NewBank()
		s.units[id] = b
	}
	return b
}

func (s *Server) RemoveUnit(id byte) {
	s.mu.Lock()
	delete(s.units, id)
	s.mu.Unlock()
}

func (s *Server) bank(id byte) (*Bank, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.units[id]
	return b, ok
}

// Listen starts accepting Modbus TCP connections on the provided address.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-done:
		}
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		length := binary.BigEndian.Uint16(header[4:6])
		if length == 0 {
			continue
		}

		pduLength := int(length - 1)
		if pduLength <= 0 {
			continue
		}

		unitID := header[6]
		pdu := make([]byte, pduLength)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.handlePDU(unitID, pdu)
		if len(response) == 0 {
			continue
		}

		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(response)+1))
		header[6] = unitID

		if _, err := conn.Write(append(header, response...)); err != nil {
			return
		}
	}
}

func (s *Server) handlePDU(unit byte, pdu []byte) []byte {
	if len(pdu) == 0 {
		return exceptionResponse(0, exceptionIllegalFunction)
	}

	function := pdu[0]
	b, ok := s.bank(unit)
	if !ok {
		return exceptionResponse(function, errToCode(errUnknownUnit))
	}

	var (
		data []byte
		err  error
	)
	switch function {
	case functionReadCoils:
		data, err = b.readBits(b.Coils, pdu)
	case functionReadDiscreteInputs:
		data, err = b.readBits(b.DiscreteInputs, pdu)
	case functionReadHoldingRegs:
		data, err = b.readRegisters(b.HoldingRegisters, pdu)
	case functionReadInputRegs:
		data, err = b.readRegisters(b.InputRegisters, pdu)
	case functionWriteSingleCoil, functionWriteSingleReg, functionWriteMultipleCoils, functionWriteMultipleRegs:
		if err := s.write(unit, b, pdu); err != nil {
			s.log.Debug().Err(err).Uint8("unit", unit).Uint8("function", function).Msg("write refused")
			return exceptionResponse(function, errToCode(err))
		}
		// single writes echo the request, multiple writes echo start and quantity
		return append([]byte(nil), pdu[:5]...)
	default:
		return exceptionResponse(function, exceptionIllegalFunction)
	}
	if err != nil {
		return exceptionResponse(function, errToCode(err))
	}
	return append([]byte{function, byte(len(data))}, data...)
}

// write decodes a write request and hands it to OnWrite or the bank.
func (s *Server) write(unit byte, b *Bank, pdu []byte) error {
	area, start, values, err := decodeWrite(pdu)
	if err != nil {
		return err
	}
	if int(start)+len(values) > bankSize {
		return errOutOfRange
	}
	if s.OnWrite != nil {
		return s.OnWrite(unit, area, start, values)
	}
	return b.store(area, start, values)
}

func decodeWrite(pdu []byte) (Area, uint16, []uint16, error) {
	if len(pdu) < 5 {
		return 0, 0, nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	word := binary.BigEndian.Uint16(pdu[3:5])

	switch pdu[0] {
	case functionWriteSingleCoil:
		switch word {
		case 0xFF00:
			return Coils, start, []uint16{1}, nil
		case 0x0000:
			return Coils, start, []uint16{0}, nil
		}
		return 0, 0, nil, errInvalidQty
	case functionWriteSingleReg:
		return HoldingRegisters, start, []uint16{word}, nil
	case functionWriteMultipleCoils:
		quantity := int(word)
		if quantity == 0 || quantity > 1968 || len(pdu) < 6 {
			return 0, 0, nil, errInvalidQty
		}
		count := int(pdu[5])
		if count != (quantity+7)/8 || len(pdu) < 6+count {
			return 0, 0, nil, errInvalidPDULen
		}
		values := make([]uint16, quantity)
		for i := range values {
			if pdu[6+i/8]&(1<<(uint(i)%8)) != 0 {
				values[i] = 1
			}
		}
		return Coils, start, values, nil
	case functionWriteMultipleRegs:
		quantity := int(word)
		if quantity == 0 || quantity > 123 || len(pdu) < 6 {
			return 0, 0, nil, errInvalidQty
		}
		count := int(pdu[5])
		if count != quantity*2 || len(pdu) < 6+count {
			return 0, 0, nil, errInvalidPDULen
		}
		values := make([]uint16, quantity)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(pdu[6+i*2:])
		}
		return HoldingRegisters, start, values, nil
	}
	return 0, 0, nil, errInvalidPDULen
}

func exceptionResponse(function byte, code byte) []byte {
	if function == 0 {
		function = 0x80
	} else {
		function = function | 0x80
	}
	return []byte{function, code}
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange), errors.Is(err, ErrIllegalAddress):
		return exceptionIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen), errors.Is(err, ErrIllegalValue):
		return exceptionIllegalDataVal
	case errors.Is(err, errUnknownUnit):
		return exceptionGatewayPath
	default:
		return exceptionDeviceFailure
	}
}

// Close stops the server and waits for all goroutines to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}
