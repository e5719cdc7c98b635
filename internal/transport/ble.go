package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"menu-remote/internal/connector"
)

// GATT layout of a menu device's serial-over-BLE service.
var (
	BLEServiceUUID       = mustUUID("8589F957-1916-4B27-BA6D-B0AF36F317EF")
	BLEAPIToDeviceUUID   = mustUUID("7E7CA4D5-CF52-4918-BD60-6E98A810F0EB")
	BLEDeviceToAPIUUID   = mustUUID("D361F4F9-B13D-4118-A6C4-B54CF12EED3C")
	BLEAPISeqUUID        = mustUUID("AB2ED3BE-C8C4-4E0D-8BF9-E7D6717F761C")
	BLEDeviceSeqUUID     = mustUUID("79A24791-EEDA-4DA5-9E8C-04B8C9060B1F")
	ErrBLEServiceMissing = errors.New("device does not expose the menu service")
	ErrBLEMessageTooLong = errors.New("message exceeds BLE limit")
)

const (
	// MaxBLEMessage bounds one write including the sequence prefix.
	MaxBLEMessage = 256
	bleAttempts   = 5
	bleRetryDelay = 50 * time.Millisecond
	bleScanTime   = 10 * time.Second
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BLE talks to a device through four GATT characteristics: writes go to
// the api-to-device characteristic prefixed with a big endian sequence
// number, and notifications on device-to-api carry inbound bytes.
type BLE struct {
	target  string
	adapter *bluetooth.Adapter
	clock   connector.Clock
	log     zerolog.Logger

	mu       sync.Mutex
	device   *bluetooth.Device
	toDevice bluetooth.DeviceCharacteristic
	inbound  chan []byte
	closed   chan struct{}
	pending  []byte
	seq      uint32
}

// NewBLE connects to the device whose address or advertised name is
// target.
func NewBLE(target string, log zerolog.Logger) *BLE {
	return &BLE{
		target:  target,
		adapter: bluetooth.DefaultAdapter,
		clock:   connector.RealClock(),
		log:     log,
	}
}

func (b *BLE) Name() string { return "ble://" + b.target }

func (b *BLE) Connect(ctx context.Context) error {
	_ = b.Close()
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth: %w", err)
	}

	addr, err := b.scan(ctx)
	if err != nil {
		return err
	}
	device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", b.target, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{BLEServiceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return ErrBLEServiceMissing
	}
	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		_ = device.Disconnect()
		return fmt.Errorf("discover characteristics: %w", err)
	}

	var toDevice, fromDevice *bluetooth.DeviceCharacteristic
	found := 0
	for i := range chars {
		switch chars[i].UUID() {
		case BLEAPIToDeviceUUID:
			toDevice = &chars[i]
			found++
		case BLEDeviceToAPIUUID:
			fromDevice = &chars[i]
			found++
		case BLEAPISeqUUID, BLEDeviceSeqUUID:
			found++
		}
	}
	if found < 4 || toDevice == nil || fromDevice == nil {
		_ = device.Disconnect()
		return ErrBLEServiceMissing
	}

	inbound := make(chan []byte, 64)
	closed := make(chan struct{})
	err = fromDevice.EnableNotifications(func(data []byte) {
		block := make([]byte, len(data))
		copy(block, data)
		select {
		case inbound <- block:
		case <-closed:
		}
	})
	if err != nil {
		_ = device.Disconnect()
		return fmt.Errorf("enable notifications: %w", err)
	}

	b.mu.Lock()
	b.device, b.toDevice = &device, *toDevice
	b.inbound, b.closed = inbound, closed
	b.pending, b.seq = nil, 0
	b.mu.Unlock()
	b.log.Info().Str("device", b.target).Msg("bluetooth connected")
	return nil
}

func (b *BLE) scan(ctx context.Context) (bluetooth.Address, error) {
	found := make(chan bluetooth.Address, 1)
	go func() {
		_ = b.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if strings.EqualFold(r.Address.String(), b.target) || r.LocalName() == b.target {
				select {
				case found <- r.Address:
				default:
				}
				_ = a.StopScan()
			}
		})
	}()

	select {
	case addr := <-found:
		return addr, nil
	case <-ctx.Done():
		_ = b.adapter.StopScan()
		return bluetooth.Address{}, ctx.Err()
	case <-b.clock.After(bleScanTime):
		_ = b.adapter.StopScan()
		return bluetooth.Address{}, fmt.Errorf("device %s not found", b.target)
	}
}

// Read returns the next notified block, stopping at the first NUL.
func (b *BLE) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.pending) > 0 {
		n := copy(p, b.pending)
		b.pending = b.pending[n:]
		b.mu.Unlock()
		return n, nil
	}
	inbound, closed := b.inbound, b.closed
	b.mu.Unlock()
	if inbound == nil {
		return 0, io.EOF
	}

	select {
	case block := <-inbound:
		if i := indexNUL(block); i >= 0 {
			block = block[:i]
		}
		n := copy(p, block)
		if n < len(block) {
			b.mu.Lock()
			b.pending = append(b.pending, block[n:]...)
			b.mu.Unlock()
		}
		return n, nil
	case <-closed:
		return 0, io.EOF
	}
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// Write sends p as one sequenced block, retrying a failed GATT write a few
// times before giving up.
func (b *BLE) Write(p []byte) (int, error) {
	if len(p)+4 > MaxBLEMessage {
		return 0, fmt.Errorf("%w: %d bytes", ErrBLEMessageTooLong, len(p))
	}
	b.mu.Lock()
	if b.device == nil {
		b.mu.Unlock()
		return 0, ErrNotConnected
	}
	ch := b.toDevice
	seq := b.seq + 1
	b.mu.Unlock()

	block := make([]byte, 4+len(p))
	binary.BigEndian.PutUint32(block, seq)
	copy(block[4:], p)

	err := connector.Retry(context.Background(), bleAttempts, bleRetryDelay, func() error {
		_, err := ch.WriteWithoutResponse(block)
		return err
	})
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.seq = seq
	b.mu.Unlock()
	return len(p), nil
}

func (b *BLE) Close() error {
	b.mu.Lock()
	device, closed := b.device, b.closed
	b.device, b.inbound, b.closed = nil, nil, nil
	b.pending = nil
	b.mu.Unlock()
	if closed != nil {
		close(closed)
	}
	if device == nil {
		return nil
	}
	return device.Disconnect()
}

func (b *BLE) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device != nil
}
