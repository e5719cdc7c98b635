// Package modbus exposes mirrored menus to Modbus TCP clients. Each attached
// controller is one unit id. Item n maps to:
//
//	coil n              writable boolean items
//	discrete input n    read-only boolean items
//	holding register n  analog and enum items (writes send an absolute change)
//	input registers 2n  every numeric item as a big-endian float32, two words
package modbus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/controller"
	"menu-remote/internal/menu"
)

// MaxItemID is the highest item id with a float32 input register pair.
const MaxItemID = bankSize/2 - 1

var ErrUnitInUse = errors.New("modbus unit already attached")

type BridgeOptions struct {
	// AckTimeout bounds how long a client write waits for the device.
	AckTimeout time.Duration
	Logger     zerolog.Logger
}

type attached struct {
	c           *controller.Controller
	bank        *Bank
	unsubscribe func()
}

// Bridge serves the menus of attached controllers over Modbus TCP.
type Bridge struct {
	srv        *Server
	log        zerolog.Logger
	ackTimeout time.Duration

	mu    sync.RWMutex
	units map[byte]*attached
}

func NewBridge(opts BridgeOptions) *Bridge {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	log := opts.Logger.With().Str("component", "modbus").Logger()
	b := &Bridge{
		srv:        NewServer(log),
		log:        log,
		ackTimeout: opts.AckTimeout,
		units:      make(map[byte]*attached),
	}
	b.srv.OnWrite = b.write
	return b
}

func (b *Bridge) Server() *Server { return b.srv }

func (b *Bridge) Listen(address string) error {
	if err := b.srv.Listen(address); err != nil {
		return err
	}
	b.log.Info().Str("addr", b.srv.Addr().String()).Msg("modbus bridge listening")
	return nil
}

// Attach publishes c as unit. The returned function detaches it.
func (b *Bridge) Attach(unit byte, c *controller.Controller) (func(), error) {
	if unit == 0 || unit > 247 {
		return nil, fmt.Errorf("modbus unit %d: must be 1..247", unit)
	}
	b.mu.Lock()
	if _, ok := b.units[unit]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnitInUse, unit)
	}
	a := &attached{c: c, bank: b.srv.Unit(unit)}
	b.units[unit] = a
	b.mu.Unlock()

	a.unsubscribe = c.Subscribe(controller.Handlers{
		MenuChanged: func(item menu.Item, _ bool) { publish(a.bank, c.Tree(), item) },
	})
	for _, item := range c.Tree().GetAllMenuItems() {
		publish(a.bank, c.Tree(), item)
	}
	b.log.Info().Uint8("unit", unit).Str("connection", c.Name()).Msg("attached")

	var once sync.Once
	return func() {
		once.Do(func() { b.detach(unit) })
	}, nil
}

func (b *Bridge) detach(unit byte) {
	b.mu.Lock()
	a, ok := b.units[unit]
	delete(b.units, unit)
	b.mu.Unlock()
	if ok {
		a.unsubscribe()
		b.srv.RemoveUnit(unit)
	}
}

// Close detaches every controller and stops the server.
func (b *Bridge) Close() {
	b.mu.RLock()
	units := make([]byte, 0, len(b.units))
	for u := range b.units {
		units = append(units, u)
	}
	b.mu.RUnlock()
	for _, u := range units {
		b.detach(u)
	}
	b.srv.Close()
}

// publish copies the current value of item into the bank.
func publish(bank *Bank, tree *menu.Tree, item menu.Item) {
	id := item.ID()
	if id <= 0 || id > MaxItemID {
		return
	}
	st, ok := tree.GetState(id)
	if !ok {
		return
	}
	addr := uint16(id)
	switch item.Kind() {
	case menu.KindBoolean:
		v, _ := st.Bool()
		if item.ReadOnly() {
			bank.SetDiscreteInput(addr, v)
		} else {
			bank.SetCoil(addr, v)
		}
	case menu.KindAnalog, menu.KindEnum:
		n, _ := st.Int()
		bank.SetHoldingRegister(addr, uint16(max(0, min(n, math.MaxUint16))))
	}
	if n, ok := st.Number(); ok && !item.IsSubMenu() && item.Kind() != menu.KindAction {
		bits := math.Float32bits(float32(n))
		bank.SetInputRegister(2*addr, uint16(bits>>16))
		bank.SetInputRegister(2*addr+1, uint16(bits))
	}
}

// write turns client writes into absolute changes and waits for each to be
// acknowledged by the device.
func (b *Bridge) write(unit byte, area Area, address uint16, values []uint16) error {
	b.mu.RLock()
	a, ok := b.units[unit]
	b.mu.RUnlock()
	if !ok {
		return errUnknownUnit
	}

	for i, v := range values {
		id := int(address) + i
		item, ok := a.c.Tree().GetMenuByID(id)
		if !ok {
			return fmt.Errorf("%w: no item %d", ErrIllegalAddress, id)
		}
		kind := item.Kind()
		switch {
		case area == Coils && kind == menu.KindBoolean:
		case area == HoldingRegisters && (kind == menu.KindAnalog || kind == menu.KindEnum):
		default:
			return fmt.Errorf("%w: item %d is %s", ErrIllegalAddress, id, kind)
		}
		if err := b.change(a.c, item, strconv.Itoa(int(v))); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) change(c *controller.Controller, item menu.Item, value string) error {
	corr, err := c.SendAbsoluteChange(item, value)
	switch {
	case errors.Is(err, controller.ErrReadOnly), errors.Is(err, menu.ErrItemNotFound):
		return fmt.Errorf("%w: %v", ErrIllegalAddress, err)
	case errors.Is(err, menu.ErrInvalidValue):
		return fmt.Errorf("%w: %v", ErrIllegalValue, err)
	case err != nil:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.ackTimeout)
	defer cancel()
	status, err := c.WaitForAck(ctx, corr)
	if err != nil {
		return err
	}
	if status.IsError() {
		return fmt.Errorf("device refused item %d: %s", item.ID(), status)
	}
	b.log.Debug().Int("id", item.ID()).Str("value", value).Msg("write applied")
	return nil
}
