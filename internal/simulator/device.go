// Package simulator plays the device side of the menu protocol so remotes
// can be exercised without hardware.
package simulator

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
	"menu-remote/internal/utils"
)

const (
	Platform     = "SIMULATOR"
	writeTimeout = 2 * time.Second
)

// Config describes one simulated device.
type Config struct {
	Name         string
	UUID         string
	SerialNumber string
	Tree         *menu.Tree
	// AcceptUUIDs lists remotes allowed to join. Empty accepts everyone.
	AcceptUUIDs []string
	// RejectPairing refuses pairing requests, as a device with pairing
	// switched off in its settings does.
	RejectPairing     bool
	HeartbeatInterval time.Duration
	UpdateInterval    time.Duration
	Logger            zerolog.Logger
}

// Device serves any number of remote sessions against one menu tree.
type Device struct {
	cfg   Config
	tree  *menu.Tree
	codec protocol.Codec
	log   zerolog.Logger

	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	accepted map[string]bool
	sessions map[*session]struct{}
}

func NewDevice(cfg Config) *Device {
	if cfg.Tree == nil {
		cfg.Tree = menu.DefaultTree()
	}
	if cfg.Name == "" {
		cfg.Name = "simulator"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 1500 * time.Millisecond
	}
	d := &Device{
		cfg:      cfg,
		tree:     cfg.Tree,
		codec:    protocol.NewTagValCodec(),
		log:      cfg.Logger.With().Str("device", cfg.Name).Logger(),
		quit:     make(chan struct{}),
		accepted: make(map[string]bool),
		sessions: make(map[*session]struct{}),
	}
	for _, u := range cfg.AcceptUUIDs {
		d.accepted[u] = true
	}
	return d
}

func (d *Device) Tree() *menu.Tree { return d.tree }
func (d *Device) Name() string     { return d.cfg.Name }

// Addr is the listening address once Listen succeeded.
func (d *Device) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Listen starts accepting remote connections on address.
func (d *Device) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	d.listener = l

	d.wg.Add(1)
	go d.acceptLoop()
	d.startUpdates()
	return nil
}

// ListenSerial serves remotes on a serial line in the background. Close
// stops it.
func (d *Device) ListenSerial(sp utils.SerialParams) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.ServeSerial(context.Background(), sp); err != nil {
			d.log.Error().Err(err).Str("port", sp.Address).Msg("serial line failed")
		}
	}()
	d.startUpdates()
}

func (d *Device) startUpdates() {
	if d.cfg.UpdateInterval > 0 {
		d.wg.Add(1)
		go d.updateLoop()
	}
}

func (d *Device) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.Serve(context.Background(), conn)
		}()
	}
}

// Close stops the listener, says goodbye to every remote and waits for
// the goroutines started by Listen to exit.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		if d.listener != nil {
			_ = d.listener.Close()
		}
	})
	d.wg.Wait()
}

// Sessions is the number of open remote connections.
func (d *Device) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Accepts reports whether a remote with this UUID may join.
func (d *Device) Accepts(uuid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.accepted) == 0 || d.accepted[uuid]
}

func (d *Device) pair(uuid string) {
	d.mu.Lock()
	d.accepted[uuid] = true
	d.mu.Unlock()
}

// SetValue changes an item locally, as a user at the device would, and
// pushes the new value to every synchronised remote.
func (d *Device) SetValue(itemID int, v any) (menu.State, error) {
	item, ok := d.tree.GetMenuByID(itemID)
	if !ok {
		return menu.State{}, menu.ErrItemNotFound
	}
	st, err := menu.SetMenuState(d.tree, item, v)
	if err != nil {
		return menu.State{}, err
	}
	d.broadcast(changeFor(item, st))
	return st, nil
}

// ShowDialog asks every synchronised remote to show a dialog.
func (d *Device) ShowDialog(header, message string, b1, b2 protocol.ButtonType) {
	d.broadcast(protocol.Dialog{Mode: protocol.DialogShow, Header: header, Message: message, Button1: b1, Button2: b2})
}

func (d *Device) HideDialog() {
	d.broadcast(protocol.Dialog{Mode: protocol.DialogHide})
}

// broadcast queues cmd for every synchronised remote. Queueing happens
// under d.mu so a remote joining concurrently gets either the new value in
// its bootstrap or this command after it.
func (d *Device) broadcast(cmd protocol.Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for s := range d.sessions {
		if !s.ready.Load() {
			continue
		}
		if err := s.send(cmd); err != nil {
			d.log.Debug().Err(err).Msg("broadcast failed")
		}
	}
}

func changeFor(item menu.Item, st menu.State) protocol.Change {
	ch := protocol.Change{ItemID: item.ID(), ChangeType: protocol.ChangeAbsolute}
	if l, ok := st.List(); ok {
		ch.ChangeType = protocol.ChangeList
		ch.Values = l
	} else {
		ch.Value = st.WireText()
	}
	return ch
}

// updateLoop moves read-only numeric values the way live sensor readings
// would.
func (d *Device) updateLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Device) tick() {
	for _, item := range d.tree.GetAllMenuItems() {
		if !item.ReadOnly() {
			continue
		}
		cur, err := menu.ValueFor(d.tree, item)
		if err != nil {
			continue
		}
		var next any
		switch item.Kind() {
		case menu.KindAnalog:
			a, _ := item.Analog()
			n, _ := cur.Int()
			next = (n + 1) % (a.MaxValue + 1)
		case menu.KindFloat, menu.KindLargeNumber:
			f, _ := cur.Float()
			step := 0.1 + rand.Float64()
			if rand.IntN(2) == 0 {
				step = -step
			}
			next = f + step
		default:
			continue
		}
		if _, err := d.SetValue(item.ID(), next); err != nil {
			d.log.Debug().Err(err).Int("id", item.ID()).Msg("update skipped")
		}
	}
}

// bootstrap returns the full tree as item commands in depth-first order so
// every parent precedes its children.
func (d *Device) bootstrap() []protocol.Command {
	items := d.tree.GetAllMenuItems()
	cmds := make([]protocol.Command, 0, len(items)+2)
	cmds = append(cmds, protocol.Bootstrap{Phase: protocol.BootStart})
	for _, item := range items {
		parent, _ := d.tree.ParentID(item.ID())
		st, err := menu.ValueFor(d.tree, item)
		if err != nil {
			continue
		}
		cmds = append(cmds, protocol.ItemWithValue(parent, item, st))
	}
	return append(cmds, protocol.Bootstrap{Phase: protocol.BootEnd})
}

// AcceptedUUIDs lists the remotes allowed to join, including paired ones.
func (d *Device) AcceptedUUIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.accepted))
	for u := range d.accepted {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}
