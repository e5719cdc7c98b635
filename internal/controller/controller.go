// Package controller is the object applications hold: one connector, the
// menu tree it mirrors, and fan-out of what happens on the connection.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"menu-remote/internal/connector"
	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

type Controller struct {
	conn *connector.Connector
	tree *menu.Tree
	log  zerolog.Logger
	obs  observers

	mu     sync.Mutex
	dialog protocol.Dialog
	shown  bool
}

// New builds the connector described by opts with the controller as its
// listener. A nil tree gets a fresh empty mirror.
func New(opts connector.Options) (*Controller, error) {
	if opts.Tree == nil {
		opts.Tree = menu.NewTree()
	}
	c := &Controller{
		tree: opts.Tree,
		log:  opts.Logger.With().Str("component", "controller").Logger(),
	}
	opts.Listener = listener{c}

	conn, err := connector.New(opts)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Controller) Connector() *connector.Connector { return c.conn }
func (c *Controller) Tree() *menu.Tree                { return c.tree }
func (c *Controller) Name() string                    { return c.conn.Name() }
func (c *Controller) Status() connector.AuthStatus    { return c.conn.Status() }

func (c *Controller) RemoteInfo() (connector.RemoteInfo, bool) {
	return c.conn.RemoteInfo()
}

// Start and Stop are idempotent.
func (c *Controller) Start() { c.conn.Start() }
func (c *Controller) Stop()  { c.conn.Stop() }

// Subscribe registers h and returns the function that removes it. Removing
// a subscription while an event is being delivered is safe; the others
// still receive it.
func (c *Controller) Subscribe(h Handlers) (unsubscribe func()) {
	return c.obs.add(h)
}

// Dialog returns the dialog the device is currently showing.
func (c *Controller) Dialog() (protocol.Dialog, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialog, c.shown
}

// SendAbsoluteChange asks the device to set item to the value given in its
// wire text form. The value is checked and normalised against the item
// first, so an analog "300" on a 255 maximum goes out as "255".
func (c *Controller) SendAbsoluteChange(item menu.Item, value string) (protocol.CorrelationID, error) {
	if err := c.writable(item); err != nil {
		return 0, err
	}

	ch := protocol.Change{ItemID: item.ID(), ChangeType: protocol.ChangeAbsolute}
	if item.Kind() == menu.KindRuntimeList {
		ch.ChangeType = protocol.ChangeList
	}
	st, err := menu.StateFor(item, value, true, false)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", menu.ErrInvalidValue, err)
	}
	if l, ok := st.List(); ok {
		ch.Values = l
	} else {
		ch.Value = st.WireText()
	}
	return c.conn.SendChange(ch)
}

// SendListChange replaces the entries of a runtime list.
func (c *Controller) SendListChange(item menu.Item, values []string) (protocol.CorrelationID, error) {
	if err := c.writable(item); err != nil {
		return 0, err
	}
	if item.Kind() != menu.KindRuntimeList {
		return 0, fmt.Errorf("%w: %s is not a list", menu.ErrInvalidValue, item)
	}
	return c.conn.SendChange(protocol.Change{ItemID: item.ID(), ChangeType: protocol.ChangeList, Values: values})
}

// SendDeltaChange moves an analog, enum or scroll item by delta. A delta
// that would leave the item's range is refused locally.
func (c *Controller) SendDeltaChange(item menu.Item, delta int) (protocol.CorrelationID, error) {
	if err := c.writable(item); err != nil {
		return 0, err
	}
	cur, ok := c.tree.GetState(item.ID())
	if !ok {
		var err error
		if cur, err = menu.StateFor(item, nil, false, false); err != nil {
			return 0, err
		}
	}
	if _, ok := menu.DeltaTarget(item, cur, delta); !ok {
		return 0, fmt.Errorf("%w: delta %d for %s", menu.ErrInvalidValue, delta, item)
	}
	return c.conn.SendChange(protocol.Change{
		ItemID:     item.ID(),
		ChangeType: protocol.ChangeDelta,
		Value:      strconv.Itoa(delta),
	})
}

func (c *Controller) SendDialogAction(button protocol.ButtonType) (protocol.CorrelationID, error) {
	return c.conn.SendDialogAction(button)
}

func (c *Controller) WaitForAck(ctx context.Context, corr protocol.CorrelationID) (protocol.AckStatus, error) {
	return c.conn.WaitForAck(ctx, corr)
}

func (c *Controller) writable(item menu.Item) error {
	if _, ok := c.tree.GetMenuByID(item.ID()); !ok {
		return fmt.Errorf("%w: %d", menu.ErrItemNotFound, item.ID())
	}
	if item.ReadOnly() {
		return fmt.Errorf("%w: %s", ErrReadOnly, item)
	}
	return nil
}

// listener adapts connector callbacks to subscriber fan-out without putting
// the callback methods on Controller's API.
type listener struct{ c *Controller }

func (l listener) ConnectionChanged(status connector.AuthStatus, reason string) {
	if !status.Connected() {
		l.c.mu.Lock()
		l.c.shown = false
		l.c.mu.Unlock()
	}
	l.c.obs.each(func(h Handlers) {
		if h.ConnectionChanged != nil {
			h.ConnectionChanged(status, reason)
		}
	})
}

func (l listener) MenuChanged(item menu.Item, structural bool) {
	l.c.obs.each(func(h Handlers) {
		if h.MenuChanged != nil {
			h.MenuChanged(item, structural)
		}
	})
}

func (l listener) AckReceived(corr protocol.CorrelationID, status protocol.AckStatus, matched bool) {
	if status.IsError() {
		l.c.log.Warn().Str("correlation", corr.String()).Str("status", status.String()).Bool("matched", matched).Msg("change rejected")
	}
	l.c.obs.each(func(h Handlers) {
		if h.AckReceived != nil {
			h.AckReceived(corr, status)
		}
	})
}

func (l listener) DialogUpdated(d protocol.Dialog) {
	l.c.mu.Lock()
	switch d.Mode {
	case protocol.DialogShow:
		l.c.dialog, l.c.shown = d, true
	case protocol.DialogHide:
		l.c.shown = false
	}
	l.c.mu.Unlock()

	l.c.obs.each(func(h Handlers) {
		if h.DialogUpdated != nil {
			h.DialogUpdated(d)
		}
	})
}
