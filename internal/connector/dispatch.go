package connector

import (
	"fmt"
	"strconv"

	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

// dispatch hands cmd to the handler of the current state. Only that handler
// decides the next state.
func (c *Connector) dispatch(s *session, cmd protocol.Command) {
	c.mu.Lock()
	if !c.currentLocked(s.id) {
		c.mu.Unlock()
		return
	}
	st := c.status
	if st != FailedAuth {
		c.lastRx = c.clock.Now()
	}
	c.mu.Unlock()

	if st == FailedAuth {
		c.log.Debug().Str("command", string(cmd.Type())).Msg("discarding command after failed authentication")
		return
	}

	if st == EstablishedConnection {
		c.onEstablished(s, cmd)
		return
	}

	// every frame already counted as activity above
	if hb, ok := cmd.(protocol.Heartbeat); ok {
		if hb.Mode == protocol.HeartbeatEnd {
			c.backToStart(s.id, "Remote closed the connection")
		}
		return
	}

	switch st {
	case SendJoin:
		c.onSendJoin(s, cmd)
	case Authenticated:
		c.onAuthenticated(s, cmd)
	case Bootstrapping, ConnectionReady:
		c.onSynchronising(s, st, cmd)
	default:
		c.unexpected(s, st, cmd)
	}
}

func (c *Connector) unexpected(s *session, st AuthStatus, cmd protocol.Command) {
	c.backToStart(s.id, fmt.Sprintf("Unexpected %s command in %s", cmd.Type(), st))
}

// onEstablished waits for the first heartbeat or join from the device
// before introducing ourselves.
func (c *Connector) onEstablished(s *session, cmd protocol.Command) {
	switch m := cmd.(type) {
	case protocol.Heartbeat:
		if m.Mode == protocol.HeartbeatEnd {
			c.backToStart(s.id, "Remote closed the connection")
			return
		}
	case protocol.Join:
		c.recordRemote(m)
	default:
		c.unexpected(s, EstablishedConnection, cmd)
		return
	}
	c.sendJoin(s)
}

// sendJoin introduces this endpoint to the device, with a pairing request
// instead of a join when pairing.
func (c *Connector) sendJoin(s *session) {
	if !c.transition(s.id, SendJoin, "") {
		return
	}
	select {
	case s.joinSent <- struct{}{}:
	default:
	}
	var join protocol.Command = protocol.Join{
		Name:     c.identity.Name,
		UUID:     c.identity.UUID,
		Version:  c.identity.Version,
		Platform: c.identity.Platform,
	}
	if c.pairing {
		join = protocol.Pairing{Name: c.identity.Name, UUID: c.identity.UUID}
	}
	_ = c.send(s, join)
}

func (c *Connector) onSendJoin(s *session, cmd protocol.Command) {
	switch m := cmd.(type) {
	case protocol.Join:
		c.recordRemote(m)
	case protocol.Ack:
		if m.Status.IsError() {
			c.log.Warn().Str("status", m.Status.String()).Bool("pairing", c.pairing).Msg("join rejected")
			if c.transition(s.id, FailedAuth, "join rejected: "+m.Status.String()) {
				select {
				case s.authFail <- struct{}{}:
				default:
				}
			}
			return
		}
		c.transition(s.id, Authenticated, "")
	default:
		c.unexpected(s, SendJoin, cmd)
	}
}

func (c *Connector) onAuthenticated(s *session, cmd protocol.Command) {
	switch m := cmd.(type) {
	case protocol.Join:
		c.recordRemote(m)
	case protocol.Bootstrap:
		if m.Phase == protocol.BootEnd {
			c.backToStart(s.id, "Bootstrap END without START")
			return
		}
		c.transition(s.id, Bootstrapping, "")
	default:
		c.unexpected(s, Authenticated, cmd)
	}
}

// onSynchronising handles the bootstrap stream and steady state, which
// accept the same commands and differ only in how bootstrap markers move
// the state.
func (c *Connector) onSynchronising(s *session, st AuthStatus, cmd protocol.Command) {
	switch m := cmd.(type) {
	case protocol.ItemCommand:
		c.applyItem(m)
	case protocol.Change:
		c.applyChange(m)
	case protocol.Ack:
		matched := c.resolve(m.Correlation, m.Status, nil)
		if !matched {
			c.log.Debug().Str("correlation", m.Correlation.String()).Msg("ack for unknown or settled request")
		}
		c.emit(func(l Listener) { l.AckReceived(m.Correlation, m.Status, matched) })
	case protocol.Dialog:
		c.emit(func(l Listener) { l.DialogUpdated(m) })
	case protocol.Bootstrap:
		switch {
		case m.Phase == protocol.BootStart && st == ConnectionReady:
			c.transition(s.id, Bootstrapping, "bootstrap restarted")
		case m.Phase == protocol.BootEnd && st == Bootstrapping:
			c.log.Info().Int("items", c.tree.Len()).Msg("bootstrap complete")
			c.transition(s.id, ConnectionReady, "")
		case m.Phase == protocol.BootEnd:
			c.backToStart(s.id, "Bootstrap END without START")
		}
	default:
		c.unexpected(s, st, cmd)
	}
}

func (c *Connector) recordRemote(j protocol.Join) {
	info := RemoteInfo{Name: j.Name, Version: j.Version, Platform: j.Platform, UUID: j.UUID, SerialNumber: j.SerialNumber}
	c.mu.Lock()
	c.remote, c.haveRemote = info, true
	c.mu.Unlock()
	c.log.Info().Str("remote", info.String()).Msg("device joined")
}

func (c *Connector) applyItem(m protocol.ItemCommand) {
	structural, err := c.tree.AddOrUpdateItem(m.ParentID, m.Item)
	if err != nil {
		c.log.Warn().Err(err).Str("item", m.Item.String()).Msg("ignoring item definition")
		return
	}

	var v any = m.Value
	switch {
	case m.Item.Kind() == menu.KindRuntimeList:
		v = m.Values
	case m.Value == "":
		v = nil
	}
	if _, err := menu.SetMenuState(c.tree, m.Item, v); err != nil {
		c.log.Warn().Err(err).Str("item", m.Item.String()).Msg("ignoring item value")
	}
	c.emit(func(l Listener) { l.MenuChanged(m.Item, structural) })
}

func (c *Connector) applyChange(m protocol.Change) {
	item, ok := c.tree.GetMenuByID(m.ItemID)
	if !ok {
		c.log.Warn().Int("id", m.ItemID).Msg("change for unknown item")
		return
	}

	switch m.ChangeType {
	case protocol.ChangeDelta:
		d, err := strconv.Atoi(m.Value)
		if err != nil {
			c.log.Warn().Str("value", m.Value).Str("item", item.String()).Msg("bad delta")
			return
		}
		if _, ok := menu.ApplyDelta(c.tree, item, d); !ok {
			c.log.Warn().Int("delta", d).Str("item", item.String()).Msg("delta out of range")
			return
		}
	case protocol.ChangeList:
		if _, err := menu.SetMenuState(c.tree, item, m.Values); err != nil {
			c.log.Warn().Err(err).Msg("ignoring list change")
			return
		}
	default:
		if _, err := menu.SetMenuState(c.tree, item, m.Value); err != nil {
			c.log.Warn().Err(err).Msg("ignoring value change")
			return
		}
	}
	c.emit(func(l Listener) { l.MenuChanged(item, false) })
}
