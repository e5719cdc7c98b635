package simulator

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

var errSessionBacklog = errors.New("remote is not reading")

type session struct {
	d     *Device
	conn  net.Conn
	log   zerolog.Logger
	out   chan []byte
	ready atomic.Bool
}

// send queues cmds as one write so a slow remote never stalls the reader.
func (s *session) send(cmds ...protocol.Command) error {
	var frame []byte
	for _, c := range cmds {
		b, err := s.d.codec.Encode(c)
		if err != nil {
			return err
		}
		frame = append(frame, b...)
	}
	select {
	case s.out <- frame:
		return nil
	default:
		return errSessionBacklog
	}
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.conn.Close()
	for {
		select {
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := s.conn.Write(frame); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ctx.Done():
			if end, err := s.d.codec.Encode(protocol.Heartbeat{Mode: protocol.HeartbeatEnd}); err == nil {
				_ = s.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
				_, _ = s.conn.Write(end)
			}
			return
		}
	}
}

// Serve runs one remote session on conn until the remote leaves, goes
// silent, ctx ends or the device closes.
func (d *Device) Serve(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		d:    d,
		conn: conn,
		log:  d.log.With().Str("peer", conn.RemoteAddr().String()).Logger(),
		out:  make(chan []byte, 256),
	}
	d.mu.Lock()
	d.sessions[s] = struct{}{}
	d.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.heartbeats(ctx)
	}()
	go func() {
		select {
		case <-d.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer func() {
		d.mu.Lock()
		delete(d.sessions, s)
		d.mu.Unlock()
		cancel()
		wg.Wait()
		s.log.Info().Msg("remote disconnected")
	}()

	s.log.Info().Msg("remote connected")
	hello := protocol.Join{
		Name:         d.cfg.Name,
		UUID:         d.cfg.UUID,
		Version:      100,
		Platform:     Platform,
		SerialNumber: d.cfg.SerialNumber,
	}
	if err := s.send(protocol.Heartbeat{Interval: d.cfg.HeartbeatInterval, Mode: protocol.HeartbeatStart}, hello); err != nil {
		return
	}

	silence := 3 * d.cfg.HeartbeatInterval
	var buf []byte
	chunk := make([]byte, 1024)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(silence))
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		for len(buf) > 0 {
			cmd, used, derr := d.codec.Decode(buf)
			buf = buf[used:]
			if errors.Is(derr, protocol.ErrIncomplete) {
				break
			}
			if derr != nil {
				s.log.Warn().Err(derr).Msg("bad frame from remote")
				if used == 0 {
					buf = nil
				}
				continue
			}
			if !s.handle(cmd) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *session) heartbeats(ctx context.Context) {
	t := time.NewTicker(s.d.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.send(protocol.Heartbeat{Interval: s.d.cfg.HeartbeatInterval}); err != nil {
				return
			}
		}
	}
}

// handle reacts to one remote command; false ends the session.
func (s *session) handle(cmd protocol.Command) bool {
	switch m := cmd.(type) {
	case protocol.Heartbeat:
		return m.Mode != protocol.HeartbeatEnd
	case protocol.Join:
		s.log = s.log.With().Str("remote", m.Name).Logger()
		if !s.d.Accepts(m.UUID) {
			s.log.Warn().Str("uuid", m.UUID).Msg("join refused")
			return s.send(protocol.Ack{Status: protocol.AckInvalidCredential}) == nil
		}
		return s.join()
	case protocol.Pairing:
		if s.d.cfg.RejectPairing {
			s.log.Warn().Str("uuid", m.UUID).Msg("pairing refused")
			return s.send(protocol.Ack{Status: protocol.AckInvalidCredential}) == nil
		}
		s.log.Info().Str("uuid", m.UUID).Str("remote", m.Name).Msg("paired")
		s.d.pair(m.UUID)
		return s.join()
	case protocol.Change:
		if !s.ready.Load() {
			return true
		}
		return s.change(m)
	case protocol.Dialog:
		if m.Mode == protocol.DialogAction {
			s.log.Info().Str("button", m.Button1.String()).Msg("dialog answered")
			if err := s.send(protocol.Ack{Correlation: m.Correlation, Status: protocol.AckSuccess}); err != nil {
				return false
			}
			s.d.HideDialog()
		}
		return true
	default:
		s.log.Debug().Str("command", string(cmd.Type())).Msg("ignored")
		return true
	}
}

func (s *session) join() bool {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	cmds := append([]protocol.Command{protocol.Ack{Status: protocol.AckSuccess}}, s.d.bootstrap()...)
	if err := s.send(cmds...); err != nil {
		return false
	}
	s.ready.Store(true)
	return true
}

func (s *session) change(m protocol.Change) bool {
	item, ok := s.d.tree.GetMenuByID(m.ItemID)
	if !ok {
		return s.send(protocol.Ack{Correlation: m.Correlation, Status: protocol.AckIDNotFound}) == nil
	}
	if item.ReadOnly() {
		return s.send(protocol.Ack{Correlation: m.Correlation, Status: protocol.AckUnknownError}) == nil
	}

	var (
		st  menu.State
		err error
	)
	switch m.ChangeType {
	case protocol.ChangeDelta:
		delta, perr := strconv.Atoi(m.Value)
		var applied bool
		if perr == nil {
			st, applied = menu.ApplyDelta(s.d.tree, item, delta)
		}
		if !applied {
			err = menu.ErrInvalidValue
		}
	case protocol.ChangeList:
		st, err = menu.SetMenuState(s.d.tree, item, m.Values)
	default:
		st, err = menu.SetMenuState(s.d.tree, item, m.Value)
	}
	if err != nil {
		s.log.Warn().Err(err).Int("id", item.ID()).Msg("change refused")
		return s.send(protocol.Ack{Correlation: m.Correlation, Status: protocol.AckUnknownError}) == nil
	}

	if err := s.send(protocol.Ack{Correlation: m.Correlation, Status: protocol.AckSuccess}); err != nil {
		return false
	}
	s.d.broadcast(changeFor(item, st))
	return true
}
