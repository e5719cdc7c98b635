package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

const (
	// APIVersion is sent in joins as major*100+minor.
	APIVersion  = 100
	APIPlatform = "GO_API"
)

// session is one open byte stream. Everything that can end a session
// compares its id with the current one so the teardown happens once.
type session struct {
	id       uint64
	ctx      context.Context
	authFail chan struct{}
	joinSent chan struct{}
}

type pending struct {
	corr       protocol.CorrelationID
	itemID     int
	sent       time.Time
	done       chan struct{}
	resolved   bool
	resolvedAt time.Time
	status     protocol.AckStatus
	err        error
}

func (p *pending) finish(status protocol.AckStatus, err error, at time.Time) {
	p.status, p.err = status, err
	p.resolved, p.resolvedAt = true, at
	close(p.done)
}

// Connector drives one device connection from connect through join and
// bootstrap to a synchronised menu tree, and back to connecting whenever
// the session fails.
//
// Inbound commands are decoded and applied by a single reader goroutine in
// arrival order. A second goroutine per session sends heartbeats and
// watches for the peer going silent. Listener events are queued in the
// order the state changed and delivered one at a time off both goroutines.
type Connector struct {
	name       string
	transport  Transport
	codec      protocol.Codec
	tree       *menu.Tree
	identity   Identity
	cfg        Config
	clock      Clock
	log        zerolog.Logger
	listener   Listener
	pairing    bool
	correlator *protocol.Correlator

	mu         sync.Mutex
	status     AuthStatus
	sessionID  uint64
	sess       *session
	live       bool
	stopping   bool
	started    bool
	cancel     context.CancelFunc
	sessCancel context.CancelFunc
	done       chan struct{}
	lastRx     time.Time
	lastReason string
	remote     RemoteInfo
	haveRemote bool
	inflight   map[protocol.CorrelationID]*pending
	events     []func(Listener)
	emitting   bool
	inCallback bool
	drained    chan struct{}

	writeMu sync.Mutex
}

func New(opts Options) (*Connector, error) {
	if opts.Transport == nil {
		return nil, errMissingTransport
	}
	if opts.Tree == nil {
		return nil, errMissingTree
	}
	if opts.Codec == nil {
		opts.Codec = protocol.NewTagValCodec()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Name == "" {
		opts.Name = opts.Transport.Name()
	}
	id := opts.Identity
	if id.Name == "" {
		id.Name = "menu-remote"
	}
	if id.UUID == "" {
		id.UUID = uuid.NewString()
	}
	if id.Version == 0 {
		id.Version = APIVersion
	}
	if id.Platform == "" {
		id.Platform = APIPlatform
	}

	return &Connector{
		name:       opts.Name,
		transport:  opts.Transport,
		codec:      opts.Codec,
		tree:       opts.Tree,
		identity:   id,
		cfg:        opts.Config.WithDefaults(),
		clock:      opts.Clock,
		log:        opts.Logger.With().Str("connection", opts.Name).Logger(),
		listener:   opts.Listener,
		pairing:    opts.Pairing,
		correlator: protocol.NewCorrelator(),
		inflight:   make(map[protocol.CorrelationID]*pending),
	}, nil
}

func (c *Connector) Name() string         { return c.name }
func (c *Connector) Tree() *menu.Tree     { return c.tree }
func (c *Connector) Identity() Identity   { return c.identity }
func (c *Connector) Config() Config       { return c.cfg }
func (c *Connector) Transport() Transport { return c.transport }

func (c *Connector) Status() AuthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastReason is why the last session ended.
func (c *Connector) LastReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReason
}

// RemoteInfo returns the identity the device sent in its join.
func (c *Connector) RemoteInfo() (RemoteInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote, c.haveRemote
}

// InFlight counts requests still waiting for an acknowledgement.
func (c *Connector) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.inflight {
		if !p.resolved {
			n++
		}
	}
	return n
}

// Start begins connecting in the background. Calling it again while
// running does nothing.
func (c *Connector) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.started, c.stopping = true, false
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.log.Info().Str("transport", c.transport.Name()).Msg("starting connector")
	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

// Stop closes the connection, cancels any pending reconnect and fails
// in-flight requests with ErrStopped. It returns once the worker has exited
// and the queued events are delivered. Called from a listener callback it
// does not wait for the events queued behind that callback.
func (c *Connector) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started, c.stopping = false, true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	_ = c.transport.Close()
	<-done

	c.mu.Lock()
	c.sessionID++
	c.live = false
	prev := c.status
	c.status = NotStarted
	c.lastReason = "stopped"
	c.failInflightLocked(ErrStopped)
	if prev != NotStarted {
		c.emitLocked(func(l Listener) { l.ConnectionChanged(NotStarted, "stopped") })
	}
	drained := c.drained
	if c.inCallback {
		drained = nil
	}
	c.mu.Unlock()

	c.log.Info().Msg("connector stopped")
	if drained != nil {
		<-drained
	}
}

func (c *Connector) run(ctx context.Context) {
	bo := c.cfg.Reconnect.ExponentialBackOff()
	attempt := 0
	for ctx.Err() == nil {
		c.enterAwaiting()
		if err := c.transport.Connect(ctx); err != nil {
			delay := bo.NextBackOff()
			attempt++
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("connect failed")
			if !c.sleep(ctx, delay) {
				return
			}
			continue
		}
		attempt = 0
		bo.Reset()
		c.serve(ctx)
		if !c.sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (c *Connector) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

func (c *Connector) enterAwaiting() {
	c.mu.Lock()
	if c.stopping || c.status == AwaitingConnection {
		c.mu.Unlock()
		return
	}
	c.status = AwaitingConnection
	reason := c.lastReason
	c.emitLocked(func(l Listener) { l.ConnectionChanged(AwaitingConnection, reason) })
	c.mu.Unlock()
}

// serve runs one session until it ends.
func (c *Connector) serve(ctx context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		_ = c.transport.Close()
		return
	}
	c.sessionID++
	s := &session{
		id:       c.sessionID,
		ctx:      sctx,
		authFail: make(chan struct{}, 1),
		joinSent: make(chan struct{}, 1),
	}
	c.sess = s
	c.live = true
	c.sessCancel = cancel
	c.lastRx = c.clock.Now()
	c.mu.Unlock()

	c.log.Info().Str("transport", c.transport.Name()).Uint64("session", s.id).Msg("connected")
	c.transition(s.id, EstablishedConnection, "")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(s)
	}()

	// the join goes out once the device has spoken
	_ = c.send(s, protocol.Heartbeat{Interval: c.cfg.HeartbeatInterval, Mode: protocol.HeartbeatStart})

	var buf []byte
	chunk := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.transport.Read(chunk)
		if n > 0 {
			buf = c.process(s, append(buf, chunk[:n]...))
		}
		if !c.current(s.id) {
			break
		}
		if err != nil {
			reason := "connection closed by peer"
			if !errors.Is(err, io.EOF) {
				reason = "read failed: " + err.Error()
			}
			c.backToStart(s.id, reason)
			break
		}
		if n == 0 {
			c.backToStart(s.id, "connection closed by peer")
			break
		}
	}
	cancel()
	wg.Wait()
}

// process decodes and dispatches every whole frame in buf and returns the
// bytes left over.
func (c *Connector) process(s *session, buf []byte) []byte {
	for len(buf) > 0 {
		cmd, n, err := c.codec.Decode(buf)
		if n > 0 {
			buf = buf[n:]
		}
		switch {
		case err == nil:
			c.dispatch(s, cmd)
			if !c.current(s.id) {
				return nil
			}
		case errors.Is(err, protocol.ErrIncomplete):
			return buf
		case errors.Is(err, protocol.ErrUnknownCommand):
			c.log.Warn().Err(err).Msg("skipping unknown command")
		default:
			c.backToStart(s.id, "protocol error: "+err.Error())
			return nil
		}
		if n == 0 && err != nil {
			return buf
		}
	}
	return buf
}

func (c *Connector) heartbeatLoop(s *session) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var joinExpired <-chan time.Time
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.joinSent:
			joinExpired = c.clock.After(c.cfg.JoinTimeout)
		case <-joinExpired:
			joinExpired = nil
			reason := fmt.Sprintf("Join not acknowledged within %s", c.cfg.JoinTimeout)
			if c.backToStartIf(s.id, reason, func(st AuthStatus) bool { return st == SendJoin }) {
				return
			}
		case <-s.authFail:
			select {
			case <-s.ctx.Done():
			case <-c.clock.After(c.cfg.AuthFailWait):
				c.backToStart(s.id, "Authentication failed")
			}
			return
		case <-ticker.Chan():
			c.mu.Lock()
			now := c.clock.Now()
			silent := now.Sub(c.lastRx)
			st := c.status
			c.sweepLocked(now)
			c.mu.Unlock()

			if st == FailedAuth {
				continue
			}
			if silent > c.cfg.HeartbeatTimeout {
				c.backToStart(s.id, fmt.Sprintf("Heartbeat timeout, no data for %s", silent.Round(time.Millisecond)))
				return
			}
			_ = c.send(s, protocol.Heartbeat{Interval: c.cfg.HeartbeatInterval})
		}
	}
}

func (c *Connector) current(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked(id)
}

func (c *Connector) currentLocked(id uint64) bool {
	return c.live && c.sessionID == id
}

// transition moves the current session to another state. It returns false
// when the session has already ended.
func (c *Connector) transition(id uint64, to AuthStatus, reason string) bool {
	c.mu.Lock()
	if !c.currentLocked(id) {
		c.mu.Unlock()
		return false
	}
	from := c.status
	c.status = to
	if from != to {
		c.emitLocked(func(l Listener) { l.ConnectionChanged(to, reason) })
	}
	c.mu.Unlock()

	if from != to {
		c.log.Info().Str("from", from.String()).Str("to", to.String()).Str("reason", reason).Msg("state change")
	}
	return true
}

// emitLocked queues an event for the listener. Events leave in the order
// they were queued, one at a time, from a goroutine that holds no lock, so
// a callback may call back into the connector.
func (c *Connector) emitLocked(ev func(Listener)) {
	c.events = append(c.events, ev)
	if !c.emitting {
		c.emitting = true
		c.drained = make(chan struct{})
		go c.deliver()
	}
}

func (c *Connector) emit(ev func(Listener)) {
	c.mu.Lock()
	c.emitLocked(ev)
	c.mu.Unlock()
}

func (c *Connector) deliver() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.events) > 0 {
		ev := c.events[0]
		c.events[0] = nil
		c.events = c.events[1:]
		c.inCallback = true
		c.mu.Unlock()
		ev(c.listener)
		c.mu.Lock()
		c.inCallback = false
	}
	c.emitting = false
	close(c.drained)
	c.drained = nil
}

// backToStart ends session id: the transport is closed, requests waiting
// for an ack fail and the worker reconnects. Only the first call for a
// session has any effect.
func (c *Connector) backToStart(id uint64, reason string) bool {
	return c.backToStartIf(id, reason, func(AuthStatus) bool { return true })
}

// backToStartIf is backToStart for a session whose state satisfies in.
func (c *Connector) backToStartIf(id uint64, reason string, in func(AuthStatus) bool) bool {
	c.mu.Lock()
	if !c.currentLocked(id) || !in(c.status) {
		c.mu.Unlock()
		return false
	}
	c.live = false
	c.lastReason = reason
	stopping := c.stopping
	if stopping {
		c.failInflightLocked(ErrStopped)
	} else {
		c.failInflightLocked(ErrConnectionLost)
	}
	from := c.status
	if !stopping {
		c.status = AwaitingConnection
		c.emitLocked(func(l Listener) { l.ConnectionChanged(AwaitingConnection, reason) })
	}
	cancel := c.sessCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = c.transport.Close()

	if stopping {
		c.log.Debug().Str("reason", reason).Msg("session closed while stopping")
		return true
	}
	c.log.Warn().Str("from", from.String()).Str("reason", reason).Msg("back to start")
	return true
}

// send encodes and writes cmd. A write that fails or does not finish within
// the write timeout ends the session.
func (c *Connector) send(s *session, cmd protocol.Command) error {
	data, err := c.codec.Encode(cmd)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	if !c.current(s.id) {
		c.writeMu.Unlock()
		return ErrNotConnected
	}
	errc := make(chan error, 1)
	go func() {
		_, err := c.transport.Write(data)
		errc <- err
	}()
	var werr error
	select {
	case err := <-errc:
		if err != nil {
			werr = fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
	case <-c.clock.After(c.cfg.WriteTimeout):
		werr = ErrWriteTimeout
	case <-s.ctx.Done():
		werr = ErrConnectionLost
	}
	c.writeMu.Unlock()

	if werr != nil {
		c.backToStart(s.id, "write failed: "+werr.Error())
	}
	return werr
}

func (c *Connector) failInflightLocked(err error) {
	now := c.clock.Now()
	for _, p := range c.inflight {
		if !p.resolved {
			p.finish(0, err, now)
		}
	}
}

// sweepLocked times out unanswered requests and forgets settled ones once
// they are older than the ack timeout.
func (c *Connector) sweepLocked(now time.Time) {
	for corr, p := range c.inflight {
		switch {
		case !p.resolved && now.Sub(p.sent) > c.cfg.AckTimeout:
			p.finish(0, ErrAckTimeout, now)
		case p.resolved && now.Sub(p.resolvedAt) > c.cfg.AckTimeout:
			delete(c.inflight, corr)
		}
	}
}

// resolve settles a request. Requests that already settled, including ones
// failed when their session ended, are never matched again.
func (c *Connector) resolve(corr protocol.CorrelationID, status protocol.AckStatus, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.inflight[corr]
	if !ok || p.resolved {
		return false
	}
	p.finish(status, err, c.clock.Now())
	return true
}

// submit registers a correlation for the command built by build and sends
// it. Only a ready connection accepts requests.
func (c *Connector) submit(itemID int, build func(protocol.CorrelationID) protocol.Command) (protocol.CorrelationID, error) {
	c.mu.Lock()
	if c.status != ConnectionReady || !c.live {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	s := c.sess
	corr := c.correlator.Next()
	now := c.clock.Now()
	c.sweepLocked(now)
	c.inflight[corr] = &pending{corr: corr, itemID: itemID, sent: now, done: make(chan struct{})}
	c.mu.Unlock()

	if err := c.send(s, build(corr)); err != nil {
		c.resolve(corr, 0, err)
		return 0, err
	}
	return corr, nil
}

// SendChange sends a value change and returns the correlation the device
// will acknowledge. It fails with ErrNotConnected unless the connection is
// ready.
func (c *Connector) SendChange(ch protocol.Change) (protocol.CorrelationID, error) {
	return c.submit(ch.ItemID, func(corr protocol.CorrelationID) protocol.Command {
		ch.Correlation = corr
		return ch
	})
}

// SendDialogAction answers the device dialog with the pressed button.
func (c *Connector) SendDialogAction(button protocol.ButtonType) (protocol.CorrelationID, error) {
	return c.submit(-1, func(corr protocol.CorrelationID) protocol.Command {
		return protocol.Dialog{Mode: protocol.DialogAction, Button1: button, Correlation: corr}
	})
}

// WaitForAck blocks until the request is acknowledged, fails, or the ack
// timeout measured from when it was sent passes.
func (c *Connector) WaitForAck(ctx context.Context, corr protocol.CorrelationID) (protocol.AckStatus, error) {
	c.mu.Lock()
	p, ok := c.inflight[corr]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCorrelation, corr)
	}

	remaining := max(c.cfg.AckTimeout-c.clock.Now().Sub(p.sent), 0)
	select {
	case <-p.done:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.clock.After(remaining):
		c.resolve(corr, 0, ErrAckTimeout)
		<-p.done
	}
	return p.status, p.err
}
