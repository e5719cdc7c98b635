package connector

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

const waitFor = 2 * time.Second

// pipeTransport hands the device end of a fresh net.Pipe to the test on
// every Connect.
type pipeTransport struct {
	mu      sync.Mutex
	conn    net.Conn
	devices chan net.Conn
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{devices: make(chan net.Conn, 8)}
}

func (p *pipeTransport) Connect(context.Context) error {
	local, remote := net.Pipe()
	p.mu.Lock()
	p.conn = local
	p.mu.Unlock()
	p.devices <- remote
	return nil
}

func (p *pipeTransport) get() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *pipeTransport) Read(b []byte) (int, error) {
	if c := p.get(); c != nil {
		return c.Read(b)
	}
	return 0, io.EOF
}

func (p *pipeTransport) Write(b []byte) (int, error) {
	if c := p.get(); c != nil {
		return c.Write(b)
	}
	return 0, io.ErrClosedPipe
}

func (p *pipeTransport) Close() error {
	if c := p.get(); c != nil {
		return c.Close()
	}
	return nil
}

func (p *pipeTransport) IsConnected() bool { return p.get() != nil }
func (p *pipeTransport) Name() string      { return "pipe" }

// accept returns the next device, which greets the connector with a
// heartbeat the way real devices do on connect.
func (p *pipeTransport) accept(t *testing.T) *device {
	t.Helper()
	d := p.acceptQuiet(t)
	d.send(protocol.Heartbeat{Interval: time.Second, Mode: protocol.HeartbeatStart})
	return d
}

// acceptQuiet returns the next device without sending anything.
func (p *pipeTransport) acceptQuiet(t *testing.T) *device {
	t.Helper()
	select {
	case conn := <-p.devices:
		return newDevice(t, conn)
	case <-time.After(waitFor):
		t.Fatal("connector never connected")
		return nil
	}
}

// stallingTransport hangs the next Write after stall is set until the test
// ends.
type stallingTransport struct {
	*pipeTransport
	stall   atomic.Bool
	release chan struct{}
}

func (s *stallingTransport) Write(b []byte) (int, error) {
	if s.stall.CompareAndSwap(true, false) {
		<-s.release
		return 0, io.ErrClosedPipe
	}
	return s.pipeTransport.Write(b)
}

// device plays the embedded side of a connection.
type device struct {
	t     *testing.T
	conn  net.Conn
	codec *protocol.TagValCodec
	in    chan protocol.Command
}

func newDevice(t *testing.T, conn net.Conn) *device {
	d := &device{t: t, conn: conn, codec: protocol.NewTagValCodec(), in: make(chan protocol.Command, 64)}
	go func() {
		defer close(d.in)
		var buf []byte
		chunk := make([]byte, 512)
		for {
			n, err := conn.Read(chunk)
			buf = append(buf, chunk[:n]...)
			for {
				cmd, used, derr := d.codec.Decode(buf)
				buf = buf[used:]
				if derr != nil {
					break
				}
				d.in <- cmd
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return d
}

func (d *device) send(cmds ...protocol.Command) {
	d.t.Helper()
	var frame []byte
	for _, c := range cmds {
		data, err := d.codec.Encode(c)
		require.NoError(d.t, err)
		frame = append(frame, data...)
	}
	_, err := d.conn.Write(frame)
	require.NoError(d.t, err)
}

// expect returns the next command of type mt, skipping heartbeats.
func (d *device) expect(mt protocol.MessageType) protocol.Command {
	d.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case cmd, ok := <-d.in:
			require.True(d.t, ok, "connection closed waiting for %s", mt)
			if cmd.Type() == mt {
				return cmd
			}
			if cmd.Type() != protocol.MsgHeartbeat {
				d.t.Fatalf("expected %s, got %T", mt, cmd)
			}
		case <-deadline:
			d.t.Fatalf("timed out waiting for %s", mt)
		}
	}
}

type ackEvent struct {
	corr    protocol.CorrelationID
	status  protocol.AckStatus
	matched bool
}

type recorder struct {
	// onStatus runs after a status is recorded, outside mu
	onStatus func(AuthStatus)

	mu       sync.Mutex
	statuses []AuthStatus
	reasons  []string
	changes  []menu.Item
	acks     []ackEvent
	dialogs  []protocol.Dialog
}

func (r *recorder) ConnectionChanged(s AuthStatus, reason string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	if r.onStatus != nil {
		r.onStatus(s)
	}
}

func (r *recorder) MenuChanged(item menu.Item, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, item)
}

func (r *recorder) AckReceived(corr protocol.CorrelationID, st protocol.AckStatus, matched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ackEvent{corr, st, matched})
}

func (r *recorder) DialogUpdated(d protocol.Dialog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialogs = append(r.dialogs, d)
}

func (r *recorder) count(s AuthStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.statuses {
		if got == s {
			n++
		}
	}
	return n
}

func (r *recorder) history() []AuthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuthStatus(nil), r.statuses...)
}

func (r *recorder) ackEvents() []ackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ackEvent(nil), r.acks...)
}

func testConfig() Config {
	return Config{
		HeartbeatInterval: time.Hour,
		WriteTimeout:      time.Second,
		AckTimeout:        time.Second,
		AuthFailWait:      100 * time.Millisecond,
		Reconnect:         Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2},
	}
}

func newTestConnector(t *testing.T, tr Transport, opts Options) (*Connector, *recorder) {
	t.Helper()
	return newRecordedConnector(t, tr, opts, &recorder{})
}

func newRecordedConnector(t *testing.T, tr Transport, opts Options, rec *recorder) (*Connector, *recorder) {
	t.Helper()
	opts.Transport = tr
	if opts.Tree == nil {
		opts.Tree = menu.NewTree()
	}
	if opts.Config == (Config{}) {
		opts.Config = testConfig()
	}
	opts.Logger = zerolog.Nop()
	opts.Listener = rec
	opts.Identity = Identity{Name: "tester", UUID: "b1c2"}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c, rec
}

func waitStatus(t *testing.T, c *Connector, want AuthStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, waitFor, 5*time.Millisecond,
		"want %s, still %s", want, c.Status())
}

func analogItem(id int) menu.Item {
	return menu.New(menu.Info{ID: id, Name: "A", EepromAddress: -1, Visible: true}, menu.AnalogInfo{MaxValue: 255, Divisor: 1})
}

func bootstrap(items ...menu.Item) []protocol.Command {
	cmds := []protocol.Command{
		protocol.Join{Name: "device", UUID: "d-1", Version: 302, Platform: "ARDUINO"},
		protocol.Ack{Status: protocol.AckSuccess},
		protocol.Bootstrap{Phase: protocol.BootStart},
	}
	for _, it := range items {
		cmds = append(cmds, protocol.ItemCommand{ParentID: menu.RootID, Item: it, Value: "10"})
	}
	return append(cmds, protocol.Bootstrap{Phase: protocol.BootEnd}, protocol.Heartbeat{Interval: time.Second})
}

func readyConnector(t *testing.T) (*Connector, *recorder, *pipeTransport, *device) {
	t.Helper()
	tr := newPipeTransport()
	c, rec := newTestConnector(t, tr, Options{})
	c.Start()
	dev := tr.accept(t)
	dev.expect(protocol.MsgJoin)
	dev.send(bootstrap(analogItem(1), analogItem(2), analogItem(3))...)
	waitStatus(t, c, ConnectionReady)
	return c, rec, tr, dev
}

func TestBootstrapReachesReady(t *testing.T) {
	c, rec, _, _ := readyConnector(t)

	require.Eventually(t, func() bool { return len(rec.history()) == 6 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []AuthStatus{
		AwaitingConnection, EstablishedConnection, SendJoin, Authenticated, Bootstrapping, ConnectionReady,
	}, rec.history())

	items := c.Tree().GetAllMenuItems()
	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, i+1, it.ID())
		st, ok := c.Tree().GetState(it.ID())
		require.True(t, ok)
		assert.Equal(t, 10, st.Value())
	}

	info, ok := c.RemoteInfo()
	require.True(t, ok)
	assert.Equal(t, "device", info.Name)
	assert.Equal(t, 3, info.Major())
	assert.Equal(t, 2, info.Minor())
}

func TestJoinCarriesIdentity(t *testing.T) {
	tr := newPipeTransport()
	c, _ := newTestConnector(t, tr, Options{})
	c.Start()
	dev := tr.accept(t)
	join := dev.expect(protocol.MsgJoin).(protocol.Join)
	assert.Equal(t, "tester", join.Name)
	assert.Equal(t, "b1c2", join.UUID)
	assert.Equal(t, APIVersion, join.Version)
}

func TestPairingSendsPairingRequest(t *testing.T) {
	tr := newPipeTransport()
	c, _ := newTestConnector(t, tr, Options{Pairing: true})
	c.Start()
	dev := tr.accept(t)
	pr := dev.expect(protocol.MsgPairing).(protocol.Pairing)
	assert.Equal(t, "b1c2", pr.UUID)
	dev.send(protocol.Ack{Status: protocol.AckSuccess})
	waitStatus(t, c, Authenticated)
}

func TestBootstrapEndWithoutStart(t *testing.T) {
	tr := newPipeTransport()
	c, rec := newTestConnector(t, tr, Options{})
	c.Start()
	dev := tr.accept(t)
	dev.expect(protocol.MsgJoin)
	dev.send(protocol.Ack{Status: protocol.AckSuccess}, protocol.Bootstrap{Phase: protocol.BootEnd}, protocol.ItemCommand{Item: analogItem(1)})

	require.Eventually(t, func() bool { return rec.count(AwaitingConnection) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Bootstrap END without START", c.LastReason())
	assert.Equal(t, 0, c.Tree().Len())
	assert.NotContains(t, rec.history(), Bootstrapping)
}

func TestUnexpectedCommandGoesBackToStart(t *testing.T) {
	tr := newPipeTransport()
	c, rec := newTestConnector(t, tr, Options{})
	c.Start()
	dev := tr.accept(t)
	dev.expect(protocol.MsgJoin)
	dev.send(protocol.Bootstrap{Phase: protocol.BootStart})

	require.Eventually(t, func() bool { return rec.count(AwaitingConnection) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Unexpected BS command in SEND_JOIN", c.LastReason())

	// the connector reconnects on its own
	tr.accept(t).expect(protocol.MsgJoin)
}

func TestFailedAuthRetriesAfterGraceWait(t *testing.T) {
	tr := newPipeTransport()
	c, rec := newTestConnector(t, tr, Options{})
	c.Start()

	for i := 0; i < 2; i++ {
		dev := tr.accept(t)
		dev.expect(protocol.MsgJoin)
		dev.send(protocol.Ack{Status: protocol.AckInvalidCredential})
		waitStatus(t, c, FailedAuth)

		// traffic during the grace wait is discarded
		dev.send(protocol.Bootstrap{Phase: protocol.BootStart})
		require.Eventually(t, func() bool { return rec.count(AwaitingConnection) == i+2 }, waitFor, 5*time.Millisecond)
		assert.Equal(t, "Authentication failed", c.LastReason())
	}
	assert.Equal(t, 2, rec.count(FailedAuth))
	assert.Equal(t, 0, rec.count(Bootstrapping))
}

func TestSendWhileNotReady(t *testing.T) {
	c, _ := newTestConnector(t, newPipeTransport(), Options{})
	_, err := c.SendChange(protocol.Change{ItemID: 1, ChangeType: protocol.ChangeAbsolute, Value: "1"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.SendDialogAction(protocol.ButtonOK)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.WaitForAck(context.Background(), 12)
	assert.ErrorIs(t, err, ErrUnknownCorrelation)
}

func TestSendChangeIsAcknowledged(t *testing.T) {
	c, rec, _, dev := readyConnector(t)

	corr, err := c.SendChange(protocol.Change{ItemID: 2, ChangeType: protocol.ChangeAbsolute, Value: "42"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.InFlight())

	got := dev.expect(protocol.MsgChange).(protocol.Change)
	assert.Equal(t, corr, got.Correlation)
	assert.Equal(t, "42", got.Value)

	dev.send(protocol.Ack{Correlation: corr, Status: protocol.AckSuccess})
	st, err := c.WaitForAck(context.Background(), corr)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckSuccess, st)
	assert.Equal(t, 0, c.InFlight())
	require.Eventually(t, func() bool { return len(rec.ackEvents()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, ackEvent{corr, protocol.AckSuccess, true}, rec.ackEvents()[0])
}

func TestWaitForAckTimesOut(t *testing.T) {
	c, r, _, dev := readyConnector(t)

	corr, err := c.SendChange(protocol.Change{ItemID: 1, ChangeType: protocol.ChangeDelta, Value: "1"})
	require.NoError(t, err)
	dev.expect(protocol.MsgChange)

	start := time.Now()
	_, err = c.WaitForAck(context.Background(), corr)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.Less(t, time.Since(start), waitFor)

	// a late ack no longer matches
	dev.send(protocol.Ack{Correlation: corr})
	require.Eventually(t, func() bool { return len(r.ackEvents()) == 1 }, waitFor, 5*time.Millisecond)
	assert.False(t, r.ackEvents()[0].matched)
}

func TestStaleCorrelationNotMatchedAfterReconnect(t *testing.T) {
	c, r, tr, dev := readyConnector(t)

	corr, err := c.SendChange(protocol.Change{ItemID: 1, ChangeType: protocol.ChangeAbsolute, Value: "5"})
	require.NoError(t, err)
	dev.expect(protocol.MsgChange)

	require.NoError(t, dev.conn.Close())
	_, err = c.WaitForAck(context.Background(), corr)
	assert.ErrorIs(t, err, ErrConnectionLost)

	dev = tr.accept(t)
	dev.expect(protocol.MsgJoin)
	dev.send(bootstrap(analogItem(1))...)
	waitStatus(t, c, ConnectionReady)

	dev.send(protocol.Ack{Correlation: corr, Status: protocol.AckSuccess})
	require.Eventually(t, func() bool { return len(r.ackEvents()) == 1 }, waitFor, 5*time.Millisecond)
	assert.False(t, r.ackEvents()[0].matched)
}

func TestStopFailsInflightAndIsIdempotent(t *testing.T) {
	c, r, _, dev := readyConnector(t)

	corr, err := c.SendChange(protocol.Change{ItemID: 3, ChangeType: protocol.ChangeAbsolute, Value: "1"})
	require.NoError(t, err)
	dev.expect(protocol.MsgChange)

	result := make(chan error, 1)
	go func() {
		_, err := c.WaitForAck(context.Background(), corr)
		result <- err
	}()

	c.Stop()
	c.Stop()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(waitFor):
		t.Fatal("ack wait was not released by Stop")
	}
	assert.Equal(t, NotStarted, c.Status())
	assert.Equal(t, 1, r.count(NotStarted))
}

func TestStartIsIdempotent(t *testing.T) {
	tr := newPipeTransport()
	c, _ := newTestConnector(t, tr, Options{})
	c.Start()
	c.Start()
	tr.accept(t)
	select {
	case <-tr.devices:
		t.Fatal("second Start opened another connection")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeviceChangesUpdateTree(t *testing.T) {
	c, r, _, dev := readyConnector(t)

	dev.send(
		protocol.Change{ItemID: 1, ChangeType: protocol.ChangeAbsolute, Value: "77"},
		protocol.Change{ItemID: 2, ChangeType: protocol.ChangeDelta, Value: "5"},
		protocol.Change{ItemID: 3, ChangeType: protocol.ChangeDelta, Value: "500"},
		protocol.Dialog{Mode: protocol.DialogShow, Header: "Reset?", Button1: protocol.ButtonAccept, Button2: protocol.ButtonCancel},
	)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.dialogs) == 1
	}, waitFor, 5*time.Millisecond)

	st, _ := c.Tree().GetState(1)
	assert.Equal(t, 77, st.Value())
	st, _ = c.Tree().GetState(2)
	assert.Equal(t, 15, st.Value())
	st, _ = c.Tree().GetState(3)
	assert.Equal(t, 10, st.Value(), "out of range delta must leave the value alone")

	corr, err := c.SendDialogAction(protocol.ButtonAccept)
	require.NoError(t, err)
	d := dev.expect(protocol.MsgDialog).(protocol.Dialog)
	assert.Equal(t, protocol.DialogAction, d.Mode)
	assert.Equal(t, protocol.ButtonAccept, d.Button1)
	assert.Equal(t, corr, d.Correlation)
}

func TestHeartbeatEndTearsDown(t *testing.T) {
	c, r, _, dev := readyConnector(t)
	dev.send(protocol.Heartbeat{Mode: protocol.HeartbeatEnd})
	require.Eventually(t, func() bool { return r.count(AwaitingConnection) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Remote closed the connection", c.LastReason())
}

func TestHeartbeatTimeoutFiresOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := NewMockClock(ctrl)
	ticker := NewMockTicker(ctrl)
	ticks := make(chan time.Time)

	var now atomic.Int64
	now.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	clock.EXPECT().Now().DoAndReturn(func() time.Time { return time.Unix(0, now.Load()) }).AnyTimes()
	clock.EXPECT().After(gomock.Any()).DoAndReturn(time.After).AnyTimes()
	clock.EXPECT().NewTicker(time.Second).Return(ticker).AnyTimes()
	ticker.EXPECT().Chan().Return((<-chan time.Time)(ticks)).AnyTimes()
	ticker.EXPECT().Stop().AnyTimes()

	cfg := testConfig()
	cfg.HeartbeatInterval = time.Second
	tr := newPipeTransport()
	c, r := newTestConnector(t, tr, Options{Clock: clock, Config: cfg})
	c.Start()
	dev := tr.accept(t)
	dev.expect(protocol.MsgJoin)
	dev.send(bootstrap(analogItem(1))...)
	waitStatus(t, c, ConnectionReady)

	// a tick within the timeout only sends a heartbeat
	now.Add(int64(2 * time.Second))
	ticks <- time.Now()
	dev.expect(protocol.MsgHeartbeat)
	assert.Equal(t, ConnectionReady, c.Status())

	now.Add(int64(10 * time.Second))
	ticks <- time.Now()
	_ = dev.conn.Close()

	next := tr.accept(t)
	next.expect(protocol.MsgJoin)
	require.Eventually(t, func() bool { return r.count(AwaitingConnection) == 2 }, waitFor, 5*time.Millisecond)
	assert.Contains(t, c.LastReason(), "Heartbeat timeout")
}

func TestConnectRetriesUntilStopped(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	connected := make(chan struct{})

	tr.EXPECT().Name().Return("mock").AnyTimes()
	tr.EXPECT().Close().Return(nil).AnyTimes()
	gomock.InOrder(
		tr.EXPECT().Connect(gomock.Any()).Return(errors.New("connection refused")).Times(3),
		tr.EXPECT().Connect(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
			close(connected)
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	c, r := newTestConnector(t, tr, Options{})
	c.Start()
	select {
	case <-connected:
	case <-time.After(waitFor):
		t.Fatal("connector gave up retrying")
	}
	assert.Equal(t, AwaitingConnection, c.Status())
	c.Stop()
	assert.Equal(t, 1, r.count(AwaitingConnection))
	assert.Equal(t, NotStarted, c.Status())
}

func TestReconnectBackoffGrowsToMax(t *testing.T) {
	bo := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}.ExponentialBackOff()
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, bo.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second,
	}, got)

	bo.Reset()
	assert.Equal(t, 100*time.Millisecond, bo.NextBackOff())

	jittered := Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.2}.ExponentialBackOff()
	d := jittered.NextBackOff()
	assert.GreaterOrEqual(t, d, 800*time.Millisecond)
	assert.LessOrEqual(t, d, 1200*time.Millisecond)
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), 4, time.Millisecond, func() error {
		calls++
		return io.ErrShortWrite
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 4, calls)

	calls = 0
	err = Retry(context.Background(), 0, time.Hour, func() error {
		calls++
		return io.EOF
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Retry(ctx, 3, time.Hour, func() error { return io.EOF })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSilentDeviceStaysEstablished(t *testing.T) {
	tr := newPipeTransport()
	c, _ := newTestConnector(t, tr, Options{})
	c.Start()
	dev := tr.acceptQuiet(t)

	hb := dev.expect(protocol.MsgHeartbeat).(protocol.Heartbeat)
	assert.Equal(t, protocol.HeartbeatStart, hb.Mode)
	waitStatus(t, c, EstablishedConnection)
	assert.Never(t, func() bool { return c.Status() != EstablishedConnection }, 150*time.Millisecond, 5*time.Millisecond)
	select {
	case cmd := <-dev.in:
		t.Fatalf("sent %T before the device spoke", cmd)
	default:
	}

	// the device's own join is enough to start the handshake
	dev.send(protocol.Join{Name: "device", UUID: "d-1", Version: 302, Platform: "ARDUINO"})
	dev.expect(protocol.MsgJoin)
	waitStatus(t, c, SendJoin)
	info, ok := c.RemoteInfo()
	require.True(t, ok)
	assert.Equal(t, "device", info.Name)
}

func TestEstablishedRejectsOtherCommands(t *testing.T) {
	tr := newPipeTransport()
	c, rec := newTestConnector(t, tr, Options{})
	c.Start()
	dev := tr.acceptQuiet(t)
	dev.send(protocol.Bootstrap{Phase: protocol.BootStart})

	require.Eventually(t, func() bool { return rec.count(AwaitingConnection) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Unexpected BS command in ESTABLISHED_CONNECTION", c.LastReason())
	assert.NotContains(t, rec.history(), SendJoin)
}

func TestUnansweredJoinGoesBackToStart(t *testing.T) {
	cfg := testConfig()
	cfg.JoinTimeout = 100 * time.Millisecond
	tr := newPipeTransport()
	c, rec := newTestConnector(t, tr, Options{Config: cfg})
	c.Start()

	dev := tr.accept(t)
	dev.expect(protocol.MsgJoin)
	// heartbeats keep the session alive but never answer the join
	dev.send(protocol.Heartbeat{Interval: time.Second})

	require.Eventually(t, func() bool { return rec.count(AwaitingConnection) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Join not acknowledged within 100ms", c.LastReason())

	dev = tr.accept(t)
	dev.expect(protocol.MsgJoin)
	dev.send(bootstrap(analogItem(1))...)
	waitStatus(t, c, ConnectionReady)
	assert.Never(t, func() bool { return c.Status() != ConnectionReady }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestStallingWriteTimesOut(t *testing.T) {
	tr := &stallingTransport{pipeTransport: newPipeTransport(), release: make(chan struct{})}
	t.Cleanup(func() { close(tr.release) })
	cfg := testConfig()
	cfg.WriteTimeout = 100 * time.Millisecond
	c, rec := newTestConnector(t, tr, Options{Config: cfg})
	c.Start()

	dev := tr.accept(t)
	dev.expect(protocol.MsgJoin)
	dev.send(bootstrap(analogItem(1))...)
	waitStatus(t, c, ConnectionReady)

	tr.stall.Store(true)
	start := time.Now()
	_, err := c.SendChange(protocol.Change{ItemID: 1, ChangeType: protocol.ChangeAbsolute, Value: "3"})
	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.Less(t, time.Since(start), waitFor)
	assert.Equal(t, 0, c.InFlight())

	require.Eventually(t, func() bool { return rec.count(AwaitingConnection) == 2 }, waitFor, 5*time.Millisecond)
	assert.Contains(t, c.LastReason(), "write failed")
	tr.accept(t).expect(protocol.MsgJoin)
}

func TestStopFromListener(t *testing.T) {
	var c *Connector
	var once sync.Once
	stopped := make(chan struct{})
	rec := &recorder{onStatus: func(s AuthStatus) {
		if s == SendJoin {
			once.Do(func() {
				c.Stop()
				close(stopped)
			})
		}
	}}
	tr := newPipeTransport()
	c, _ = newRecordedConnector(t, tr, Options{}, rec)
	c.Start()
	tr.accept(t)

	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop called from a listener never returned")
	}
	assert.Equal(t, NotStarted, c.Status())
	require.Eventually(t, func() bool { return rec.count(NotStarted) == 1 }, waitFor, 5*time.Millisecond)

	// the connector can be started again afterwards
	c.Start()
	tr.accept(t).expect(protocol.MsgJoin)
}

func TestEventsFollowStateOrder(t *testing.T) {
	hold := make(chan struct{})
	rec := &recorder{onStatus: func(s AuthStatus) {
		if s == Bootstrapping {
			<-hold
		}
	}}
	tr := newPipeTransport()
	c, _ := newRecordedConnector(t, tr, Options{}, rec)
	c.Start()

	dev := tr.accept(t)
	dev.expect(protocol.MsgJoin)
	dev.send(bootstrap(analogItem(1))...)
	dev.send(protocol.Heartbeat{Mode: protocol.HeartbeatEnd})

	// the connection moves on while a listener is busy
	require.Eventually(t, func() bool {
		return c.Status() == AwaitingConnection && c.LastReason() == "Remote closed the connection"
	}, waitFor, 5*time.Millisecond)
	close(hold)

	want := []AuthStatus{
		AwaitingConnection, EstablishedConnection, SendJoin, Authenticated, Bootstrapping, ConnectionReady, AwaitingConnection,
	}
	require.Eventually(t, func() bool { return len(rec.history()) >= len(want) }, waitFor, 5*time.Millisecond)
	assert.Equal(t, want, rec.history()[:len(want)])
}
