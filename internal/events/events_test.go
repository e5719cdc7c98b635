package events

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menu-remote/internal/connector"
	"menu-remote/internal/controller"
	"menu-remote/internal/protocol"
	"menu-remote/internal/simulator"
	"menu-remote/internal/transport"
)

const waitFor = 3 * time.Second

type capture struct {
	mu  sync.Mutex
	evs []Event
}

func (c *capture) Publish(ev Event) error {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
	return nil
}

func (c *capture) find(match func(Event) bool) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.evs {
		if match(ev) {
			return ev, true
		}
	}
	return Event{}, false
}

func TestAttachEmitsEveryKind(t *testing.T) {
	d := simulator.NewDevice(simulator.Config{Name: "psu", HeartbeatInterval: time.Second, Logger: zerolog.Nop()})
	t.Cleanup(d.Close)
	c, err := controller.New(connector.Options{
		Name:      "bench",
		Transport: transport.NewInProcess("psu", d.Serve, zerolog.Nop()),
		Identity:  connector.Identity{Name: "events-test", UUID: "c0ffee00-0000-4000-8000-000000000001"},
		Config:    connector.Config{HeartbeatInterval: time.Second, AckTimeout: time.Second},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Stop)

	sink := &capture{}
	detach := Attach(c, nil, sink)
	defer detach()
	c.Start()
	require.Eventually(t, func() bool { return c.Status() == connector.ConnectionReady }, waitFor, 5*time.Millisecond)

	var ready Event
	require.Eventually(t, func() bool {
		var ok bool
		ready, ok = sink.find(func(ev Event) bool { return ev.Type == TypeStatus && ev.Status == "CONNECTION_READY" })
		return ok
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "bench", ready.Connection)
	assert.NotEmpty(t, ready.ID)

	voltage, ok := sink.find(func(ev Event) bool { return ev.Type == TypeMenu && ev.ItemID == 1 && ev.Structural })
	require.True(t, ok)
	assert.Equal(t, "Voltage", voltage.ItemName)
	assert.Equal(t, "analogItem", voltage.Kind)
	require.NotNil(t, voltage.Numeric)

	item, _ := c.Tree().GetMenuByID(2)
	corr, err := c.SendAbsoluteChange(item, "9")
	require.NoError(t, err)
	d.ShowDialog("Hi", "there", protocol.ButtonOK, protocol.ButtonNone)

	assert.Eventually(t, func() bool {
		_, ack := sink.find(func(ev Event) bool {
			return ev.Type == TypeAck && ev.Correlation == corr.String() && ev.AckStatus == "SUCCESS"
		})
		_, dlg := sink.find(func(ev Event) bool {
			return ev.Type == TypeDialog && ev.Dialog.Mode == "SHOW" && ev.Dialog.Button1 == "OK"
		})
		_, val := sink.find(func(ev Event) bool { return ev.Type == TypeMenu && ev.ItemID == 2 && !ev.Structural && ev.Value == "9" })
		return ack && dlg && val
	}, waitFor, 10*time.Millisecond)
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestHubStreamsAndFilters(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	all := dialHub(t, base)
	onlyB := dialHub(t, base+"?connection=b")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, hub.Publish(StatusEvent("a", connector.ConnectionReady, "")))
	require.NoError(t, hub.Publish(StatusEvent("b", connector.FailedAuth, "refused")))

	assert.Equal(t, "a", readEvent(t, all).Connection)
	assert.Equal(t, "b", readEvent(t, all).Connection)
	ev := readEvent(t, onlyB)
	assert.Equal(t, "b", ev.Connection)
	assert.Equal(t, "FAILED_AUTH", ev.Status)
	assert.Equal(t, "refused", ev.Reason)

	_ = all.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 1 }, waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, hub.Close(ctx))
	assert.ErrorIs(t, hub.Publish(StatusEvent("a", connector.NotStarted, "")), ErrHubClosed)
}

func TestHubListenAndServe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	addr, err := hub.ListenAndServe("127.0.0.1:0")
	require.NoError(t, err)
	ws := dialHub(t, "ws://"+addr.String()+"/events")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, hub.Publish(AckEvent("x", 0x2a, protocol.AckSuccess)))
	ev := readEvent(t, ws)
	assert.Equal(t, TypeAck, ev.Type)
	assert.Equal(t, "0000002a", ev.Correlation)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, hub.Close(ctx))
}

func runNATS(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSPublisher(t *testing.T) {
	srv := runNATS(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	s, err := sub.SubscribeSync("menu.events.>")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := NewNATSPublisher(srv.ClientURL(), "menu.events", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ev := StatusEvent("bench.one", connector.ConnectionReady, "")
	assert.Equal(t, "menu.events.bench_one.status", p.Subject(ev))
	require.NoError(t, p.Publish(ev))

	msg, err := s.NextMsg(waitFor)
	require.NoError(t, err)
	assert.Equal(t, "menu.events.bench_one.status", msg.Subject)
	var got Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "CONNECTION_READY", got.Status)
}
