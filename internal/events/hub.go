package events

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 64
)

var ErrHubClosed = errors.New("websocket hub closed")

type client struct {
	conn *websocket.Conn
	out  chan []byte
	// filter limits the client to one connection when set.
	filter string
}

// Hub streams events to websocket clients. A client that falls behind by
// more than its buffer is disconnected.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	srv *http.Server
	wg  sync.WaitGroup
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log.With().Str("component", "websocket").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients is the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues ev for every interested client.
func (h *Hub) Publish(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for c := range h.clients {
		if c.filter != "" && c.filter != ev.Connection {
			continue
		}
		select {
		case c.out <- b:
		default:
			h.log.Warn().Str("remote_addr", c.conn.RemoteAddr().String()).Msg("slow websocket client dropped")
			h.dropLocked(c)
		}
	}
	return nil
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.out)
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. ?connection=name limits the stream to one connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade to websocket")
		return
	}
	c := &client{conn: conn, out: make(chan []byte, clientBuffer), filter: r.URL.Query().Get("connection")}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info().Str("remote_addr", r.RemoteAddr).Str("connection", c.filter).Msg("websocket client connected")

	go h.readPump(c)
	h.writePump(c)
	h.log.Debug().Str("remote_addr", r.RemoteAddr).Msg("websocket client gone")
}

// readPump only watches for the client closing; incoming messages are
// discarded.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		h.dropLocked(c)
		h.mu.Unlock()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListenAndServe serves the hub at /events on address in the background.
func (h *Hub) ListenAndServe(address string) (net.Addr, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/events", h)
	h.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error().Err(err).Msg("websocket server stopped")
		}
	}()
	h.log.Info().Str("addr", l.Addr().String()).Msg("websocket hub listening")
	return l.Addr(), nil
}

// Close disconnects every client and stops the HTTP server if one runs.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
	h.mu.Unlock()

	var err error
	if h.srv != nil {
		err = h.srv.Shutdown(ctx)
	}
	h.wg.Wait()
	return err
}
