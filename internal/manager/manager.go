// Package manager runs every configured connection and wires the journal
// and bridges to them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/config"
	"menu-remote/internal/connector"
	"menu-remote/internal/controller"
	"menu-remote/internal/db"
	"menu-remote/internal/events"
	"menu-remote/internal/modbus"
	"menu-remote/internal/model"
	"menu-remote/internal/output"
)

const (
	stopGrace   = 5 * time.Second
	pairTimeout = 30 * time.Second
)

type Manager struct {
	Cfg config.RootConfig
	Log zerolog.Logger

	mu    sync.Mutex
	ctrls map[string]*controller.Controller
	ready chan struct{}

	store   *db.DB
	journal *db.Journal
	bridge  *modbus.Bridge
	hub     *events.Hub
	nats    *events.NATSPublisher
}

func New(cfg config.RootConfig, log zerolog.Logger) *Manager {
	return &Manager{Cfg: cfg, Log: log, ctrls: make(map[string]*controller.Controller), ready: make(chan struct{})}
}

// Ready is closed once every connection has been started.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

func (m *Manager) Controller(name string) (*controller.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ctrls[name]
	return c, ok
}

// Controllers returns the running controllers ordered by name.
func (m *Manager) Controllers() []*controller.Controller {
	m.mu.Lock()
	out := make([]*controller.Controller, 0, len(m.ctrls))
	for _, c := range m.ctrls {
		out = append(out, c)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Snapshots captures the live values of every running connection.
func (m *Manager) Snapshots() []model.ConnectionSnapshot {
	ctrls := m.Controllers()
	out := make([]model.ConnectionSnapshot, 0, len(ctrls))
	for _, c := range ctrls {
		var remote string
		if info, ok := c.RemoteInfo(); ok {
			remote = info.Name
		}
		out = append(out, output.SnapshotTree(c.Name(), remote, c.Status().String(), c.Tree()))
	}
	return out
}

// ModbusAddr is the bridge's listening address, nil when it is disabled.
func (m *Manager) ModbusAddr() string {
	if m.bridge == nil || m.bridge.Server().Addr() == nil {
		return ""
	}
	return m.bridge.Server().Addr().String()
}

// Run starts all enabled connections and blocks until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	conns, err := m.Cfg.Enabled()
	if err != nil {
		return err
	}
	if err := m.openSinks(); err != nil {
		m.closeSinks()
		return err
	}

	var wg, started sync.WaitGroup
	for i, cc := range conns {
		wg.Add(1)
		started.Add(1)
		go func(unit byte, cc config.Connection) {
			defer wg.Done()
			stop, err := m.start(ctx, unit, cc)
			started.Done()
			if err != nil {
				m.Log.Error().Err(err).Str("connection", cc.Name).Msg("connection not started")
				return
			}
			<-ctx.Done()
			stop()
		}(byte(i+1), cc)
	}
	go func() {
		started.Wait()
		close(m.ready)
	}()

	<-ctx.Done()
	// give connections a grace period to say goodbye
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(stopGrace):
		m.Log.Warn().Msg("timeout waiting for connections to stop")
	}
	m.closeSinks()
	return nil
}

func (m *Manager) openSinks() error {
	cfg := m.Cfg
	if cfg.Journal.Enabled {
		store, err := db.Open(cfg.Journal.DBPath)
		if err != nil {
			return fmt.Errorf("journal %s: %w", cfg.Journal.DBPath, err)
		}
		m.store = store
		m.journal = db.NewJournal(store, db.JournalOptions{
			MaxQueue: cfg.Journal.MaxQueueSize,
			CacheTTL: cfg.Journal.CacheTTL,
			Logger:   m.Log,
		})
	}
	if cfg.Bridges.Modbus.Enabled {
		m.bridge = modbus.NewBridge(modbus.BridgeOptions{AckTimeout: cfg.Connector.AckTimeout, Logger: m.Log})
		if err := m.bridge.Listen(cfg.Bridges.Modbus.ListenAddress); err != nil {
			return fmt.Errorf("modbus bridge: %w", err)
		}
	}
	if cfg.Bridges.WebSocket.Enabled {
		m.hub = events.NewHub(m.Log)
		if _, err := m.hub.ListenAndServe(cfg.Bridges.WebSocket.ListenAddress); err != nil {
			return fmt.Errorf("websocket hub: %w", err)
		}
	}
	if cfg.Bridges.NATS.Enabled {
		p, err := events.NewNATSPublisher(cfg.Bridges.NATS.URL, cfg.Bridges.NATS.Subject, m.Log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		m.nats = p
	}
	return nil
}

func (m *Manager) closeSinks() {
	if m.bridge != nil {
		m.bridge.Close()
	}
	if m.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
		if err := m.hub.Close(ctx); err != nil {
			m.Log.Warn().Err(err).Msg("websocket hub close")
		}
		cancel()
	}
	if m.nats != nil {
		if err := m.nats.Close(); err != nil {
			m.Log.Warn().Err(err).Msg("nats close")
		}
	}
	if m.journal != nil {
		m.journal.Close()
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.Log.Warn().Err(err).Msg("journal close")
		}
	}
}

func (m *Manager) sinks() []events.Sink {
	var out []events.Sink
	if m.hub != nil {
		out = append(out, m.hub)
	}
	if m.nats != nil {
		out = append(out, m.nats)
	}
	return out
}

// start brings one connection up and returns the function that takes it
// down again.
func (m *Manager) start(ctx context.Context, unit byte, cc config.Connection) (func(), error) {
	log := m.Log.With().Str("connection", cc.Name).Logger()
	tr, cleanup, err := NewTransport(cc, log)
	if err != nil {
		return nil, err
	}
	opts := connector.Options{
		Name:      cc.Name,
		Transport: tr,
		Identity:  m.Cfg.Identity,
		Config:    m.Cfg.Connector,
		Logger:    log,
	}

	if cc.Pairing {
		pctx, cancel := context.WithTimeout(ctx, pairTimeout)
		err := controller.Pair(pctx, opts)
		cancel()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("pairing: %w", err)
		}
		log.Info().Msg("paired")
	}

	c, err := controller.New(opts)
	if err != nil {
		cleanup()
		return nil, err
	}

	var detach []func()
	if m.journal != nil {
		detach = append(detach, m.journal.Attach(c, cc.Transport, tr.Name()))
	}
	if m.bridge != nil {
		d, err := m.bridge.Attach(unit, c)
		if err != nil {
			log.Warn().Err(err).Msg("modbus bridge not attached")
		} else {
			detach = append(detach, d)
			log.Info().Uint8("unit", unit).Msg("modbus unit attached")
		}
	}
	if sinks := m.sinks(); len(sinks) > 0 {
		detach = append(detach, events.Attach(c, func(s events.Sink, err error) {
			if !errors.Is(err, events.ErrHubClosed) {
				log.Debug().Err(err).Msgf("%T publish failed", s)
			}
		}, sinks...))
	}

	m.mu.Lock()
	m.ctrls[cc.Name] = c
	m.mu.Unlock()
	c.Start()

	return func() {
		c.Stop()
		for _, d := range detach {
			d()
		}
		m.mu.Lock()
		delete(m.ctrls, cc.Name)
		m.mu.Unlock()
		cleanup()
		log.Info().Msg("connection stopped")
	}, nil
}
