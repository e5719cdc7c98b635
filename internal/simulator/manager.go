package simulator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/config"
	"menu-remote/internal/connector"
	"menu-remote/internal/menu"
	"menu-remote/internal/utils"
)

// Manager runs every enabled simulated device from the configuration.
type Manager struct {
	cfg     []config.SimulatorDevice
	log     zerolog.Logger
	mu      sync.Mutex
	devices map[string]*Device
	ready   chan struct{}
}

func NewManager(cfg []config.SimulatorDevice, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, log: log, devices: make(map[string]*Device), ready: make(chan struct{})}
}

// LoadTree reads a persisted menu, or the built-in one when path is empty.
func LoadTree(path string) (*menu.Tree, error) {
	if path == "" {
		return menu.DefaultTree(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return menu.LoadTree(b)
}

// Device returns a running device by name.
func (m *Manager) Device(name string) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[name]
	return d, ok
}

// Ready is closed once every device has either started or failed.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Run starts all enabled devices and blocks until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	var wg, started sync.WaitGroup
	sem := make(chan struct{}, 16)

	for _, dc := range m.cfg {
		if !dc.Enabled {
			continue
		}
		wg.Add(1)
		started.Add(1)
		go func(dc config.SimulatorDevice) {
			defer wg.Done()
			d, err := m.start(ctx, sem, dc)
			started.Done()
			if err != nil {
				m.log.Error().Err(err).Str("device", dc.Name).Msg("simulator not started")
				return
			}

			<-ctx.Done()
			d.Close()
			m.mu.Lock()
			delete(m.devices, dc.Name)
			m.mu.Unlock()
			m.log.Info().Str("device", dc.Name).Msg("simulator stopped")
		}(dc)
	}
	go func() {
		started.Wait()
		close(m.ready)
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (m *Manager) start(ctx context.Context, sem chan struct{}, dc config.SimulatorDevice) (*Device, error) {
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tree, err := LoadTree(dc.MenuJSON)
	if err != nil {
		return nil, fmt.Errorf("menu %s: %w", dc.MenuJSON, err)
	}
	d := NewDevice(Config{
		Name:              dc.Name,
		UUID:              dc.UUID,
		Tree:              tree,
		AcceptUUIDs:       dc.AcceptUUIDs,
		HeartbeatInterval: dc.HeartbeatInterval,
		UpdateInterval:    dc.UpdateInterval,
		Logger:            m.log,
	})

	if dc.SerialPort != "" {
		if err := m.serial(ctx, d, dc); err != nil {
			return nil, err
		}
	} else {
		err = connector.Retry(ctx, 3, time.Second, func() error {
			return d.Listen(dc.ListenAddress)
		})
		if err != nil {
			return nil, err
		}
		m.log.Info().Str("device", dc.Name).Str("addr", d.Addr().String()).Int("items", tree.Len()).Msg("simulator listening")
	}

	m.mu.Lock()
	m.devices[dc.Name] = d
	m.mu.Unlock()
	return d, nil
}

// serial serves d on dc.SerialPort, first creating it with socat when asked.
func (m *Manager) serial(ctx context.Context, d *Device, dc config.SimulatorDevice) error {
	if dc.SpawnSocat {
		pair := utils.SocatPair{Link: dc.SerialPort, Peer: dc.SocatPeer}
		cmd := utils.BuildSocatPairCmd(ctx, pair)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start socat: %w", err)
		}
		go func() {
			if err := cmd.Wait(); err != nil && ctx.Err() == nil {
				m.log.Warn().Err(err).Str("device", dc.Name).Msg("socat exited")
			}
		}()
		err := connector.Retry(ctx, 20, 100*time.Millisecond, func() error {
			_, err := os.Stat(dc.SerialPort)
			return err
		})
		if err != nil {
			return fmt.Errorf("socat link %s: %w", dc.SerialPort, err)
		}
		m.log.Info().Str("device", dc.Name).Str("peer", dc.SocatPeer).Msg("virtual serial pair ready")
	}

	d.ListenSerial(utils.SerialParams{Address: dc.SerialPort, BaudRate: dc.BaudRate})
	m.log.Info().Str("device", dc.Name).Str("port", dc.SerialPort).Msg("simulator on serial line")
	return nil
}
