package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
connector:
  heartbeat_interval: 2s
connections:
  - host: 10.0.0.5
    enabled: true
  - name: usb
    transport: Serial
    serial_port: /dev/ttyUSB0
simulator:
  devices:
    - menu_json: menu.json
`), 0o644))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)

	assert.Equal(t, "menu-remote", cfg.Identity.Name)
	assert.Len(t, cfg.Identity.UUID, 36)
	assert.Equal(t, 2*time.Second, cfg.Connector.HeartbeatInterval)
	assert.Equal(t, 6*time.Second, cfg.Connector.HeartbeatTimeout)
	assert.Equal(t, 5*time.Second, cfg.Connector.AckTimeout)

	tcp := cfg.Connections[0]
	assert.Equal(t, "tcp-1", tcp.Name)
	assert.Equal(t, 3333, tcp.Port)
	serial := cfg.Connections[1]
	assert.Equal(t, "serial", serial.Transport)
	assert.Equal(t, 115200, serial.BaudRate)

	assert.Equal(t, 1000, cfg.Journal.MaxQueueSize)
	assert.Equal(t, time.Hour, cfg.Journal.CacheTTL)

	sim := cfg.Simulator.Devices[0]
	assert.Equal(t, "simulator-1", sim.Name)
	assert.Equal(t, ":3333", sim.ListenAddress)
	assert.Equal(t, 2*time.Second, sim.HeartbeatInterval)

	enabled, err := cfg.Enabled()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "tcp-1", enabled[0].Name)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"missing host":       "connections: [{transport: tcp}]",
		"missing serial":     "connections: [{transport: serial}]",
		"missing address":    "connections: [{transport: ble}]",
		"unknown transport":  "connections: [{transport: carrier-pigeon}]",
		"duplicate":          "connections: [{name: a, host: x}, {name: a, host: y}]",
		"bad uuid":           "identity: {uuid: nope}",
		"nats without url":   "bridges: {nats: {enabled: true}}",
		"not yaml":           "connections: [",
		"socat without peer": "simulator: {devices: [{spawn_socat: true, serial_port: /tmp/a}]}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestNoEnabledConnections(t *testing.T) {
	cfg, err := Parse([]byte("connections: [{host: a}]"))
	require.NoError(t, err)
	_, err = cfg.Enabled()
	assert.ErrorIs(t, err, ErrNoConnections)
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := LoadYAML(filepath.Join("..", "..", "config", "remote.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "bench-remote", cfg.Identity.Name)
	assert.Len(t, cfg.Connections, 3)
	assert.True(t, cfg.Logging.Console)
	assert.Equal(t, 10*time.Second, cfg.Connector.Reconnect.Max)

	require.Len(t, cfg.Simulator.Devices, 2)
	serial := cfg.Simulator.Devices[1]
	assert.Empty(t, serial.ListenAddress)
	assert.Equal(t, 115200, serial.BaudRate)
	assert.Equal(t, "/tmp/menu-remote", serial.SocatPeer)
}
