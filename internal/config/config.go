package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"menu-remote/internal/connector"
	"menu-remote/internal/logger"
)

// RootConfig mirrors config/remote.yaml.
type RootConfig struct {
	Identity    connector.Identity `yaml:"identity"`
	Logging     logger.Config      `yaml:"logging"`
	Connector   connector.Config   `yaml:"connector"`
	Connections []Connection       `yaml:"connections"`
	Journal     Journal            `yaml:"journal"`
	Bridges     Bridges            `yaml:"bridges"`
	Simulator   Simulator          `yaml:"simulator"`
}

type Connection struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // tcp | serial | ble | simulator
	// TCP
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Serial
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`
	// BLE address or advertised name
	BLEAddress string `yaml:"ble_address"`
	// MenuJSON seeds the in-process simulator; empty uses the built-in tree.
	MenuJSON string        `yaml:"menu_json"`
	Timeout  time.Duration `yaml:"timeout"`
	Pairing  bool          `yaml:"pairing"`
	Enabled  bool          `yaml:"enabled"`
}

type Journal struct {
	Enabled      bool          `yaml:"enabled"`
	DBPath       string        `yaml:"db_path"`
	MaxQueueSize int           `yaml:"max_queue_size"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

type Bridges struct {
	Modbus struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"modbus"`
	WebSocket struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"websocket"`
	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
}

type Simulator struct {
	Devices []SimulatorDevice `yaml:"devices"`
}

type SimulatorDevice struct {
	Name          string   `yaml:"name"`
	UUID          string   `yaml:"uuid"`
	ListenAddress string   `yaml:"listen_address"`
	MenuJSON      string   `yaml:"menu_json"`
	AcceptUUIDs   []string `yaml:"accept_uuids"`
	// HeartbeatInterval is how often the simulated device sends heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// UpdateInterval drives changes to read-only values; zero disables them.
	UpdateInterval time.Duration `yaml:"update_interval"`
	// SerialPort serves the device on a serial line instead of TCP.
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	// SpawnSocat creates SerialPort and SocatPeer as a linked pty pair
	// (needs socat on PATH). Remotes open SocatPeer.
	SpawnSocat bool   `yaml:"spawn_socat"`
	SocatPeer  string `yaml:"socat_peer"`
	Enabled    bool   `yaml:"enabled"`
}

var ErrNoConnections = errors.New("no connections configured")

// LoadYAML reads, defaults and validates a remote configuration.
func LoadYAML(path string) (RootConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RootConfig{}, err
	}
	return Parse(b)
}

// Parse is LoadYAML without the file.
func Parse(b []byte) (RootConfig, error) {
	cfg := RootConfig{Logging: logger.DefaultConfig()}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RootConfig{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return RootConfig{}, err
	}
	return cfg, nil
}

func (cfg *RootConfig) ApplyDefaults() {
	if cfg.Identity.Name == "" {
		cfg.Identity.Name = "menu-remote"
	}
	if cfg.Identity.UUID == "" {
		cfg.Identity.UUID = uuid.NewString()
	}
	cfg.Connector = cfg.Connector.WithDefaults()

	for i := range cfg.Connections {
		c := &cfg.Connections[i]
		c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
		if c.Transport == "" {
			c.Transport = "tcp"
		}
		if c.Transport == "tcp" && c.Port <= 0 {
			c.Port = 3333
		}
		if c.Transport == "serial" && c.BaudRate <= 0 {
			c.BaudRate = 115200
		}
		if c.Timeout <= 0 {
			c.Timeout = 5 * time.Second
		}
		if c.Name == "" {
			c.Name = fmt.Sprintf("%s-%d", c.Transport, i+1)
		}
	}

	if cfg.Journal.DBPath == "" {
		cfg.Journal.DBPath = "remote.db"
	}
	if cfg.Journal.MaxQueueSize <= 0 {
		cfg.Journal.MaxQueueSize = 1000
	}
	if cfg.Journal.CacheTTL <= 0 {
		cfg.Journal.CacheTTL = time.Hour
	}
	if cfg.Bridges.Modbus.ListenAddress == "" {
		cfg.Bridges.Modbus.ListenAddress = ":5020"
	}
	if cfg.Bridges.WebSocket.ListenAddress == "" {
		cfg.Bridges.WebSocket.ListenAddress = ":8080"
	}
	if cfg.Bridges.NATS.Subject == "" {
		cfg.Bridges.NATS.Subject = "menu.events"
	}

	for i := range cfg.Simulator.Devices {
		d := &cfg.Simulator.Devices[i]
		if d.Name == "" {
			d.Name = fmt.Sprintf("simulator-%d", i+1)
		}
		if d.ListenAddress == "" && d.SerialPort == "" {
			d.ListenAddress = ":3333"
		}
		if d.SerialPort != "" && d.BaudRate <= 0 {
			d.BaudRate = 115200
		}
		if d.HeartbeatInterval <= 0 {
			d.HeartbeatInterval = cfg.Connector.HeartbeatInterval
		}
	}
}

// Validate checks the settings a remote cannot start without.
func (cfg RootConfig) Validate() error {
	if _, err := uuid.Parse(cfg.Identity.UUID); err != nil {
		return fmt.Errorf("identity uuid %q: %w", cfg.Identity.UUID, err)
	}
	names := make(map[string]bool, len(cfg.Connections))
	for _, c := range cfg.Connections {
		if names[c.Name] {
			return fmt.Errorf("connection %s: duplicate name", c.Name)
		}
		names[c.Name] = true
		switch c.Transport {
		case "tcp":
			if strings.TrimSpace(c.Host) == "" {
				return fmt.Errorf("connection %s: host is required for tcp", c.Name)
			}
		case "serial":
			if strings.TrimSpace(c.SerialPort) == "" {
				return fmt.Errorf("connection %s: serial_port is required for serial", c.Name)
			}
		case "ble":
			if strings.TrimSpace(c.BLEAddress) == "" {
				return fmt.Errorf("connection %s: ble_address is required for ble", c.Name)
			}
		case "simulator":
		default:
			return fmt.Errorf("connection %s: unknown transport %q", c.Name, c.Transport)
		}
	}
	for _, d := range cfg.Simulator.Devices {
		if d.SpawnSocat && (d.SerialPort == "" || d.SocatPeer == "") {
			return fmt.Errorf("simulator %s: spawn_socat needs serial_port and socat_peer", d.Name)
		}
	}
	if cfg.Bridges.NATS.Enabled && cfg.Bridges.NATS.URL == "" {
		return errors.New("bridges.nats.url is required when nats is enabled")
	}
	return nil
}

// Enabled returns the connections to run. A file without any enabled
// connection is an error.
func (cfg RootConfig) Enabled() ([]Connection, error) {
	var out []Connection
	for _, c := range cfg.Connections {
		if c.Enabled {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoConnections
	}
	return out, nil
}
