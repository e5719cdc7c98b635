package tasks

import (
	"context"

	"menu-remote/internal/config"
	"menu-remote/internal/logger"
	"menu-remote/internal/manager"
)

// Options defines initialization overrides for the remote.
// Mirrors the CLI flags used in cmd/remote/main.go.
type Options struct {
	ConfigPath     string
	JournalEnabled bool
	JournalPath    string
	JournalQueue   int
	ModbusAddress  string
	WebSocketAddr  string
	NATSURL        string
	LogLevel       string
}

// Apply writes the overrides into cfg. Setting a journal path, queue or a
// bridge address also enables that feature.
func (opts Options) Apply(cfg *config.RootConfig) {
	if opts.JournalEnabled {
		cfg.Journal.Enabled = true
	}
	if opts.JournalPath != "" {
		cfg.Journal.DBPath = opts.JournalPath
		cfg.Journal.Enabled = true
	}
	if opts.JournalQueue > 0 {
		cfg.Journal.MaxQueueSize = opts.JournalQueue
		cfg.Journal.Enabled = true
	}
	if opts.ModbusAddress != "" {
		cfg.Bridges.Modbus.ListenAddress = opts.ModbusAddress
		cfg.Bridges.Modbus.Enabled = true
	}
	if opts.WebSocketAddr != "" {
		cfg.Bridges.WebSocket.ListenAddress = opts.WebSocketAddr
		cfg.Bridges.WebSocket.Enabled = true
	}
	if opts.NATSURL != "" {
		cfg.Bridges.NATS.URL = opts.NATSURL
		cfg.Bridges.NATS.Enabled = true
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
}

// Load reads the configuration and applies the overrides.
func Load(opts Options) (config.RootConfig, error) {
	cfg, err := config.LoadYAML(opts.ConfigPath)
	if err != nil {
		return config.RootConfig{}, err
	}
	opts.Apply(&cfg)
	return cfg, cfg.Validate()
}

// InitAndRunRemote loads config, applies overrides, constructs the manager and runs it.
func InitAndRunRemote(ctx context.Context, opts Options) error {
	cfg, err := Load(opts)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	return manager.New(cfg, log).Run(ctx)
}
