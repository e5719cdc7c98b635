package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/config"
	"menu-remote/internal/logger"
	"menu-remote/internal/simulator"
)

func main() {
	var (
		cfgPath   string
		listen    string
		menuJSON  string
		name      string
		port      string
		peer      string
		update    time.Duration
		heartbeat time.Duration
	)
	flag.StringVar(&cfgPath, "config", "", "YAML config with a simulator.devices section")
	flag.StringVar(&listen, "listen", "127.0.0.1:3333", "TCP address for a single device")
	flag.StringVar(&menuJSON, "menu", "", "menu JSON for a single device (built-in menu when empty)")
	flag.StringVar(&name, "name", "simulator", "device name")
	flag.StringVar(&port, "serial", "", "serve a single device on this serial port instead of TCP")
	flag.StringVar(&peer, "pty-peer", "", "with -serial, create the port as a socat pty pair and print this peer")
	flag.DurationVar(&update, "update", 2*time.Second, "read-only value update interval (0 disables)")
	flag.DurationVar(&heartbeat, "heartbeat", 1500*time.Millisecond, "device heartbeat interval")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var devices []config.SimulatorDevice
	if cfgPath != "" {
		cfg, err := config.LoadYAML(cfgPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfgPath).Msg("load yaml config")
		}
		l, err := logger.New(cfg.Logging)
		if err != nil {
			log.Fatal().Err(err).Msg("logger")
		}
		log = l
		devices = cfg.Simulator.Devices
	} else {
		dev := config.SimulatorDevice{
			Name:              name,
			ListenAddress:     listen,
			MenuJSON:          menuJSON,
			HeartbeatInterval: heartbeat,
			UpdateInterval:    update,
			SerialPort:        port,
			BaudRate:          115200,
			SpawnSocat:        port != "" && peer != "",
			SocatPeer:         peer,
			Enabled:           true,
		}
		if port != "" {
			dev.ListenAddress = ""
		}
		devices = []config.SimulatorDevice{dev}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info().Msg("shutting down simulators")
		cancel()
	}()

	if err := simulator.NewManager(devices, log).Run(ctx); err != nil {
		log.Error().Err(err).Msg("simulator manager exited with error")
	}
}
