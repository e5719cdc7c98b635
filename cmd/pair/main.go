package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/config"
	"menu-remote/internal/connector"
	"menu-remote/internal/controller"
	"menu-remote/internal/manager"
)

func main() {
	var (
		cfgPath string
		name    string
		timeout time.Duration
	)
	flag.StringVar(&cfgPath, "config", "config/remote.yaml", "path to YAML config")
	flag.StringVar(&name, "connection", "", "connection to pair with (first configured when empty)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the device to accept")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadYAML(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load yaml config")
	}
	var cc *config.Connection
	for i := range cfg.Connections {
		if name == "" || cfg.Connections[i].Name == name {
			cc = &cfg.Connections[i]
			break
		}
	}
	if cc == nil {
		log.Fatal().Str("connection", name).Msg("no such connection")
	}

	tr, cleanup, err := manager.NewTransport(*cc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("transport")
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Str("connection", cc.Name).Str("uuid", cfg.Identity.UUID).Msg("accept the pairing request on the device")
	err = controller.Pair(ctx, connector.Options{
		Name:      cc.Name,
		Transport: tr,
		Identity:  cfg.Identity,
		Config:    cfg.Connector,
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("pairing failed")
	}
	log.Info().Str("connection", cc.Name).Msg("paired; set pairing: false and connect normally")
}
