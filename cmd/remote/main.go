package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"menu-remote/internal/tasks"
)

func main() {
	var opts tasks.Options
	flag.StringVar(&opts.ConfigPath, "config", "config/remote.yaml", "path to YAML config")
	flag.BoolVar(&opts.JournalEnabled, "journal", false, "record sessions to the sqlite journal")
	flag.StringVar(&opts.JournalPath, "journal-db", "", "sqlite journal path (enables the journal)")
	flag.IntVar(&opts.JournalQueue, "journal-queue", 0, "journal write queue size")
	flag.StringVar(&opts.ModbusAddress, "modbus", "", "serve menus as Modbus TCP on this address")
	flag.StringVar(&opts.WebSocketAddr, "ws", "", "stream events over websocket on this address")
	flag.StringVar(&opts.NATSURL, "nats", "", "publish events to this NATS server")
	flag.StringVar(&opts.LogLevel, "log-level", "", "override logging.level")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
	}()

	if err := tasks.InitAndRunRemote(ctx, opts); err != nil {
		log.Fatal().Err(err).Msg("remote exited")
	}
}
