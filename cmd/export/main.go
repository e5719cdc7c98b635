package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/logger"
	"menu-remote/internal/manager"
	"menu-remote/internal/model"
	"menu-remote/internal/output"
	"menu-remote/internal/tasks"
	"menu-remote/pkg/journaldb"
)

func main() {
	var (
		cfgPath string
		outJSON string
		outCSV  string
		fromDB  string
		wait    time.Duration
	)
	flag.StringVar(&cfgPath, "config", "config/remote.yaml", "path to YAML config")
	flag.StringVar(&outJSON, "json", "", "path to write JSON snapshot (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write CSV snapshot (optional)")
	flag.StringVar(&fromDB, "from-journal", "", "export the latest journaled values from this sqlite file instead of connecting")
	flag.DurationVar(&wait, "wait", 3*time.Second, "how long to let connections bootstrap before the snapshot")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if outJSON == "" && outCSV == "" {
		log.Fatal().Msg("no output specified: set --json and/or --csv")
	}

	var (
		snaps []model.ConnectionSnapshot
		err   error
	)
	if fromDB != "" {
		snaps, err = fromJournal(fromDB)
	} else {
		snaps, err = live(cfgPath, wait, log)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("snapshot")
	}

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, snaps); err != nil {
			log.Error().Err(err).Msg("write json")
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, snaps); err != nil {
			log.Error().Err(err).Msg("write csv")
		}
	}
	log.Info().Int("connections", len(snaps)).Msg("snapshot written")
}

func fromJournal(path string) ([]model.ConnectionSnapshot, error) {
	c, err := journaldb.Open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Snapshots(ctx)
}

// live connects every enabled connection, waits for bootstrap and captures
// the mirrored trees.
func live(cfgPath string, wait time.Duration, log zerolog.Logger) ([]model.ConnectionSnapshot, error) {
	cfg, err := tasks.Load(tasks.Options{ConfigPath: cfgPath})
	if err != nil {
		return nil, err
	}
	// The journal and bridges are not needed for a one-off snapshot.
	cfg.Journal.Enabled = false
	cfg.Bridges.Modbus.Enabled = false
	cfg.Bridges.WebSocket.Enabled = false
	cfg.Bridges.NATS.Enabled = false
	if l, err := logger.New(cfg.Logging); err == nil {
		log = l
	}

	mgr := manager.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; cancel() }()

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	select {
	case <-mgr.Ready():
	case err := <-done:
		return nil, err
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}

	snaps := mgr.Snapshots()
	cancel()
	<-done
	return snaps, nil
}
