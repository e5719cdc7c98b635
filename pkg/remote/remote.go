// Package remote is the public entry point for embedding a menu remote.
package remote

import (
	"context"

	"github.com/rs/zerolog"

	"menu-remote/internal/connector"
	"menu-remote/internal/controller"
	"menu-remote/internal/tasks"
	"menu-remote/internal/transport"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

type (
	Controller = controller.Controller
	Handlers   = controller.Handlers
	Identity   = connector.Identity
	Config     = connector.Config
)

// Run starts every configured connection with the given options.
func Run(ctx context.Context, opts Options) error {
	return tasks.InitAndRunRemote(ctx, opts)
}

// DialTCP builds a controller for a device listening on host:port. Call
// Start to connect.
func DialTCP(name, host string, port int, id Identity, cfg Config) (*Controller, error) {
	cfg = cfg.WithDefaults()
	return controller.New(connector.Options{
		Name:      name,
		Transport: transport.NewTCP(host, port, cfg.WriteTimeout, zerolog.Nop()),
		Identity:  id,
		Config:    cfg,
		Logger:    zerolog.Nop(),
	})
}

// PairTCP asks the device at host:port to accept id.
func PairTCP(ctx context.Context, host string, port int, id Identity, cfg Config) error {
	cfg = cfg.WithDefaults()
	return controller.Pair(ctx, connector.Options{
		Name:      "pair",
		Transport: transport.NewTCP(host, port, cfg.WriteTimeout, zerolog.Nop()),
		Identity:  id,
		Config:    cfg,
		Logger:    zerolog.Nop(),
	})
}
