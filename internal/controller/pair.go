package controller

import (
	"context"
	"fmt"

	"menu-remote/internal/connector"
)

// Pair connects with a pairing request instead of a join and waits for the
// device to accept or reject it. The connection is closed before Pair
// returns; the device keeps the identity's UUID for later joins.
func Pair(ctx context.Context, opts connector.Options) error {
	opts.Pairing = true
	c, err := New(opts)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	report := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	unsubscribe := c.Subscribe(Handlers{
		ConnectionChanged: func(status connector.AuthStatus, reason string) {
			switch status {
			case connector.Authenticated, connector.Bootstrapping, connector.ConnectionReady:
				report(nil)
			case connector.FailedAuth:
				report(fmt.Errorf("%w: %s", ErrPairingFailed, reason))
			}
		},
	})
	defer unsubscribe()

	c.Start()
	defer c.Stop()

	select {
	case err := <-result:
		if err == nil {
			c.log.Info().Str("uuid", c.conn.Identity().UUID).Msg("pairing accepted")
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("pairing: %w", ctx.Err())
	}
}
