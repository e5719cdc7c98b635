package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher publishes each event on <subject>.<connection>.<type>.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewNATSPublisher connects to url. The connection keeps retrying in the
// background when the server is unreachable at start.
func NewNATSPublisher(url, subject string, log zerolog.Logger) (*NATSPublisher, error) {
	log = log.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(url,
		nats.Name("menu-remote"),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, subject: subject, log: log}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev Event) string {
	return p.subject + "." + token(ev.Connection) + "." + string(ev.Type)
}

func (p *NATSPublisher) Publish(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(ev), b)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// token makes a connection name safe as one subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
