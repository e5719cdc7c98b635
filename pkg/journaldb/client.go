// Package journaldb gives other programs read access to a remote's journal.
package journaldb

import (
	"context"

	dbpkg "menu-remote/internal/db"
	"menu-remote/internal/model"
)

// Client exposes a stable API for third-party packages to access the DB.
type Client struct{ db *dbpkg.DB }

// Open opens the SQLite database (runs migrations) and returns a client.
func Open(path string) (*Client, error) {
	d, err := dbpkg.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{db: d}, nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }

// --------------------
// Connection DTOs
// --------------------

type Connection struct {
	Name          string
	Transport     string
	Address       string
	RemoteName    string
	RemoteUUID    string
	RemoteVersion int
	Platform      string
	LastStatus    string
	LastReason    string
}

func fromModelConnection(m model.Connection) Connection {
	return Connection{
		Name:          m.Name,
		Transport:     m.Transport,
		Address:       m.Address,
		RemoteName:    m.RemoteName,
		RemoteUUID:    m.RemoteUUID,
		RemoteVersion: m.RemoteVersion,
		Platform:      m.Platform,
		LastStatus:    m.LastStatus,
		LastReason:    m.LastReason,
	}
}

func (c *Client) ListConnections(ctx context.Context) ([]Connection, error) {
	rows, err := c.db.Connections(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Connection, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModelConnection(r))
	}
	return out, nil
}

// DeleteConnection forgets a connection; its history stays.
func (c *Client) DeleteConnection(ctx context.Context, name string) error {
	return c.db.DeleteConnection(ctx, name)
}
