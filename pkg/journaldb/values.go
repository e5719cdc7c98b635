package journaldb

import (
	"context"
	"time"

	"menu-remote/internal/model"
)

// --------------------
// Value DTOs
// --------------------

type Value struct {
	Connection string    `json:"connection"`
	ItemID     int       `json:"item_id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Value      string    `json:"value"`
	Numeric    *float64  `json:"numeric,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type StatusChange struct {
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func fromLatest(v model.LatestValue) Value {
	return Value{v.Connection, v.ItemID, v.Name, v.Kind, v.Value, v.Numeric, v.Timestamp}
}

func fromChange(v model.ValueChange) Value {
	return Value{v.Connection, v.ItemID, v.Name, v.Kind, v.Value, v.Numeric, v.Timestamp}
}

// Latest returns the newest value of every item of a connection, or of all
// connections when connection is empty.
func (c *Client) Latest(ctx context.Context, connection string) ([]Value, error) {
	rows, err := c.db.Latest(ctx, connection)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromLatest(r))
	}
	return out, nil
}

// ItemHistory returns up to limit changes of one item, newest first.
func (c *Client) ItemHistory(ctx context.Context, connection string, itemID, limit int) ([]Value, error) {
	rows, err := c.db.History(ctx, connection, itemID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromChange(r))
	}
	return out, nil
}

func (c *Client) StatusHistory(ctx context.Context, connection string) ([]StatusChange, error) {
	rows, err := c.db.StatusHistory(ctx, connection)
	if err != nil {
		return nil, err
	}
	out := make([]StatusChange, 0, len(rows))
	for _, r := range rows {
		out = append(out, StatusChange{Status: r.Status, Reason: r.Reason, Timestamp: r.Timestamp})
	}
	return out, nil
}

// Snapshots groups the latest values per connection.
func (c *Client) Snapshots(ctx context.Context) ([]model.ConnectionSnapshot, error) {
	return c.db.Snapshots(ctx)
}

// StatsJSON returns connection and row counts as JSON.
func (c *Client) StatsJSON(ctx context.Context) ([]byte, error) {
	return c.db.StatsJSON(ctx)
}
