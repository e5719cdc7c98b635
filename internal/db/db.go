// Package db persists the session journal of every connection in SQLite.
package db

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"menu-remote/internal/model"
)

// DB wraps the sqlite connection.
type DB struct {
	ORM *gorm.DB
}

// Open opens the SQLite database using GORM and runs migrations.
func Open(path string) (*DB, error) {
	g, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &DB{ORM: g}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

func (d *DB) SaveConnection(ctx context.Context, c *model.Connection) error {
	return upsertConnection(ctx, d.ORM, c)
}

// SaveConnectionStatus saves c but keeps the stored remote identity when c
// does not carry one.
func (d *DB) SaveConnectionStatus(ctx context.Context, c *model.Connection) error {
	if c.RemoteName == "" && c.RemoteUUID == "" {
		var prev model.Connection
		if err := d.ORM.WithContext(ctx).Where("name = ?", c.Name).Take(&prev).Error; err == nil {
			c.RemoteName, c.RemoteUUID = prev.RemoteName, prev.RemoteUUID
			c.RemoteVersion, c.Platform = prev.RemoteVersion, prev.Platform
		}
	}
	return upsertConnection(ctx, d.ORM, c)
}

func (d *DB) SaveItems(ctx context.Context, items []model.MenuItem) error {
	return upsertItems(ctx, d.ORM, items)
}

func (d *DB) SaveStatus(ctx context.Context, ev *model.StatusEvent) error {
	return d.ORM.WithContext(ctx).Create(ev).Error
}

// SaveValue records a value change and makes it the item's latest value.
func (d *DB) SaveValue(ctx context.Context, v *model.ValueChange) error {
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	return insertValue(ctx, d.ORM, v)
}

func (d *DB) SaveAck(ctx context.Context, a *model.AckRecord) error {
	return d.ORM.WithContext(ctx).Create(a).Error
}

// DeleteConnection forgets a connection with its items and latest values.
// History rows are kept.
func (d *DB) DeleteConnection(ctx context.Context, name string) error {
	return deleteConnection(ctx, d.ORM, name)
}

func (d *DB) Connections(ctx context.Context) ([]model.Connection, error) {
	var out []model.Connection
	err := d.ORM.WithContext(ctx).Order("name").Find(&out).Error
	return out, err
}

// Items returns the stored definitions of a connection's menu.
func (d *DB) Items(ctx context.Context, connection string) ([]model.MenuItem, error) {
	var out []model.MenuItem
	err := d.ORM.WithContext(ctx).Where("connection = ?", connection).Order("item_id").Find(&out).Error
	return out, err
}

// Latest returns the newest value of every item, of all connections when
// connection is empty.
func (d *DB) Latest(ctx context.Context, connection string) ([]model.LatestValue, error) {
	q := d.ORM.WithContext(ctx).Order("connection, item_id")
	if connection != "" {
		q = q.Where("connection = ?", connection)
	}
	var out []model.LatestValue
	err := q.Find(&out).Error
	return out, err
}

// History returns the most recent changes of one item, newest first. A
// limit <= 0 returns all of them.
func (d *DB) History(ctx context.Context, connection string, itemID, limit int) ([]model.ValueChange, error) {
	q := d.ORM.WithContext(ctx).
		Where("connection = ? AND item_id = ?", connection, itemID).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.ValueChange
	err := q.Find(&out).Error
	return out, err
}

// StatusHistory returns the recorded state changes of a connection in order.
func (d *DB) StatusHistory(ctx context.Context, connection string) ([]model.StatusEvent, error) {
	var out []model.StatusEvent
	err := d.ORM.WithContext(ctx).Where("connection = ?", connection).Order("id").Find(&out).Error
	return out, err
}

func (d *DB) Acks(ctx context.Context, connection string) ([]model.AckRecord, error) {
	var out []model.AckRecord
	err := d.ORM.WithContext(ctx).Where("connection = ?", connection).Order("id").Find(&out).Error
	return out, err
}

// Snapshots groups latest values per connection for export.
func (d *DB) Snapshots(ctx context.Context) ([]model.ConnectionSnapshot, error) {
	conns, err := d.Connections(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := d.Latest(ctx, "")
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*model.ConnectionSnapshot, len(conns))
	out := make([]model.ConnectionSnapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, model.ConnectionSnapshot{
			Connection: c.Name,
			Remote:     c.RemoteName,
			Status:     c.LastStatus,
			Items:      []model.ItemSnapshot{},
			Timestamp:  c.UpdatedAt,
		})
	}
	for i := range out {
		byName[out[i].Connection] = &out[i]
	}
	for _, lv := range latest {
		snap, ok := byName[lv.Connection]
		if !ok {
			continue
		}
		snap.Items = append(snap.Items, model.ItemSnapshot{
			ItemID:    lv.ItemID,
			Name:      lv.Name,
			Kind:      lv.Kind,
			Value:     lv.Value,
			Numeric:   lv.Numeric,
			Timestamp: lv.Timestamp,
		})
		if lv.Timestamp.After(snap.Timestamp) {
			snap.Timestamp = lv.Timestamp
		}
	}
	return out, nil
}

// ConnectionInfo mirrors a subset of the connections table for stats output.
type ConnectionInfo struct {
	Name       string    `json:"name"`
	Transport  string    `json:"transport"`
	Address    string    `json:"address"`
	Remote     string    `json:"remote,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	LastStatus string    `json:"last_status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Stats aggregates connections and journal row counts.
type Stats struct {
	ConnectionCount  int              `json:"connection_count"`
	Connections      []ConnectionInfo `json:"connections"`
	ItemCount        int64            `json:"item_count"`
	ValueChangeCount int64            `json:"value_change_count"`
	StatusEventCount int64            `json:"status_event_count"`
	AckCount         int64            `json:"ack_count"`
}

func (d *DB) Stats(ctx context.Context) (Stats, error) {
	conns, err := d.Connections(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ConnectionCount: len(conns), Connections: make([]ConnectionInfo, 0, len(conns))}
	for _, c := range conns {
		st.Connections = append(st.Connections, ConnectionInfo{
			Name:       c.Name,
			Transport:  c.Transport,
			Address:    c.Address,
			Remote:     c.RemoteName,
			Platform:   c.Platform,
			LastStatus: c.LastStatus,
			UpdatedAt:  c.UpdatedAt,
		})
	}
	counts := []struct {
		m   any
		dst *int64
	}{
		{&model.MenuItem{}, &st.ItemCount},
		{&model.ValueChange{}, &st.ValueChangeCount},
		{&model.StatusEvent{}, &st.StatusEventCount},
		{&model.AckRecord{}, &st.AckCount},
	}
	for _, c := range counts {
		if err := d.ORM.WithContext(ctx).Model(c.m).Count(c.dst).Error; err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}

// StatsJSON returns Stats encoded as JSON.
func (d *DB) StatsJSON(ctx context.Context) ([]byte, error) {
	st, err := d.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}
