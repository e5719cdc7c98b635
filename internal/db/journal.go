package db

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/connector"
	"menu-remote/internal/controller"
	"menu-remote/internal/menu"
	"menu-remote/internal/model"
	"menu-remote/internal/protocol"
	"menu-remote/internal/utils"
)

var (
	ErrJournalFull   = errors.New("journal queue full")
	ErrJournalClosed = errors.New("journal closed")
)

type JournalOptions struct {
	MaxQueue int
	// CacheTTL bounds how long an unchanged value is suppressed.
	CacheTTL time.Duration
	Logger   zerolog.Logger
}

type write func(ctx context.Context, d *DB) error

// Journal writes controller events to the database on a single background
// goroutine so event delivery never waits on disk.
type Journal struct {
	db      *DB
	log     zerolog.Logger
	values  *utils.ValueCache[string]
	q       chan write
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewJournal(d *DB, opts JournalOptions) *Journal {
	size := opts.MaxQueue
	if size <= 0 {
		size = 1000
	}
	j := &Journal{
		db:     d,
		log:    opts.Logger.With().Str("component", "journal").Logger(),
		values: utils.NewValueCache[string](opts.CacheTTL),
		q:      make(chan write, size),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) run() {
	defer close(j.done)
	ctx := context.Background()
	for w := range j.q {
		if err := w(ctx, j.db); err != nil {
			j.log.Warn().Err(err).Msg("journal write failed")
		}
	}
}

func (j *Journal) enqueue(w write) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}
	select {
	case j.q <- w:
		return nil
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.log.Warn().Int64("dropped", n).Msg("journal queue full")
		}
		return ErrJournalFull
	}
}

// Dropped is the number of records lost to a full queue.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Flush waits until everything queued before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	done := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrJournalClosed
	}
	select {
	case j.q <- func(context.Context, *DB) error { close(done); return nil }:
		j.mu.RUnlock()
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes what is queued and stops the writer. The database stays open.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.q)
	}
	j.mu.Unlock()
	<-j.done
}

// Attach journals the events of c until the returned function is called.
// transport and address describe the connection in the connections table.
func (j *Journal) Attach(c *controller.Controller, transport, address string) func() {
	name := c.Name()
	conn := model.Connection{Name: name, Transport: transport, Address: address, LastStatus: c.Status().String(), UpdatedAt: time.Now()}
	_ = j.enqueue(func(ctx context.Context, d *DB) error {
		row := conn
		return d.SaveConnectionStatus(ctx, &row)
	})

	return c.Subscribe(controller.Handlers{
		ConnectionChanged: func(status connector.AuthStatus, reason string) {
			j.status(c, transport, address, status, reason)
		},
		MenuChanged: func(item menu.Item, structural bool) {
			j.menuChanged(c, item, structural)
		},
		AckReceived: func(corr protocol.CorrelationID, status protocol.AckStatus) {
			rec := model.AckRecord{
				Connection:  name,
				Correlation: corr.String(),
				Status:      int(status),
				StatusName:  status.String(),
				Timestamp:   time.Now(),
			}
			_ = j.enqueue(func(ctx context.Context, d *DB) error { return d.SaveAck(ctx, &rec) })
		},
	})
}

func (j *Journal) status(c *controller.Controller, transport, address string, status connector.AuthStatus, reason string) {
	now := time.Now()
	ev := model.StatusEvent{Connection: c.Name(), Status: status.String(), Reason: reason, Timestamp: now}
	row := model.Connection{
		Name:       c.Name(),
		Transport:  transport,
		Address:    address,
		LastStatus: status.String(),
		LastReason: reason,
		UpdatedAt:  now,
	}
	if info, ok := c.RemoteInfo(); ok {
		row.RemoteName = info.Name
		row.RemoteUUID = info.UUID
		row.RemoteVersion = info.Version
		row.Platform = info.Platform
	}
	if status == connector.Bootstrapping {
		// a fresh bootstrap replays every value
		j.values.Forget(c.Name() + "/")
	}
	_ = j.enqueue(func(ctx context.Context, d *DB) error {
		if err := d.SaveStatus(ctx, &ev); err != nil {
			return err
		}
		return d.SaveConnectionStatus(ctx, &row)
	})
}

func (j *Journal) menuChanged(c *controller.Controller, item menu.Item, structural bool) {
	name := c.Name()
	now := time.Now()
	if structural {
		parent, _ := c.Tree().ParentID(item.ID())
		def := model.MenuItem{
			Connection: name,
			ItemID:     item.ID(),
			ParentID:   parent,
			Name:       item.Name(),
			Kind:       item.Kind().String(),
			ReadOnly:   item.ReadOnly(),
			UpdatedAt:  now,
		}
		_ = j.enqueue(func(ctx context.Context, d *DB) error {
			return d.SaveItems(ctx, []model.MenuItem{def})
		})
	}

	st, ok := c.Tree().GetState(item.ID())
	if !ok || item.IsSubMenu() || item.Kind() == menu.KindAction {
		return
	}
	text := st.WireText()
	if !j.values.Changed(name+"/"+strconv.Itoa(item.ID()), text) {
		return
	}
	v := model.ValueChange{
		Connection: name,
		ItemID:     item.ID(),
		Name:       item.Name(),
		Kind:       item.Kind().String(),
		Value:      text,
		Timestamp:  now,
	}
	if n, ok := st.Number(); ok {
		v.Numeric = &n
	}
	_ = j.enqueue(func(ctx context.Context, d *DB) error { return d.SaveValue(ctx, &v) })
}
