package journaldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "menu-remote/internal/db"
	"menu-remote/internal/model"
)

func TestClientReadsJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.db")
	ctx := context.Background()

	w, err := dbpkg.Open(path)
	require.NoError(t, err)
	require.NoError(t, w.SaveConnection(ctx, &model.Connection{Name: "bench", Transport: "tcp", RemoteName: "psu", LastStatus: "CONNECTION_READY"}))
	require.NoError(t, w.SaveStatus(ctx, &model.StatusEvent{Connection: "bench", Status: "CONNECTION_READY", Timestamp: time.Now()}))
	for _, v := range []string{"1", "2"} {
		require.NoError(t, w.SaveValue(ctx, &model.ValueChange{Connection: "bench", ItemID: 3, Name: "Limit", Kind: "enumItem", Value: v}))
	}
	require.NoError(t, w.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	conns, err := c.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "psu", conns[0].RemoteName)

	latest, err := c.Latest(ctx, "")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "2", latest[0].Value)

	hist, err := c.ItemHistory(ctx, "bench", 3, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	st, err := c.StatusHistory(ctx, "bench")
	require.NoError(t, err)
	require.Len(t, st, 1)
	assert.Equal(t, "CONNECTION_READY", st[0].Status)

	b, err := c.StatsJSON(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"connection_count":1`)

	require.NoError(t, c.DeleteConnection(ctx, "bench"))
	conns, err = c.ListConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, conns)
}
