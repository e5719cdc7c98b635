package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menu-remote/internal/menu"
	"menu-remote/internal/model"
)

func sampleSnapshots(t *testing.T) []model.ConnectionSnapshot {
	t.Helper()
	tree := menu.DefaultTree()
	item, ok := tree.GetMenuByID(1)
	require.True(t, ok)
	_, err := menu.SetMenuState(tree, item, 42)
	require.NoError(t, err)
	ip, ok := tree.GetMenuByID(15)
	require.True(t, ok)
	_, err = menu.SetMenuState(tree, ip, "10.0.0.9")
	require.NoError(t, err)
	return []model.ConnectionSnapshot{SnapshotTree("bench", "psu", "CONNECTION_READY", tree)}
}

func TestSnapshotTreeSkipsMenusAndActions(t *testing.T) {
	snap := sampleSnapshots(t)[0]
	ids := map[int]model.ItemSnapshot{}
	for _, it := range snap.Items {
		ids[it.ItemID] = it
	}
	assert.NotContains(t, ids, 4)
	assert.NotContains(t, ids, 10)
	require.Contains(t, ids, 1)
	assert.Equal(t, "42", ids[1].Value)
	require.NotNil(t, ids[1].Numeric)
	assert.Equal(t, "10.0.0.9", ids[15].Value)
	assert.Nil(t, ids[15].Numeric)
}

func TestWriteJSONAndCSV(t *testing.T) {
	snaps := sampleSnapshots(t)
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "latest.json")
	require.NoError(t, WriteJSON(jsonPath, snaps))
	b, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var back []model.ConnectionSnapshot
	require.NoError(t, json.Unmarshal(b, &back))
	require.Len(t, back, 1)
	assert.Equal(t, "bench", back[0].Connection)
	assert.Len(t, back[0].Items, len(snaps[0].Items))

	csvPath := filepath.Join(dir, "latest.csv")
	require.NoError(t, WriteCSV(csvPath, snaps))
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(snaps[0].Items)+1)
	assert.Equal(t, "connection", rows[0][0])
	assert.Equal(t, []string{"bench", "psu", "CONNECTION_READY", "1", "Voltage", "analogItem", "42", "42"}, rows[1][:8])
	_, err = time.Parse(time.RFC3339Nano, rows[1][8])
	assert.NoError(t, err)
}
