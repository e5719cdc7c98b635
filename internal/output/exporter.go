package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"menu-remote/internal/menu"
	"menu-remote/internal/model"
)

// WriteJSON writes snapshots to a JSON file with pretty formatting.
func WriteJSON(path string, snaps []model.ConnectionSnapshot) error {
	b, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV flattens snapshots and writes to a CSV file.
// Columns: connection,remote,status,item_id,name,kind,value,numeric,timestamp
func WriteCSV(path string, snaps []model.ConnectionSnapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	headers := []string{"connection", "remote", "status", "item_id", "name", "kind", "value", "numeric", "timestamp"}
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, s := range snaps {
		for _, it := range s.Items {
			var num string
			if it.Numeric != nil {
				num = strconv.FormatFloat(*it.Numeric, 'f', -1, 64)
			}
			rec := []string{
				s.Connection,
				s.Remote,
				s.Status,
				strconv.Itoa(it.ItemID),
				it.Name,
				it.Kind,
				it.Value,
				num,
				timeToRFC3339(it.Timestamp),
			}
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

// SnapshotTree captures the current values of a live mirror.
func SnapshotTree(connection, remote, status string, tree *menu.Tree) model.ConnectionSnapshot {
	now := time.Now().UTC()
	snap := model.ConnectionSnapshot{Connection: connection, Remote: remote, Status: status, Timestamp: now}
	for _, item := range tree.GetAllMenuItems() {
		if item.IsSubMenu() || item.Kind() == menu.KindAction {
			continue
		}
		st, ok := tree.GetState(item.ID())
		if !ok {
			continue
		}
		is := model.ItemSnapshot{
			ItemID:    item.ID(),
			Name:      item.Name(),
			Kind:      item.Kind().String(),
			Value:     st.WireText(),
			Timestamp: now,
		}
		if n, ok := st.Number(); ok {
			is.Numeric = &n
		}
		snap.Items = append(snap.Items, is)
	}
	return snap
}

func timeToRFC3339(t time.Time) string { return t.Format(time.RFC3339Nano) }
