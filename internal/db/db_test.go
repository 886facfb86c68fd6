package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "unitbrain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestUnitUpsertKeepsType(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)

	require.NoError(t, d.UpsertUnitStatus(ctx, UnitStatus{AgentID: "a1", Name: "tb3-01", IP: "10.0.0.5", Status: "ok", Type: "npc", TreeName: "patrol", Running: true, RunID: "r1"}))
	require.NoError(t, d.UpsertUnitStatus(ctx, UnitStatus{AgentID: "a1", Name: "tb3-01", IP: "10.0.0.6", Status: "ok"}))

	units, err := d.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 1)
	u := units[0]
	assert.Equal(t, "npc", u.Type)
	assert.Equal(t, "10.0.0.6", u.IP)
	assert.Equal(t, "ok", u.Status)
	assert.False(t, u.Running)
	assert.Empty(t, u.TreeName)
	assert.Nil(t, u.InstallConfig)

	byName, err := d.GetUnitByName(ctx, "tb3-01")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	assert.ErrorIs(t, d.UpsertUnitStatus(ctx, UnitStatus{}), ErrNameRequired)
}

func TestUnitOfflineAfterSilence(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)
	_, err := d.SQL.ExecContext(ctx, `INSERT INTO units (name, status, running, last_seen) VALUES (?, ?, ?, ?)`,
		"stale", "ok", true, time.Now().UTC().Add(-2*OfflineAfter))
	require.NoError(t, err)
	_, err = d.SQL.ExecContext(ctx, `INSERT INTO units (name) VALUES (?)`, "never")
	require.NoError(t, err)

	stale, err := d.GetUnitByName(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, "offline", stale.Status)
	assert.False(t, stale.Running)

	never, err := d.GetUnitByName(ctx, "never")
	require.NoError(t, err)
	assert.Equal(t, "unknown", never.Status)
	assert.Equal(t, "robot", never.Type)
}

func TestInstallConfig(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)

	def, err := d.GetDefaultInstallConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, def)

	require.NoError(t, d.SaveDefaultInstallConfig(ctx, InstallConfig{User: "ubuntu", SSHKey: "key"}))
	def, err = d.GetDefaultInstallConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "ubuntu", def.User)

	require.NoError(t, d.UpsertUnitStatus(ctx, UnitStatus{Name: "tb3-02", Status: "ok"}))
	u, err := d.GetUnitByName(ctx, "tb3-02")
	require.NoError(t, err)
	require.NoError(t, d.UpdateUnitInstallConfig(ctx, u.ID, InstallConfig{Address: "10.0.0.9:22", User: "pi"}))
	u, err = d.GetUnitByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, u.InstallConfig)
	assert.Equal(t, "10.0.0.9:22", u.InstallConfig.Address)

	require.NoError(t, d.DeleteUnit(ctx, u.ID))
	_, err = d.GetUnitByID(ctx, u.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTreeCRUD(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)

	id, err := d.CreateTree(ctx, Tree{Name: "patrol", Format: "yaml", Definition: "root: {type: Idle}"})
	require.NoError(t, err)

	_, err = d.CreateTree(ctx, Tree{Name: "patrol", Format: "yaml", Definition: "x"})
	assert.Error(t, err, "names are unique")
	_, err = d.CreateTree(ctx, Tree{Format: "yaml"})
	assert.ErrorIs(t, err, ErrNameRequired)

	tr, err := d.GetTreeByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "patrol", tr.Name)
	assert.False(t, tr.CreatedAt.IsZero())

	tr.Description = "walks the lab"
	tr.Format = "json"
	require.NoError(t, d.UpdateTree(ctx, tr))
	tr, err = d.GetTreeByName(ctx, "patrol")
	require.NoError(t, err)
	assert.Equal(t, "json", tr.Format)
	assert.Equal(t, "walks the lab", tr.Description)

	assert.ErrorIs(t, d.UpdateTree(ctx, Tree{ID: 999, Name: "ghost"}), sql.ErrNoRows)

	trees, err := d.ListTrees(ctx)
	require.NoError(t, err)
	assert.Len(t, trees, 1)

	require.NoError(t, d.DeleteTree(ctx, id))
	trees, err = d.ListTrees(ctx)
	require.NoError(t, err)
	assert.Empty(t, trees)
}

func TestEventJournal(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)

	taskID := 3
	for i, unit := range []string{"tb3-01", "tb3-01", "tb3-02"} {
		_, err := d.InsertEvent(ctx, Event{
			UnitID:   unit,
			RunID:    "r1",
			Event:    "post_on_end",
			TaskID:   &taskID,
			TaskName: "idle",
			Status:   "SUCCESS",
			StackID:  1,
			TS:       int64(1000 * (i + 1)),
			Payload:  json.RawMessage(`{"event":"post_on_end"}`),
		})
		require.NoError(t, err)
	}
	_, err := d.InsertEvent(ctx, Event{UnitID: "tb3-01", RunID: "r2", Event: "new_stack", TS: 4000})
	require.NoError(t, err)

	all, err := d.ListEvents(ctx, EventFilter{UnitID: "tb3-01"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new_stack", all[0].Event, "newest first")
	assert.Nil(t, all[0].TaskID)
	assert.Empty(t, all[0].Payload)
	require.NotNil(t, all[1].TaskID)
	assert.Equal(t, 3, *all[1].TaskID)
	assert.JSONEq(t, `{"event":"post_on_end"}`, string(all[1].Payload))

	run, err := d.ListEvents(ctx, EventFilter{UnitID: "tb3-01", RunID: "r1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, run, 1)
	assert.Equal(t, int64(2000), run[0].TS)

	n, err := d.PruneEvents(ctx, 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	left, err := d.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 2)
}
