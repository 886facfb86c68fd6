package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// OfflineAfter is how long a unit may stay silent before it is reported offline.
const OfflineAfter = time.Minute

var ErrNameRequired = errors.New("name required")

type DB struct {
	SQL  *sql.DB
	Path string
}

type Unit struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	AgentID       string         `json:"agent_id"`
	IP            string         `json:"ip"`
	Status        string         `json:"status"`
	TreeName      string         `json:"tree_name"`
	Running       bool           `json:"running"`
	RunID         string         `json:"run_id"`
	LastSeen      time.Time      `json:"last_seen"`
	InstallConfig *InstallConfig `json:"install_config,omitempty"`
}

// UnitStatus is what a heartbeat carries into UpsertUnitStatus.
type UnitStatus struct {
	AgentID  string
	Name     string
	IP       string
	Status   string
	Type     string
	TreeName string
	Running  bool
	RunID    string
}

type InstallConfig struct {
	Address string `json:"address"`
	User    string `json:"user"`
	SSHKey  string `json:"ssh_key"`
}

type Tree struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Format      string    `json:"format"`
	Definition  string    `json:"definition"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event is one journaled lifecycle record. Payload holds the full record as
// received from the unit.
type Event struct {
	ID       int64           `json:"id"`
	UnitID   string          `json:"unit_id"`
	RunID    string          `json:"run_id"`
	Event    string          `json:"event"`
	TaskID   *int            `json:"task_id,omitempty"`
	TaskName string          `json:"task_name,omitempty"`
	Status   string          `json:"status,omitempty"`
	StackID  uint64          `json:"stack_id,omitempty"`
	TS       int64           `json:"ts"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type EventFilter struct {
	UnitID string
	RunID  string
	Limit  int
}

const defaultInstallConfigKey = "default_install_config"

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	// modernc SQLite creates new connections per goroutine unless capped; keep it at 1
	// to avoid unexpected SQLITE_BUSY errors since we don't need parallel writers yet.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &DB{SQL: db, Path: path}, nil
}

func (d *DB) Close() error {
	return d.SQL.Close()
}

func migrate(db *sql.DB) error {
	ctx := context.Background()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS units (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			agent_id TEXT,
			ip TEXT,
			last_seen TIMESTAMP,
			status TEXT,
			type TEXT DEFAULT 'robot'
		);`,
		`CREATE TABLE IF NOT EXISTS trees (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			format TEXT NOT NULL,
			definition TEXT NOT NULL,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			unit_id TEXT NOT NULL,
			run_id TEXT,
			event TEXT NOT NULL,
			task_id INTEGER,
			task_name TEXT,
			status TEXT,
			stack_id INTEGER,
			ts INTEGER,
			payload TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS events_unit_run ON events (unit_id, run_id);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			slog.Error("migration failed", "err", err)
			return err
		}
	}
	return ensureUnitSchema(db)
}

// ensureUnitSchema adds columns introduced after the first release.
func ensureUnitSchema(db *sql.DB) error {
	ctx := context.Background()
	cols := []string{
		`ALTER TABLE units ADD COLUMN tree_name TEXT`,
		`ALTER TABLE units ADD COLUMN running INTEGER DEFAULT 0`,
		`ALTER TABLE units ADD COLUMN run_id TEXT`,
		`ALTER TABLE units ADD COLUMN ssh_address TEXT`,
		`ALTER TABLE units ADD COLUMN ssh_user TEXT`,
		`ALTER TABLE units ADD COLUMN ssh_key TEXT`,
	}
	for _, c := range cols {
		if _, err := db.ExecContext(ctx, c); err != nil && !isDuplicateColumnError(err) {
			return err
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

func buildInstallConfig(addr, user, key sql.NullString) *InstallConfig {
	cfg := InstallConfig{Address: addr.String, User: user.String, SSHKey: key.String}
	if cfg.Address == "" && cfg.User == "" && cfg.SSHKey == "" {
		return nil
	}
	return &cfg
}

const unitColumns = `id, name, agent_id, ip, last_seen, status, type, tree_name, running, run_id, ssh_address, ssh_user, ssh_key`

type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (Unit, error) {
	var u Unit
	var agentID, ip, status, rType, treeName, runID sql.NullString
	var lastSeen sql.NullTime
	var running sql.NullBool
	var sshAddr, sshUser, sshKey sql.NullString
	if err := row.Scan(&u.ID, &u.Name, &agentID, &ip, &lastSeen, &status, &rType, &treeName, &running, &runID, &sshAddr, &sshUser, &sshKey); err != nil {
		return Unit{}, err
	}
	u.AgentID = agentID.String
	u.IP = ip.String
	u.Status = status.String
	u.TreeName = treeName.String
	u.Running = running.Bool
	u.RunID = runID.String
	u.Type = "robot"
	if rType.Valid && rType.String != "" {
		u.Type = rType.String
	}
	if lastSeen.Valid {
		u.LastSeen = lastSeen.Time
	}
	u.InstallConfig = buildInstallConfig(sshAddr, sshUser, sshKey)

	if u.LastSeen.IsZero() {
		u.Status = "unknown"
	} else if time.Since(u.LastSeen) > OfflineAfter {
		u.Status = "offline"
		u.Running = false
	}
	return u, nil
}

func (d *DB) ListUnits(ctx context.Context) ([]Unit, error) {
	stmt, err := d.SQL.PrepareContext(ctx, `SELECT `+unitColumns+` FROM units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	units := []Unit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (d *DB) GetUnitByID(ctx context.Context, id int64) (Unit, error) {
	return scanUnit(d.SQL.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id))
}

func (d *DB) GetUnitByName(ctx context.Context, name string) (Unit, error) {
	return scanUnit(d.SQL.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE name = ?`, name))
}

// UpsertUnitStatus records a heartbeat. An empty type keeps the stored one.
func (d *DB) UpsertUnitStatus(ctx context.Context, s UnitStatus) error {
	if s.Name == "" {
		return fmt.Errorf("unit: %w", ErrNameRequired)
	}
	stmt, err := d.SQL.PrepareContext(ctx, `INSERT INTO units (name, agent_id, ip, last_seen, status, type, tree_name, running, run_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	agent_id=excluded.agent_id,
	ip=excluded.ip,
	status=excluded.status,
	last_seen=excluded.last_seen,
	tree_name=excluded.tree_name,
	running=excluded.running,
	run_id=excluded.run_id,
	type=CASE WHEN excluded.type != '' THEN excluded.type ELSE units.type END`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.ExecContext(ctx, s.Name, s.AgentID, s.IP, time.Now().UTC(), s.Status, s.Type, s.TreeName, s.Running, s.RunID)
	return err
}

func (d *DB) UpdateUnitInstallConfig(ctx context.Context, id int64, cfg InstallConfig) error {
	stmt, err := d.SQL.PrepareContext(ctx, `UPDATE units SET ssh_address = ?, ssh_user = ?, ssh_key = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.ExecContext(ctx, cfg.Address, cfg.User, cfg.SSHKey, id)
	return err
}

func (d *DB) DeleteUnit(ctx context.Context, id int64) error {
	_, err := d.SQL.ExecContext(ctx, `DELETE FROM units WHERE id = ?`, id)
	return err
}

func (d *DB) GetDefaultInstallConfig(ctx context.Context) (*InstallConfig, error) {
	var val sql.NullString
	err := d.SQL.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, defaultInstallConfigKey).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !val.Valid || val.String == "" {
		return nil, nil
	}
	var cfg InstallConfig
	if err := json.Unmarshal([]byte(val.String), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (d *DB) SaveDefaultInstallConfig(ctx context.Context, cfg InstallConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = d.SQL.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, defaultInstallConfigKey, string(data))
	return err
}

const treeColumns = `id, name, description, format, definition, created_at, updated_at`

func scanTree(row scanner) (Tree, error) {
	var t Tree
	var desc sql.NullString
	var created, updated sql.NullTime
	if err := row.Scan(&t.ID, &t.Name, &desc, &t.Format, &t.Definition, &created, &updated); err != nil {
		return Tree{}, err
	}
	t.Description = desc.String
	if created.Valid {
		t.CreatedAt = created.Time
	}
	if updated.Valid {
		t.UpdatedAt = updated.Time
	}
	return t, nil
}

func (d *DB) ListTrees(ctx context.Context) ([]Tree, error) {
	rows, err := d.SQL.QueryContext(ctx, `SELECT `+treeColumns+` FROM trees ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	trees := []Tree{}
	for rows.Next() {
		t, err := scanTree(rows)
		if err != nil {
			return nil, err
		}
		trees = append(trees, t)
	}
	return trees, rows.Err()
}

func (d *DB) GetTreeByID(ctx context.Context, id int64) (Tree, error) {
	return scanTree(d.SQL.QueryRowContext(ctx, `SELECT `+treeColumns+` FROM trees WHERE id = ?`, id))
}

func (d *DB) GetTreeByName(ctx context.Context, name string) (Tree, error) {
	return scanTree(d.SQL.QueryRowContext(ctx, `SELECT `+treeColumns+` FROM trees WHERE name = ?`, name))
}

func (d *DB) CreateTree(ctx context.Context, t Tree) (int64, error) {
	if t.Name == "" {
		return 0, fmt.Errorf("tree: %w", ErrNameRequired)
	}
	now := time.Now().UTC()
	stmt, err := d.SQL.PrepareContext(ctx, `INSERT INTO trees (name, description, format, definition, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, t.Name, t.Description, t.Format, t.Definition, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) UpdateTree(ctx context.Context, t Tree) error {
	if t.Name == "" {
		return fmt.Errorf("tree: %w", ErrNameRequired)
	}
	stmt, err := d.SQL.PrepareContext(ctx, `UPDATE trees SET name = ?, description = ?, format = ?, definition = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, t.Name, t.Description, t.Format, t.Definition, time.Now().UTC(), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *DB) DeleteTree(ctx context.Context, id int64) error {
	_, err := d.SQL.ExecContext(ctx, `DELETE FROM trees WHERE id = ?`, id)
	return err
}

func (d *DB) InsertEvent(ctx context.Context, e Event) (int64, error) {
	var taskID any
	if e.TaskID != nil {
		taskID = *e.TaskID
	}
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	res, err := d.SQL.ExecContext(ctx, `INSERT INTO events (unit_id, run_id, event, task_id, task_name, status, stack_id, ts, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UnitID, e.RunID, e.Event, taskID, e.TaskName, e.Status, int64(e.StackID), e.TS, payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEvents returns the newest events first.
func (d *DB) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	query := `SELECT id, unit_id, run_id, event, task_id, task_name, status, stack_id, ts, payload FROM events`
	var where []string
	var args []any
	if f.UnitID != "" {
		where = append(where, "unit_id = ?")
		args = append(args, f.UnitID)
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		var runID, taskName, status, payload sql.NullString
		var taskID, stackID, ts sql.NullInt64
		if err := rows.Scan(&e.ID, &e.UnitID, &runID, &e.Event, &taskID, &taskName, &status, &stackID, &ts, &payload); err != nil {
			return nil, err
		}
		e.RunID = runID.String
		e.TaskName = taskName.String
		e.Status = status.String
		e.StackID = uint64(stackID.Int64)
		e.TS = ts.Int64
		if taskID.Valid {
			id := int(taskID.Int64)
			e.TaskID = &id
		}
		if payload.Valid && payload.String != "" {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneEvents drops journal rows older than the cutoff (milliseconds).
func (d *DB) PruneEvents(ctx context.Context, beforeMs int64) (int64, error) {
	res, err := d.SQL.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, beforeMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
