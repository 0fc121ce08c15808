package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS workload (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	status TEXT NOT NULL,
	source_platform TEXT NOT NULL,
	jobschedule TEXT NOT NULL, -- JSON object
	metadata TEXT NOT NULL, -- JSON object
	error_msg TEXT,
	host TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS workload_vm (
	id TEXT PRIMARY KEY,
	workload_id TEXT NOT NULL,
	vm_id TEXT NOT NULL,
	vm_name TEXT NOT NULL,
	status TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (workload_id) REFERENCES workload(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshot (
	id TEXT PRIMARY KEY,
	workload_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	snapshot_type TEXT NOT NULL,
	status TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	progress_percent INTEGER NOT NULL DEFAULT 0,
	progress_msg TEXT NOT NULL DEFAULT '',
	error_msg TEXT,
	user_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	host TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	finished_at DATETIME,
	FOREIGN KEY (workload_id) REFERENCES workload(id)
);

CREATE TABLE IF NOT EXISTS snapshot_vm (
	id TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL,
	vm_id TEXT NOT NULL,
	vm_name TEXT NOT NULL,
	status TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (snapshot_id) REFERENCES snapshot(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshot_resource (
	id TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL,
	vm_id TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_name TEXT NOT NULL,
	status TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (snapshot_id) REFERENCES snapshot(id) ON DELETE CASCADE
);

-- backing_id has no foreign key; removal of a referenced link is gated
-- by the retention engine.
CREATE TABLE IF NOT EXISTS disk_resource_snapshot (
	id TEXT PRIMARY KEY,
	snapshot_resource_id TEXT NOT NULL,
	snapshot_id TEXT NOT NULL,
	disk_id TEXT NOT NULL,
	backing_id TEXT,
	name TEXT NOT NULL,
	vault_key TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	restore_size INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (snapshot_resource_id) REFERENCES snapshot_resource(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS resource_snap (
	id TEXT PRIMARY KEY,
	snapshot_resource_id TEXT NOT NULL,
	snapshot_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (snapshot_resource_id) REFERENCES snapshot_resource(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS setting (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	hidden INTEGER NOT NULL DEFAULT 0,
	public INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'available',
	version TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS process (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	command_id TEXT NOT NULL,
	command TEXT NOT NULL,
	status TEXT NOT NULL,
	output TEXT,
	error TEXT,
	start_time DATETIME NOT NULL,
	end_time DATETIME,
	type TEXT NOT NULL,
	args TEXT NOT NULL -- JSON object
);

CREATE INDEX IF NOT EXISTS idx_workload_status ON workload(status);
CREATE INDEX IF NOT EXISTS idx_workload_vm_workload_id ON workload_vm(workload_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_workload_id ON snapshot(workload_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_created_at ON snapshot(created_at);
CREATE INDEX IF NOT EXISTS idx_snapshot_vm_snapshot_id ON snapshot_vm(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_resource_snapshot_id ON snapshot_resource(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_disk_snapshot_snapshot_id ON disk_resource_snapshot(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_disk_snapshot_backing_id ON disk_resource_snapshot(backing_id);
CREATE INDEX IF NOT EXISTS idx_resource_snap_resource_id ON resource_snap(snapshot_resource_id);
CREATE INDEX IF NOT EXISTS idx_processes_status ON process(status);
CREATE INDEX IF NOT EXISTS idx_processes_type ON process(type);
CREATE INDEX IF NOT EXISTS idx_processes_command_id ON process(command_id);
`

type DB struct {
	*sqlx.DB
}

func New(dbPath string) (*DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Every connection to ":memory:" opens its own database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	// Set busy timeout to handle concurrent access from the API and the scheduler
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// NullString helper for optional string fields
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NullTime helper for optional time fields
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
