package db

import (
	"fmt"
	"log/slog"
)

type migration struct {
	name string
	sql  string
}

// migrations[i] brings the schema to version i+1. Append only.
var migrations = []migration{
	{"inventory", create_inventory_table},
	{"metadata", create_metadata_table},
	{"runs", create_runs_table},
	{"privatetokens", create_privatetokens_table},
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(create_version_table)
	if err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}
	var version int
	err = s.db.Get(&version, `select COALESCE(max(id), 0) from version`)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		stmt := migrations[i]
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(stmt.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to create table %s: %w", stmt.name, err)
		}
		if _, err := tx.Exec(s.db.Rebind(`insert into version (id) values (?)`), i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
		slog.Info("Created table", "table", stmt.name, "version", i+1)
	}
	return nil
}

const create_version_table string = `CREATE TABLE IF NOT EXISTS version (
	id INTEGER PRIMARY KEY
)`

const create_inventory_table string = `CREATE TABLE IF NOT EXISTS inventory (
	row_num INTEGER PRIMARY KEY,
	mark VARCHAR(20) NOT NULL DEFAULT '',
	message_id VARCHAR(100) NOT NULL DEFAULT '',
	sender VARCHAR(500),
	subject VARCHAR(2000),
	msg_date TIMESTAMP,
	attachment_count INTEGER NOT NULL,
	attachment_note TEXT,
	total_size_mib DOUBLE PRECISION,
	status VARCHAR(50) NOT NULL DEFAULT '',
	done INTEGER NOT NULL DEFAULT 0
)`

const create_metadata_table string = `CREATE TABLE IF NOT EXISTS metadata (
	name VARCHAR(100) PRIMARY KEY,
	value TEXT
)`

const create_runs_table string = `CREATE TABLE IF NOT EXISTS runs (
	id VARCHAR(36) PRIMARY KEY,
	kind VARCHAR(50) NOT NULL,
	detail VARCHAR(2000),
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	status VARCHAR(50) NOT NULL,
	error_msg TEXT,
	processed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
)`

const create_privatetokens_table string = `CREATE TABLE IF NOT EXISTS privatetokens (
	access_token VARCHAR(800),
	refresh_token VARCHAR(800),
	display_name VARCHAR(100),
	client_key VARCHAR(100) PRIMARY KEY,
	created_on TIMESTAMP NOT NULL,
	scope VARCHAR(500),
	expires_in INT,
	token_type VARCHAR(100)
)`
