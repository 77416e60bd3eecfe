// Package store archives compiled jobs in a SQLite database: one row
// per build plus one row per cell program, binary words alongside the
// annotated listing. The archive is what `qicc dump` and `qicc list`
// read back.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - builds and programs tables
const currentSchemaVersion = 1

// Store is a handle on one archive database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive at the given path. The schema is
// created on first open and stamped with a version; reopening an
// up-to-date archive changes nothing.
//
// The database runs in WAL mode with NORMAL synchronous writes, a five
// second busy timeout and foreign keys enforced.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect archive: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initialize(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize archive: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initialize creates the tables and reconciles the stored schema
// version. Archives written by a newer build are refused rather than
// migrated downward.
func initialize(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("archive schema version %d is newer than this build supports (%d)",
			version, currentSchemaVersion)
	}
	if version < currentSchemaVersion {
		// Version 1 is fully covered by schema.sql; later migrations
		// slot in here.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("stamp user_version: %w", err)
		}
	}
	return nil
}
