// Package store implements the registry's relational storage: tools,
// versions, attestations and profiles in SQLite, with an FTS5 index kept in
// sync via triggers, plus a content-addressed blob store on disk.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite connection. Writes serialize through mu so the
// single-writer/many-reader discipline WAL mode expects is never violated by
// concurrent Go goroutines sharing one *sql.DB.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWrite serializes w under the store's write mutex, matching the
// single-writer discipline WAL mode relies on.
func (s *Store) withWrite(ctx context.Context, w func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := w(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS organizations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS org_members (
	org_id     INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	role       TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
	PRIMARY KEY (org_id, profile_id)
);

CREATE TABLE IF NOT EXISTS tools (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL UNIQUE,
	short_name      TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	tags            TEXT NOT NULL DEFAULT '',
	visibility      TEXT NOT NULL DEFAULT 'public' CHECK (visibility IN ('public', 'unlisted', 'private')),
	owner_profile_id INTEGER REFERENCES profiles(id),
	owner_org_id    INTEGER REFERENCES organizations(id),
	total_downloads INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tool_versions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_id        INTEGER NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
	version        TEXT NOT NULL,
	manifest_json  TEXT NOT NULL,
	raw_manifest   BLOB NOT NULL,
	bundle_hash    TEXT NOT NULL,
	bundle_size    INTEGER NOT NULL,
	bundle_path    TEXT NOT NULL,
	downloads      INTEGER NOT NULL DEFAULT 0,
	yanked         INTEGER NOT NULL DEFAULT 0,
	yank_reason    TEXT,
	replacement    TEXT,
	published_by   TEXT NOT NULL,
	published_at   TEXT NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tool_id, version)
);

CREATE TABLE IF NOT EXISTS attestations (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_version_id      INTEGER NOT NULL REFERENCES tool_versions(id) ON DELETE CASCADE,
	auditor              TEXT NOT NULL,
	auditor_provider     TEXT NOT NULL,
	role                 TEXT NOT NULL DEFAULT 'author',
	envelope_json        TEXT NOT NULL,
	rekor_log_id         TEXT,
	rekor_log_index      INTEGER,
	signed_at            TEXT NOT NULL,
	verified             INTEGER NOT NULL DEFAULT 0,
	rekor_verified       INTEGER NOT NULL DEFAULT 0,
	certificate_verified INTEGER NOT NULL DEFAULT 0,
	signature_verified   INTEGER NOT NULL DEFAULT 0,
	verified_at          TEXT,
	revoked              INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS download_logs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_version_id INTEGER NOT NULL REFERENCES tool_versions(id) ON DELETE CASCADE,
	downloaded_at   TEXT NOT NULL DEFAULT (datetime('now')),
	client_identity TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS tools_fts USING fts5(
	name, short_name, description, tags, content='tools', content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS tools_ai AFTER INSERT ON tools BEGIN
	INSERT INTO tools_fts(rowid, name, short_name, description, tags)
	VALUES (new.id, new.name, new.short_name, new.description, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS tools_ad AFTER DELETE ON tools BEGIN
	INSERT INTO tools_fts(tools_fts, rowid, name, short_name, description, tags)
	VALUES ('delete', old.id, old.name, old.short_name, old.description, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS tools_au AFTER UPDATE ON tools BEGIN
	INSERT INTO tools_fts(tools_fts, rowid, name, short_name, description, tags)
	VALUES ('delete', old.id, old.name, old.short_name, old.description, old.tags);
	INSERT INTO tools_fts(rowid, name, short_name, description, tags)
	VALUES (new.id, new.name, new.short_name, new.description, new.tags);
END;
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
