// Package store owns the durable local mapping between synchronized local
// objects and their remote repository counterparts, plus the change-log
// cursor and the transfer checkpoint records.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/opendms/docsync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS mapped_objects (
    stable_id        TEXT PRIMARY KEY,
    remote_id        TEXT NOT NULL UNIQUE,
    parent_remote_id TEXT NOT NULL,
    name             TEXT NOT NULL,
    kind             TEXT NOT NULL,
    change_token     TEXT NOT NULL,
    local_modified   TEXT NOT NULL, -- RFC3339Nano
    remote_modified  TEXT NOT NULL, -- RFC3339Nano
    checksum         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_mapped_remote ON mapped_objects(remote_id);
CREATE INDEX IF NOT EXISTS idx_mapped_parent ON mapped_objects(parent_remote_id, name);

CREATE TABLE IF NOT EXISTS sync_state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
    remote_id    TEXT PRIMARY KEY,
    local_path   TEXT NOT NULL,
    direction    TEXT NOT NULL,
    change_token TEXT NOT NULL,
    checksum     TEXT NOT NULL DEFAULT '',
    bytes_done   INTEGER NOT NULL,
    total_bytes  INTEGER,
    updated_at   TEXT NOT NULL
);
`

const changeLogTokenKey = "changelog_token"

var ErrNotMapped = errors.New("store: object not mapped")

// Store is the sqlite-backed metadata store. A single connection keeps all
// access serialized; callers on the queue goroutine never contend.
type Store struct {
	db     *sqlx.DB
	dbPath string
	rootID string
}

// NewStore creates a store backed by the database at dbPath.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Open opens the underlying database and applies the schema.
func (s *Store) Open() error {
	if s.db != nil {
		return fmt.Errorf("store already open")
	}

	database, err := db.NewSqliteDb(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return fmt.Errorf("initialize store schema: %w", err)
	}

	s.db = database
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return fmt.Errorf("store not open")
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	slog.Debug("metadata store closed")
	return nil
}

// EnsureRoot records the remote folder the local data dir maps to. The root
// row anchors every path lookup.
func (s *Store) EnsureRoot(remoteRootID string) error {
	s.rootID = remoteRootID
	root := &MappedObject{
		StableID: rootStableID,
		RemoteID: remoteRootID,
		Kind:     KindFolder,
	}
	return s.Save(root)
}

// RootRemoteID returns the remote id of the mapped root folder.
func (s *Store) RootRemoteID() string {
	return s.rootID
}

// ChangeLogToken returns the last persisted change-log token, or "" when no
// token has ever been stored.
func (s *Store) ChangeLogToken() (string, error) {
	var value string
	err := s.db.Get(&value, "SELECT value FROM sync_state WHERE key = ?", changeLogTokenKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get change log token: %w", err)
	}
	return value, nil
}

// SetChangeLogToken persists the change-log token. Called after every
// processed page so a crash resumes from the last confirmed page.
func (s *Store) SetChangeLogToken(token string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO sync_state (key, value) VALUES (?, ?)",
		changeLogTokenKey, token,
	)
	if err != nil {
		return fmt.Errorf("set change log token: %w", err)
	}
	return nil
}
