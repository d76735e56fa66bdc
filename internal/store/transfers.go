package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TransferDirection tags a checkpoint record with its transfer direction.
type TransferDirection string

const (
	TransferUpload   TransferDirection = "upload"
	TransferDownload TransferDirection = "download"
)

// TransferRecord is the checkpoint of one in-flight content transmission.
// Persisted after every confirmed chunk so an interrupted transfer can
// resume without re-sending already-confirmed bytes.
type TransferRecord struct {
	RemoteID    string
	LocalPath   string
	Direction   TransferDirection
	ChangeToken string
	Checksum    string
	BytesDone   int64
	// TotalBytes is nil when the content stream does not report a length.
	TotalBytes *int64
	UpdatedAt  time.Time
}

type transferRow struct {
	RemoteID    string `db:"remote_id"`
	LocalPath   string `db:"local_path"`
	Direction   string `db:"direction"`
	ChangeToken string `db:"change_token"`
	Checksum    string `db:"checksum"`
	BytesDone   int64  `db:"bytes_done"`
	TotalBytes  *int64 `db:"total_bytes"`
	UpdatedAt   string `db:"updated_at"`
}

// SaveTransfer writes a checkpoint.
func (s *Store) SaveTransfer(rec *TransferRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot save nil transfer record")
	}

	row := transferRow{
		RemoteID:    rec.RemoteID,
		LocalPath:   rec.LocalPath,
		Direction:   string(rec.Direction),
		ChangeToken: rec.ChangeToken,
		Checksum:    rec.Checksum,
		BytesDone:   rec.BytesDone,
		TotalBytes:  rec.TotalBytes,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	query := `INSERT OR REPLACE INTO transfers
	          (remote_id, local_path, direction, change_token, checksum, bytes_done, total_bytes, updated_at)
	          VALUES (:remote_id, :local_path, :direction, :change_token, :checksum, :bytes_done, :total_bytes, :updated_at)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("save transfer record %s: %w", rec.RemoteID, err)
	}
	return nil
}

// TransferFor returns the checkpoint for a remote object, or (nil, nil).
func (s *Store) TransferFor(remoteID string) (*TransferRecord, error) {
	var row transferRow
	err := s.db.Get(&row, "SELECT * FROM transfers WHERE remote_id = ?", remoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query transfer record %s: %w", remoteID, err)
	}

	updated, err := parseStoredTime(row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", remoteID, err)
	}
	return &TransferRecord{
		RemoteID:    row.RemoteID,
		LocalPath:   row.LocalPath,
		Direction:   TransferDirection(row.Direction),
		ChangeToken: row.ChangeToken,
		Checksum:    row.Checksum,
		BytesDone:   row.BytesDone,
		TotalBytes:  row.TotalBytes,
		UpdatedAt:   updated,
	}, nil
}

// DeleteTransfer drops the checkpoint after completion or restart.
func (s *Store) DeleteTransfer(remoteID string) error {
	if _, err := s.db.Exec("DELETE FROM transfers WHERE remote_id = ?", remoteID); err != nil {
		return fmt.Errorf("delete transfer record %s: %w", remoteID, err)
	}
	return nil
}
