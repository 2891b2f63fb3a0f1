package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"roomsync/pkg/record"
)

// SQLite persists snapshots as JSON blobs in a single table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the snapshot database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS snapshots (
		room_id text not null primary key,
		content text not null
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure snapshots table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, roomID string) (*record.Snapshot, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM snapshots WHERE room_id = ?`, roomID,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot for %s: %w", roomID, err)
	}
	var snapshot record.Snapshot
	if err := json.Unmarshal([]byte(content), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", roomID, err)
	}
	return &snapshot, nil
}

func (s *SQLite) Save(ctx context.Context, roomID string, snapshot *record.Snapshot) error {
	content, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", roomID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (room_id, content) VALUES (?, ?)
		ON CONFLICT(room_id) DO UPDATE SET content = excluded.content`,
		roomID, string(content),
	); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", roomID, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
