package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"roomsync/pkg/record"
)

var snapshotBucket = []byte("snapshots")

// Bolt persists snapshots in a single-file bbolt database. Useful where the
// server runs without cgo.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if necessary) the snapshot database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure snapshots bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Load(_ context.Context, roomID string) (*record.Snapshot, error) {
	var content []byte
	if err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(snapshotBucket).Get([]byte(roomID)); v != nil {
			content = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", roomID, err)
	}
	if content == nil {
		return nil, nil
	}
	var snapshot record.Snapshot
	if err := json.Unmarshal(content, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", roomID, err)
	}
	return &snapshot, nil
}

func (b *Bolt) Save(_ context.Context, roomID string, snapshot *record.Snapshot) error {
	content, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", roomID, err)
	}
	if err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(roomID), content)
	}); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", roomID, err)
	}
	return nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
