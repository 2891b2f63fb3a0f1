// Package persist stores one durable snapshot blob per room. Only the room
// coordinator touches it: read once at room startup, written many times by
// the throttled persist.
package persist

import (
	"context"
	"fmt"

	"roomsync/pkg/record"
)

// Adapter is durable key/value snapshot storage keyed by room id.
type Adapter interface {
	// Load returns the persisted snapshot for a room, or (nil, nil) when the
	// room has never been saved.
	Load(ctx context.Context, roomID string) (*record.Snapshot, error)
	// Save replaces the persisted snapshot for a room.
	Save(ctx context.Context, roomID string, snapshot *record.Snapshot) error
	Close() error
}

// Open selects an adapter by driver name.
func Open(driver, path string) (Adapter, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(path)
	case "bolt":
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
