package record

import (
	"errors"
	"fmt"
)

// SchemaVersion of snapshots written by this build.
const SchemaVersion = 2

var (
	// ErrSchemaTooNew means a persisted snapshot was written by a newer
	// build; there is no way to migrate it backwards.
	ErrSchemaTooNew = errors.New("snapshot schema is newer than this build")

	// ErrSchemaUnknown means the snapshot carries a version with no known
	// migration path.
	ErrSchemaUnknown = errors.New("snapshot schema version is unknown")

	// ErrInvalidRecord is wrapped by every record validation failure.
	ErrInvalidRecord = errors.New("invalid record")
)

// recordProps declares the prop set of every known record type. A record
// carrying a prop absent from its type's set is malformed and must not be
// merged.
var recordProps = map[string]map[string]bool{
	"note": {
		"text":  true,
		"x":     true,
		"y":     true,
		"color": true,
	},
	"shape": {
		"kind":     true,
		"x":        true,
		"y":        true,
		"w":        true,
		"h":        true,
		"rotation": true,
		"opacity":  true,
	},
	"asset": {
		"src":      true,
		"name":     true,
		"mimeType": true,
		"size":     true,
		"w":        true,
		"h":        true,
	},
	TypePresence: {
		"cursor": true,
		"color":  true,
		"name":   true,
	},
}

// recordVersions is the per-type version vector serialized into snapshots.
var recordVersions = map[string]int{
	"note":       2,
	"shape":      1,
	"asset":      1,
	TypePresence: 1,
}

// Schema describes the record shapes a snapshot was written under.
type Schema struct {
	SchemaVersion  int            `json:"schemaVersion"`
	RecordVersions map[string]int `json:"recordVersions"`
}

// CurrentSchema returns the schema descriptor for this build.
func CurrentSchema() Schema {
	versions := make(map[string]int, len(recordVersions))
	for t, v := range recordVersions {
		versions[t] = v
	}
	return Schema{SchemaVersion: SchemaVersion, RecordVersions: versions}
}

// Validate checks a record against the current schema.
func Validate(r Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	props, ok := recordProps[r.Type]
	if !ok {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidRecord, r.ID, r.Type)
	}
	for k := range r.Props {
		if !props[k] {
			return fmt.Errorf("%w: %s: prop %q is not part of the %s schema", ErrInvalidRecord, r.ID, k, r.Type)
		}
	}
	return nil
}

// MigrateSnapshot brings a persisted snapshot forward to the current schema
// and validates every surviving record. Presence records are stripped
// regardless of version: they are ephemeral and only appear in a blob written
// by a buggy or old build.
func MigrateSnapshot(s Snapshot) (Snapshot, error) {
	v := s.Schema.SchemaVersion
	if v > SchemaVersion {
		return Snapshot{}, fmt.Errorf("%w: got %d, current %d", ErrSchemaTooNew, v, SchemaVersion)
	}
	if v < 1 {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrSchemaUnknown, v)
	}

	store := s.CloneStore()
	for id, r := range store {
		if r.IsPresence() {
			delete(store, id)
		}
	}

	if v < 2 {
		migrateNotesV1(store)
	}

	for _, r := range store {
		if err := Validate(r); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot failed migration: %w", err)
		}
	}
	return Snapshot{Store: store, Schema: CurrentSchema()}, nil
}

// migrateNotesV1 renames the v1 note body prop "content" to "text".
func migrateNotesV1(store map[string]Record) {
	for id, r := range store {
		if r.Type != "note" {
			continue
		}
		if body, ok := r.Props["content"]; ok {
			delete(r.Props, "content")
			r.Props["text"] = body
			store[id] = r
		}
	}
}
