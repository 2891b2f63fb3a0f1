// Package record defines the shared document model: whole-replaceable
// records, the change sets that mutate them, and the snapshots used for
// full synchronization.
package record

import (
	"encoding/json"
	"fmt"
)

// TypePresence marks ephemeral per-client records. They travel through the
// same merge channel as document records but are never persisted.
const TypePresence = "presence"

// Record is a uniquely identified, typed unit of shared state. Records are
// replaced wholesale; the protocol never patches individual props.
type Record struct {
	ID    string
	Type  string
	Props map[string]any
}

// PresenceID returns the record id for a client's presence record.
func PresenceID(clientID string) string {
	return "presence:" + clientID
}

// IsPresence reports whether the record carries ephemeral presence state.
func (r Record) IsPresence() bool {
	return r.Type == TypePresence
}

// Clone returns a deep-enough copy: the props map is copied one level down,
// which is sufficient because records are replaced whole, never mutated in
// place.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, Type: r.Type}
	if r.Props != nil {
		out.Props = make(map[string]any, len(r.Props))
		for k, v := range r.Props {
			out.Props[k] = v
		}
	}
	return out
}

// MarshalJSON flattens props into the top-level object alongside id and type:
// {"id":"x1","type":"note","text":"hi"}.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Props)+2)
	for k, v := range r.Props {
		if k == "id" || k == "type" {
			continue
		}
		flat[k] = v
	}
	flat["id"] = r.ID
	flat["type"] = r.Type
	return json.Marshal(flat)
}

// UnmarshalJSON is the inverse of MarshalJSON: id and type are lifted out and
// every remaining field lands in Props.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	id, _ := flat["id"].(string)
	typ, _ := flat["type"].(string)
	delete(flat, "id")
	delete(flat, "type")
	r.ID = id
	r.Type = typ
	if len(flat) > 0 {
		r.Props = flat
	} else {
		r.Props = nil
	}
	return nil
}

// Source tags where a history entry originated. Only user-sourced entries are
// transmitted; remote-sourced entries are the result of applying a broadcast
// and must not be echoed back.
type Source string

const (
	SourceUser   Source = "user"
	SourceRemote Source = "remote"
)

// UpdatePair holds the before and after values of an updated record, in that
// order.
type UpdatePair [2]Record

// From returns the prior value.
func (p UpdatePair) From() Record { return p[0] }

// To returns the replacement value.
func (p UpdatePair) To() Record { return p[1] }

// ChangeSet is a single unit of mutation. Application order within the unit
// is added, then updated, then removed; there is no ordering across distinct
// change sets beyond their position in the carrying message.
type ChangeSet struct {
	Added   map[string]Record     `json:"added"`
	Updated map[string]UpdatePair `json:"updated"`
	Removed map[string]Record     `json:"removed"`
}

// Empty reports whether the change set mutates nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Records returns every record the change set would write, in application
// order. Removed records are not included.
func (c ChangeSet) Records() []Record {
	out := make([]Record, 0, len(c.Added)+len(c.Updated))
	for _, r := range c.Added {
		out = append(out, r)
	}
	for _, p := range c.Updated {
		out = append(out, p.To())
	}
	return out
}

// HistoryEntry is one change set tagged with its origin.
type HistoryEntry struct {
	Changes ChangeSet `json:"changes"`
	Source  Source    `json:"source"`
}

// Snapshot is the complete record map plus the schema it was written under.
// Loading a snapshot always runs it through schema migration first.
type Snapshot struct {
	Store  map[string]Record `json:"store"`
	Schema Schema            `json:"schema"`
}

// CloneStore copies the snapshot's record map.
func (s Snapshot) CloneStore() map[string]Record {
	out := make(map[string]Record, len(s.Store))
	for id, r := range s.Store {
		out[id] = r.Clone()
	}
	return out
}
