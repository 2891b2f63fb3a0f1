// Package store holds a client's local replica of a room's records. All
// mutation funnels through transactions so that every batch produces exactly
// one history entry, applied atomically or not at all.
package store

import (
	"fmt"
	"sync"

	"roomsync/pkg/record"
)

// Scope selects which kind of records a listener cares about.
type Scope string

const (
	ScopeAny      Scope = ""
	ScopeDocument Scope = "document"
	ScopePresence Scope = "presence"
)

// Filter selects the events a listener receives. Zero values match
// everything.
type Filter struct {
	Source record.Source
	Scope  Scope
}

// Event is one applied batch: the resulting history entry plus a
// monotonically increasing per-store sequence marker.
type Event struct {
	Entry record.HistoryEntry
	Seq   uint64
}

// Scope classifies the event: presence if every touched record is a presence
// record, document otherwise.
func (e Event) Scope() Scope {
	c := e.Entry.Changes
	for _, r := range c.Added {
		if !r.IsPresence() {
			return ScopeDocument
		}
	}
	for _, p := range c.Updated {
		if !p.To().IsPresence() {
			return ScopeDocument
		}
	}
	for _, r := range c.Removed {
		if !r.IsPresence() {
			return ScopeDocument
		}
	}
	return ScopePresence
}

// Listener receives applied events. Called synchronously, one call per batch.
type Listener func(Event)

type registration struct {
	filter Filter
	fn     Listener
}

// Store is the client-side replica.
type Store struct {
	mu        sync.Mutex
	records   map[string]record.Record
	seq       uint64
	nextSubID int
	subs      map[int]registration
}

// New returns an empty replica.
func New() *Store {
	return &Store{
		records: make(map[string]record.Record),
		subs:    make(map[int]registration),
	}
}

// Tx stages puts and removes for a single atomic batch.
type Tx struct {
	puts    []record.Record
	removes []string
}

// Put stages records for insertion or whole replacement.
func (tx *Tx) Put(records ...record.Record) {
	tx.puts = append(tx.puts, records...)
}

// Remove stages record ids for removal. Unknown ids are ignored at commit.
func (tx *Tx) Remove(ids ...string) {
	tx.removes = append(tx.removes, ids...)
}

// Put inserts or replaces records as a single user-sourced batch.
func (s *Store) Put(records ...record.Record) error {
	tx := &Tx{puts: records}
	return s.apply(record.SourceUser, tx)
}

// Remove deletes records as a single user-sourced batch. Removing an id that
// is not present is a no-op.
func (s *Store) Remove(ids ...string) error {
	tx := &Tx{removes: ids}
	return s.apply(record.SourceUser, tx)
}

// MergeRemote applies fn's staged mutations as one remote-sourced batch, so
// listeners can tell it apart from local edits and avoid re-transmitting it.
// If fn returns an error or any staged record fails validation, nothing is
// applied.
func (s *Store) MergeRemote(fn func(tx *Tx) error) error {
	tx := &Tx{}
	if err := fn(tx); err != nil {
		return err
	}
	return s.apply(record.SourceRemote, tx)
}

func (s *Store) apply(source record.Source, tx *Tx) error {
	for _, r := range tx.puts {
		if err := record.Validate(r); err != nil {
			return fmt.Errorf("rejected batch: %w", err)
		}
	}

	s.mu.Lock()
	changes := record.ChangeSet{
		Added:   map[string]record.Record{},
		Updated: map[string]record.UpdatePair{},
		Removed: map[string]record.Record{},
	}
	for _, r := range tx.puts {
		if prev, ok := s.records[r.ID]; ok {
			changes.Updated[r.ID] = record.UpdatePair{prev, r}
		} else {
			changes.Added[r.ID] = r
		}
		s.records[r.ID] = r
	}
	for _, id := range tx.removes {
		if prev, ok := s.records[id]; ok {
			changes.Removed[id] = prev
			delete(s.records, id)
		}
	}
	if changes.Empty() {
		s.mu.Unlock()
		return nil
	}
	s.seq++
	event := Event{
		Entry: record.HistoryEntry{Changes: changes, Source: source},
		Seq:   s.seq,
	}
	subs := make([]registration, 0, len(s.subs))
	for _, reg := range s.subs {
		subs = append(subs, reg)
	}
	s.mu.Unlock()

	for _, reg := range subs {
		if reg.filter.Source != "" && reg.filter.Source != source {
			continue
		}
		if reg.filter.Scope != ScopeAny && reg.filter.Scope != event.Scope() {
			continue
		}
		reg.fn(event)
	}
	return nil
}

// LoadSnapshot replaces the entire replica with the given snapshot, running
// it through schema migration first. Used for init and recovery; it is a full
// load, not a merge, and emits no event.
func (s *Store) LoadSnapshot(snapshot record.Snapshot) error {
	migrated, err := record.MigrateSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	s.mu.Lock()
	s.records = migrated.Store
	s.mu.Unlock()
	return nil
}

// Snapshot returns the document records plus the current schema. Presence
// records are excluded: they never belong in a snapshot.
func (s *Store) Snapshot() record.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]record.Record, len(s.records))
	for id, r := range s.records {
		if r.IsPresence() {
			continue
		}
		out[id] = r.Clone()
	}
	return record.Snapshot{Store: out, Schema: record.CurrentSchema()}
}

// Get returns a record by id.
func (s *Store) Get(id string) (record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// Len returns the number of records, presence included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Listen registers a listener and returns its unsubscribe function.
func (s *Store) Listen(filter Filter, fn Listener) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = registration{filter: filter, fn: fn}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
