package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"roomsync/pkg/record"
)

func note(id, text string) record.Record {
	return record.Record{ID: id, Type: "note", Props: map[string]any{"text": text}}
}

func presence(clientID string) record.Record {
	return record.Record{
		ID:    record.PresenceID(clientID),
		Type:  record.TypePresence,
		Props: map[string]any{"name": clientID},
	}
}

func TestPutEmitsOneEventPerBatch(t *testing.T) {
	t.Parallel()

	s := New()
	var events []Event
	s.Listen(Filter{}, func(ev Event) { events = append(events, ev) })

	require.NoError(t, s.Put(note("a", "1"), note("b", "2")))
	require.NoError(t, s.Put(note("a", "3")))

	require.Len(t, events, 2)
	require.Len(t, events[0].Entry.Changes.Added, 2)
	require.Equal(t, record.SourceUser, events[0].Entry.Source)
	require.Len(t, events[1].Entry.Changes.Updated, 1)
	require.Equal(t, "1", events[1].Entry.Changes.Updated["a"].From().Props["text"])
	require.Greater(t, events[1].Seq, events[0].Seq)
}

func TestRemoveUnknownIDIsNoOp(t *testing.T) {
	t.Parallel()

	s := New()
	fired := 0
	s.Listen(Filter{}, func(Event) { fired++ })

	require.NoError(t, s.Remove("ghost"))
	require.Zero(t, fired, "a no-op batch must not emit an event")
}

func TestAtomicValidationFailure(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Put(note("a", "keep")))

	err := s.MergeRemote(func(tx *Tx) error {
		tx.Put(note("b", "fine"))
		tx.Put(record.Record{ID: "c", Type: "note", Props: map[string]any{"bogus": true}})
		return nil
	})
	require.ErrorIs(t, err, record.ErrInvalidRecord)

	// nothing from the failed batch may have landed
	_, ok := s.Get("b")
	require.False(t, ok)
	got, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, "keep", got.Props["text"])
}

func TestMergeRemoteTagsSource(t *testing.T) {
	t.Parallel()

	s := New()
	var userEvents, remoteEvents int
	s.Listen(Filter{Source: record.SourceUser}, func(Event) { userEvents++ })
	s.Listen(Filter{Source: record.SourceRemote}, func(Event) { remoteEvents++ })

	require.NoError(t, s.Put(note("a", "local")))
	require.NoError(t, s.MergeRemote(func(tx *Tx) error {
		tx.Put(note("b", "remote"))
		return nil
	}))

	require.Equal(t, 1, userEvents)
	require.Equal(t, 1, remoteEvents)
}

func TestScopeFilter(t *testing.T) {
	t.Parallel()

	s := New()
	var docEvents, presEvents int
	s.Listen(Filter{Scope: ScopeDocument}, func(Event) { docEvents++ })
	s.Listen(Filter{Scope: ScopePresence}, func(Event) { presEvents++ })

	require.NoError(t, s.Put(note("a", "doc")))
	require.NoError(t, s.Put(presence("c1")))

	require.Equal(t, 1, docEvents)
	require.Equal(t, 1, presEvents)
}

func TestSnapshotExcludesPresence(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Put(note("a", "doc"), presence("c1")))

	snap := s.Snapshot()
	require.Len(t, snap.Store, 1)
	require.Contains(t, snap.Store, "a")
	require.Equal(t, 2, s.Len())
}

func TestLoadSnapshotReplacesEverything(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Put(note("old", "gone")))

	require.NoError(t, s.LoadSnapshot(record.Snapshot{
		Store:  map[string]record.Record{"new": note("new", "fresh")},
		Schema: record.CurrentSchema(),
	}))

	_, ok := s.Get("old")
	require.False(t, ok)
	got, ok := s.Get("new")
	require.True(t, ok)
	require.Equal(t, "fresh", got.Props["text"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	s := New()
	fired := 0
	unsub := s.Listen(Filter{}, func(Event) { fired++ })
	require.NoError(t, s.Put(note("a", "1")))
	unsub()
	require.NoError(t, s.Put(note("b", "2")))
	require.Equal(t, 1, fired)
}

// Two replicas that load the same snapshot and apply the same ordered entries
// converge to identical record maps.
func TestConvergence(t *testing.T) {
	t.Parallel()

	base := record.Snapshot{
		Store:  map[string]record.Record{"a": note("a", "base")},
		Schema: record.CurrentSchema(),
	}
	s1, s2 := New(), New()
	require.NoError(t, s1.LoadSnapshot(base))
	require.NoError(t, s2.LoadSnapshot(base))

	entries := []record.HistoryEntry{
		{Changes: record.ChangeSet{Added: map[string]record.Record{"b": note("b", "v1")}}, Source: record.SourceUser},
		{Changes: record.ChangeSet{
			Updated: map[string]record.UpdatePair{"b": {note("b", "v1"), note("b", "v2")}},
		}, Source: record.SourceUser},
		{Changes: record.ChangeSet{Removed: map[string]record.Record{"a": note("a", "base")}}, Source: record.SourceUser},
	}

	for _, s := range []*Store{s1, s2} {
		for _, entry := range entries {
			entry := entry
			require.NoError(t, s.MergeRemote(func(tx *Tx) error {
				for _, r := range entry.Changes.Added {
					tx.Put(r)
				}
				for _, p := range entry.Changes.Updated {
					tx.Put(p.To())
				}
				for _, r := range entry.Changes.Removed {
					tx.Remove(r.ID)
				}
				return nil
			}))
		}
	}

	require.Equal(t, s1.Snapshot().Store, s2.Snapshot().Store)
	got, ok := s1.Get("b")
	require.True(t, ok)
	require.Equal(t, "v2", got.Props["text"])
}
