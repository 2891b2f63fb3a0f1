package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"roomsync/pkg/persist"
)

// MinPersistInterval is the floor on the per-room snapshot write rate.
const MinPersistInterval = time.Second

// Registry owns the room map. Rooms are created lazily on first connection
// and stay resident for the process lifetime; an idle room costs only its
// record map, and its snapshot survives restarts regardless.
type Registry struct {
	mu           sync.Mutex
	rooms        map[string]*Room
	adapter      persist.Adapter
	tracker      *Tracker
	persistEvery time.Duration
	log          *slog.Logger
}

// NewRegistry wires the coordinator layer together. persistEvery is clamped
// to MinPersistInterval.
func NewRegistry(adapter persist.Adapter, tracker *Tracker, persistEvery time.Duration, log *slog.Logger) *Registry {
	if persistEvery < MinPersistInterval {
		persistEvery = MinPersistInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		rooms:        make(map[string]*Room),
		adapter:      adapter,
		tracker:      tracker,
		persistEvery: persistEvery,
		log:          log,
	}
}

// Tracker returns the shared membership tracker.
func (g *Registry) Tracker() *Tracker {
	return g.tracker
}

// Room returns the coordinator for id, starting it on first use.
func (g *Registry) Room(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	if !ok {
		r = newRoom(id, g.adapter, g.tracker, g.persistEvery, g.log)
		g.rooms[id] = r
	}
	return r
}

// Shutdown stops every room, writing a final snapshot for each. Rooms that
// failed to start are skipped.
func (g *Registry) Shutdown(ctx context.Context) {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	for _, r := range rooms {
		done := make(chan struct{})
		select {
		case r.mailbox <- shutdownMsg{done: done}:
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		case <-r.stopped:
		case <-ctx.Done():
			return
		}
	}
}
