// Package room hosts the server side of the sync protocol: one coordinator
// actor per room owning the authoritative record map, a process-wide
// membership tracker bounding occupancy, and the websocket handler that feeds
// them.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"roomsync/pkg/batch"
	"roomsync/pkg/persist"
	"roomsync/pkg/record"
	"roomsync/pkg/wire"
)

const (
	loadTimeout = 30 * time.Second
	saveTimeout = 10 * time.Second
)

type message interface{ roomMessage() }

type joinMsg struct{ c *conn }
type frameMsg struct {
	c    *conn
	data []byte
}
type leaveMsg struct{ c *conn }
type persistMsg struct{}
type shutdownMsg struct{ done chan struct{} }

func (joinMsg) roomMessage()     {}
func (frameMsg) roomMessage()    {}
func (leaveMsg) roomMessage()    {}
func (persistMsg) roomMessage()  {}
func (shutdownMsg) roomMessage() {}

// Room is the single authority for one room id. All state below the mailbox
// is owned by the run goroutine; every mutation, broadcast, and persistence
// decision is serialized through it, so clients observe one linear history.
type Room struct {
	id           string
	adapter      persist.Adapter
	tracker      *Tracker
	persistEvery time.Duration
	log          *slog.Logger

	mailbox chan message
	stopped chan struct{}

	// owned by run
	records  map[string]record.Record
	conns    map[*conn]struct{}
	persist  *batch.Throttle
	startErr error
}

func newRoom(id string, adapter persist.Adapter, tracker *Tracker, persistEvery time.Duration, log *slog.Logger) *Room {
	r := &Room{
		id:           id,
		adapter:      adapter,
		tracker:      tracker,
		persistEvery: persistEvery,
		log:          log.With("room", id),
		mailbox:      make(chan message, 64),
		stopped:      make(chan struct{}),
		conns:        make(map[*conn]struct{}),
	}
	go r.run()
	return r
}

// Join queues a connection for admission. The init snapshot is sent once the
// room is ready; connections queued before readiness simply wait in the
// mailbox.
func (r *Room) Join(c *conn) {
	r.post(joinMsg{c: c})
}

// Deliver queues one inbound wire message from c.
func (r *Room) Deliver(c *conn, data []byte) {
	r.post(frameMsg{c: c, data: data})
}

// Leave queues departure of c, releasing its membership slot.
func (r *Room) Leave(c *conn) {
	r.post(leaveMsg{c: c})
}

func (r *Room) post(m message) {
	select {
	case r.mailbox <- m:
	case <-r.stopped:
	}
}

func (r *Room) run() {
	// Nothing is admitted until the persisted snapshot is loaded and
	// migrated; a failure here poisons the room for its whole lifetime.
	r.startErr = r.load()
	if r.startErr != nil {
		r.log.Error("room failed to start", "err", r.startErr)
	}
	r.persist = batch.NewThrottle(r.persistEvery, func() { r.post(persistMsg{}) })

	for m := range r.mailbox {
		switch m := m.(type) {
		case joinMsg:
			r.handleJoin(m.c)
		case frameMsg:
			r.handleFrame(m.c, m.data)
		case leaveMsg:
			r.handleLeave(m.c)
		case persistMsg:
			r.persistAsync()
		case shutdownMsg:
			r.shutdown()
			close(m.done)
			return
		}
	}
}

func (r *Room) load() error {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	snapshot, err := r.adapter.Load(ctx, r.id)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snapshot == nil {
		r.records = make(map[string]record.Record)
		return nil
	}
	migrated, err := record.MigrateSnapshot(*snapshot)
	if err != nil {
		return fmt.Errorf("failed to migrate snapshot: %w", err)
	}
	r.records = migrated.Store
	r.log.Info("loaded snapshot", "records", len(r.records))
	return nil
}

func (r *Room) handleJoin(c *conn) {
	if r.startErr != nil {
		c.closeWith(websocket.CloseInternalServerErr, "room failed to start")
		return
	}
	r.conns[c] = struct{}{}
	go c.writePump()
	buf, err := wire.Encode(wire.NewInit(r.snapshot()))
	if err != nil {
		r.log.Error("failed to encode init", "err", err)
		return
	}
	r.send(c, buf)
	r.log.Info("client joined", "user", c.userID, "connections", len(r.conns))
}

func (r *Room) handleLeave(c *conn) {
	if _, ok := r.conns[c]; ok {
		delete(r.conns, c)
		c.close()
	}
	r.tracker.Release(r.id, c.userID)
	r.log.Info("client left", "user", c.userID, "connections", len(r.conns))
}

func (r *Room) handleFrame(c *conn, data []byte) {
	if r.startErr != nil {
		return
	}
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		r.log.Warn("dropping undecodable message", "err", err)
		return
	}
	switch env.Type {
	case wire.TypeUpdate:
		var msg wire.Update
		if err := json.Unmarshal(data, &msg); err != nil {
			r.log.Warn("malformed update, sending recovery", "user", c.userID, "err", err)
			r.sendRecovery(c)
			return
		}
		if err := r.applyUpdate(msg); err != nil {
			r.log.Warn("update rejected, sending recovery", "user", c.userID, "err", err)
			r.sendRecovery(c)
			return
		}
		r.broadcast(data, c)
		r.persist.Trigger()
	case wire.TypeRecovery:
		r.sendRecovery(c)
	case wire.TypePresence:
		r.broadcast(data, c)
	default:
		r.log.Warn("unknown message type", "type", env.Type)
	}
}

// applyUpdate merges a batch of history entries into the authoritative map.
// Every record is validated up front so a bad entry rejects the whole message
// without touching room state.
func (r *Room) applyUpdate(msg wire.Update) error {
	for _, entry := range msg.Updates {
		for _, rec := range entry.Changes.Records() {
			if err := record.Validate(rec); err != nil {
				return err
			}
		}
	}
	for _, entry := range msg.Updates {
		changes := entry.Changes
		for _, rec := range changes.Added {
			r.records[rec.ID] = rec
		}
		for _, pair := range changes.Updated {
			to := pair.To()
			r.records[to.ID] = to
		}
		for _, rec := range changes.Removed {
			delete(r.records, rec.ID)
		}
	}
	return nil
}

// broadcast relays the raw message verbatim to every connection but the
// sender.
func (r *Room) broadcast(data []byte, sender *conn) {
	for c := range r.conns {
		if c == sender {
			continue
		}
		r.send(c, data)
	}
}

func (r *Room) sendRecovery(c *conn) {
	buf, err := wire.Encode(wire.NewRecovery(r.snapshot()))
	if err != nil {
		r.log.Error("failed to encode recovery", "err", err)
		return
	}
	r.send(c, buf)
}

// send queues data for c, dropping the connection if its buffer is full. The
// dropped client reconnects and resyncs from init.
func (r *Room) send(c *conn, data []byte) {
	select {
	case c.send <- data:
	default:
		r.log.Warn("dropping slow client", "user", c.userID)
		delete(r.conns, c)
		c.close()
	}
}

// snapshot copies the current authoritative state. Presence records never
// appear in snapshots.
func (r *Room) snapshot() record.Snapshot {
	out := make(map[string]record.Record, len(r.records))
	for id, rec := range r.records {
		if rec.IsPresence() {
			continue
		}
		out[id] = rec
	}
	return record.Snapshot{Store: out, Schema: record.CurrentSchema()}
}

// persistAsync captures a snapshot on the actor goroutine and writes it in
// the background, so a slow disk never blocks message handling.
func (r *Room) persistAsync() {
	snapshot := r.snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := r.adapter.Save(ctx, r.id, &snapshot); err != nil {
			r.log.Error("failed to persist snapshot", "err", err)
		}
	}()
}

func (r *Room) shutdown() {
	r.persist.Stop()
	if r.startErr == nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		snapshot := r.snapshot()
		if err := r.adapter.Save(ctx, r.id, &snapshot); err != nil {
			r.log.Error("failed to persist final snapshot", "err", err)
		}
	}
	for c := range r.conns {
		delete(r.conns, c)
		r.tracker.Release(r.id, c.userID)
		c.close()
	}
	close(r.stopped)
}
