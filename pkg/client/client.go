// Package client implements the sync transport: a persistent websocket to a
// room's coordinator with bounded reconnection, plus the batching that feeds
// local edits and presence onto the wire.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roomsync/pkg/batch"
	"roomsync/pkg/record"
	"roomsync/pkg/store"
	"roomsync/pkg/wire"
)

// Status is the transport connection state surfaced to the caller.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	// StatusClosed means the reconnect budget is exhausted or the session was
	// closed; no further attempts will be made.
	StatusClosed Status = "closed"
	// StatusRoomFull means the room rejected us at capacity. Terminal for
	// this room id; the caller should pick another room.
	StatusRoomFull Status = "room-full"
)

// DefaultMaxRetries bounds automatic reconnection attempts per outage.
const DefaultMaxRetries = 10

var errRoomFull = errors.New("room is at capacity")

// Options configures a session.
type Options struct {
	// ServerURL is the base ws:// or wss:// URL of the sync server.
	ServerURL string
	RoomID    string
	// ClientID identifies this client; assigned a fresh uuid when empty.
	ClientID string
	// MaxRetries bounds reconnect attempts per outage (default 10).
	MaxRetries uint64
	// FlushEvery is the outbound coalescing window (default 32ms).
	FlushEvery time.Duration
	// OnStatus, when set, is called on every transport state change.
	OnStatus func(Status)
	Logger   *slog.Logger
}

// Session is one client's connection to a room: its replica, its batchers,
// and the reconnecting transport underneath them.
type Session struct {
	opts     Options
	clientID string
	log      *slog.Logger
	store    *store.Store

	docBatch  *batch.Batcher[record.HistoryEntry]
	presBatch *batch.Batcher[record.Record]
	unlisten  func()

	mu      sync.Mutex
	ws      *websocket.Conn
	status  Status
	ready   bool
	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Open starts a session. The transport begins in StatusConnecting and
// manages itself from there; the returned session is usable immediately,
// though the replica is not authoritative until the first init lands.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.ServerURL == "" || opts.RoomID == "" {
		return nil, errors.New("server url and room id are required")
	}
	if _, err := url.Parse(opts.ServerURL); err != nil {
		return nil, fmt.Errorf("bad server url: %w", err)
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = batch.FlushInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		opts:     opts,
		clientID: opts.ClientID,
		log:      log.With("room", opts.RoomID, "client", opts.ClientID),
		store:    store.New(),
		status:   StatusConnecting,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.docBatch = batch.NewBatcher[record.HistoryEntry](opts.FlushEvery, s.flushUpdates)
	s.presBatch = batch.NewBatcher[record.Record](opts.FlushEvery, s.flushPresence)

	// Only user-sourced document changes go on the wire; remote merges stay
	// local by construction.
	s.unlisten = s.store.Listen(
		store.Filter{Source: record.SourceUser, Scope: store.ScopeDocument},
		func(ev store.Event) { s.docBatch.Enqueue(ev.Entry) },
	)

	go s.run(ctx)
	return s, nil
}

// Store returns the local replica.
func (s *Session) Store() *store.Store {
	return s.store
}

// ClientID returns the session's stable client identifier.
func (s *Session) ClientID() string {
	return s.clientID
}

// Status returns the current transport state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Presence is the ephemeral per-client state shared with the room.
type Presence struct {
	CursorX float64
	CursorY float64
	Color   string
	Name    string
}

// SetPresence queues a presence broadcast derived from the current user
// state. Presence flows through its own batcher so cursor movement never
// competes with document changes for a flush slot.
func (s *Session) SetPresence(p Presence) {
	s.presBatch.Enqueue(record.Record{
		ID:   record.PresenceID(s.clientID),
		Type: record.TypePresence,
		Props: map[string]any{
			"cursor": map[string]any{"x": p.CursorX, "y": p.CursorY},
			"color":  p.Color,
			"name":   p.Name,
		},
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.unlisten()
	defer s.docBatch.Stop()
	defer s.presBatch.Stop()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.opts.MaxRetries), ctx)

	for {
		connected, err := s.connectAndServe(ctx)
		if connected {
			// A completed connection means the next outage gets a fresh
			// reconnect budget.
			policy.Reset()
		}
		if errors.Is(err, errRoomFull) {
			s.log.Info("room full, giving up on this room")
			s.setStatus(StatusRoomFull)
			return
		}
		if ctx.Err() != nil {
			s.setStatus(StatusClosed)
			return
		}
		s.setStatus(StatusOffline)

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			s.log.Warn("reconnect budget exhausted")
			s.setStatus(StatusClosed)
			return
		}
		s.log.Info("reconnecting", "err", err, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			s.setStatus(StatusClosed)
			return
		}
	}
}

func (s *Session) connectAndServe(ctx context.Context) (bool, error) {
	u, err := url.Parse(s.opts.ServerURL)
	if err != nil {
		return false, err
	}
	u = u.JoinPath("rooms", s.opts.RoomID, "sync")
	q := u.Query()
	q.Set("clientId", s.clientID)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}

	s.mu.Lock()
	s.ws = ws
	s.ready = false
	s.mu.Unlock()
	s.setStatus(StatusOnline)
	s.log.Info("connected")

	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	defer func() {
		s.mu.Lock()
		s.ws = nil
		s.ready = false
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if wire.IsRoomFullClose(err) {
				return true, errRoomFull
			}
			return true, err
		}
		s.handleMessage(data)
	}
}

func (s *Session) handleMessage(data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		s.log.Warn("dropping undecodable message", "err", err)
		return
	}
	// Never apply our own broadcasts.
	if env.ClientID == s.clientID {
		return
	}

	switch env.Type {
	case wire.TypeInit:
		var msg wire.Init
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("bad init message", "err", err)
			return
		}
		if err := s.store.LoadSnapshot(msg.Snapshot); err != nil {
			s.log.Error("failed to load init snapshot", "err", err)
			return
		}
		s.setReady(true)

	case wire.TypeRecovery:
		var msg wire.Recovery
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("bad recovery message", "err", err)
			return
		}
		if err := s.store.LoadSnapshot(msg.Snapshot); err != nil {
			s.log.Error("failed to load recovery snapshot", "err", err)
			return
		}
		s.setReady(true)

	case wire.TypeUpdate:
		if !s.isReady() {
			return
		}
		var msg wire.Update
		if err := json.Unmarshal(data, &msg); err != nil {
			s.requestRecovery()
			return
		}
		for _, entry := range msg.Updates {
			if err := s.applyRemote(entry); err != nil {
				s.log.Warn("remote update failed to merge, requesting recovery", "err", err)
				s.requestRecovery()
				return
			}
		}

	case wire.TypePresence:
		if !s.isReady() {
			return
		}
		var msg wire.Presence
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("bad presence message", "err", err)
			return
		}
		for _, rec := range msg.Updates {
			rec := rec
			if err := s.store.MergeRemote(func(tx *store.Tx) error {
				tx.Put(rec)
				return nil
			}); err != nil {
				s.log.Warn("skipping bad presence record", "id", rec.ID, "err", err)
			}
		}
	}
}

// applyRemote merges one history entry into the replica atomically, tagged
// remote so it is never re-transmitted.
func (s *Session) applyRemote(entry record.HistoryEntry) error {
	return s.store.MergeRemote(func(tx *store.Tx) error {
		changes := entry.Changes
		for _, rec := range changes.Added {
			tx.Put(rec)
		}
		for _, pair := range changes.Updated {
			tx.Put(pair.To())
		}
		for _, rec := range changes.Removed {
			tx.Remove(rec.ID)
		}
		return nil
	})
}

// requestRecovery drops everything pending and asks the coordinator for a
// full resync. Buffered changes were built against a diverged replica;
// transmitting them would spread the divergence.
func (s *Session) requestRecovery() {
	s.docBatch.Clear()
	s.presBatch.Clear()
	s.sendJSON(wire.NewRecoveryRequest(s.clientID))
}

func (s *Session) flushUpdates(entries []record.HistoryEntry) {
	s.sendJSON(wire.NewUpdate(s.clientID, entries))
}

func (s *Session) flushPresence(records []record.Record) {
	// Only the latest presence matters.
	s.sendJSON(wire.NewPresence(s.clientID, records[len(records)-1:]))
}

func (s *Session) sendJSON(msg any) {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		// Offline. The server replays a full init on reconnect, so queued
		// messages from a dead connection are not worth preserving.
		return
	}
	buf, err := wire.Encode(msg)
	if err != nil {
		s.log.Error("failed to encode outbound message", "err", err)
		return
	}
	s.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, buf)
	s.writeMu.Unlock()
	if err != nil {
		s.log.Warn("failed to write message", "err", err)
	}
}

func (s *Session) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Session) setReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

func (s *Session) setStatus(v Status) {
	s.mu.Lock()
	if s.status == v {
		s.mu.Unlock()
		return
	}
	s.status = v
	s.mu.Unlock()
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(v)
	}
}
