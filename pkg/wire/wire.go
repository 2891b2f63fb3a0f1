// Package wire defines the JSON messages exchanged between sync clients and
// the room coordinator, and the close codes that carry terminal outcomes.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"roomsync/pkg/record"
)

// Message types.
const (
	TypeInit     = "init"
	TypeUpdate   = "update"
	TypeRecovery = "recovery"
	TypePresence = "presence"
)

// CloseRoomFull is the websocket close code sent when a room is at capacity.
// Clients must treat it as terminal for that room and not retry.
const CloseRoomFull = 4403

// Envelope is the first-pass decode of any incoming message: enough to
// dispatch on type and drop self-echoes.
type Envelope struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
}

// Init replaces the receiver's entire replica. Sent once per connection after
// the room is ready, and never by a client.
type Init struct {
	Type     string          `json:"type"`
	Snapshot record.Snapshot `json:"snapshot"`
}

// Update carries a batch of user-sourced history entries.
type Update struct {
	Type     string                `json:"type"`
	ClientID string                `json:"clientId"`
	Updates  []record.HistoryEntry `json:"updates"`
}

// RecoveryRequest asks the coordinator for a full resync.
type RecoveryRequest struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// Recovery is the coordinator's answer to a recovery request or a failed
// update: the authoritative snapshot, applied like an init.
type Recovery struct {
	Type     string          `json:"type"`
	Snapshot record.Snapshot `json:"snapshot"`
}

// Presence carries ephemeral per-client records. Never persisted, never
// merged server-side.
type Presence struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId"`
	Updates  []record.Record `json:"updates"`
}

func NewInit(snapshot record.Snapshot) Init {
	return Init{Type: TypeInit, Snapshot: snapshot}
}

func NewUpdate(clientID string, entries []record.HistoryEntry) Update {
	return Update{Type: TypeUpdate, ClientID: clientID, Updates: entries}
}

func NewRecoveryRequest(clientID string) RecoveryRequest {
	return RecoveryRequest{Type: TypeRecovery, ClientID: clientID}
}

func NewRecovery(snapshot record.Snapshot) Recovery {
	return Recovery{Type: TypeRecovery, Snapshot: snapshot}
}

func NewPresence(clientID string, records []record.Record) Presence {
	return Presence{Type: TypePresence, ClientID: clientID, Updates: records}
}

// Encode marshals a message for transmission.
func Encode(msg any) ([]byte, error) {
	buf, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf, nil
}

// DecodeEnvelope performs the first-pass decode used for dispatch.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	return env, nil
}

// RoomFullReason builds the human-readable close reason. The configured
// capacity is part of the contract: clients surface it to the user.
func RoomFullReason(roomID string, capacity int) string {
	return fmt.Sprintf("room %s is full, max users: %d", roomID, capacity)
}

// IsRoomFullClose reports whether err is a websocket close carrying the
// room-full code.
func IsRoomFullClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == CloseRoomFull
}
