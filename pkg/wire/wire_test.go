package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"roomsync/pkg/record"
)

func TestEnvelopeDispatch(t *testing.T) {
	t.Parallel()

	buf, err := Encode(NewUpdate("c1", []record.HistoryEntry{{
		Changes: record.ChangeSet{Added: map[string]record.Record{
			"x1": {ID: "x1", Type: "note", Props: map[string]any{"text": "hi"}},
		}},
		Source: record.SourceUser,
	}}))
	require.NoError(t, err)

	env, err := DecodeEnvelope(buf)
	require.NoError(t, err)
	require.Equal(t, TypeUpdate, env.Type)
	require.Equal(t, "c1", env.ClientID)

	var msg Update
	require.NoError(t, json.Unmarshal(buf, &msg))
	require.Len(t, msg.Updates, 1)
	require.Equal(t, "hi", msg.Updates[0].Changes.Added["x1"].Props["text"])
}

func TestRoomFullReasonCarriesCapacity(t *testing.T) {
	t.Parallel()
	require.Equal(t, "room r1 is full, max users: 2", RoomFullReason("r1", 2))
}

func TestIsRoomFullClose(t *testing.T) {
	t.Parallel()

	require.True(t, IsRoomFullClose(&websocket.CloseError{Code: CloseRoomFull}))
	require.False(t, IsRoomFullClose(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	require.False(t, IsRoomFullClose(errors.New("plain disconnect")))
}
