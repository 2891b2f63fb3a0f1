package room

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"roomsync/pkg/wire"
)

// Handler upgrades sync connections and pumps inbound frames into their
// room's mailbox.
type Handler struct {
	registry *Registry
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(registry *Registry, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Routes registers the sync endpoint on the router.
func (h *Handler) Routes(router *mux.Router) {
	router.Methods(http.MethodGet).Path("/rooms/{room}/sync").HandlerFunc(h.handleSync)
}

func (h *Handler) handleSync(w http.ResponseWriter, req *http.Request) {
	roomID := mux.Vars(req)["room"]
	clientID := req.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.Error("failed to upgrade", "err", err)
		return
	}
	c := newConn(ws, clientID)

	// Capacity is checked before any room work: a rejected connection gets
	// the room-full close and nothing else.
	tracker := h.registry.Tracker()
	if !tracker.TryAdmit(roomID, clientID) {
		h.log.Info("rejecting connection, room full", "room", roomID, "user", clientID)
		c.closeWith(wire.CloseRoomFull, wire.RoomFullReason(roomID, tracker.Capacity()))
		return
	}

	r := h.registry.Room(roomID)
	r.Join(c)
	defer r.Leave(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		r.Deliver(c, data)
	}
}
