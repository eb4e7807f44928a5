package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/shiva/fastcare/internal/tracking"
)

// Tracker opens tracking sessions. *service.TrackingService implements it.
type Tracker interface {
	Open(ctx context.Context, bookingID string, notifier tracking.Notifier) (*tracking.Session, error)
	Snapshot(ctx context.Context, bookingID string) (tracking.ViewModel, error)
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

// Message types on the tracking websocket.
const (
	MsgViewModel    = "view_model"
	MsgNotification = "notification"
	MsgPing         = "ping"
	MsgPong         = "pong"
	MsgRefresh      = "refresh"
	MsgError        = "error"
)

// WSMessage is the envelope for every frame on the tracking websocket.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TrackingHandler streams a booking's view model to patients.
type TrackingHandler struct {
	tracker Tracker
}

// NewTrackingHandler creates a new tracking handler.
func NewTrackingHandler(tracker Tracker) *TrackingHandler {
	return &TrackingHandler{tracker: tracker}
}

// Register mounts the tracking routes on an /api/v1 subrouter.
func (h *TrackingHandler) Register(api *mux.Router) {
	api.HandleFunc("/track/{id}", h.Stream).Methods(http.MethodGet)
	api.HandleFunc("/track/{id}/snapshot", h.Snapshot).Methods(http.MethodGet)
}

// Snapshot handles GET /api/v1/track/{id}/snapshot
//
// Returns the view model once, for clients that cannot keep a websocket.
func (h *TrackingHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	vm, err := h.tracker.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, "tracking snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

// Stream handles GET /api/v1/track/{id}
//
// Upgrades to a websocket and opens a tracking session that lives as long
// as the connection. The server pushes:
//
//	{"type":"view_model","payload":{...}}     after every change and tick
//	{"type":"notification","payload":{...}}   when the booking changes stage
//
// and the client may send {"type":"ping"} (answered with "pong") or
// {"type":"refresh"} to force a refetch.
func (h *TrackingHandler) Stream(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade for booking %s: %v", bookingID, err)
		return
	}
	defer conn.Close()

	// Notifications and pongs share one queue. The notifier is called on the
	// session goroutine and must not block, so a full queue drops.
	outbox := make(chan WSMessage, 16)
	notifier := tracking.NotifierFunc(func(n tracking.Notify) {
		select {
		case outbox <- WSMessage{Type: MsgNotification, Payload: n}:
		default:
			log.Printf("[ws] booking %s: notification dropped, client too slow", bookingID)
		}
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := h.tracker.Open(ctx, bookingID, notifier)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(WSMessage{Type: MsgError, Payload: map[string]string{"error": err.Error()}})
		return
	}
	defer sess.Close()
	log.Printf("[ws] client %s tracking booking %s (session %s)", r.RemoteAddr, bookingID, sess.ID())

	readDone := make(chan struct{})
	go h.readPump(conn, sess, outbox, readDone)
	h.writePump(conn, sess, outbox, readDone)
}

// readPump handles client frames until the connection fails.
func (h *TrackingHandler) readPump(conn *websocket.Conn, sess *tracking.Session, outbox chan<- WSMessage, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] session %s read: %v", sess.ID(), err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case MsgPing:
			select {
			case outbox <- WSMessage{Type: MsgPong}:
			default:
			}
		case MsgRefresh:
			sess.Refresh()
		}
	}
}

// writePump owns all writes to the connection.
func (h *TrackingHandler) writePump(conn *websocket.Conn, sess *tracking.Session, outbox <-chan WSMessage, readDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg WSMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[ws] session %s write: %v", sess.ID(), err)
			return false
		}
		return true
	}

	for {
		select {
		case vm := <-sess.Updates():
			if !write(WSMessage{Type: MsgViewModel, Payload: vm}) {
				return
			}
		case msg := <-outbox:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
			return
		case <-readDone:
			return
		}
	}
}
