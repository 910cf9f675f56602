// Package relay implements the session relay: a WebSocket endpoint that
// groups connections into rooms keyed by session id and forwards signaling
// messages between them. It never inspects offers or answers beyond the
// addressing fields.
package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/1ureka/duet/internal/signaling"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	maxFrameSize = 1 << 20
)

// client is one participant's socket inside a room.
type client struct {
	session string
	peer    string
	conn    *websocket.Conn
	send    chan []byte

	mu     sync.Mutex
	closed bool
}

// enqueue hands data to the write pump. It reports false when the client is
// gone or its buffer is full.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub manages rooms and forwards messages between their members.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu    sync.Mutex
	rooms map[string]map[string]*client
}

// NewHub creates a hub that logs through log. A nil logger falls back to
// the logrus standard logger.
func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:   log.WithField("component", "relay"),
		rooms: make(map[string]map[string]*client),
	}
}

// ServeHTTP upgrades the request and serves the socket until it closes. The
// session and peer query parameters are required.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	peer := r.URL.Query().Get("peer")
	if session == "" || peer == "" {
		http.Error(w, "session and peer are required", http.StatusBadRequest)
		h.log.WithField("remote", r.RemoteAddr).Warn("Connection rejected: missing session or peer")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{session: session, peer: peer, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// Peers returns the participants currently connected to session.
func (h *Hub) Peers(session string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers := make([]string, 0, len(h.rooms[session]))
	for id := range h.rooms[session] {
		peers = append(peers, id)
	}
	return peers
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	room := h.rooms[c.session]
	if room == nil {
		room = make(map[string]*client)
		h.rooms[c.session] = room
	}
	old := room[c.peer]
	room[c.peer] = c
	size := len(room)
	h.mu.Unlock()

	fields := logrus.Fields{"session": c.session, "peer": c.peer, "members": size}
	if old != nil {
		old.close()
		h.log.WithFields(fields).Info("Peer reconnected, replacing previous socket")
		return
	}
	h.log.WithFields(fields).Info("Peer joined")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	room := h.rooms[c.session]
	if room[c.peer] == c {
		delete(room, c.peer)
		if len(room) == 0 {
			delete(h.rooms, c.session)
		}
	}
	h.mu.Unlock()

	c.close()
	h.log.WithFields(logrus.Fields{"session": c.session, "peer": c.peer}).Info("Peer left")
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).WithField("peer", c.peer).Warn("Read failed")
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.WithError(err).WithField("peer", c.peer).Warn("Dropping malformed message")
			continue
		}
		h.forward(c, msg)
	}
}

// forward stamps the sender and session onto msg and delivers it: to a
// single member when "to" names one, otherwise to every other member.
func (h *Hub) forward(from *client, msg signaling.Message) {
	msg.From = from.peer
	msg.SessionID = from.session

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode message")
		return
	}

	h.mu.Lock()
	var targets []*client
	room := h.rooms[from.session]
	if msg.To != "" && msg.To != signaling.Broadcast {
		if c, ok := room[msg.To]; ok {
			targets = append(targets, c)
		}
	} else {
		for id, c := range room {
			if id != from.peer {
				targets = append(targets, c)
			}
		}
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		h.log.WithFields(logrus.Fields{
			"session": from.session, "from": from.peer, "to": msg.To, "type": msg.Type,
		}).Debug("No recipient for message")
		return
	}

	for _, c := range targets {
		h.deliver(c, data)
	}
}

func (h *Hub) deliver(c *client, data []byte) {
	if !c.enqueue(data) {
		h.log.WithField("peer", c.peer).Warn("Recipient gone or too slow, disconnecting")
		c.close()
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.WithError(err).WithField("peer", c.peer).Warn("Write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
