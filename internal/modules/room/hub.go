package room

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Signal is one WebRTC negotiation message relayed between participants.
type Signal struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	SignalOffer      = "offer"
	SignalAnswer     = "answer"
	SignalCandidate  = "candidate"
	SignalPeerJoined = "peer-joined"
	SignalPeerLeft   = "peer-left"
	SignalRevoked    = "revoked"
)

type peer struct {
	roomID string
	userID int64
	role   string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub relays signaling messages inside each room. A participant holds at
// most one socket per room; reconnecting replaces the old one.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[int64]*peer
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[int64]*peer),
		log:   log.With().Str("component", "signaling").Logger(),
	}
}

// Serve registers conn and blocks until it disconnects.
func (h *Hub) Serve(conn *websocket.Conn, roomID string, userID int64, role string) {
	p := &peer{roomID: roomID, userID: userID, role: role, conn: conn, send: make(chan []byte, 64)}
	h.register(p)
	h.broadcast(p, Signal{Type: SignalPeerJoined, From: role})

	go h.writePump(p)
	h.readPump(p)
}

func (h *Hub) Participants(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseRoom tells every connected participant the room is gone and drops them.
func (h *Hub) CloseRoom(roomID string) {
	msg, _ := json.Marshal(Signal{Type: SignalRevoked})
	h.mu.Lock()
	peers := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for _, p := range peers {
		select {
		case p.send <- msg:
		default:
		}
		close(p.send)
	}
	if len(peers) > 0 {
		h.log.Info().Str("room_id", roomID).Int("peers", len(peers)).Msg("room closed")
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.rooms[p.roomID]
	if !ok {
		peers = make(map[int64]*peer)
		h.rooms[p.roomID] = peers
	}
	if old, exists := peers[p.userID]; exists {
		close(old.send)
	}
	peers[p.userID] = p
}

func (h *Hub) unregister(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.rooms[p.roomID]
	if existing, ok := peers[p.userID]; ok && existing == p {
		delete(peers, p.userID)
		close(p.send)
		if len(peers) == 0 {
			delete(h.rooms, p.roomID)
		}
		return true
	}
	return false
}

func (h *Hub) broadcast(from *peer, s Signal) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, p := range h.rooms[from.roomID] {
		if id == from.userID {
			continue
		}
		select {
		case p.send <- data:
		default:
		}
	}
}

func (h *Hub) readPump(p *peer) {
	defer func() {
		if h.unregister(p) {
			h.broadcast(p, Signal{Type: SignalPeerLeft, From: p.role})
		}
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMsgSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("room_id", p.roomID).Int64("user_id", p.userID).Msg("signaling read failed")
			}
			return
		}
		var s Signal
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		switch s.Type {
		case SignalOffer, SignalAnswer, SignalCandidate:
			s.From = p.role
			h.broadcast(p, s)
		}
	}
}

func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
