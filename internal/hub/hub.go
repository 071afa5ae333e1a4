// internal/hub/hub.go
//
// Websocket push channel.
// Responsibilities:
//   - Upgrade GET /ws, send the current snapshot, then read client messages.
//   - Handle the "join" message: verify participant id + pin, bind the
//     connection to that participant and greet it with its program text and
//     a welcome line. A bad pin gets an empty snapshot and a closed socket.
//   - Implement game.Sink: broadcast events reach every connection,
//     participant events reach only that participant's connections.
//
// Notes:
//   - Sink methods run under the engine lock, so they only enqueue into a
//     per-connection buffer. One writer goroutine per connection owns all
//     socket writes. A connection whose buffer is full is dropped.
//   - A participant may have any number of live connections.

package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridbattle/internal/game"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// Engine is what the hub needs from the game.
type Engine interface {
	State() game.State
	Authenticate(id, pin string) (*game.Participant, error)
}

// JoinPayload is the body of a client "join" message.
type JoinPayload struct {
	ParticipantID string `json:"participant_id"`
	Pin           string `json:"pin"`
}

type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	conn        *websocket.Conn
	send        chan []byte
	participant string
}

// Hub tracks live connections.
type Hub struct {
	eng      Engine
	upgrader websocket.Upgrader

	mu            sync.Mutex
	clients       map[*client]struct{}
	byParticipant map[string]map[*client]struct{}
}

// New returns a hub. allowOrigin decides cross-origin upgrades; nil allows
// every origin.
func New(eng Engine, allowOrigin func(*http.Request) bool) *Hub {
	if allowOrigin == nil {
		allowOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		eng:           eng,
		upgrader:      websocket.Upgrader{CheckOrigin: allowOrigin},
		clients:       make(map[*client]struct{}),
		byParticipant: make(map[string]map[*client]struct{}),
	}
}

// AllowOrigins returns an origin check that accepts the listed origins.
// Requests without an Origin header (non-browser clients) pass, and "*"
// accepts everything.
func AllowOrigins(origins ...string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	_, wildcard := allowed["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// ConnCount is the number of open connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast implements game.Sink.
func (h *Hub) Broadcast(ev game.Event) {
	msg, ok := encode(ev)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.enqueueLocked(c, msg)
	}
}

// Send implements game.Sink.
func (h *Hub) Send(participantID string, ev game.Event) {
	msg, ok := encode(ev)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.byParticipant[participantID] {
		h.enqueueLocked(c, msg)
	}
}

func encode(ev game.Event) ([]byte, bool) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("encode event")
		return nil, false
	}
	return b, true
}

func (h *Hub) enqueueLocked(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		log.Warn().Str("participant", c.participant).Msg("slow websocket client dropped")
		h.removeLocked(c)
	}
}

// removeLocked unregisters c and closes its queue. The writer flushes what
// is left and closes the socket.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if set := h.byParticipant[c.participant]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byParticipant, c.participant)
		}
	}
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// push queues ev for a single connection.
func (h *Hub) push(c *client, ev game.Event) {
	msg, ok := encode(ev)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c]; live {
		h.enqueueLocked(c, msg)
	}
}

// bind attaches c to a participant.
func (h *Hub) bind(c *client, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c]; !live {
		return
	}
	if old := h.byParticipant[c.participant]; old != nil {
		delete(old, c)
		if len(old) == 0 {
			delete(h.byParticipant, c.participant)
		}
	}
	c.participant = participantID
	set := h.byParticipant[participantID]
	if set == nil {
		set = make(map[*client]struct{})
		h.byParticipant[participantID] = set
	}
	set[c] = struct{}{}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	// Register before the first snapshot so no event falls between them.
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	go h.writePump(c)

	h.push(c, game.Event{Type: game.EventGameState, Payload: h.eng.State()})
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var m clientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch m.Type {
		case "join":
			var jp JoinPayload
			if json.Unmarshal(m.Payload, &jp) != nil {
				continue
			}
			h.handleJoin(c, jp)
		default:
			log.Debug().Str("type", m.Type).Msg("ignoring websocket message")
		}
	}
}

// handleJoin binds c to the participant. On a bad pin the connection is
// unregistered; the writer flushes the empty snapshot, then closes the socket
// and the read loop ends on the resulting error.
func (h *Hub) handleJoin(c *client, jp JoinPayload) {
	p, err := h.eng.Authenticate(jp.ParticipantID, jp.Pin)
	if err != nil {
		log.Info().Err(err).Str("participant", jp.ParticipantID).Msg("websocket join refused")
		h.push(c, game.Event{Type: game.EventGameState, Payload: game.EmptyState()})
		h.remove(c)
		return
	}
	h.bind(c, p.ID())
	h.push(c, game.Event{Type: game.EventProgramChanged, Payload: game.ProgramPayload{Code: p.Program()}})
	h.push(c, game.Event{Type: game.EventLog, Payload: game.LogPayload{
		Message: "Welcome, " + p.Name() + "! Your code runs once every round.",
		Level:   game.LevelInfo,
	}})
	log.Info().Str("participant", p.ID()).Msg("websocket joined")
}

func (h *Hub) writePump(c *client) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
