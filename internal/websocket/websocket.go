package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/game"
	"github.com/scythe504/whosetrack-backend/internal/utils"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	sendBuffer   = 32
	eventBuffer  = 256
	clientIDLen  = 12
	joinTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// =============================================================================
// CLIENTS & HUBS
// =============================================================================

type client struct {
	conn     *websocket.Conn
	send     chan any
	id       string
	playerID string

	// Guarded by Hub.mu. Frames are held until the join is accepted.
	joined bool
	held   []any
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Printf("[writePump] player=%s: write failed: %v", c.playerID, err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Hub relays one session's bus events to the sockets attached to it.
type Hub struct {
	host    *game.Host
	sub     *game.Subscription
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	done    chan struct{}
}

func newHub(host *game.Host) *Hub {
	h := &Hub{
		host:    host,
		sub:     host.Bus().Subscribe(eventBuffer),
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)

	for e := range h.sub.C {
		msg := internal.Message[any]{Type: e.Type, Data: e.Payload}
		h.mu.Lock()
		for c := range h.clients {
			if !e.For(c.playerID) {
				continue
			}
			if !c.joined {
				if len(c.held) < sendBuffer {
					c.held = append(c.held, msg)
				}
				continue
			}
			select {
			case c.send <- msg:
			default:
				log.Printf("[Hub.run] session=%s player=%s: send buffer full, dropping %s", e.SessionID, c.playerID, e.Type)
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	log.Printf("[Hub.run] session=%s: event stream closed", h.host.ID())
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// markJoined releases the frames held for c while its join was pending.
func (h *Hub) markJoined(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.joined = true
	for _, msg := range c.held {
		select {
		case c.send <- msg:
		default:
			log.Printf("[Hub.markJoined] player=%s: send buffer full, dropping held frame", c.playerID)
		}
	}
	c.held = nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// sendTo queues msg for c alone if it is still attached.
func (h *Hub) sendTo(c *client, msg any) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Hubs keeps one Hub per live session.
type Hubs struct {
	mu   sync.Mutex
	hubs map[string]*Hub
}

func NewHubs() *Hubs {
	return &Hubs{hubs: make(map[string]*Hub)}
}

// For returns the hub for host, creating it on first use.
func (hs *Hubs) For(host *game.Host) *Hub {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if h, ok := hs.hubs[host.ID()]; ok {
		return h
	}
	h := newHub(host)
	hs.hubs[host.ID()] = h
	go func() {
		<-h.done
		hs.mu.Lock()
		if hs.hubs[host.ID()] == h {
			delete(hs.hubs, host.ID())
		}
		hs.mu.Unlock()
	}()
	return h
}

// =============================================================================
// WEBSOCKET CONNECTION HANDLING
// =============================================================================

// HandleWebSocket upgrades the request and binds the socket to the session
// named in the path. The first frame must be a join carrying the library.
func HandleWebSocket(reg *game.Registry, hubs *Hubs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := utils.NormalizeCode(mux.Vars(r)["sessionId"])
		host, ok := reg.Get(sessionID)
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		q := r.URL.Query()
		playerID := q.Get("player_id")
		if playerID == "" {
			playerID = utils.NewPlayerID()
		} else if !utils.ValidPlayerID(playerID) {
			http.Error(w, "invalid player_id", http.StatusBadRequest)
			return
		}
		name := q.Get("name")
		if name == "" {
			name = "Anonymous"
		}
		explicit, _ := strconv.ParseBool(q.Get("explicit"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Upgrade failed: ", err)
			return
		}

		c := &client{
			conn:     conn,
			send:     make(chan any, sendBuffer),
			id:       utils.GenerateID(clientIDLen),
			playerID: playerID,
		}
		go c.writePump()

		hub := hubs.For(host)
		if !hub.add(c) {
			close(c.send)
			return
		}

		if err := join(r.Context(), host, c, name, explicit); err != nil {
			log.Printf("[HandleWebSocket] session=%s player=%s: join failed: %v", sessionID, playerID, err)
			hub.sendTo(c, internal.Message[internal.JoinRejectedData]{
				Type: internal.MsgJoinRejected,
				Data: internal.JoinRejectedData{Reason: err.Error()},
			})
			hub.remove(c)
			return
		}
		hub.markJoined(c)

		handleMessages(host, hub, c)
	}
}

var errExpectedJoin = errors.New("first message must be join")

func join(ctx context.Context, host *game.Host, c *client, name string, explicit bool) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(joinTimeout))
	var msg internal.Message[internal.JoinData]
	if err := c.conn.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Type != internal.MsgJoin {
		return errExpectedJoin
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	req := game.ConnectRequest{
		ClientID:               c.id,
		PlayerID:               c.playerID,
		Handle:                 name,
		ExplicitContentAllowed: explicit,
	}
	return host.Call(ctx, func(s *game.Session) error {
		_, err := s.Connect(req, msg.Data.Library)
		return err
	})
}

// handleMessages reads frames until the socket closes, then reports the
// disconnect to the session.
func handleMessages(host *game.Host, hub *Hub, c *client) {
	defer func() {
		if err := host.Do(func(s *game.Session) { _ = s.Disconnect(c.id) }); err != nil {
			log.Printf("[handleMessages] player=%s: disconnect not delivered: %v", c.playerID, err)
		}
		hub.remove(c)
	}()
	log.Printf("Started message handler for player: %s in session: %s", c.playerID, host.ID())

	for {
		var msg internal.Message[json.RawMessage]
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Read error occured during websocket message %s, %v", c.playerID, err)
			}
			return
		}
		if err := dispatch(host, c.playerID, msg); err != nil {
			log.Printf("[handleMessages] player=%s type=%s: %v", c.playerID, msg.Type, err)
			if errors.Is(err, game.ErrHostClosed) {
				return
			}
		}
	}
}

// dispatch queues the session call for one inbound frame. Handler errors
// go back to the sender as a session_error.
func dispatch(host *game.Host, playerID string, msg internal.Message[json.RawMessage]) error {
	var action func(s *game.Session) error

	switch msg.Type {
	case internal.MsgAnnounceItemOwnership:
		var data internal.AnnounceOwnershipData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return err
		}
		action = func(s *game.Session) error {
			if stale(s, data.RoundNumber) {
				return nil
			}
			return s.ReceiveOwnershipAck(playerID, data.HasItem)
		}
	case internal.MsgSubmitVotes:
		var data internal.SubmitVotesData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return err
		}
		action = func(s *game.Session) error {
			if stale(s, data.RoundNumber) {
				return nil
			}
			return s.ReceiveVote(playerID, data.Targets)
		}
	case internal.MsgConfigure:
		var cfg internal.GameConfig
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			return err
		}
		action = func(s *game.Session) error { return s.Configure(playerID, cfg) }
	case internal.MsgRequestCurrentItem:
		action = func(s *game.Session) error { return s.RequestCurrentItem(playerID) }
	case internal.MsgPlayerReadyToAdvance:
		action = func(s *game.Session) error { return s.OnPlayerReadyToAdvance(playerID) }
	case internal.MsgPlayerReadyForNewGame:
		action = func(s *game.Session) error { return s.OnPlayerReadyForNewGame(playerID) }
	default:
		log.Printf("[dispatch] player=%s: ignoring unknown message type %q", playerID, msg.Type)
		return nil
	}

	return host.Do(func(s *game.Session) {
		if err := action(s); err != nil {
			s.Bus().Publish(game.Event{
				SessionID: s.ID(),
				Type:      internal.MsgSessionError,
				Targets:   []string{playerID},
				Payload:   internal.SessionErrorData{Message: err.Error()},
			})
		}
	})
}

// stale reports a frame addressed to a round other than the current one.
// Round zero means the client did not say.
func stale(s *game.Session, round int) bool {
	if round == 0 || round == s.Round().Number() {
		return false
	}
	log.Printf("[dispatch] session=%s: dropping frame for round %d (current %d)", s.ID(), round, s.Round().Number())
	return true
}
