package game

import (
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/scythe504/whosetrack-backend/internal"
)

// =============================================================================
// CONNECTION LIFECYCLE
// =============================================================================

type ConnectRequest struct {
	ClientID               string
	PlayerID               string
	Handle                 string
	ExplicitContentAllowed bool
}

type ConnectResult struct {
	IsReconnect bool
	Queued      bool
}

// Connections maps transport clients to stable player records and owns the
// active roster. Only the session host touches it.
type Connections struct {
	sessionID  string
	maxPlayers int
	now        func() time.Time

	players map[string]*internal.PlayerSession
	clients map[string]string // clientID -> playerID
	roster  []internal.ActiveRosterEntry
	waiting []string
	started bool
}

func NewConnections(sessionID string, maxPlayers int) *Connections {
	if maxPlayers <= 0 {
		maxPlayers = internal.MaxPlayersPerSession
	}
	return &Connections{
		sessionID:  sessionID,
		maxPlayers: maxPlayers,
		now:        time.Now,
		players:    make(map[string]*internal.PlayerSession),
		clients:    make(map[string]string),
	}
}

// Connect registers a client for a player. A connected player cannot be
// claimed by a second client. A reconnect keeps the stored score.
func (c *Connections) Connect(req ConnectRequest, state internal.GameState) (ConnectResult, error) {
	if _, taken := c.clients[req.ClientID]; taken {
		return ConnectResult{}, fmt.Errorf("%w: client %s already bound", ErrDuplicateConnection, req.ClientID)
	}

	existing, known := c.players[req.PlayerID]
	if known && existing.Connected {
		log.Printf("[Connect] session=%s: rejecting duplicate connection for player=%s", c.sessionID, req.PlayerID)
		return ConnectResult{}, fmt.Errorf("%w: %s", ErrDuplicateConnection, req.PlayerID)
	}

	if known {
		existing.ClientID = req.ClientID
		existing.Connected = true
		if req.Handle != "" {
			existing.DisplayName = req.Handle
		}
		existing.ExplicitContentAllowed = req.ExplicitContentAllowed
		c.clients[req.ClientID] = req.PlayerID
		c.addToRoster(existing)
		log.Printf("[Connect] session=%s: player=%s reconnected (score=%d)", c.sessionID, req.PlayerID, existing.Score)
		return ConnectResult{IsReconnect: true}, nil
	}

	if state == internal.StateEnded {
		return ConnectResult{}, ErrSessionEnded
	}
	if len(c.players) >= c.maxPlayers {
		return ConnectResult{}, fmt.Errorf("%w: %d players", ErrSessionFull, c.maxPlayers)
	}

	p := &internal.PlayerSession{
		PlayerID:               req.PlayerID,
		ClientID:               req.ClientID,
		DisplayName:            req.Handle,
		ExplicitContentAllowed: req.ExplicitContentAllowed,
		Connected:              true,
		JoinedAt:               c.now(),
	}
	c.players[req.PlayerID] = p
	c.clients[req.ClientID] = req.PlayerID

	if state == internal.StateLoadingRoster {
		c.addToRoster(p)
		log.Printf("[Connect] session=%s: player=%s joined roster (%d active)", c.sessionID, req.PlayerID, len(c.roster))
		return ConnectResult{}, nil
	}

	c.waiting = append(c.waiting, req.PlayerID)
	log.Printf("[Connect] session=%s: player=%s queued until round boundary (%d waiting)", c.sessionID, req.PlayerID, len(c.waiting))
	return ConnectResult{Queued: true}, nil
}

// Disconnect unbinds a client and drops the player from the roster. Before
// the session starts the record is discarded entirely.
func (c *Connections) Disconnect(clientID string) (string, error) {
	playerID, ok := c.clients[clientID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	delete(c.clients, clientID)
	c.removeFromRoster(playerID)
	c.waiting = slices.DeleteFunc(c.waiting, func(id string) bool { return id == playerID })

	if !c.started {
		delete(c.players, playerID)
		log.Printf("[Disconnect] session=%s: player=%s left before start, record discarded", c.sessionID, playerID)
		return playerID, nil
	}

	if p := c.players[playerID]; p != nil {
		p.Connected = false
		p.ClientID = ""
		log.Printf("[Disconnect] session=%s: player=%s disconnected, score=%d kept", c.sessionID, playerID, p.Score)
	}
	return playerID, nil
}

// PromoteWaitingPlayers moves queued joiners into the roster. Call only at
// a round boundary.
func (c *Connections) PromoteWaitingPlayers() []string {
	promoted := make([]string, 0, len(c.waiting))
	for _, id := range c.waiting {
		p := c.players[id]
		if p == nil || !p.Connected {
			continue
		}
		c.addToRoster(p)
		promoted = append(promoted, id)
	}
	c.waiting = nil
	if len(promoted) > 0 {
		log.Printf("[PromoteWaitingPlayers] session=%s: promoted %v", c.sessionID, promoted)
	}
	return promoted
}

// FreezeParticipation fixes every player's round eligibility to whether
// they are connected right now.
func (c *Connections) FreezeParticipation() {
	for _, p := range c.players {
		p.ResetRoundState()
	}
	for i := range c.roster {
		if p := c.players[c.roster[i].PlayerID]; p != nil {
			c.roster[i].ParticipatingThisRound = p.ParticipatingThisRound
		}
	}
}

// PurgeDisconnected removes players who never came back and returns their ids.
func (c *Connections) PurgeDisconnected() []string {
	var purged []string
	for id, p := range c.players {
		if !p.Connected {
			delete(c.players, id)
			purged = append(purged, id)
		}
	}
	slices.Sort(purged)
	return purged
}

func (c *Connections) ResetScores() {
	for _, p := range c.players {
		p.Score = 0
	}
}

func (c *Connections) MarkStarted()  { c.started = true }
func (c *Connections) Started() bool { return c.started }

// Player returns the record for id. A miss is logged and yields an empty
// record so callers can treat it as "no such player".
func (c *Connections) Player(id string) internal.PlayerSession {
	p, ok := c.players[id]
	if !ok {
		log.Printf("ERROR: [Player] session=%s: no session for player=%s", c.sessionID, id)
		return internal.PlayerSession{}
	}
	return *p
}

func (c *Connections) lookup(id string) (*internal.PlayerSession, bool) {
	p, ok := c.players[id]
	return p, ok
}

func (c *Connections) PlayerForClient(clientID string) (string, bool) {
	id, ok := c.clients[clientID]
	return id, ok
}

func (c *Connections) DisplayName(id string) string {
	if p, ok := c.players[id]; ok {
		return p.DisplayName
	}
	return ""
}

func (c *Connections) Roster() []internal.ActiveRosterEntry {
	return slices.Clone(c.roster)
}

func (c *Connections) RosterSize() int { return len(c.roster) }

func (c *Connections) InRoster(id string) bool {
	return slices.ContainsFunc(c.roster, func(e internal.ActiveRosterEntry) bool { return e.PlayerID == id })
}

func (c *Connections) Waiting() []string { return slices.Clone(c.waiting) }

func (c *Connections) Scores() map[string]int {
	out := make(map[string]int, len(c.players))
	for id, p := range c.players {
		out[id] = p.Score
	}
	return out
}

// Players returns every record sorted by player id.
func (c *Connections) Players() []*internal.PlayerSession {
	out := make([]*internal.PlayerSession, 0, len(c.players))
	for _, p := range c.players {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *internal.PlayerSession) int {
		return strings.Compare(a.PlayerID, b.PlayerID)
	})
	return out
}

func (c *Connections) ConnectedCount() int {
	n := 0
	for _, p := range c.players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (c *Connections) addToRoster(p *internal.PlayerSession) {
	if c.InRoster(p.PlayerID) {
		return
	}
	c.roster = append(c.roster, internal.ActiveRosterEntry{
		PlayerID:               p.PlayerID,
		Handle:                 p.DisplayName,
		ParticipatingThisRound: p.ParticipatingThisRound,
	})
}

func (c *Connections) removeFromRoster(id string) {
	c.roster = slices.DeleteFunc(c.roster, func(e internal.ActiveRosterEntry) bool { return e.PlayerID == id })
}
