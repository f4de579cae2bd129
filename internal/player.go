package internal

import "time"

// PlayerSession is the host's record of one player across reconnects.
// ClientID is empty while the player is disconnected.
type PlayerSession struct {
	PlayerID               string    `json:"player_id"`
	ClientID               string    `json:"-"`
	DisplayName            string    `json:"display_name"`
	ExplicitContentAllowed bool      `json:"explicit_content_allowed"`
	Connected              bool      `json:"connected"`
	ParticipatingThisRound bool      `json:"participating_this_round"`
	Score                  int       `json:"score"`
	JoinedAt               time.Time `json:"joined_at"`

	// Contributed holds the ids this player brought to the current game.
	Contributed []string `json:"-"`
}

type PlayerSnapshot struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Score         int    `json:"score"`
	Connected     bool   `json:"connected"`
	Participating bool   `json:"participating"`
}

func (p *PlayerSession) ResetRoundState() {
	p.ParticipatingThisRound = p.Connected
}

func CreatePlayerSnapshot(p *PlayerSession) PlayerSnapshot {
	return PlayerSnapshot{
		ID:            p.PlayerID,
		DisplayName:   p.DisplayName,
		Score:         p.Score,
		Connected:     p.Connected,
		Participating: p.ParticipatingThisRound,
	}
}
