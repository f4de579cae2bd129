package internal

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultRoundDuration = 30 * time.Second
	DefaultAckTimeout    = 10 * time.Second
	DefaultVoteGrace     = 10 * time.Second
	DefaultWinScore      = 30
	MaxPlayersPerSession = 8
)

// ErrInvalidConfig is returned when a GameConfig cannot start a session.
var ErrInvalidConfig = errors.New("invalid game configuration")

type GameState string

const (
	StateLoadingRoster    GameState = "loading_roster"
	StateGuessing         GameState = "guessing"
	StateWaitingToAdvance GameState = "waiting_to_advance"
	StateEnded            GameState = "ended"
)

type TimeRange string

const (
	TimeRangeShort  TimeRange = "short"
	TimeRangeMedium TimeRange = "medium"
	TimeRangeLong   TimeRange = "long"
)

// GameConfig selects which parts of each player's library feed the item pool.
type GameConfig struct {
	UseLikedItems              bool      `json:"use_liked_items"`
	UseTopItems                bool      `json:"use_top_items"`
	TopItemsTimeRange          TimeRange `json:"top_items_time_range"`
	UseItemsFromCollections    bool      `json:"use_items_from_collections"`
	RoundStartOffsetPercentage float64   `json:"round_start_offset_percentage"`
}

func DefaultGameConfig() GameConfig {
	return GameConfig{
		UseLikedItems:              true,
		UseTopItems:                true,
		TopItemsTimeRange:          TimeRangeMedium,
		RoundStartOffsetPercentage: 0.3,
	}
}

// Validate reports whether the configuration can be used to start a session.
func (c GameConfig) Validate() error {
	if !c.UseLikedItems && !c.UseTopItems && !c.UseItemsFromCollections {
		return fmt.Errorf("%w: at least one item source must be enabled", ErrInvalidConfig)
	}
	if c.RoundStartOffsetPercentage < 0 || c.RoundStartOffsetPercentage > 1 {
		return fmt.Errorf("%w: round start offset %.2f outside [0,1]", ErrInvalidConfig, c.RoundStartOffsetPercentage)
	}
	if c.UseTopItems {
		switch c.TopItemsTimeRange {
		case TimeRangeShort, TimeRangeMedium, TimeRangeLong:
		default:
			return fmt.Errorf("%w: unknown top items time range %q", ErrInvalidConfig, c.TopItemsTimeRange)
		}
	}
	return nil
}

// Item is a guessable track. Identity is ID.
type Item struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Explicit   bool   `json:"explicit"`
	URI        string `json:"uri"`
	DurationMs int    `json:"duration_ms"`
}

func (i Item) Valid() bool {
	return i.ID != "" && i.Name != ""
}

// StartOffsetMs is where playback should begin for the given offset percentage.
func (i Item) StartOffsetMs(pct float64) int {
	if pct <= 0 || i.DurationMs <= 0 {
		return 0
	}
	if pct > 1 {
		pct = 1
	}
	return int(float64(i.DurationMs) * pct)
}

type ActiveRosterEntry struct {
	PlayerID               string `json:"player_id"`
	Handle                 string `json:"handle"`
	ParticipatingThisRound bool   `json:"participating_this_round"`
}

type Vote struct {
	VoterID string   `json:"voter_id"`
	Targets []string `json:"targets"`
}

type Guess struct {
	TargetPlayerID string `json:"target_player_id"`
	TargetName     string `json:"target_name"`
	WasCorrect     bool   `json:"was_correct"`
}

type PlayerRoundResult struct {
	ScoreDelta int     `json:"score_delta"`
	TotalScore int     `json:"total_score"`
	Guesses    []Guess `json:"guesses"`
}

type RoundResult struct {
	RoundNumber     int                          `json:"round_number"`
	ItemID          string                       `json:"item_id"`
	CorrectOwnerIDs []string                     `json:"correct_owner_ids"`
	PerPlayer       map[string]PlayerRoundResult `json:"per_player"`
}

type Standing struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Position    int    `json:"position"`
}

type FinalStandings struct {
	SessionID    string     `json:"session_id"`
	WinnerID     string     `json:"winner_id,omitempty"`
	Standings    []Standing `json:"standings"`
	RoundsPlayed int        `json:"rounds_played"`
	EndedAt      time.Time  `json:"ended_at"`
}

type SessionSnapshot struct {
	SessionID     string              `json:"session_id"`
	State         GameState           `json:"state"`
	RoundNumber   int                 `json:"round_number"`
	Config        GameConfig          `json:"config"`
	Roster        []ActiveRosterEntry `json:"roster"`
	Waiting       []string            `json:"waiting"`
	NotSelectable []string            `json:"not_selectable"`
	Players       []PlayerSnapshot    `json:"players"`
	CurrentItemID string              `json:"current_item_id,omitempty"`
	ReadyCount    int                 `json:"ready_count"`
}

type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_time_start_ms"`
	RespEndTime   int64 `json:"resp_time_end_ms"`
	NetRespTime   int64 `json:"net_resp_time_ms"`
	Data          any   `json:"data"`
}
