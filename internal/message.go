package internal

type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// Client -> host
const (
	MsgJoin                  = "join"
	MsgConfigure             = "configure"
	MsgAnnounceItemOwnership = "announce_item_ownership"
	MsgSubmitVotes           = "submit_votes"
	MsgRequestCurrentItem    = "request_current_item"
	MsgPlayerReadyToAdvance  = "player_ready_to_advance"
	MsgPlayerReadyForNewGame = "player_ready_for_new_game"
)

// Host -> client
const (
	MsgSessionState   = "session_state"
	MsgNewRound       = "new_round"
	MsgHasItemRequest = "has_item_request"
	MsgCurrentItem    = "current_item"
	MsgRequestVotes   = "request_votes_now"
	MsgRoundResults   = "round_results"
	MsgGameEnded      = "game_ended"
	MsgTimerUpdate    = "timer_update"
	MsgSessionError   = "session_error"
	MsgJoinRejected   = "join_rejected"
)

type JoinData struct {
	Library Library `json:"library"`
}

// Library is a player's personal library, grouped by origin.
type Library struct {
	Liked       []Item               `json:"liked,omitempty"`
	Top         map[TimeRange][]Item `json:"top,omitempty"`
	Collections []Item               `json:"collections,omitempty"`
}

type AnnounceOwnershipData struct {
	RoundNumber int  `json:"round_number"`
	HasItem     bool `json:"has_item"`
}

type SubmitVotesData struct {
	RoundNumber int      `json:"round_number"`
	Targets     []string `json:"targets"`
}

type NewRoundData struct {
	RoundNumber   int   `json:"round_number"`
	Item          Item  `json:"item"`
	StartOffsetMs int   `json:"start_offset_ms"`
	DurationMs    int64 `json:"duration_ms"`
}

type HasItemRequestData struct {
	RoundNumber int    `json:"round_number"`
	ItemID      string `json:"item_id"`
}

type RequestVotesData struct {
	RoundNumber int `json:"round_number"`
}

type TimerUpdateData struct {
	TimeRemaining int64     `json:"time_remaining_ms"`
	State         GameState `json:"state"`
	IsActive      bool      `json:"is_active"`
}

type SessionErrorData struct {
	Message string `json:"message"`
}

type JoinRejectedData struct {
	Reason string `json:"reason"`
}
