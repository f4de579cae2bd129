package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/gorilla/websocket"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/library"
)

// ErrGameOver ends Run once a game finishes and the bot is not replaying.
var ErrGameOver = errors.New("game over")

type Options struct {
	PlayerID string
	// WaitFor is how many roster members must be present before the bot
	// readies up for the first round.
	WaitFor int
	// Replay readies the bot for a new game when one ends.
	Replay bool
	// VoteChance is the probability of naming each other player as an owner.
	VoteChance float64
	Rand       *rand.Rand
}

// Bot is a headless player. It answers ownership questions from its own
// library and guesses the other owners at random.
type Bot struct {
	opts    Options
	lib     internal.Library
	owned   map[string]struct{}
	roster  []string
	readied bool
	votes   []string
}

func New(lib internal.Library, opts Options) *Bot {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.WaitFor < 1 {
		opts.WaitFor = 1
	}
	if opts.VoteChance <= 0 {
		opts.VoteChance = 0.5
	}
	owned := make(map[string]struct{})
	for _, id := range library.IDs(library.All(lib)) {
		owned[id] = struct{}{}
	}
	return &Bot{opts: opts, lib: lib, owned: owned}
}

func (b *Bot) Owns(itemID string) bool {
	_, ok := b.owned[itemID]
	return ok
}

func (b *Bot) JoinMessage() internal.Message[internal.JoinData] {
	return internal.Message[internal.JoinData]{
		Type: internal.MsgJoin,
		Data: internal.JoinData{Library: b.lib},
	}
}

// Handle returns the frames to send in answer to one inbound frame.
func (b *Bot) Handle(msg internal.Message[json.RawMessage]) ([]any, error) {
	switch msg.Type {
	case internal.MsgSessionState:
		var snap internal.SessionSnapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			return nil, err
		}
		b.roster = b.roster[:0]
		for _, e := range snap.Roster {
			b.roster = append(b.roster, e.PlayerID)
		}
		if snap.State != internal.StateLoadingRoster || b.readied || len(b.roster) < b.opts.WaitFor {
			return nil, nil
		}
		b.readied = true
		return []any{signal(internal.MsgPlayerReadyToAdvance)}, nil

	case internal.MsgHasItemRequest:
		var req internal.HasItemRequestData
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return nil, err
		}
		b.votes = b.guess()
		return []any{
			internal.Message[internal.AnnounceOwnershipData]{
				Type: internal.MsgAnnounceItemOwnership,
				Data: internal.AnnounceOwnershipData{RoundNumber: req.RoundNumber, HasItem: b.Owns(req.ItemID)},
			},
			b.voteMessage(req.RoundNumber),
		}, nil

	case internal.MsgRequestVotes:
		var req internal.RequestVotesData
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return nil, err
		}
		return []any{b.voteMessage(req.RoundNumber)}, nil

	case internal.MsgRoundResults:
		return []any{signal(internal.MsgPlayerReadyToAdvance)}, nil

	case internal.MsgGameEnded:
		if !b.opts.Replay {
			return nil, ErrGameOver
		}
		return []any{signal(internal.MsgPlayerReadyForNewGame)}, nil

	case internal.MsgJoinRejected:
		var data internal.JoinRejectedData
		_ = json.Unmarshal(msg.Data, &data)
		return nil, fmt.Errorf("join rejected: %s", data.Reason)

	case internal.MsgSessionError:
		var data internal.SessionErrorData
		_ = json.Unmarshal(msg.Data, &data)
		log.Printf("[Bot] player=%s: session error: %s", b.opts.PlayerID, data.Message)
	}
	return nil, nil
}

func (b *Bot) guess() []string {
	targets := []string{}
	for _, id := range b.roster {
		if id == b.opts.PlayerID {
			continue
		}
		if b.opts.Rand.Float64() < b.opts.VoteChance {
			targets = append(targets, id)
		}
	}
	return targets
}

func (b *Bot) voteMessage(round int) internal.Message[internal.SubmitVotesData] {
	return internal.Message[internal.SubmitVotesData]{
		Type: internal.MsgSubmitVotes,
		Data: internal.SubmitVotesData{RoundNumber: round, Targets: b.votes},
	}
}

func signal(msgType string) internal.Message[struct{}] {
	return internal.Message[struct{}]{Type: msgType}
}

// Run joins over conn and plays until the socket closes, ctx ends or the
// game is over.
func (b *Bot) Run(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(b.JoinMessage()); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	for {
		var msg internal.Message[json.RawMessage]
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		out, err := b.Handle(msg)
		for _, frame := range out {
			if err := conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if err != nil {
			return err
		}
	}
}
