package game

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/tracks"
)

// =============================================================================
// ROUND ENGINE
// =============================================================================

type RoundPhase string

const (
	RoundNotStarted      RoundPhase = "not_started"
	RoundAwaitingAcks    RoundPhase = "awaiting_acks"
	RoundCollectingVotes RoundPhase = "collecting_votes"
	RoundTallyReady      RoundPhase = "tally_ready"
	RoundComplete        RoundPhase = "complete"
)

// Options is the capability set for rounds in a session. A zero
// RoundDuration makes rounds untimed; a zero WinScore disables the score
// threshold; zero grace or ack timeouts wait without bound.
type Options struct {
	RoundDuration time.Duration
	WinScore      int
	AckTimeout    time.Duration
	VoteGrace     time.Duration
	MaxPlayers    int
}

func DefaultOptions() Options {
	return Options{
		RoundDuration: internal.DefaultRoundDuration,
		WinScore:      internal.DefaultWinScore,
		AckTimeout:    internal.DefaultAckTimeout,
		VoteGrace:     internal.DefaultVoteGrace,
		MaxPlayers:    internal.MaxPlayersPerSession,
	}
}

type picker interface {
	PickNext(ctx context.Context) (tracks.Pick, error)
}

// Round runs one item-guessing cycle at a time. It reads the roster from
// Connections but never mutates it; results go to onComplete.
type Round struct {
	sessionID  string
	opts       Options
	picker     picker
	conns      *Connections
	bus        *Bus
	timers     TimerFactory
	selectable func(playerID string) bool
	onComplete func(internal.RoundResult)

	number int
	phase  RoundPhase
	item   internal.Item
	pick   tracks.Pick

	owners         map[string]struct{}
	acked          map[string]struct{}
	votes          map[string][]string
	stragglers     map[string]struct{}
	votesRequested bool

	roundTimer Timer
	graceTimer Timer
	ackTimer   Timer
}

func newRound(sessionID string, opts Options, p picker, conns *Connections, bus *Bus, timers TimerFactory) *Round {
	return &Round{
		sessionID:  sessionID,
		opts:       opts,
		picker:     p,
		conns:      conns,
		bus:        bus,
		timers:     timers,
		selectable: func(string) bool { return true },
		onComplete: func(internal.RoundResult) {},
		phase:      RoundNotStarted,
	}
}

// StartRound picks the next item, announces it and asks the roster who
// owns it.
func (r *Round) StartRound(ctx context.Context, number int, offsetPct float64) error {
	r.stopTimers()

	pick, err := r.picker.PickNext(ctx)
	if err != nil {
		return fmt.Errorf("start round %d: %w", number, err)
	}

	r.number = number
	r.pick = pick
	r.item = pick.Item
	r.owners = make(map[string]struct{})
	r.acked = make(map[string]struct{})
	r.votes = make(map[string][]string)
	r.stragglers = make(map[string]struct{})
	r.votesRequested = false
	r.phase = RoundAwaitingAcks

	log.Printf("[StartRound] session=%s round=%d item=%s source=%s roster=%d",
		r.sessionID, number, r.item.ID, pick.Source, r.conns.RosterSize())

	r.publish(internal.MsgNewRound, nil, internal.NewRoundData{
		RoundNumber:   number,
		Item:          r.item,
		StartOffsetMs: r.item.StartOffsetMs(offsetPct),
		DurationMs:    r.opts.RoundDuration.Milliseconds(),
	})
	r.publish(internal.MsgHasItemRequest, r.rosterIDs(), internal.HasItemRequestData{
		RoundNumber: number,
		ItemID:      r.item.ID,
	})

	if r.opts.RoundDuration > 0 {
		r.roundTimer = r.timers.Start(TimerRound, r.opts.RoundDuration, func() { r.OnTimerExpired(number) })
	}
	return nil
}

// ReceiveOwnershipAck records whether playerID owns the current item. The
// latest answer from a player wins.
func (r *Round) ReceiveOwnershipAck(playerID string, hasItem bool) error {
	if !r.open() && r.phase != RoundTallyReady {
		return fmt.Errorf("%w: ownership ack in %s", ErrWrongState, r.phase)
	}
	if !r.conns.InRoster(playerID) {
		return fmt.Errorf("%w: %s not in roster", ErrUnknownPlayer, playerID)
	}

	if hasItem {
		r.owners[playerID] = struct{}{}
	} else {
		delete(r.owners, playerID)
	}
	r.acked[playerID] = struct{}{}

	if r.phase == RoundAwaitingAcks && r.acksComplete() {
		r.phase = RoundCollectingVotes
	}
	r.maybeTally()
	return nil
}

// ReceiveVote stores voterID's guess, replacing any earlier one. Targets
// that are unknown, not selectable or the voter themselves are dropped.
func (r *Round) ReceiveVote(voterID string, targets []string) error {
	if !r.open() {
		return fmt.Errorf("%w: vote in %s", ErrWrongState, r.phase)
	}
	if !r.conns.InRoster(voterID) {
		return fmt.Errorf("%w: %s not in roster", ErrUnknownPlayer, voterID)
	}

	clean := make([]string, 0, len(targets))
	for _, t := range targets {
		if t == voterID || slices.Contains(clean, t) {
			continue
		}
		if _, ok := r.conns.lookup(t); !ok || !r.selectable(t) {
			log.Printf("[ReceiveVote] session=%s round=%d: dropping target=%s from voter=%s", r.sessionID, r.number, t, voterID)
			continue
		}
		clean = append(clean, t)
	}
	slices.Sort(clean)
	r.votes[voterID] = clean
	delete(r.stragglers, voterID)

	r.maybeCloseVoting()
	return nil
}

// OnTimerExpired asks every participant who has not voted to vote now. If
// nobody is missing the round goes straight to tallying.
func (r *Round) OnTimerExpired(number int) {
	if number != r.number || !r.open() {
		return
	}
	r.roundTimer = nil

	for _, e := range r.conns.Roster() {
		if !e.ParticipatingThisRound {
			continue
		}
		if _, voted := r.votes[e.PlayerID]; !voted {
			r.stragglers[e.PlayerID] = struct{}{}
		}
	}
	r.votesRequested = true

	if len(r.stragglers) == 0 {
		r.closeVoting()
		return
	}

	ids := setKeys(r.stragglers)
	log.Printf("[OnTimerExpired] session=%s round=%d: requesting votes from %v", r.sessionID, r.number, ids)
	r.publish(internal.MsgRequestVotes, ids, internal.RequestVotesData{RoundNumber: r.number})

	if r.opts.VoteGrace > 0 {
		r.graceTimer = r.timers.Start(TimerVoteGrace, r.opts.VoteGrace, func() { r.onGraceExpired(number) })
	}
}

// PlayerDisconnected shrinks every barrier the departed player was part of.
func (r *Round) PlayerDisconnected(playerID string) {
	if r.phase == RoundNotStarted || r.phase == RoundComplete {
		return
	}
	delete(r.stragglers, playerID)

	if r.phase == RoundAwaitingAcks && r.acksComplete() {
		r.phase = RoundCollectingVotes
	}
	r.maybeCloseVoting()
	r.maybeTally()
}

func (r *Round) onGraceExpired(number int) {
	if number != r.number || !r.open() {
		return
	}
	r.graceTimer = nil
	log.Printf("[onGraceExpired] session=%s round=%d: closing votes, %d stragglers never answered",
		r.sessionID, r.number, len(r.stragglers))
	r.closeVoting()
}

func (r *Round) onAckTimeout(number int) {
	if number != r.number || r.phase != RoundTallyReady {
		return
	}
	r.ackTimer = nil

	var missing []string
	for _, id := range r.rosterIDs() {
		if _, ok := r.acked[id]; !ok {
			missing = append(missing, id)
		}
	}
	log.Printf("[onAckTimeout] session=%s round=%d: tallying without acks from %v", r.sessionID, r.number, missing)
	r.ComputeResults()
}

func (r *Round) maybeCloseVoting() {
	if !r.open() {
		return
	}
	switch {
	case r.votesRequested && len(r.stragglers) == 0:
		r.closeVoting()
	case r.opts.RoundDuration == 0 && r.allParticipantsVoted():
		r.closeVoting()
	}
}

func (r *Round) closeVoting() {
	r.stopTimer(&r.roundTimer)
	r.stopTimer(&r.graceTimer)
	r.phase = RoundTallyReady

	if !r.acksComplete() && r.opts.AckTimeout > 0 {
		number := r.number
		r.ackTimer = r.timers.Start(TimerAckWait, r.opts.AckTimeout, func() { r.onAckTimeout(number) })
		return
	}
	r.maybeTally()
}

func (r *Round) maybeTally() {
	if r.phase == RoundTallyReady && r.acksComplete() {
		r.ComputeResults()
	}
}

// ComputeResults scores the round and hands the result to the session.
// Players who never acknowledged are not counted as owners.
func (r *Round) ComputeResults() internal.RoundResult {
	r.stopTimers()
	r.phase = RoundComplete

	perPlayer := TallyVotes(r.votes, r.owners, r.conns.Scores(), r.conns.DisplayName)
	result := internal.RoundResult{
		RoundNumber:     r.number,
		ItemID:          r.item.ID,
		CorrectOwnerIDs: setKeys(r.owners),
		PerPlayer:       perPlayer,
	}

	log.Printf("[ComputeResults] session=%s round=%d: item=%s owners=%v voters=%d",
		r.sessionID, r.number, r.item.ID, result.CorrectOwnerIDs, len(perPlayer))
	r.onComplete(result)
	return result
}

func (r *Round) CurrentItem() (internal.Item, bool) {
	if r.phase == RoundNotStarted {
		return internal.Item{}, false
	}
	return r.item, true
}

func (r *Round) Phase() RoundPhase { return r.phase }
func (r *Round) Number() int       { return r.number }
func (r *Round) Pick() tracks.Pick { return r.pick }

// Reset returns the engine to NotStarted, dropping any pending timers.
func (r *Round) Reset() {
	r.stopTimers()
	r.phase = RoundNotStarted
	r.number = 0
	r.item = internal.Item{}
	r.votesRequested = false
}

func (r *Round) open() bool {
	return r.phase == RoundAwaitingAcks || r.phase == RoundCollectingVotes
}

func (r *Round) acksComplete() bool {
	for _, id := range r.rosterIDs() {
		if _, ok := r.acked[id]; !ok {
			return false
		}
	}
	return true
}

func (r *Round) allParticipantsVoted() bool {
	for _, e := range r.conns.Roster() {
		if !e.ParticipatingThisRound {
			continue
		}
		if _, ok := r.votes[e.PlayerID]; !ok {
			return false
		}
	}
	return true
}

func (r *Round) rosterIDs() []string {
	roster := r.conns.Roster()
	ids := make([]string, len(roster))
	for i, e := range roster {
		ids[i] = e.PlayerID
	}
	return ids
}

func (r *Round) publish(msgType string, targets []string, payload any) {
	r.bus.Publish(Event{SessionID: r.sessionID, Type: msgType, Targets: targets, Payload: payload})
}

func (r *Round) stopTimers() {
	r.stopTimer(&r.roundTimer)
	r.stopTimer(&r.graceTimer)
	r.stopTimer(&r.ackTimer)
}

func (r *Round) stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
