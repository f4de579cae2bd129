package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/library"
	"github.com/scythe504/whosetrack-backend/internal/tracks"
)

const tracerName = "github.com/scythe504/whosetrack-backend/internal/game"

// =============================================================================
// SESSION COORDINATOR
// =============================================================================

type Deps struct {
	Engine  *tracks.Engine
	Catalog *tracks.MemoryCatalog
	Bus     *Bus
	Timers  TimerFactory
	Tracer  trace.Tracer
}

// Session is the authoritative state of one match. Every method must be
// called from the single goroutine that owns it (see Host).
type Session struct {
	id     string
	opts   Options
	config internal.GameConfig
	state  internal.GameState

	conns   *Connections
	round   *Round
	engine  *tracks.Engine
	catalog *tracks.MemoryCatalog
	bus     *Bus
	tracer  trace.Tracer
	now     func() time.Time

	libraries       map[string]internal.Library
	readyToAdvance  map[string]struct{}
	readyForNewGame map[string]struct{}
	notSelectable   map[string]struct{}

	roundNumber int
	final       *internal.FinalStandings
	lastActive  time.Time
	roundSpan   trace.Span
}

func NewSession(id string, opts Options, cfg internal.GameConfig, deps Deps) *Session {
	if deps.Bus == nil {
		deps.Bus = NewBus()
	}
	if deps.Catalog == nil {
		deps.Catalog = tracks.NewMemoryCatalog()
	}
	if deps.Engine == nil {
		deps.Engine = tracks.NewEngine(deps.Catalog, nil, tracks.Options{})
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}

	conns := NewConnections(id, opts.MaxPlayers)
	s := &Session{
		id:              id,
		opts:            opts,
		config:          cfg,
		state:           internal.StateLoadingRoster,
		conns:           conns,
		engine:          deps.Engine,
		catalog:         deps.Catalog,
		bus:             deps.Bus,
		tracer:          deps.Tracer,
		now:             time.Now,
		libraries:       make(map[string]internal.Library),
		readyToAdvance:  make(map[string]struct{}),
		readyForNewGame: make(map[string]struct{}),
		notSelectable:   make(map[string]struct{}),
	}
	s.lastActive = s.now()
	s.round = newRound(id, opts, deps.Engine, conns, deps.Bus, deps.Timers)
	s.round.selectable = s.isSelectable
	s.round.onComplete = s.onRoundComplete
	return s
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) State() internal.GameState   { return s.state }
func (s *Session) Config() internal.GameConfig { return s.config }
func (s *Session) Bus() *Bus                   { return s.bus }
func (s *Session) Connections() *Connections   { return s.conns }
func (s *Session) Round() *Round               { return s.round }
func (s *Session) LastActive() time.Time       { return s.lastActive }

// Joinable reports whether a brand new player could connect right now.
func (s *Session) Joinable() bool {
	return s.state != internal.StateEnded && len(s.conns.players) < s.conns.maxPlayers
}

// Configure replaces the game configuration. Only allowed before the first
// round of the first game.
func (s *Session) Configure(playerID string, cfg internal.GameConfig) error {
	s.touch()
	if s.state != internal.StateLoadingRoster || s.conns.Started() {
		log.Printf("[Configure] session=%s: rejected from player=%s in state=%s", s.id, playerID, s.state)
		return fmt.Errorf("%w: configure in %s", ErrWrongState, s.state)
	}
	if playerID != "" && !s.conns.InRoster(playerID) {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("[Configure] session=%s: %v", s.id, err)
		return err
	}

	s.config = cfg
	log.Printf("[Configure] session=%s: config updated by player=%s %+v", s.id, playerID, cfg)
	s.publishSnapshot()
	return nil
}

// Connect binds a client to a player and records their library.
func (s *Session) Connect(req ConnectRequest, lib internal.Library) (ConnectResult, error) {
	s.touch()
	res, err := s.conns.Connect(req, s.state)
	if err != nil {
		log.Printf("[Connect] session=%s: player=%s rejected: %v", s.id, req.PlayerID, err)
		return res, err
	}

	if hasItems(lib) || !res.IsReconnect {
		s.libraries[req.PlayerID] = lib
	}
	added := s.catalog.Add(library.All(lib)...)

	if res.IsReconnect {
		delete(s.notSelectable, req.PlayerID)
		if s.state == internal.StateGuessing {
			s.resendRoundTo(req.PlayerID)
		}
	}

	log.Printf("[Connect] session=%s: player=%s reconnect=%t queued=%t catalog_added=%d state=%s",
		s.id, req.PlayerID, res.IsReconnect, res.Queued, added, s.state)
	s.publishSnapshot()
	return res, nil
}

// Disconnect removes the client's player from every barrier it was part of.
func (s *Session) Disconnect(clientID string) error {
	s.touch()
	playerID, err := s.conns.Disconnect(clientID)
	if err != nil {
		log.Printf("[Disconnect] session=%s: %v", s.id, err)
		return err
	}

	switch s.state {
	case internal.StateLoadingRoster:
		delete(s.readyToAdvance, playerID)
		if !s.conns.Started() {
			delete(s.libraries, playerID)
			s.engine.RemoveContribution(playerID)
		}
		s.maybeAdvance()
	case internal.StateGuessing:
		s.round.PlayerDisconnected(playerID)
	case internal.StateWaitingToAdvance:
		delete(s.readyToAdvance, playerID)
		s.maybeAdvance()
	case internal.StateEnded:
		delete(s.readyForNewGame, playerID)
		s.maybeRestart()
	}

	s.publishSnapshot()
	return nil
}

// OnPlayerReadyToAdvance records a ready vote. Once every roster member is
// ready the next round starts.
func (s *Session) OnPlayerReadyToAdvance(playerID string) error {
	s.touch()
	if s.state == internal.StateGuessing || s.state == internal.StateEnded {
		log.Printf("[OnPlayerReadyToAdvance] session=%s: player=%s ignored in state=%s", s.id, playerID, s.state)
		return fmt.Errorf("%w: ready to advance in %s", ErrWrongState, s.state)
	}
	if !s.conns.InRoster(playerID) {
		log.Printf("ERROR: [OnPlayerReadyToAdvance] session=%s: player=%s not in roster", s.id, playerID)
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}

	s.readyToAdvance[playerID] = struct{}{}
	log.Printf("[OnPlayerReadyToAdvance] session=%s: player=%s ready (%d/%d)",
		s.id, playerID, s.readyCount(s.readyToAdvance), s.conns.RosterSize())

	if s.maybeAdvance() {
		return nil
	}
	s.publishSnapshot()
	return nil
}

func (s *Session) maybeAdvance() bool {
	if s.state != internal.StateLoadingRoster && s.state != internal.StateWaitingToAdvance {
		return false
	}
	roster := s.conns.RosterSize()
	if roster == 0 || s.readyCount(s.readyToAdvance) < roster {
		return false
	}
	if err := s.AdvanceToNextRound(); err != nil {
		log.Printf("[maybeAdvance] session=%s: %v", s.id, err)
	}
	return true
}

// AdvanceToNextRound moves the session across a round boundary: queued
// players join, participation is frozen, and either the game ends with a
// winner or the next round starts.
func (s *Session) AdvanceToNextRound() error {
	if s.state == internal.StateGuessing || s.state == internal.StateEnded {
		return fmt.Errorf("%w: advance in %s", ErrWrongState, s.state)
	}
	clear(s.readyToAdvance)
	first := !s.conns.Started()

	if first {
		if err := s.config.Validate(); err != nil {
			s.publishError(err)
			return err
		}
	}

	promoted := s.conns.PromoteWaitingPlayers()

	s.conns.FreezeParticipation()
	for _, p := range s.conns.Players() {
		if !p.Connected {
			s.notSelectable[p.PlayerID] = struct{}{}
		}
	}

	if s.state == internal.StateLoadingRoster || len(promoted) > 0 {
		s.syncPool()
	}
	if s.engine.PoolSize() == 0 {
		err := fmt.Errorf("advance session %s: %w", s.id, tracks.ErrEmptyPool)
		log.Printf("[AdvanceToNextRound] session=%s: %v", s.id, err)
		s.publishError(err)
		s.publishSnapshot()
		return err
	}
	s.conns.MarkStarted()

	if winner, ok := CheckWinner(s.conns.Scores(), s.opts.WinScore); ok {
		s.endGame(winner)
		return nil
	}
	return s.startRound()
}

func (s *Session) startRound() error {
	s.roundNumber++
	s.state = internal.StateGuessing

	ctx, span := s.tracer.Start(context.Background(), "game.round",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.Int("round.number", s.roundNumber),
			attribute.Int("round.roster", s.conns.RosterSize()),
		))
	s.roundSpan = span

	err := s.round.StartRound(ctx, s.roundNumber, s.config.RoundStartOffsetPercentage)
	if err == nil {
		pick := s.round.Pick()
		span.SetAttributes(
			attribute.String("round.item_id", pick.Item.ID),
			attribute.String("round.pick_source", string(pick.Source)),
		)
		log.Printf("[startRound] session=%s: round=%d started", s.id, s.roundNumber)
		s.publishSnapshot()
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
	s.roundSpan = nil
	s.roundNumber--
	log.Printf("[startRound] session=%s: %v", s.id, err)
	s.publishError(err)

	if errors.Is(err, tracks.ErrSelectionExhausted) && s.roundNumber > 0 {
		s.endGame("")
		return err
	}
	s.state = internal.StateWaitingToAdvance
	if s.roundNumber == 0 {
		s.state = internal.StateLoadingRoster
	}
	s.publishSnapshot()
	return err
}

// onRoundComplete applies a finished round's scores. It is the only place
// scores change.
func (s *Session) onRoundComplete(result internal.RoundResult) {
	for playerID, pr := range result.PerPlayer {
		p, ok := s.conns.lookup(playerID)
		if !ok {
			log.Printf("ERROR: [onRoundComplete] session=%s: result for unknown player=%s", s.id, playerID)
			continue
		}
		p.Score = pr.TotalScore
	}
	s.state = internal.StateWaitingToAdvance

	if s.roundSpan != nil {
		s.roundSpan.SetAttributes(
			attribute.StringSlice("round.correct_owners", result.CorrectOwnerIDs),
			attribute.Int("round.voters", len(result.PerPlayer)),
		)
		s.roundSpan.End()
		s.roundSpan = nil
	}

	log.Printf("[onRoundComplete] session=%s: round=%d complete, owners=%v", s.id, result.RoundNumber, result.CorrectOwnerIDs)
	s.publish(internal.MsgRoundResults, nil, result)
	s.publishSnapshot()
}

func (s *Session) endGame(winnerID string) {
	s.round.Reset()
	s.state = internal.StateEnded
	clear(s.readyForNewGame)

	final := CalculateFinalStandings(s.id, s.conns.Players(), winnerID, s.roundNumber)
	final.EndedAt = s.now()
	s.final = &final

	log.Printf("[endGame] session=%s: winner=%q after %d rounds", s.id, winnerID, s.roundNumber)
	s.publish(internal.MsgGameEnded, nil, final)
	s.publishSnapshot()
}

// OnPlayerReadyForNewGame records a restart vote from the end screen.
func (s *Session) OnPlayerReadyForNewGame(playerID string) error {
	s.touch()
	if s.state != internal.StateEnded {
		log.Printf("[OnPlayerReadyForNewGame] session=%s: player=%s ignored in state=%s", s.id, playerID, s.state)
		return fmt.Errorf("%w: ready for new game in %s", ErrWrongState, s.state)
	}
	if !s.conns.InRoster(playerID) {
		log.Printf("ERROR: [OnPlayerReadyForNewGame] session=%s: player=%s not in roster", s.id, playerID)
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}

	s.readyForNewGame[playerID] = struct{}{}
	if s.maybeRestart() {
		return nil
	}
	s.publishSnapshot()
	return nil
}

func (s *Session) maybeRestart() bool {
	if s.state != internal.StateEnded {
		return false
	}
	roster := s.conns.RosterSize()
	if roster == 0 || s.readyCount(s.readyForNewGame) < roster {
		return false
	}
	if err := s.Restart(); err != nil {
		log.Printf("[maybeRestart] session=%s: %v", s.id, err)
	}
	return true
}

// Restart drops players who never came back, zeroes scores and starts the
// first round of a new game with a pool built from who is left.
func (s *Session) Restart() error {
	purged := s.conns.PurgeDisconnected()
	for _, id := range purged {
		delete(s.libraries, id)
	}
	s.conns.ResetScores()
	s.engine.ResetForNewGame()
	s.catalog.Reset()
	for _, lib := range s.libraries {
		s.catalog.Add(library.All(lib)...)
	}

	clear(s.notSelectable)
	clear(s.readyForNewGame)
	clear(s.readyToAdvance)
	s.roundNumber = 0
	s.final = nil
	s.state = internal.StateLoadingRoster

	log.Printf("[Restart] session=%s: new game, purged=%v roster=%d catalog=%d", s.id, purged, s.conns.RosterSize(), s.catalog.Len())
	s.publishSnapshot()
	return s.AdvanceToNextRound()
}

// RequestCurrentItem answers a late joiner with the in-flight item.
func (s *Session) RequestCurrentItem(playerID string) error {
	s.touch()
	item, ok := s.round.CurrentItem()
	if s.state != internal.StateGuessing || !ok {
		return fmt.Errorf("%w: no round in progress", ErrWrongState)
	}
	s.publish(internal.MsgCurrentItem, []string{playerID}, item)
	return nil
}

func (s *Session) ReceiveOwnershipAck(playerID string, hasItem bool) error {
	s.touch()
	if s.state != internal.StateGuessing {
		log.Printf("[ReceiveOwnershipAck] session=%s: player=%s ignored in state=%s", s.id, playerID, s.state)
		return fmt.Errorf("%w: ownership ack in %s", ErrWrongState, s.state)
	}
	return s.round.ReceiveOwnershipAck(playerID, hasItem)
}

func (s *Session) ReceiveVote(voterID string, targets []string) error {
	s.touch()
	if s.state != internal.StateGuessing {
		log.Printf("[ReceiveVote] session=%s: voter=%s ignored in state=%s", s.id, voterID, s.state)
		return fmt.Errorf("%w: vote in %s", ErrWrongState, s.state)
	}
	return s.round.ReceiveVote(voterID, targets)
}

func (s *Session) PlayerForClient(clientID string) (string, bool) {
	return s.conns.PlayerForClient(clientID)
}

func (s *Session) FinalStandings() (internal.FinalStandings, bool) {
	if s.final == nil {
		return internal.FinalStandings{}, false
	}
	return *s.final, true
}

func (s *Session) Snapshot() internal.SessionSnapshot {
	players := s.conns.Players()
	snaps := make([]internal.PlayerSnapshot, 0, len(players))
	for _, p := range players {
		snaps = append(snaps, internal.CreatePlayerSnapshot(p))
	}

	snap := internal.SessionSnapshot{
		SessionID:     s.id,
		State:         s.state,
		RoundNumber:   s.roundNumber,
		Config:        s.config,
		Roster:        s.conns.Roster(),
		Waiting:       s.conns.Waiting(),
		NotSelectable: setKeys(s.notSelectable),
		Players:       snaps,
	}
	if s.state == internal.StateEnded {
		snap.ReadyCount = s.readyCount(s.readyForNewGame)
	} else {
		snap.ReadyCount = s.readyCount(s.readyToAdvance)
	}
	if item, ok := s.round.CurrentItem(); ok && s.state == internal.StateGuessing {
		snap.CurrentItemID = item.ID
	}
	return snap
}

// Close stops pending timers and ends every bus subscription.
func (s *Session) Close() {
	s.round.Reset()
	if s.roundSpan != nil {
		s.roundSpan.End()
		s.roundSpan = nil
	}
	s.bus.Close()
}

// syncPool rebuilds every roster member's contribution under the current
// config and refreshes the multi-owner subset.
func (s *Session) syncPool() {
	for _, e := range s.conns.Roster() {
		p, ok := s.conns.lookup(e.PlayerID)
		if !ok {
			continue
		}
		items := library.Contribution(s.libraries[e.PlayerID], s.config, p.ExplicitContentAllowed)
		p.Contributed = library.IDs(items)
		s.engine.SetContribution(e.PlayerID, p.Contributed)
	}
	s.engine.RebuildMultiOwnerPool()
}

func (s *Session) resendRoundTo(playerID string) {
	item, ok := s.round.CurrentItem()
	if !ok {
		return
	}
	s.publish(internal.MsgCurrentItem, []string{playerID}, item)
	s.publish(internal.MsgHasItemRequest, []string{playerID}, internal.HasItemRequestData{
		RoundNumber: s.roundNumber,
		ItemID:      item.ID,
	})
}

func (s *Session) isSelectable(playerID string) bool {
	_, blocked := s.notSelectable[playerID]
	return !blocked
}

func (s *Session) readyCount(set map[string]struct{}) int {
	n := 0
	for _, e := range s.conns.Roster() {
		if _, ok := set[e.PlayerID]; ok {
			n++
		}
	}
	return n
}

func (s *Session) touch() { s.lastActive = s.now() }

func (s *Session) publish(msgType string, targets []string, payload any) {
	s.bus.Publish(Event{SessionID: s.id, Type: msgType, Targets: targets, Payload: payload})
}

func (s *Session) publishSnapshot() {
	s.publish(internal.MsgSessionState, nil, s.Snapshot())
}

func (s *Session) publishError(err error) {
	s.publish(internal.MsgSessionError, nil, internal.SessionErrorData{Message: err.Error()})
}

func hasItems(lib internal.Library) bool {
	return len(lib.Liked) > 0 || len(lib.Top) > 0 || len(lib.Collections) > 0
}
