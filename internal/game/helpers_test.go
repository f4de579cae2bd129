package game

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/tracks"
)

type fakeTimer struct {
	kind    TimerKind
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeTimers struct {
	started []*fakeTimer
}

func (f *fakeTimers) Start(kind TimerKind, d time.Duration, fn func()) Timer {
	t := &fakeTimer{kind: kind, d: d, fn: fn}
	f.started = append(f.started, t)
	return t
}

func (f *fakeTimers) pending(kind TimerKind) *fakeTimer {
	for i := len(f.started) - 1; i >= 0; i-- {
		t := f.started[i]
		if t.kind == kind && !t.stopped && !t.fired {
			return t
		}
	}
	return nil
}

// fire runs the newest pending timer of kind as if it had expired.
func (f *fakeTimers) fire(t *testing.T, kind TimerKind) {
	t.Helper()
	timer := f.pending(kind)
	require.NotNil(t, timer, "no pending %s timer", kind)
	timer.fired = true
	timer.fn()
}

type fixture struct {
	t      *testing.T
	s      *Session
	timers *fakeTimers
	sub    *Subscription
}

func testOptions() Options {
	return Options{
		RoundDuration: 30 * time.Second,
		WinScore:      30,
		AckTimeout:    10 * time.Second,
		VoteGrace:     10 * time.Second,
		MaxPlayers:    8,
	}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	bus := NewBus()
	sub := bus.Subscribe(4096)
	t.Cleanup(sub.Close)

	catalog := tracks.NewMemoryCatalog()
	engine := tracks.NewEngine(catalog, tracks.NewUsedSet(0), tracks.Options{
		Rand: rand.New(rand.NewPCG(42, 7)),
	})
	timers := &fakeTimers{}
	s := NewSession("TEST01", opts, internal.DefaultGameConfig(), Deps{
		Engine:  engine,
		Catalog: catalog,
		Bus:     bus,
		Timers:  timers,
	})
	return &fixture{t: t, s: s, timers: timers, sub: sub}
}

func likedLibrary(prefix string, n int) internal.Library {
	lib := internal.Library{}
	for i := 0; i < n; i++ {
		lib.Liked = append(lib.Liked, internal.Item{
			ID:         fmt.Sprintf("%s-%02d", prefix, i),
			Name:       fmt.Sprintf("%s track %d", prefix, i),
			DurationMs: 200000,
		})
	}
	return lib
}

func clientID(playerID string) string { return "client-" + playerID }

func (f *fixture) join(playerID string, lib internal.Library) ConnectResult {
	f.t.Helper()
	res, err := f.s.Connect(ConnectRequest{
		ClientID: clientID(playerID),
		PlayerID: playerID,
		Handle:   strings.ToUpper(playerID),
	}, lib)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) joinShared(ids ...string) {
	f.t.Helper()
	for _, id := range ids {
		f.join(id, likedLibrary("shared", 10))
	}
}

func (f *fixture) readyAll(ids ...string) {
	f.t.Helper()
	for _, id := range ids {
		require.NoError(f.t, f.s.OnPlayerReadyToAdvance(id))
	}
}

func (f *fixture) owners() []string {
	f.t.Helper()
	item, ok := f.s.Round().CurrentItem()
	require.True(f.t, ok)
	return f.s.engine.Owners(item.ID)
}

// ackTruthfully answers the ownership question for each player the way an
// honest client would.
func (f *fixture) ackTruthfully(ids ...string) {
	f.t.Helper()
	owners := f.owners()
	for _, id := range ids {
		require.NoError(f.t, f.s.ReceiveOwnershipAck(id, slices.Contains(owners, id)))
	}
}

func (f *fixture) events() []Event {
	var out []Event
	for {
		select {
		case e := <-f.sub.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

func ofType(events []Event, msgType string) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == msgType {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) score(id string) int {
	return f.s.Connections().Player(id).Score
}
