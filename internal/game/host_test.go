package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/whosetrack-backend/internal"
)

func fastOptions() Options {
	return Options{
		RoundDuration: 50 * time.Millisecond,
		WinScore:      30,
		AckTimeout:    50 * time.Millisecond,
		VoteGrace:     50 * time.Millisecond,
		MaxPlayers:    8,
	}
}

func startHost(t *testing.T, opts Options) *Host {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHost("HOST01", opts, internal.DefaultGameConfig(), Deps{})
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func hostJoin(t *testing.T, h *Host, id string) {
	t.Helper()
	err := h.Call(context.Background(), func(s *Session) error {
		_, err := s.Connect(ConnectRequest{ClientID: clientID(id), PlayerID: id, Handle: id}, likedLibrary("host", 6))
		return err
	})
	require.NoError(t, err)
}

func TestHostRunsRoundOnRealTimers(t *testing.T) {
	h := startHost(t, fastOptions())
	sub := h.Bus().Subscribe(256)

	hostJoin(t, h, "a")
	hostJoin(t, h, "b")
	assert.Equal(t, 2, h.Status().Players)
	assert.True(t, h.Status().Joinable)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, h.Do(func(s *Session) { _ = s.OnPlayerReadyToAdvance(id) }))
	}

	// Nobody answers, so the round, grace and ack timers all have to run out.
	require.Eventually(t, func() bool {
		return h.Status().State == internal.StateWaitingToAdvance
	}, 2*time.Second, 10*time.Millisecond)

	var sawResults bool
	for len(sub.C) > 0 {
		if e := <-sub.C; e.Type == internal.MsgRoundResults {
			sawResults = true
		}
	}
	assert.True(t, sawResults)

	snap, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RoundNumber)
}

func TestHostCallReturnsHandlerError(t *testing.T) {
	h := startHost(t, fastOptions())
	hostJoin(t, h, "a")

	err := h.Call(context.Background(), func(s *Session) error {
		_, err := s.Connect(ConnectRequest{ClientID: "second", PlayerID: "a"}, internal.Library{})
		return err
	})
	assert.True(t, errors.Is(err, ErrDuplicateConnection))
}

func TestHostClosed(t *testing.T) {
	h := NewHost("HOST02", fastOptions(), internal.DefaultGameConfig(), Deps{})
	go h.Run(context.Background())
	h.Close()
	<-h.Done()

	assert.ErrorIs(t, h.Do(func(*Session) {}), ErrHostClosed)
	_, err := h.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrHostClosed)
}
