package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/tracks"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(ctx, RegistryConfig{Options: testOptions(), Used: tracks.NewUsedSet(time.Hour)})
	t.Cleanup(func() {
		r.Close()
		cancel()
	})
	return r
}

func TestRegistryCreateAndGet(t *testing.T) {
	var created []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRegistry(ctx, RegistryConfig{
		Options:  testOptions(),
		OnCreate: func(h *Host) { created = append(created, h.ID()) },
	})
	defer r.Close()

	h, err := r.Create(internal.DefaultGameConfig())
	require.NoError(t, err)
	assert.Len(t, h.ID(), sessionCodeLength)
	assert.Equal(t, []string{h.ID()}, created)

	got, ok := r.Get(h.ID())
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Equal(t, 1, r.Len())

	_, err = r.Create(internal.GameConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryJoinable(t *testing.T) {
	r := newTestRegistry(t)

	_, ok := r.Joinable()
	assert.False(t, ok)

	h, err := r.Create(internal.DefaultGameConfig())
	require.NoError(t, err)

	id, ok := r.Joinable()
	require.True(t, ok)
	assert.Equal(t, h.ID(), id)

	r.Remove(h.ID())
	<-h.Done()
	_, ok = r.Get(h.ID())
	assert.False(t, ok)
	_, ok = r.Joinable()
	assert.False(t, ok)
}

func TestRegistryReapsIdleSessions(t *testing.T) {
	r := newTestRegistry(t)

	idle, err := r.Create(internal.DefaultGameConfig())
	require.NoError(t, err)
	busy, err := r.Create(internal.DefaultGameConfig())
	require.NoError(t, err)
	hostJoin(t, busy, "a")

	time.Sleep(20 * time.Millisecond)
	reaped := r.Reap(10 * time.Millisecond)

	assert.Equal(t, []string{idle.ID()}, reaped)
	<-idle.Done()
	_, ok := r.Get(busy.ID())
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}
