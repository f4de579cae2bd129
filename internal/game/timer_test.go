package game

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseTimerExpires(t *testing.T) {
	expired := make(chan struct{})
	var ticks atomic.Int32

	timer := StartPhaseTimer(60*time.Millisecond, 10*time.Millisecond,
		func(time.Duration) { ticks.Add(1) },
		func() { close(expired) })

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never expired")
	}
	assert.False(t, timer.Stop())
	assert.Positive(t, ticks.Load())
	assert.Zero(t, timer.Remaining())
}

func TestPhaseTimerStop(t *testing.T) {
	var fired atomic.Bool
	timer := StartPhaseTimer(50*time.Millisecond, 0, nil, func() { fired.Store(true) })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	time.Sleep(120 * time.Millisecond)
	assert.False(t, fired.Load())
}
