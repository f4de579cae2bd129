package game

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/scythe504/whosetrack-backend/internal"
)

// =============================================================================
// TIMER MANAGEMENT
// =============================================================================

type TimerKind string

const (
	TimerRound     TimerKind = "round"
	TimerVoteGrace TimerKind = "vote_grace"
	TimerAckWait   TimerKind = "ack_wait"
)

type Timer interface {
	// Stop reports whether the timer was still pending.
	Stop() bool
}

// TimerFactory starts timers whose expiry callback runs on the host's
// queue, never concurrently with another handler.
type TimerFactory interface {
	Start(kind TimerKind, d time.Duration, onExpire func()) Timer
}

// PhaseTimer counts down a duration, calling onTick on every interval and
// onExpire once if it runs out before Stop.
type PhaseTimer struct {
	start    time.Time
	duration time.Duration
	cancel   context.CancelFunc

	mu      sync.Mutex
	stopped bool
	fired   bool
}

func StartPhaseTimer(d, interval time.Duration, onTick func(remaining time.Duration), onExpire func()) *PhaseTimer {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t := &PhaseTimer{start: time.Now(), duration: d, cancel: cancel}

	go func() {
		var tickC <-chan time.Time
		if onTick != nil && interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tickC = ticker.C
		}

		for {
			select {
			case <-tickC:
				onTick(t.Remaining())
			case <-ctx.Done():
				if ctx.Err() != context.DeadlineExceeded {
					return
				}
				t.mu.Lock()
				run := !t.stopped
				t.fired = run
				t.mu.Unlock()
				if run {
					onExpire()
				}
				return
			}
		}
	}()
	return t
}

func (t *PhaseTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.cancel()
	return true
}

func (t *PhaseTimer) Remaining() time.Duration {
	return max(t.duration-time.Since(t.start), 0)
}

// hostTimers posts expiries back onto the host queue and streams
// timer_update events while the round timer runs.
type hostTimers struct {
	sessionID string
	bus       *Bus
	post      func(func()) error
	interval  time.Duration
}

func (h *hostTimers) Start(kind TimerKind, d time.Duration, onExpire func()) Timer {
	log.Printf("[StartPhaseTimer] session=%s kind=%s duration=%v", h.sessionID, kind, d)

	var onTick func(time.Duration)
	if kind == TimerRound {
		onTick = func(remaining time.Duration) {
			h.bus.Publish(Event{
				SessionID: h.sessionID,
				Type:      internal.MsgTimerUpdate,
				Payload: internal.TimerUpdateData{
					TimeRemaining: remaining.Milliseconds(),
					State:         internal.StateGuessing,
					IsActive:      remaining > 0,
				},
			})
		}
	}

	return StartPhaseTimer(d, h.interval, onTick, func() {
		if err := h.post(onExpire); err != nil {
			log.Printf("[StartPhaseTimer] session=%s kind=%s: expiry dropped: %v", h.sessionID, kind, err)
		}
	})
}
