package game

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scythe504/whosetrack-backend/internal"
)

const (
	inboxSize         = 64
	TimerTickInterval = time.Second
)

// HostStatus is a read-only summary refreshed after every handler, so
// other goroutines can inspect a session without entering its queue.
type HostStatus struct {
	State      internal.GameState
	Players    int
	Connected  int
	Joinable   bool
	LastActive time.Time
}

// Host owns a Session and serializes every mutation through one inbound
// queue. Handlers run to completion before the next is dequeued.
type Host struct {
	id      string
	session *Session
	inbox   chan func(*Session)
	done    chan struct{}
	once    sync.Once
	status  atomic.Pointer[HostStatus]
}

func NewHost(id string, opts Options, cfg internal.GameConfig, deps Deps) *Host {
	h := &Host{
		id:    id,
		inbox: make(chan func(*Session), inboxSize),
		done:  make(chan struct{}),
	}
	if deps.Bus == nil {
		deps.Bus = NewBus()
	}
	if deps.Timers == nil {
		deps.Timers = &hostTimers{
			sessionID: id,
			bus:       deps.Bus,
			post:      h.post,
			interval:  TimerTickInterval,
		}
	}
	h.session = NewSession(id, opts, cfg, deps)
	h.refreshStatus()
	return h
}

func (h *Host) ID() string { return h.id }
func (h *Host) Bus() *Bus  { return h.session.Bus() }
func (h *Host) Status() HostStatus {
	return *h.status.Load()
}

// Run drains the inbox until ctx is cancelled or Close is called.
func (h *Host) Run(ctx context.Context) {
	log.Printf("[Host.Run] session=%s: started", h.id)
	defer func() {
		h.session.Close()
		log.Printf("[Host.Run] session=%s: stopped", h.id)
	}()

	for {
		select {
		case fn := <-h.inbox:
			fn(h.session)
			h.refreshStatus()
		case <-ctx.Done():
			h.Close()
			return
		case <-h.done:
			return
		}
	}
}

// Do queues fn without waiting for it to run.
func (h *Host) Do(fn func(*Session)) error {
	select {
	case <-h.done:
		return ErrHostClosed
	default:
	}
	select {
	case h.inbox <- fn:
		return nil
	case <-h.done:
		return ErrHostClosed
	}
}

// Call queues fn and waits for its result.
func (h *Host) Call(ctx context.Context, fn func(*Session) error) error {
	result := make(chan error, 1)
	err := h.Do(func(s *Session) {
		err := fn(s)
		h.refreshStatus()
		result <- err
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHostClosed
	}
}

func (h *Host) Snapshot(ctx context.Context) (internal.SessionSnapshot, error) {
	var snap internal.SessionSnapshot
	err := h.Call(ctx, func(s *Session) error {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

func (h *Host) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *Host) Done() <-chan struct{} { return h.done }

func (h *Host) post(fn func()) error {
	return h.Do(func(*Session) { fn() })
}

func (h *Host) refreshStatus() {
	s := h.session
	h.status.Store(&HostStatus{
		State:      s.State(),
		Players:    len(s.conns.players),
		Connected:  s.conns.ConnectedCount(),
		Joinable:   s.Joinable(),
		LastActive: s.LastActive(),
	})
}
