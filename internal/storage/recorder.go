package storage

import (
	"context"
	"log"
	"time"

	"github.com/scythe504/whosetrack-backend/internal"
	"github.com/scythe504/whosetrack-backend/internal/game"
)

const (
	recorderBuffer  = 64
	recorderTimeout = 5 * time.Second
)

// Sink is the subset of Store the recorder writes to.
type Sink interface {
	MarkTrackUsed(ctx context.Context, sessionID, trackID string, at time.Time) error
	SaveMatch(ctx context.Context, f internal.FinalStandings) error
}

// Recorder persists played tracks and finished matches from session events.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, now: time.Now}
}

// Attach follows host's events until its bus closes. The returned channel
// closes once the last event has been written.
func (r *Recorder) Attach(host *game.Host) <-chan struct{} {
	sub := host.Bus().Subscribe(recorderBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.C {
			r.record(e)
		}
	}()
	return done
}

func (r *Recorder) record(e game.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
	defer cancel()

	switch e.Type {
	case internal.MsgNewRound:
		data, ok := e.Payload.(internal.NewRoundData)
		if !ok {
			return
		}
		if err := r.sink.MarkTrackUsed(ctx, e.SessionID, data.Item.ID, r.now()); err != nil {
			log.Printf("[Recorder] session=%s: %v", e.SessionID, err)
		}
	case internal.MsgGameEnded:
		final, ok := e.Payload.(internal.FinalStandings)
		if !ok {
			return
		}
		if err := r.sink.SaveMatch(ctx, final); err != nil {
			log.Printf("[Recorder] session=%s: save match: %v", e.SessionID, err)
			return
		}
		log.Printf("[Recorder] session=%s: match saved (winner=%q)", e.SessionID, final.WinnerID)
	}
}
