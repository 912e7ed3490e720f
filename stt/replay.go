package stt

import (
	"context"
	"errors"
	"sync"

	"github.com/mrsingh-rishi/voice-transcript/types"
)

// Replay delivers a fixed list of events from a background goroutine, the way
// a live engine would. A clean stop is appended unless the list already ends
// the session.
type Replay struct {
	events []types.RecognitionEvent

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReplay(events ...types.RecognitionEvent) *Replay {
	return &Replay{events: events}
}

// NewUtteranceReplay replays utterances as recognized speech.
func NewUtteranceReplay(utterances ...types.UtteranceEvent) *Replay {
	events := make([]types.RecognitionEvent, 0, len(utterances))
	for _, u := range utterances {
		events = append(events, types.Recognized(u))
	}
	return NewReplay(events...)
}

func (r *Replay) Start(ctx context.Context, emit func(types.RecognitionEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("replay already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for _, ev := range r.events {
			if ctx.Err() != nil {
				emit(types.Canceled(ctx.Err()))
				return
			}
			emit(ev)
			if ev.Reason.Terminal() {
				return
			}
		}
		emit(types.Stopped())
	}()
	return nil
}

func (r *Replay) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
