package stt

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/types"
)

// batchSource adapts a request/response recognizer to the push-style event
// source contract: the request runs in the background and its utterances are
// emitted followed by a clean stop.
type batchSource struct {
	name   string
	logger *zap.Logger
	fetch  func(ctx context.Context) ([]types.UtteranceEvent, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (b *batchSource) Start(ctx context.Context, emit func(types.RecognitionEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return errors.New(b.name + " recognition already started")
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		utterances, err := b.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				emit(types.Canceled(err))
				return
			}
			b.logger.Error("recognition failed", zap.String("engine", b.name), zap.Error(err))
			emit(types.Failed(err))
			return
		}
		b.logger.Debug("recognition finished", zap.String("engine", b.name), zap.Int("utterances", len(utterances)))
		for _, u := range utterances {
			emit(types.Recognized(u))
		}
		emit(types.Stopped())
	}()
	return nil
}

func (b *batchSource) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
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

// baseLanguage turns a locale such as "en-US" into the ISO-639-1 code some
// engines expect.
func baseLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
