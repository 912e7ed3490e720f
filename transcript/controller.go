package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/queue"
	"github.com/mrsingh-rishi/voice-transcript/types"
)

// EventSource is a recognition engine. Start begins delivery of events through
// emit, which may be called from any goroutine. The engine must eventually emit
// a terminal event. Stop asks the engine to shut down and returns once it has.
type EventSource interface {
	Start(ctx context.Context, emit func(types.RecognitionEvent)) error
	Stop(ctx context.Context) error
}

// Observer receives session lifecycle notifications, e.g. for metrics.
type Observer interface {
	SessionStarted()
	UtteranceAccepted(newSegment bool)
	UtteranceSkipped(reason string)
	SessionFinished(style string, reason string, segments int, elapsed time.Duration)
}

type State int32

const (
	StateIdle State = iota
	StateListening
	StateStopping
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateDone:
		return "done"
	}
	return "unknown"
}

type Config struct {
	// PauseThreshold is the longest silence that still continues a turn.
	PauseThreshold time.Duration
	// StopTimeout bounds the wait for the engine to acknowledge Stop.
	StopTimeout time.Duration
	// MaxSessionDuration ends a session that never receives a terminal
	// event. Zero disables the bound.
	MaxSessionDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		PauseThreshold: DefaultPauseThreshold.Duration(),
		StopTimeout:    10 * time.Second,
	}
}

// Result is the outcome of one session.
type Result struct {
	SessionID  string
	Style      Style
	Text       string
	Segments   []Segment
	Speakers   int
	Accepted   int
	Skipped    int
	StopReason types.Reason
	EngineErr  error
	Elapsed    time.Duration
}

// Abnormal reports whether the session ended any other way than a clean stop.
func (r *Result) Abnormal() bool {
	return r.StopReason != types.ReasonSessionStopped
}

// Controller drives one recognition session at a time through
// idle -> listening -> stopping -> done.
type Controller struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer

	active atomic.Bool
	state  atomic.Int32
}

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

func NewController(cfg Config, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = def.PauseThreshold
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	c := &Controller{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "transcript")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports where the current (or last) session is in its lifecycle.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// ProduceTranscript runs a session and returns only the transcript text.
func (c *Controller) ProduceTranscript(ctx context.Context, style Style, source EventSource) (string, error) {
	res, err := c.Run(ctx, style, source)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Run consumes source until it signals the end of the session and assembles the
// transcript. Cancellation and engine errors still yield the partial transcript;
// the returned Result records why the session stopped. A session that accepted
// nothing returns ErrNoSpeechRecognized alongside the Result.
func (c *Controller) Run(ctx context.Context, style Style, source EventSource) (*Result, error) {
	if !style.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStyle, style)
	}
	if source == nil {
		return nil, errors.New("event source is required")
	}
	if !c.active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	defer c.active.Store(false)

	started := time.Now()
	res := &Result{SessionID: uuid.NewString(), Style: style}
	log := c.logger.With(zap.String("session_id", res.SessionID), zap.String("style", string(style)))

	session := NewSession(types.TicksFromDuration(c.cfg.PauseThreshold))
	inbox := queue.New[types.RecognitionEvent]()

	c.state.Store(int32(StateListening))
	log.Debug("starting continuous recognition")
	if err := source.Start(ctx, inbox.Enqueue); err != nil {
		c.state.Store(int32(StateIdle))
		return nil, fmt.Errorf("start recognition: %w", err)
	}
	if c.observer != nil {
		c.observer.SessionStarted()
	}

	res.StopReason, res.EngineErr = c.listen(ctx, inbox, session, res, log)

	c.state.Store(int32(StateStopping))
	log.Debug("recognition stopped", zap.String("reason", string(res.StopReason)), zap.Error(res.EngineErr))
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StopTimeout)
	if err := source.Stop(stopCtx); err != nil {
		log.Warn("engine did not acknowledge stop", zap.Error(err))
	}
	cancel()
	if n := inbox.Len(); n > 0 {
		log.Debug("applying events queued after stop", zap.Int("pending", n))
	}
	c.flush(inbox, session, res, log)

	c.state.Store(int32(StateDone))
	res.Segments = session.Segments()
	res.Speakers = session.SpeakerCount()
	res.Elapsed = time.Since(started)
	if c.observer != nil {
		c.observer.SessionFinished(string(style), string(res.StopReason), len(res.Segments), res.Elapsed)
	}

	text, err := session.Transcript(style)
	if err != nil {
		log.Info("session produced no transcript", zap.Error(err))
		return res, err
	}
	res.Text = text
	log.Info("transcription completed",
		zap.Int("segments", len(res.Segments)),
		zap.Int("speakers", res.Speakers),
		zap.Int("skipped", res.Skipped),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (c *Controller) listen(ctx context.Context, inbox *queue.Queue[types.RecognitionEvent], session *Session, res *Result, log *zap.Logger) (types.Reason, error) {
	var deadline <-chan time.Time
	if c.cfg.MaxSessionDuration > 0 {
		timer := time.NewTimer(c.cfg.MaxSessionDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return types.ReasonCanceled, ctx.Err()
		case <-deadline:
			return types.ReasonCanceled, ErrSessionTimeout
		case <-inbox.Ready():
			for {
				ev, ok := inbox.Dequeue()
				if !ok {
					break
				}
				if ev.Reason.Terminal() {
					return ev.Reason, ev.Err
				}
				c.handle(ev, session, res, log)
			}
		}
	}
}

// flush applies recognized events that were still queued when the session
// stopped.
func (c *Controller) flush(inbox *queue.Queue[types.RecognitionEvent], session *Session, res *Result, log *zap.Logger) {
	for {
		ev, ok := inbox.Dequeue()
		if !ok {
			return
		}
		if ev.Reason == types.ReasonRecognized {
			c.handle(ev, session, res, log)
		}
	}
}

func (c *Controller) handle(ev types.RecognitionEvent, session *Session, res *Result, log *zap.Logger) {
	if ev.Reason != types.ReasonRecognized || ev.Utterance == nil {
		return
	}
	u := *ev.Utterance
	opened, err := session.Accept(u)
	switch {
	case errors.Is(err, ErrEmptyUtterance):
		return
	case err != nil:
		res.Skipped++
		log.Warn("skipping utterance", zap.Error(err), zap.String("speaker_id", u.SpeakerID))
		if c.observer != nil {
			c.observer.UtteranceSkipped("malformed")
		}
		return
	}
	res.Accepted++
	if c.observer != nil {
		c.observer.UtteranceAccepted(opened)
	}
	log.Debug("recognized chunk",
		zap.String("speaker", session.Registry().LabelFor(u.Speaker())),
		zap.String("text", u.Text),
		zap.Bool("new_segment", opened))
}
