package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/stt"
	"github.com/mrsingh-rishi/voice-transcript/types"
)

// manualSource hands the emit callback to the test and records Stop calls.
type manualSource struct {
	startErr error
	emitCh   chan func(types.RecognitionEvent)
	stopped  atomic.Int32
}

func newManualSource() *manualSource {
	return &manualSource{emitCh: make(chan func(types.RecognitionEvent), 1)}
}

func (m *manualSource) Start(ctx context.Context, emit func(types.RecognitionEvent)) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.emitCh <- emit
	return nil
}

func (m *manualSource) Stop(ctx context.Context) error {
	m.stopped.Add(1)
	return nil
}

func (m *manualSource) emitter(t *testing.T) func(types.RecognitionEvent) {
	t.Helper()
	select {
	case emit := <-m.emitCh:
		return emit
	case <-time.After(5 * time.Second):
		t.Fatal("source was never started")
		return nil
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	accepted int
	opened   int
	skipped  int
	finished []string
}

func (o *recordingObserver) SessionStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) UtteranceAccepted(newSegment bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accepted++
	if newSegment {
		o.opened++
	}
}

func (o *recordingObserver) UtteranceSkipped(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped++
}

func (o *recordingObserver) SessionFinished(style, reason string, segments int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, fmt.Sprintf("%s/%s/%d", style, reason, segments))
}

func newTestController(cfg Config, opts ...Option) *Controller {
	return NewController(cfg, zap.NewNop(), opts...)
}

func TestController_ProduceTranscript_Clean(t *testing.T) {
	c := newTestController(DefaultConfig())

	out, err := c.ProduceTranscript(context.Background(), StyleClean, stt.NewUtteranceReplay(threeUtterances()...))
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1: Hello there.\nSpeaker 1: How are you\nSpeaker 2: I am fine.", out)
	assert.Equal(t, StateDone, c.State())
}

func TestController_Run_Result(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestController(DefaultConfig(), WithObserver(obs))

	events := append(threeUtterances(),
		utt("S2", "Thanks", 30_000_000, 10_000_000),
		utt("S3", "bad", types.MissingTicks, 1),
		utt("S1", "", 40_000_000, 1),
	)
	res, err := c.Run(context.Background(), StyleTimestamps, stt.NewUtteranceReplay(events...))
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, types.ReasonSessionStopped, res.StopReason)
	assert.False(t, res.Abnormal())
	assert.Len(t, res.Segments, 4)
	assert.Equal(t, 2, res.Speakers)
	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, 1, res.Skipped)
	assert.Contains(t, res.Text, "Multiple Speakers Transcription:")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 4, obs.accepted)
	assert.Equal(t, 4, obs.opened)
	assert.Equal(t, 1, obs.skipped)
	assert.Equal(t, []string{"timestamps/session_stopped/4"}, obs.finished)
}

func TestController_EmptyStream(t *testing.T) {
	c := newTestController(DefaultConfig())

	res, err := c.Run(context.Background(), StyleVerbatim, stt.NewReplay())
	assert.ErrorIs(t, err, ErrNoSpeechRecognized)
	require.NotNil(t, res)
	assert.Equal(t, types.ReasonSessionStopped, res.StopReason)
	assert.Empty(t, res.Text)

	_, err = c.ProduceTranscript(context.Background(), StyleClean, stt.NewUtteranceReplay(utt("A", "  ", 0, 1)))
	assert.ErrorIs(t, err, ErrNoSpeechRecognized)
}

func TestController_EngineFailureKeepsPartialTranscript(t *testing.T) {
	boom := errors.New("connection reset")
	c := newTestController(DefaultConfig())

	res, err := c.Run(context.Background(), StyleClean, stt.NewReplay(
		types.Recognized(utt("S1", "Before the failure.", 0, second)),
		types.RecognitionEvent{Reason: types.ReasonRecognizing},
		types.Failed(boom),
	))
	require.NoError(t, err)
	assert.True(t, res.Abnormal())
	assert.Equal(t, types.ReasonError, res.StopReason)
	assert.ErrorIs(t, res.EngineErr, boom)
	assert.Equal(t, "Speaker 1: Before the failure.", res.Text)
}

func TestController_CanceledBehavesLikeStop(t *testing.T) {
	c := newTestController(DefaultConfig())

	res, err := c.Run(context.Background(), StyleVerbatim, stt.NewReplay(
		types.Recognized(utt("S1", "partial", 0, second)),
		types.Canceled(nil),
	))
	require.NoError(t, err)
	assert.Equal(t, types.ReasonCanceled, res.StopReason)
	assert.Equal(t, "Single Speaker Transcription:\n[00:00:00]\npartial", res.Text)
}

func TestController_ContextCancelStopsSource(t *testing.T) {
	c := newTestController(DefaultConfig())
	src := newManualSource()
	ctx, cancel := context.WithCancel(context.Background())

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Run(ctx, StyleClean, src)
		done <- outcome{res, err}
	}()

	emit := src.emitter(t)
	emit(types.Recognized(utt("S1", "still talking", 0, second)))
	require.Eventually(t, func() bool { return c.State() == StateListening }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	var o outcome
	select {
	case o = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	require.NoError(t, o.err)
	assert.Equal(t, types.ReasonCanceled, o.res.StopReason)
	assert.ErrorIs(t, o.res.EngineErr, context.Canceled)
	assert.Equal(t, "Speaker 1: still talking", o.res.Text)
	assert.Equal(t, int32(1), src.stopped.Load())
}

func TestController_MaxSessionDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessionDuration = 50 * time.Millisecond
	c := newTestController(cfg)
	src := newManualSource()

	go func() {
		emit := src.emitter(t)
		emit(types.Recognized(utt("S1", "hello", 0, second)))
	}()

	res, err := c.Run(context.Background(), StyleClean, src)
	require.NoError(t, err)
	assert.ErrorIs(t, res.EngineErr, ErrSessionTimeout)
	assert.Equal(t, "Speaker 1: hello", res.Text)
}

func TestController_SerializesConcurrentCallbacks(t *testing.T) {
	c := newTestController(DefaultConfig())
	src := newManualSource()

	const producers, perProducer = 8, 50
	go func() {
		emit := src.emitter(t)
		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < perProducer; i++ {
					emit(types.Recognized(utt(fmt.Sprintf("spk-%d", p), "word.", types.Ticks(i)*second, second)))
				}
			}(p)
		}
		wg.Wait()
		emit(types.Stopped())
	}()

	res, err := c.Run(context.Background(), StyleClean, src)
	require.NoError(t, err)
	assert.Equal(t, producers*perProducer, res.Accepted)
	assert.Len(t, res.Segments, producers*perProducer)
	assert.Equal(t, producers, res.Speakers)
}

func TestController_OneSessionAtATime(t *testing.T) {
	c := newTestController(DefaultConfig())
	src := newManualSource()

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), StyleClean, src)
		done <- err
	}()
	emit := src.emitter(t)

	_, err := c.Run(context.Background(), StyleClean, stt.NewReplay())
	assert.ErrorIs(t, err, ErrSessionActive)

	emit(types.Recognized(utt("A", "hi", 0, 1)))
	emit(types.Stopped())
	require.NoError(t, <-done)

	_, err = c.ProduceTranscript(context.Background(), StyleClean, stt.NewUtteranceReplay(utt("A", "again", 0, 1)))
	assert.NoError(t, err)
}

func TestController_SessionsAreIsolated(t *testing.T) {
	c := newTestController(DefaultConfig())

	first, err := c.ProduceTranscript(context.Background(), StyleClean, stt.NewUtteranceReplay(
		utt("X", "one.", 0, 1), utt("Y", "two.", 1, 1)))
	require.NoError(t, err)
	assert.Contains(t, first, "Speaker 2: two.")

	second, err := c.ProduceTranscript(context.Background(), StyleClean, stt.NewUtteranceReplay(utt("Y", "fresh", 0, 1)))
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1: fresh", second)
}

func TestController_Validation(t *testing.T) {
	c := newTestController(Config{})

	_, err := c.Run(context.Background(), Style("karaoke"), stt.NewReplay())
	assert.ErrorIs(t, err, ErrUnknownStyle)

	_, err = c.Run(context.Background(), StyleClean, nil)
	assert.Error(t, err)

	src := newManualSource()
	src.startErr = errors.New("no credentials")
	_, err = c.Run(context.Background(), StyleClean, src)
	assert.ErrorIs(t, err, src.startErr)
	assert.Equal(t, StateIdle, c.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "unknown", State(42).String())
}
