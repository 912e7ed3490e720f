package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrsingh-rishi/voice-transcript/model"
	"github.com/mrsingh-rishi/voice-transcript/types"
)

// DeepgramLive streams audio to Deepgram's websocket API with diarization on
// and emits every final result as utterance events. Closing the audio channel
// finishes the stream: Deepgram flushes its last results and closes the
// socket, which ends the session.
type DeepgramLive struct {
	cfg    DeepgramConfig
	logger *zap.Logger
	audio  <-chan model.AudioChunk
	dialer *gws.Dialer

	mu       sync.Mutex
	conn     *gws.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool
}

type liveWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Speaker        *int    `json:"speaker,omitempty"`
}

// liveMessage is the subset of Deepgram's streaming response we use.
type liveMessage struct {
	Type        string  `json:"type"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string     `json:"transcript"`
			Confidence float64    `json:"confidence"`
			Words      []liveWord `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func NewDeepgramLive(cfg DeepgramConfig, audio <-chan model.AudioChunk, logger *zap.Logger) (*DeepgramLive, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key is required")
	}
	if audio == nil {
		return nil, fmt.Errorf("audio channel is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepgramLive{
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("engine", "deepgram-live")),
		audio:  audio,
		dialer: gws.DefaultDialer,
	}, nil
}

// Endpoint is the websocket URL including query parameters.
func (dg *DeepgramLive) Endpoint() string {
	params := url.Values{}
	params.Set("model", dg.cfg.Model)
	params.Set("encoding", dg.cfg.Encoding)
	params.Set("sample_rate", strconv.Itoa(dg.cfg.SampleRate))
	params.Set("channels", strconv.Itoa(dg.cfg.Channels))
	params.Set("language", dg.cfg.Language)
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	params.Set("diarize", "true")
	params.Set("vad_events", "true")
	return fmt.Sprintf("%s/v1/listen?%s", strings.TrimRight(dg.cfg.LiveURL, "/"), params.Encode())
}

func (dg *DeepgramLive) Start(ctx context.Context, emit func(types.RecognitionEvent)) error {
	dg.mu.Lock()
	defer dg.mu.Unlock()
	if dg.done != nil {
		return errors.New("deepgram stream already started")
	}

	header := http.Header{
		"Authorization": {fmt.Sprintf("Token %s", dg.cfg.APIKey)},
	}
	conn, _, err := dg.dialer.DialContext(ctx, dg.Endpoint(), header)
	if err != nil {
		dg.logger.Error("❌ Deepgram dial error", zap.Error(err))
		return fmt.Errorf("dial deepgram: %w", err)
	}
	dg.logger.Info("✅ Connected to Deepgram")

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	dg.conn = conn
	dg.cancel = cancel
	dg.done = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dg.writeLoop(gctx, conn) })
	g.Go(func() error { return dg.readLoop(conn, emit) })
	go func() {
		<-gctx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(dg.done)
		defer cancel()
		err := g.Wait()
		switch {
		case err == nil || errors.Is(err, errStreamClosed):
			emit(types.Stopped())
		case dg.stopping.Load() || parent.Err() != nil:
			emit(types.Canceled(err))
		default:
			dg.logger.Error("❌ Deepgram stream failed", zap.Error(err))
			emit(types.Failed(err))
		}
	}()
	return nil
}

// errStreamClosed ends the read loop when Deepgram closes the socket normally.
var errStreamClosed = errors.New("deepgram closed the stream")

// writeFrame reports ErrCloseSent as success: the read side owns the reason
// the connection ended.
func writeFrame(conn *gws.Conn, mt int, data []byte) error {
	if err := conn.WriteMessage(mt, data); err != nil && !errors.Is(err, gws.ErrCloseSent) {
		return err
	}
	return nil
}

func (dg *DeepgramLive) writeLoop(ctx context.Context, conn *gws.Conn) error {
	keepAlive := time.NewTicker(dg.cfg.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if err := writeFrame(conn, gws.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return fmt.Errorf("deepgram keepalive: %w", err)
			}
		case chunk, ok := <-dg.audio:
			if !ok {
				dg.logger.Debug("audio finished, closing deepgram stream")
				if err := writeFrame(conn, gws.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
					return fmt.Errorf("deepgram close stream: %w", err)
				}
				return nil
			}
			if len(chunk) == 0 {
				continue
			}
			if err := writeFrame(conn, gws.BinaryMessage, chunk); err != nil {
				return fmt.Errorf("deepgram write: %w", err)
			}
			keepAlive.Reset(dg.cfg.KeepAlive)
		}
	}
}

func (dg *DeepgramLive) readLoop(conn *gws.Conn, emit func(types.RecognitionEvent)) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if gws.IsCloseError(err, gws.CloseNormalClosure) {
				// cancels the write side too
				return errStreamClosed
			}
			return fmt.Errorf("deepgram read: %w", err)
		}
		for _, ev := range parseLiveMessage(message) {
			emit(ev)
		}
	}
}

// Stop tears the connection down and waits for both loops to exit.
func (dg *DeepgramLive) Stop(ctx context.Context) error {
	dg.mu.Lock()
	conn, cancel, done := dg.conn, dg.cancel, dg.done
	dg.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}
	dg.stopping.Store(true)
	_ = conn.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, "Closing connection"),
		time.Now().Add(time.Second))
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseLiveMessage decodes one websocket frame, which may hold a single
// response object or an array of them.
func parseLiveMessage(msg []byte) []types.RecognitionEvent {
	if len(msg) == 0 {
		return nil
	}

	var responses []liveMessage
	switch msg[0] {
	case '[':
		if err := json.Unmarshal(msg, &responses); err != nil {
			return nil
		}
	case '{':
		var resp liveMessage
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil
		}
		responses = append(responses, resp)
	default:
		return nil
	}

	var events []types.RecognitionEvent
	for _, resp := range responses {
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}
		if !resp.IsFinal {
			events = append(events, types.RecognitionEvent{Reason: types.ReasonRecognizing})
			continue
		}
		for _, u := range liveUtterances(resp) {
			events = append(events, types.Recognized(u))
		}
	}
	return events
}

// liveUtterances splits a final result into one utterance per run of words
// attributed to the same speaker.
func liveUtterances(resp liveMessage) []types.UtteranceEvent {
	if len(resp.Channel.Alternatives) == 0 {
		return nil
	}
	alt := resp.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return nil
	}

	diarized := false
	for _, w := range alt.Words {
		if w.Speaker != nil {
			diarized = true
			break
		}
	}
	if !diarized {
		return []types.UtteranceEvent{{
			Text:     alt.Transcript,
			Offset:   types.TicksFromSeconds(resp.Start),
			Duration: types.TicksFromSeconds(resp.Duration),
		}}
	}

	var (
		out   []types.UtteranceEvent
		words []string
		cur   string
		start float64
		end   float64
	)
	flush := func() {
		if len(words) == 0 {
			return
		}
		out = append(out, types.UtteranceEvent{
			SpeakerID: cur,
			Text:      strings.Join(words, " "),
			Offset:    types.TicksFromSeconds(start),
			Duration:  types.TicksFromSeconds(end - start),
		})
		words = words[:0]
	}
	for _, w := range alt.Words {
		speaker := ""
		if w.Speaker != nil {
			speaker = strconv.Itoa(*w.Speaker)
		}
		if len(words) > 0 && speaker != cur {
			flush()
		}
		if len(words) == 0 {
			cur = speaker
			start = w.Start
		}
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		words = append(words, text)
		end = w.End
	}
	flush()
	return out
}
