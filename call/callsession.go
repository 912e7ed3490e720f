package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/model"
	"github.com/mrsingh-rishi/voice-transcript/output"
	"github.com/mrsingh-rishi/voice-transcript/transcript"
)

// twilioEvent is one frame of a Twilio media stream.
type twilioEvent struct {
	Event string `json:"event"` // "connected", "start", "media", "mark", "stop"
	Media struct {
		Payload string `json:"payload"` // base64 mulaw 8kHz
	} `json:"media"`
	Start struct {
		CallSid   string `json:"callSid"`
		StreamSid string `json:"streamSid"`
		// CustomParameters carries the TwiML <Parameter> values.
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
}

// MediaReader is the read half of the stream websocket.
type MediaReader interface {
	ReadMessage() (int, []byte, error)
}

// SourceFactory builds the recognition engine fed by a call's audio.
type SourceFactory func(audio <-chan model.AudioChunk) (transcript.EventSource, error)

// Call transcribes one Twilio media stream until the caller hangs up.
type Call struct {
	ws         MediaReader
	controller *transcript.Controller
	newSource  SourceFactory
	store      *output.Store
	style      transcript.Style
	logger     *zap.Logger

	audio     chan model.AudioChunk
	closeOnce sync.Once

	mu        sync.Mutex
	callSid   string
	streamSid string
}

func NewCall(ws MediaReader, controller *transcript.Controller, newSource SourceFactory, store *output.Store, style transcript.Style, logger *zap.Logger) (*Call, error) {
	if ws == nil || controller == nil || newSource == nil {
		return nil, errors.New("call: websocket, controller and source factory are required")
	}
	if _, err := transcript.ParseStyle(string(style)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Call{
		ws:         ws,
		controller: controller,
		newSource:  newSource,
		store:      store,
		style:      style,
		logger:     logger.With(zap.String("component", "call")),
		audio:      make(chan model.AudioChunk, 64),
	}, nil
}

// CallSid is empty until the stream's start frame arrives.
func (c *Call) CallSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callSid
}

// Style is the constructor default until the start frame names another.
func (c *Call) Style() transcript.Style {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.style
}

func (c *Call) start(ev twilioEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callSid, c.streamSid = ev.Start.CallSid, ev.Start.StreamSid
	if v, ok := ev.Start.CustomParameters["style"]; ok {
		style, err := transcript.ParseStyle(v)
		if err != nil {
			c.logger.Warn("ignoring stream style", zap.String("style", v), zap.Error(err))
			return
		}
		c.style = style
	}
}

// Run waits for the stream's start frame, forwards audio until the stream
// stops, then waits for the transcript and saves it when a store is
// configured. The returned record is zero if nothing was saved.
func (c *Call) Run(ctx context.Context) (*transcript.Result, model.TranscriptRecord, error) {
	if !c.awaitStart() {
		c.logger.Info("media stream ended before it started")
		return nil, model.TranscriptRecord{}, transcript.ErrNoSpeechRecognized
	}

	source, err := c.newSource(c.audio)
	if err != nil {
		return nil, model.TranscriptRecord{}, fmt.Errorf("call: create source: %w", err)
	}

	type outcome struct {
		res *transcript.Result
		err error
	}
	done := make(chan outcome, 1)
	finished := make(chan struct{})
	style := c.Style()
	go func() {
		defer close(finished)
		res, err := c.controller.Run(ctx, style, source)
		done <- outcome{res, err}
	}()

	c.receiveAudio(ctx, finished)
	c.closeAudio()

	o := <-done
	if o.err != nil && !errors.Is(o.err, transcript.ErrNoSpeechRecognized) {
		return o.res, model.TranscriptRecord{}, o.err
	}
	if o.res == nil || o.res.Text == "" || c.store == nil {
		return o.res, model.TranscriptRecord{}, o.err
	}

	name := c.CallSid()
	if name == "" {
		name = o.res.SessionID
	}
	rec, err := c.store.Save("call-"+name, o.res)
	if err != nil {
		return o.res, model.TranscriptRecord{}, err
	}
	return o.res, rec, nil
}

func (c *Call) closeAudio() {
	c.closeOnce.Do(func() { close(c.audio) })
}

// next returns the following well-formed frame, or false once the socket
// can no longer be read.
func (c *Call) next() (twilioEvent, bool) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("media stream closed")
			} else {
				c.logger.Warn("media stream read failed", zap.Error(err))
			}
			return twilioEvent{}, false
		}
		var ev twilioEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.logger.Warn("bad media frame", zap.Error(err))
			continue
		}
		return ev, true
	}
}

func (c *Call) decode(ev twilioEvent) (model.AudioChunk, bool) {
	chunk, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
	if err != nil {
		c.logger.Warn("base64 decode failed", zap.Error(err))
		return nil, false
	}
	return chunk, true
}

// awaitStart consumes frames up to the start frame. Audio that arrives first
// starts the session with the default style and is kept.
func (c *Call) awaitStart() bool {
	for {
		ev, ok := c.next()
		if !ok {
			return false
		}
		switch ev.Event {
		case "start":
			c.start(ev)
			c.logger.Info("stream started",
				zap.String("call_sid", ev.Start.CallSid),
				zap.String("stream_sid", ev.Start.StreamSid),
				zap.String("style", string(c.Style())),
			)
			return true
		case "media":
			c.logger.Warn("media before start frame")
			if chunk, ok := c.decode(ev); ok {
				c.audio <- chunk
			}
			return true
		case "stop":
			return false
		}
	}
}

// receiveAudio returns on the stop frame, a read error, ctx cancellation or
// the session ending on its own.
func (c *Call) receiveAudio(ctx context.Context, finished <-chan struct{}) {
	for {
		ev, ok := c.next()
		if !ok {
			return
		}

		switch ev.Event {
		case "connected", "mark":
		case "start":
			c.logger.Warn("duplicate start frame", zap.String("stream_sid", ev.Start.StreamSid))
		case "media":
			chunk, ok := c.decode(ev)
			if !ok {
				continue
			}
			select {
			case c.audio <- chunk:
			case <-ctx.Done():
				return
			case <-finished:
				c.logger.Warn("session ended before the stream stopped")
				return
			}
		case "stop":
			c.logger.Info("stream stopped", zap.String("call_sid", c.CallSid()))
			return
		default:
			c.logger.Debug("unknown stream event", zap.String("event", ev.Event))
		}
	}
}
