package types

import (
	"math"
	"strings"
	"time"
)

// Ticks counts time in 100 nanosecond units, the resolution recognition
// engines report offsets and durations in.
type Ticks int64

const (
	TicksPerSecond      Ticks = 10_000_000
	TicksPerMillisecond Ticks = 10_000

	// MissingTicks marks an offset or duration the engine did not report.
	MissingTicks Ticks = -1
)

// UnknownSpeaker is used when the engine does not attribute an utterance.
const UnknownSpeaker = "Unknown"

// TicksFromDuration converts a time.Duration into ticks.
func TicksFromDuration(d time.Duration) Ticks {
	return Ticks(d / 100)
}

// TicksFromSeconds converts fractional seconds, as most JSON APIs report
// them, into ticks.
func TicksFromSeconds(sec float64) Ticks {
	return Ticks(math.Round(sec * float64(TicksPerSecond)))
}

func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * 100
}

// UtteranceEvent is one recognized chunk of speech.
type UtteranceEvent struct {
	SpeakerID string
	Text      string
	Offset    Ticks
	Duration  Ticks
}

// Speaker returns the speaker id with absent ids normalized to UnknownSpeaker.
func (u UtteranceEvent) Speaker() string {
	id := strings.TrimSpace(u.SpeakerID)
	if id == "" {
		return UnknownSpeaker
	}
	return id
}

// End is the tick at which the utterance stops.
func (u UtteranceEvent) End() Ticks {
	return u.Offset + u.Duration
}

// Timed reports whether both offset and duration are present.
func (u UtteranceEvent) Timed() bool {
	return u.Offset >= 0 && u.Duration >= 0
}

// Reason tags why an engine delivered a RecognitionEvent.
type Reason string

const (
	ReasonRecognized     Reason = "recognized"
	ReasonRecognizing    Reason = "recognizing"
	ReasonSessionStopped Reason = "session_stopped"
	ReasonCanceled       Reason = "canceled"
	ReasonError          Reason = "error"
)

// Terminal reports whether the reason ends a recognition session.
func (r Reason) Terminal() bool {
	switch r {
	case ReasonSessionStopped, ReasonCanceled, ReasonError:
		return true
	}
	return false
}

// RecognitionEvent is a notification pushed by a recognition engine.
type RecognitionEvent struct {
	Reason    Reason
	Utterance *UtteranceEvent
	Err       error
}

// Recognized wraps an utterance into a recognized-speech event.
func Recognized(u UtteranceEvent) RecognitionEvent {
	return RecognitionEvent{Reason: ReasonRecognized, Utterance: &u}
}

// Stopped is the clean end-of-session event.
func Stopped() RecognitionEvent {
	return RecognitionEvent{Reason: ReasonSessionStopped}
}

// Canceled ends a session abnormally, optionally carrying the cause.
func Canceled(err error) RecognitionEvent {
	return RecognitionEvent{Reason: ReasonCanceled, Err: err}
}

// Failed reports an engine error.
func Failed(err error) RecognitionEvent {
	return RecognitionEvent{Reason: ReasonError, Err: err}
}
