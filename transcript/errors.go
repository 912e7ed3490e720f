package transcript

import "errors"

var (
	// ErrNoSpeechRecognized is returned when a session ends without a single
	// accepted utterance.
	ErrNoSpeechRecognized = errors.New("no speech could be recognized")

	ErrUnknownStyle   = errors.New("unknown transcript style")
	ErrSessionActive  = errors.New("a transcription session is already active")
	ErrMalformedEvent = errors.New("utterance is missing offset or duration")
	ErrEmptyUtterance = errors.New("utterance has no text")
)

// ErrSessionTimeout ends a session that outlived Config.MaxSessionDuration.
var ErrSessionTimeout = errors.New("transcription session exceeded its maximum duration")
