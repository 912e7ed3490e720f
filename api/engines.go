package api

import (
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/call"
	"github.com/mrsingh-rishi/voice-transcript/model"
	"github.com/mrsingh-rishi/voice-transcript/stt"
	"github.com/mrsingh-rishi/voice-transcript/transcript"
)

// DeepgramFileEngine transcribes uploads with Deepgram's prerecorded API.
func DeepgramFileEngine(cfg stt.DeepgramConfig, logger *zap.Logger) FileEngine {
	return func(path, language string) (transcript.EventSource, error) {
		c := cfg
		if language != "" {
			c.Language = language
		}
		src, err := stt.NewDeepgramFile(c, path, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// WhisperFileEngine transcribes uploads with OpenAI Whisper.
func WhisperFileEngine(cfg stt.WhisperConfig, logger *zap.Logger) FileEngine {
	return func(path, language string) (transcript.EventSource, error) {
		c := cfg
		if language != "" {
			c.Language = language
		}
		src, err := stt.NewWhisper(c, path, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// DeepgramLiveSource streams call audio (mulaw 8 kHz) to Deepgram.
func DeepgramLiveSource(cfg stt.DeepgramConfig, logger *zap.Logger) call.SourceFactory {
	return func(audio <-chan model.AudioChunk) (transcript.EventSource, error) {
		src, err := stt.NewDeepgramLive(cfg, audio, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}
