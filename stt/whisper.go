package stt

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/types"
)

// Whisper transcribes a recorded file with OpenAI's transcription endpoint.
// Whisper does not diarize, so every utterance is attributed to the unknown
// speaker.
type Whisper struct {
	batchSource
	client *openai.Client
	model  string
	lang   string
	path   string
}

func NewWhisper(cfg WhisperConfig, path string, logger *zap.Logger) (*Whisper, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if path == "" {
		return nil, fmt.Errorf("audio path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	w := &Whisper{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		lang:   baseLanguage(cfg.Language),
		path:   path,
	}
	w.batchSource = batchSource{
		name:   "whisper",
		logger: logger.With(zap.String("engine", "whisper")),
		fetch:  w.transcribe,
	}
	return w, nil
}

func (w *Whisper) transcribe(ctx context.Context) ([]types.UtteranceEvent, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: w.path,
		Language: w.lang,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription: %w", err)
	}

	out := make([]types.UtteranceEvent, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		out = append(out, types.UtteranceEvent{
			Text:     s.Text,
			Offset:   types.TicksFromSeconds(s.Start),
			Duration: types.TicksFromSeconds(s.End - s.Start),
		})
	}
	if len(out) == 0 && resp.Text != "" {
		out = append(out, types.UtteranceEvent{
			Text:     resp.Text,
			Offset:   0,
			Duration: types.TicksFromSeconds(resp.Duration),
		})
	}
	return out, nil
}
