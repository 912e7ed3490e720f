package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/types"
)

// DeepgramFile transcribes a recorded file with Deepgram's prerecorded API,
// asking for diarized utterances.
type DeepgramFile struct {
	batchSource
	cfg    DeepgramConfig
	path   string
	client *http.Client
}

type prerecordedResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Confidence float64 `json:"confidence"`
			Transcript string  `json:"transcript"`
			Speaker    *int    `json:"speaker"`
		} `json:"utterances"`
	} `json:"results"`
}

func NewDeepgramFile(cfg DeepgramConfig, path string, logger *zap.Logger) (*DeepgramFile, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key is required")
	}
	if path == "" {
		return nil, fmt.Errorf("audio path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	d := &DeepgramFile{
		cfg:    cfg,
		path:   path,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	d.batchSource = batchSource{
		name:   "deepgram",
		logger: logger.With(zap.String("engine", "deepgram")),
		fetch:  d.transcribe,
	}
	return d, nil
}

func (d *DeepgramFile) transcribe(ctx context.Context) ([]types.UtteranceEvent, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	params := url.Values{}
	params.Set("model", d.cfg.Model)
	params.Set("language", d.cfg.Language)
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	params.Set("diarize", "true")
	params.Set("utterances", "true")
	endpoint := fmt.Sprintf("%s/v1/listen?%s", strings.TrimRight(d.cfg.BaseURL, "/"), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+d.cfg.APIKey)
	req.Header.Set("Content-Type", contentTypeFor(d.path))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("deepgram http %d: %s", resp.StatusCode, string(b))
	}

	var pr prerecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode deepgram response: %w", err)
	}

	out := make([]types.UtteranceEvent, 0, len(pr.Results.Utterances))
	for _, u := range pr.Results.Utterances {
		speaker := ""
		if u.Speaker != nil {
			speaker = fmt.Sprintf("%d", *u.Speaker)
		}
		out = append(out, types.UtteranceEvent{
			SpeakerID: speaker,
			Text:      u.Transcript,
			Offset:    types.TicksFromSeconds(u.Start),
			Duration:  types.TicksFromSeconds(u.End - u.Start),
		})
	}
	return out, nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	}
	return "application/octet-stream"
}
