package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// ErrEmptyText is returned when there is nothing to speak.
var ErrEmptyText = errors.New("text is required")

type ElevenLabsClient struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	BaseURL      string
	OutputFormat string

	httpClient *http.Client
	logger     *zap.Logger
}

func NewElevenLabsClient(apiKey, voiceID, modelID string, logger *zap.Logger) (*ElevenLabsClient, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs voice id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabsClient{
		APIKey:       apiKey,
		VoiceID:      voiceID,
		ModelID:      modelID,
		BaseURL:      defaultBaseURL,
		OutputFormat: "mp3_44100_128",
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		logger:       logger.With(zap.String("component", "elevenlabs")),
	}, nil
}

type speechRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id,omitempty"`
	LanguageCode  string             `json:"language_code,omitempty"`
	VoiceSettings map[string]float64 `json:"voice_settings"`
}

// Synthesize returns the encoded audio for text. language is a BCP-47 tag
// such as "en-US"; only its base language is sent upstream.
func (client *ElevenLabsClient) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	base, err := url.Parse(fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(client.BaseURL, "/"), url.PathEscape(client.VoiceID)))
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	q := base.Query()
	q.Set("output_format", client.OutputFormat)
	base.RawQuery = q.Encode()

	lang, _, _ := strings.Cut(language, "-")
	body, err := json.Marshal(speechRequest{
		Text:         text,
		ModelID:      client.ModelID,
		LanguageCode: strings.ToLower(lang),
		VoiceSettings: map[string]float64{
			"stability":        0.75,
			"similarity_boost": 0.7,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", client.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	start := time.Now()
	resp, err := client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("elevenlabs: bad status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	client.logger.Debug("speech synthesized",
		zap.Int("chars", len(text)),
		zap.Int("bytes", len(audio)),
		zap.Duration("took", time.Since(start)),
	)
	return audio, nil
}
