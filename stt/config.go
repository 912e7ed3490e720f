package stt

import "time"

// DeepgramConfig configures both the live and the prerecorded Deepgram engines.
type DeepgramConfig struct {
	APIKey string
	// BaseURL is the REST endpoint; LiveURL the websocket endpoint.
	BaseURL    string
	LiveURL    string
	Model      string
	Language   string
	Encoding   string
	SampleRate int
	Channels   int
	Timeout    time.Duration
	// KeepAlive is how often an idle live connection is pinged.
	KeepAlive time.Duration
}

func DefaultDeepgramConfig() DeepgramConfig {
	return DeepgramConfig{
		BaseURL:    "https://api.deepgram.com",
		LiveURL:    "wss://api.deepgram.com",
		Model:      "nova-2",
		Language:   "en-US",
		Encoding:   "mulaw",
		SampleRate: 8000,
		Channels:   1,
		Timeout:    120 * time.Second,
		KeepAlive:  8 * time.Second,
	}
}

func (c DeepgramConfig) withDefaults() DeepgramConfig {
	def := DefaultDeepgramConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.LiveURL == "" {
		c.LiveURL = def.LiveURL
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Language == "" {
		c.Language = def.Language
	}
	if c.Encoding == "" {
		c.Encoding = def.Encoding
	}
	if c.SampleRate == 0 {
		c.SampleRate = def.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = def.Channels
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = def.KeepAlive
	}
	return c
}

// WhisperConfig configures the OpenAI transcription engine.
type WhisperConfig struct {
	APIKey string
	// BaseURL overrides the OpenAI endpoint, including the /v1 suffix.
	BaseURL  string
	Model    string
	Language string
}
