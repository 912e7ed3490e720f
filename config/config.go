package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the service reads from its environment. It is loaded
// once at startup and handed to constructors.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string
	// CORSAllowOrigins is a comma separated origin list, "*" for any.
	CORSAllowOrigins string

	DeepgramAPIKey string
	DeepgramModel  string

	OpenAIAPIKey string
	WhisperModel string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	BaseURL          string
	BaseWsURL        string

	UploadDir        string
	TranscriptionDir string
	ConvertUploads   bool

	DefaultLanguage string
	DefaultEngine   string

	PauseThreshold     time.Duration
	StopTimeout        time.Duration
	MaxSessionDuration time.Duration
}

// Load reads files (".env" when none are given) into the process environment,
// then builds a Config from it. Missing env files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function such as os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	str := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:      str("PORT", "3000"),
		LogLevel:  str("LOG_LEVEL", "info"),
		LogFormat: str("LOG_FORMAT", "json"),

		CORSAllowOrigins: str("CORS_ALLOW_ORIGINS", "*"),

		DeepgramAPIKey: str("DEEPGRAM_API_KEY", ""),
		DeepgramModel:  str("DEEPGRAM_MODEL", "nova-2"),

		OpenAIAPIKey: str("OPENAI_API_KEY", str("OPEN_AI_API_KEY", "")),
		WhisperModel: str("WHISPER_MODEL", "whisper-1"),

		ElevenLabsAPIKey:  str("ELEVEN_LABS_API_KEY", ""),
		ElevenLabsVoiceID: str("ELEVEN_LABS_VOICE_ID", "JBFqnCBsd6RMkjVDRZzb"),
		ElevenLabsModelID: str("ELEVEN_LABS_MODEL_ID", "eleven_multilingual_v2"),

		TwilioAccountSID: str("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  str("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: str("TWILIO_FROM_NUMBER", ""),
		BaseURL:          str("BASE_URL", ""),
		BaseWsURL:        str("BASE_WS_URL", ""),

		UploadDir:        str("UPLOAD_DIR", "synthesized_audio"),
		TranscriptionDir: str("TRANSCRIPTION_DIR", "transcriptions"),

		DefaultLanguage: str("DEFAULT_LANGUAGE", "en-US"),
		DefaultEngine:   str("DEFAULT_ENGINE", "deepgram"),
	}

	var err error
	if cfg.ConvertUploads, err = strconv.ParseBool(str("CONVERT_UPLOADS", "false")); err != nil {
		return Config{}, fmt.Errorf("CONVERT_UPLOADS: %w", err)
	}
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"PAUSE_THRESHOLD", "2s", &cfg.PauseThreshold},
		{"STOP_TIMEOUT", "10s", &cfg.StopTimeout},
		{"MAX_SESSION_DURATION", "0", &cfg.MaxSessionDuration},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(str(d.key, d.def))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", d.key)
		}
		*d.dst = v
	}
	return cfg, nil
}

// TwilioEnabled reports whether outbound call transcription can be offered.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != "" &&
		c.BaseURL != "" && c.BaseWsURL != ""
}
