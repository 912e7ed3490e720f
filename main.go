package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mrsingh-rishi/voice-transcript/api"
	"github.com/mrsingh-rishi/voice-transcript/config"
	"github.com/mrsingh-rishi/voice-transcript/metrics"
	"github.com/mrsingh-rishi/voice-transcript/output"
	"github.com/mrsingh-rishi/voice-transcript/stt"
	"github.com/mrsingh-rishi/voice-transcript/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := initLogger(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	store, err := output.NewStore(cfg.TranscriptionDir, logger)
	if err != nil {
		logger.Fatal("transcript store", zap.Error(err))
	}

	opts := []api.Option{
		api.WithStore(store),
		api.WithMetrics(metrics.NewCollector("voice_transcript", logger)),
	}

	if cfg.DeepgramAPIKey != "" {
		file := stt.DefaultDeepgramConfig()
		file.APIKey = cfg.DeepgramAPIKey
		file.Model = cfg.DeepgramModel
		file.Language = cfg.DefaultLanguage
		opts = append(opts, api.WithFileEngine("deepgram", api.DeepgramFileEngine(file, logger)))

		// Twilio streams 8 kHz mulaw; the phonecall model is tuned for it.
		live := file
		live.Model = "nova-2-phonecall"
		opts = append(opts, api.WithLiveSource(api.DeepgramLiveSource(live, logger)))
	} else {
		logger.Warn("DEEPGRAM_API_KEY not set, deepgram engine disabled")
	}

	if cfg.OpenAIAPIKey != "" {
		opts = append(opts, api.WithFileEngine("whisper", api.WhisperFileEngine(stt.WhisperConfig{
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.WhisperModel,
			Language: cfg.DefaultLanguage,
		}, logger)))
	} else {
		logger.Warn("OPENAI_API_KEY not set, whisper engine disabled")
	}

	if cfg.ElevenLabsAPIKey != "" {
		synth, err := tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID, logger)
		if err != nil {
			logger.Fatal("elevenlabs", zap.Error(err))
		}
		opts = append(opts, api.WithSynthesizer(synth))
	}

	if cfg.TwilioEnabled() {
		caller, err := api.NewTwilioCaller(cfg)
		if err != nil {
			logger.Fatal("twilio", zap.Error(err))
		}
		opts = append(opts, api.WithCaller(caller))
	} else {
		logger.Info("twilio not configured, call transcription disabled")
	}

	server := api.New(cfg, logger, opts...)

	go func() {
		if err := server.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func initLogger(level, format string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		format = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
