// Package api serves the transcription HTTP surface over fiber.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/call"
	"github.com/mrsingh-rishi/voice-transcript/config"
	"github.com/mrsingh-rishi/voice-transcript/metrics"
	"github.com/mrsingh-rishi/voice-transcript/output"
	"github.com/mrsingh-rishi/voice-transcript/transcript"
)

// FileEngine builds a recognition source for an uploaded audio file.
type FileEngine func(path, language string) (transcript.EventSource, error)

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Caller places an outbound call that fetches its instructions from twimlURL.
type Caller interface {
	CreateCall(ctx context.Context, to, twimlURL string) (string, error)
}

type Server struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	store   *output.Store

	engines    map[string]FileEngine
	synth      Synthesizer
	caller     Caller
	liveSource call.SourceFactory

	app *fiber.App
}

type Option func(*Server)

func WithMetrics(m *metrics.Collector) Option { return func(s *Server) { s.metrics = m } }

func WithStore(st *output.Store) Option { return func(s *Server) { s.store = st } }

func WithFileEngine(name string, e FileEngine) Option {
	return func(s *Server) { s.engines[name] = e }
}

func WithSynthesizer(sy Synthesizer) Option { return func(s *Server) { s.synth = sy } }

func WithCaller(c Caller) Option { return func(s *Server) { s.caller = c } }

func WithLiveSource(f call.SourceFactory) Option { return func(s *Server) { s.liveSource = f } }

func New(cfg config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "api")),
		engines: make(map[string]FileEngine),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "voice-transcript",
		DisableStartupMessage: true,
		BodyLimit:             512 << 20,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.observe)
	if cfg.CORSAllowOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSAllowOrigins,
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
		}))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/api")
	api.Post("/transcribe", s.transcribe)
	api.Post("/transcribe/events", s.transcribeEvents)
	api.Post("/synthesize", s.synthesize)

	s.app.Post("/call", s.createCall)
	s.app.Get("/twiml", s.twiml)
	s.app.Use("/stream", requireUpgrade)
	s.app.Get("/stream", s.stream())
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) newController() *transcript.Controller {
	var opts []transcript.Option
	if s.metrics != nil {
		opts = append(opts, transcript.WithObserver(s.metrics))
	}
	return transcript.NewController(transcript.Config{
		PauseThreshold:     s.cfg.PauseThreshold,
		StopTimeout:        s.cfg.StopTimeout,
		MaxSessionDuration: s.cfg.MaxSessionDuration,
	}, s.logger, opts...)
}

// observe logs each request and records it in the collector.
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		// let the error handler settle the status before it is recorded
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}
	status := c.Response().StatusCode()
	took := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(c.Method(), c.Route().Path, status, took)
	}
	s.logger.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("took", took),
	)
	return nil
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
