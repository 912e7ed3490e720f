package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/media"
	"github.com/mrsingh-rishi/voice-transcript/output"
	"github.com/mrsingh-rishi/voice-transcript/stt"
	"github.com/mrsingh-rishi/voice-transcript/transcript"
	"github.com/mrsingh-rishi/voice-transcript/types"
)

const msgNoSpeech = "No speech could be recognized"

type transcribeResponse struct {
	Transcription string `json:"transcription"`
	FilePath      string `json:"file_path,omitempty"`
	SessionID     string `json:"session_id"`
	Style         string `json:"style"`
	Segments      int    `json:"segments"`
	Speakers      int    `json:"speakers"`
	StopReason    string `json:"stop_reason"`
	Warning       string `json:"warning,omitempty"`
}

func newTranscribeResponse(res *transcript.Result) transcribeResponse {
	out := transcribeResponse{
		Transcription: res.Text,
		SessionID:     res.SessionID,
		Style:         string(res.Style),
		Segments:      len(res.Segments),
		Speakers:      res.Speakers,
		StopReason:    string(res.StopReason),
	}
	if res.Abnormal() && res.EngineErr != nil {
		out.Warning = "transcript may be incomplete: " + res.EngineErr.Error()
	}
	return out
}

func (s *Server) transcribe(c *fiber.Ctx) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return badRequest(c, "No audio file provided")
	}
	style, err := transcript.ParseStyle(c.FormValue("style"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	language := c.FormValue("language", s.cfg.DefaultLanguage)
	engineName := strings.ToLower(c.FormValue("engine", s.cfg.DefaultEngine))
	engine, ok := s.engines[engineName]
	if !ok {
		return badRequest(c, fmt.Sprintf("unknown engine %q", engineName))
	}

	log := s.logger.With(
		zap.String("file", fh.Filename),
		zap.String("language", language),
		zap.String("engine", engineName),
	)

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}
	input := filepath.Join(s.cfg.UploadDir, uuid.NewString()+"-"+output.SafeName(fh.Filename))
	if err := c.SaveFile(fh, input); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	defer s.cleanup(input)

	audioPath := input
	if s.cfg.ConvertUploads {
		wav, err := media.ConvertToWAV(c.UserContext(), input, s.cfg.UploadDir, log)
		if err != nil {
			return fmt.Errorf("convert upload: %w", err)
		}
		defer s.cleanup(wav)
		audioPath = wav
	}

	src, err := engine(audioPath, language)
	if err != nil {
		return fmt.Errorf("engine %s: %w", engineName, err)
	}

	res, err := s.newController().Run(c.UserContext(), style, src)
	if res != nil && res.StopReason == types.ReasonError && len(res.Segments) == 0 && res.EngineErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, res.EngineErr.Error())
	}
	if errors.Is(err, transcript.ErrNoSpeechRecognized) {
		return badRequest(c, msgNoSpeech)
	}
	if err != nil {
		return err
	}

	body := newTranscribeResponse(res)
	if s.store != nil {
		rec, err := s.store.Save(fh.Filename, res)
		if err != nil {
			return err
		}
		body.FilePath = rec.Path
	}
	log.Info("transcription completed",
		zap.String("session_id", res.SessionID),
		zap.Int("segments", body.Segments),
		zap.Int("speakers", body.Speakers),
	)
	return c.JSON(body)
}

func (s *Server) cleanup(path string) {
	if err := media.RemoveWithRetry(path, 5, time.Second); err != nil {
		s.logger.Warn("temp file left behind", zap.String("path", path), zap.Error(err))
	}
}

type eventRequest struct {
	Style  string      `json:"style"`
	Events []eventJSON `json:"events"`
}

// eventJSON is one recognition event. Reason defaults to "recognized"; a
// missing offset or duration marks the event malformed.
type eventJSON struct {
	Reason    string `json:"reason"`
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
	Offset    *int64 `json:"offset"`
	Duration  *int64 `json:"duration"`
	Error     string `json:"error"`
}

func (e eventJSON) event() types.RecognitionEvent {
	reason := types.Reason(e.Reason)
	if reason == "" {
		reason = types.ReasonRecognized
	}
	ev := types.RecognitionEvent{Reason: reason}
	if e.Error != "" {
		ev.Err = errors.New(e.Error)
	}
	if reason == types.ReasonRecognized || reason == types.ReasonRecognizing {
		u := types.UtteranceEvent{
			SpeakerID: e.SpeakerID,
			Text:      e.Text,
			Offset:    types.MissingTicks,
			Duration:  types.MissingTicks,
		}
		if e.Offset != nil {
			u.Offset = types.Ticks(*e.Offset)
		}
		if e.Duration != nil {
			u.Duration = types.Ticks(*e.Duration)
		}
		ev.Utterance = &u
	}
	return ev
}

// transcribeEvents replays a recorded event stream through a fresh session.
func (s *Server) transcribeEvents(c *fiber.Ctx) error {
	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	style, err := transcript.ParseStyle(req.Style)
	if err != nil {
		return badRequest(c, err.Error())
	}
	events := make([]types.RecognitionEvent, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, e.event())
	}

	res, err := s.newController().Run(c.UserContext(), style, stt.NewReplay(events...))
	if errors.Is(err, transcript.ErrNoSpeechRecognized) {
		return badRequest(c, msgNoSpeech)
	}
	if err != nil {
		return err
	}
	return c.JSON(newTranscribeResponse(res))
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (s *Server) synthesize(c *fiber.Ctx) error {
	if s.synth == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "speech synthesis is not configured")
	}
	var req synthesizeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	if strings.TrimSpace(req.Text) == "" {
		return badRequest(c, "`text` field is required")
	}
	if req.Language == "" {
		req.Language = s.cfg.DefaultLanguage
	}
	audio, err := s.synth.Synthesize(c.UserContext(), req.Text, req.Language)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	c.Set(fiber.HeaderContentType, "audio/mpeg")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="synthesized_audio.mp3"`)
	return c.Send(audio)
}
