package api

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/call"
	"github.com/mrsingh-rishi/voice-transcript/config"
	"github.com/mrsingh-rishi/voice-transcript/transcript"
)

type twilioCaller struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioCaller places calls from cfg.TwilioFromNumber.
func NewTwilioCaller(cfg config.Config) (Caller, error) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		return nil, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER must be set")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return &twilioCaller{client: client, from: cfg.TwilioFromNumber}, nil
}

func (t *twilioCaller) CreateCall(_ context.Context, to, twimlURL string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetUrl(twimlURL)
	params.SetMethod("GET")

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio create call: %w", err)
	}
	if resp.Sid == nil {
		return "", errors.New("twilio create call: response has no sid")
	}
	return *resp.Sid, nil
}

type callRequest struct {
	To    string `json:"to"`
	Style string `json:"style"`
}

type callResponse struct {
	SID     string `json:"sid,omitempty"`
	Message string `json:"message"`
}

// joinURL appends path to base regardless of base's trailing slash.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// createCall starts an outbound call whose TwiML points the media stream at /stream.
func (s *Server) createCall(c *fiber.Ctx) error {
	if s.caller == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "call transcription is not configured")
	}
	var req callRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	if req.To == "" {
		return badRequest(c, "`to` field is required")
	}
	style, err := transcript.ParseStyle(req.Style)
	if err != nil {
		return badRequest(c, err.Error())
	}

	twimlURL := joinURL(s.cfg.BaseURL, "twiml") + "?" + url.Values{"style": {string(style)}}.Encode()
	sid, err := s.caller.CreateCall(c.UserContext(), req.To, twimlURL)
	if err != nil {
		s.logger.Error("twilio error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create call"})
	}
	s.logger.Info("call initiated", zap.String("call_sid", sid), zap.String("style", string(style)))
	return c.JSON(callResponse{SID: sid, Message: "call initiated"})
}

// twiml tells Twilio to stream the call's audio to /stream.
func (s *Server) twiml(c *fiber.Ctx) error {
	callSid := c.Query("CallSid", "")
	if callSid == "" {
		return badRequest(c, "CallSid missing")
	}
	style, err := transcript.ParseStyle(c.Query("style"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	// Twilio drops query strings on <Stream> urls; values travel as
	// <Parameter> and come back in the start frame's customParameters.
	streamURL := joinURL(s.cfg.BaseWsURL, "stream")

	xml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="%s">
      <Parameter name="style" value="%s"/>
    </Stream>
  </Connect>
</Response>`, html.EscapeString(streamURL), html.EscapeString(string(style)))

	s.logger.Debug("twiml served", zap.String("call_sid", callSid), zap.String("style", string(style)))
	c.Type("xml")
	return c.SendString(xml)
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// stream receives a Twilio media stream and transcribes it until the call ends.
func (s *Server) stream() fiber.Handler {
	return websocket.New(func(ws *websocket.Conn) {
		defer ws.Close()
		log := s.logger
		log.Info("media stream connected")

		if s.liveSource == nil {
			log.Error("live transcription is not configured")
			return
		}

		session, err := call.NewCall(ws, s.newController(), s.liveSource, s.store, transcript.StyleVerbatim, log)
		if err != nil {
			log.Error("call setup failed", zap.Error(err))
			return
		}
		res, rec, err := session.Run(context.Background())
		switch {
		case errors.Is(err, transcript.ErrNoSpeechRecognized):
			log.Info("call ended without speech")
		case err != nil:
			log.Error("call transcription failed", zap.Error(err))
		default:
			log.Info("call transcribed",
				zap.String("call_sid", session.CallSid()),
				zap.String("session_id", res.SessionID),
				zap.String("path", rec.Path),
				zap.Int("segments", len(res.Segments)),
			)
		}
	})
}
