package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/config"
	"github.com/mrsingh-rishi/voice-transcript/metrics"
	"github.com/mrsingh-rishi/voice-transcript/output"
	"github.com/mrsingh-rishi/voice-transcript/stt"
)

type fakeSynth struct {
	lang string
	err  error
}

func (f *fakeSynth) Synthesize(_ context.Context, text, language string) ([]byte, error) {
	f.lang = language
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

type fakeCaller struct {
	to, url string
	err     error
}

func (f *fakeCaller) CreateCall(_ context.Context, to, twimlURL string) (string, error) {
	f.to, f.url = to, twimlURL
	if f.err != nil {
		return "", f.err
	}
	return "CA42", nil
}

type fixture struct {
	srv     *Server
	cfg     config.Config
	store   *output.Store
	metrics *metrics.Collector
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.TranscriptionDir = filepath.Join(dir, "transcriptions")
	cfg.BaseURL = "https://example.com/"
	cfg.BaseWsURL = "wss://example.com"

	store, err := output.NewStore(cfg.TranscriptionDir, zap.NewNop())
	require.NoError(t, err)
	m := metrics.NewCollector("vt", zap.NewNop())

	opts = append([]Option{WithStore(store), WithMetrics(m)}, opts...)
	return fixture{srv: New(cfg, zap.NewNop(), opts...), cfg: cfg, store: store, metrics: m}
}

func (f fixture) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func jsonRequest(method, path string, v any) *http.Request {
	b, _ := json.Marshal(v)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("audio", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte("RIFF....WAVE"))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func deepgramServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "it-IT", r.URL.Query().Get("language"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deepgramEngine(url string) Option {
	return WithFileEngine("deepgram", DeepgramFileEngine(stt.DeepgramConfig{APIKey: "k", BaseURL: url}, zap.NewNop()))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestTranscribe(t *testing.T) {
	dg := deepgramServer(t, http.StatusOK, `{"results":{"utterances":[
		{"start":0.0,"end":1.0,"transcript":"Hello there.","speaker":0},
		{"start":1.5,"end":2.5,"transcript":"How are you","speaker":0},
		{"start":2.6,"end":3.0,"transcript":"I am fine.","speaker":1}
	]}}`)
	f := newFixture(t, deepgramEngine(dg.URL))

	resp, body := f.do(t, uploadRequest(t, "standup.wav", map[string]string{"language": "it-IT", "style": "clean"}))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got transcribeResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Speaker 1: Hello there.\nSpeaker 1: How are you\nSpeaker 2: I am fine.", got.Transcription)
	assert.Equal(t, filepath.Join(f.cfg.TranscriptionDir, "standup.txt"), got.FilePath)
	assert.Equal(t, 3, got.Segments)
	assert.Equal(t, 2, got.Speakers)
	assert.Equal(t, "session_stopped", got.StopReason)
	assert.Empty(t, got.Warning)

	saved, err := os.ReadFile(got.FilePath)
	require.NoError(t, err)
	assert.Equal(t, got.Transcription, string(saved))

	uploads, err := os.ReadDir(f.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, uploads, "uploads are removed after transcription")
}

func TestTranscribe_NoSpeech(t *testing.T) {
	dg := deepgramServer(t, http.StatusOK, `{"results":{"utterances":[]}}`)
	f := newFixture(t, deepgramEngine(dg.URL))

	resp, body := f.do(t, uploadRequest(t, "silence.wav", map[string]string{"language": "it-IT"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"No speech could be recognized"}`, string(body))
}

func TestTranscribe_EngineFailure(t *testing.T) {
	dg := deepgramServer(t, http.StatusUnauthorized, `{"err_code":"INVALID_AUTH"}`)
	f := newFixture(t, deepgramEngine(dg.URL))

	resp, body := f.do(t, uploadRequest(t, "call.wav", map[string]string{"language": "it-IT"}))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "INVALID_AUTH")
}

func TestTranscribe_BadRequests(t *testing.T) {
	f := newFixture(t, deepgramEngine("http://127.0.0.1:1"))

	resp, body := f.do(t, uploadRequest(t, "", map[string]string{"language": "en-US"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "No audio file provided")

	resp, body = f.do(t, uploadRequest(t, "a.wav", map[string]string{"engine": "azure"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "unknown engine")

	resp, _ = f.do(t, uploadRequest(t, "a.wav", map[string]string{"style": "karaoke"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscribeEvents(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, jsonRequest(http.MethodPost, "/api/transcribe/events", map[string]any{
		"style": "timestamps",
		"events": []map[string]any{
			{"speaker_id": "A", "text": "Hi.", "offset": 0, "duration": 10_000_000},
			{"reason": "recognizing", "speaker_id": "A", "text": "partial", "offset": 0, "duration": 1},
			{"speaker_id": "A", "text": "no timing"},
			{"speaker_id": "B", "text": "Hello.", "offset": 20_000_000, "duration": 10_000_000},
			{"reason": "error", "error": "socket closed"},
			{"speaker_id": "C", "text": "after the end", "offset": 40_000_000, "duration": 1},
		},
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got transcribeResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Multiple Speakers Transcription:\n[00:00:00 - 00:00:01] Speaker 1: Hi.\n[00:00:02 - 00:00:03] Speaker 2: Hello.", got.Transcription)
	assert.Equal(t, "error", got.StopReason)
	assert.Contains(t, got.Warning, "socket closed")
	assert.Empty(t, got.FilePath)
}

func TestTranscribeEvents_Errors(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, jsonRequest(http.MethodPost, "/api/transcribe/events", map[string]any{"events": []any{}}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "No speech could be recognized")

	resp, _ = f.do(t, jsonRequest(http.MethodPost, "/api/transcribe/events", map[string]any{"style": "srt"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/events", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSynthesize(t *testing.T) {
	synth := &fakeSynth{}
	f := newFixture(t, WithSynthesizer(synth))

	resp, body := f.do(t, jsonRequest(http.MethodPost, "/api/synthesize", map[string]string{"text": "ciao"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "mp3:ciao", string(body))
	assert.Equal(t, "en-US", synth.lang)

	resp, _ = f.do(t, jsonRequest(http.MethodPost, "/api/synthesize", map[string]string{"text": " "}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	synth.err = errors.New("quota exceeded")
	resp, body = f.do(t, jsonRequest(http.MethodPost, "/api/synthesize", map[string]string{"text": "hi", "language": "fr-FR"}))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "quota exceeded")
	assert.Equal(t, "fr-FR", synth.lang)
}

func TestSynthesize_NotConfigured(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, jsonRequest(http.MethodPost, "/api/synthesize", map[string]string{"text": "hi"}))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCreateCall(t *testing.T) {
	caller := &fakeCaller{}
	f := newFixture(t, WithCaller(caller))

	resp, body := f.do(t, jsonRequest(http.MethodPost, "/call", map[string]string{"to": "+15551234", "style": "clean"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"sid":"CA42","message":"call initiated"}`, string(body))
	assert.Equal(t, "+15551234", caller.to)
	assert.Equal(t, "https://example.com/twiml?style=clean", caller.url)

	resp, _ = f.do(t, jsonRequest(http.MethodPost, "/call", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	caller.err = errors.New("unverified number")
	resp, body = f.do(t, jsonRequest(http.MethodPost, "/call", map[string]string{"to": "+1"}))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"failed to create call"}`, string(body))
}

func TestTwiML(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, httptest.NewRequest(http.MethodGet, "/twiml?CallSid=CA9&style=subtitles", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "xml")
	assert.Contains(t, string(body), `<Stream url="wss://example.com/stream">`)
	assert.Contains(t, string(body), `<Parameter name="style" value="subtitles"/>`)
	assert.NotContains(t, string(body), "stream?")

	resp, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/twiml", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStream_RequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, jsonRequest(http.MethodPost, "/api/transcribe/events", map[string]any{
		"style":  "clean",
		"events": []map[string]any{{"speaker_id": "A", "text": "hi", "offset": 0, "duration": 1}},
	}))

	resp, body := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `vt_sessions_finished_total{reason="session_stopped",style="clean"} 1`)
	assert.Contains(t, string(body), `vt_http_requests_total{method="POST",path="/api/transcribe/events",status="200"} 1`)
}

func TestNewTwilioCaller(t *testing.T) {
	_, err := NewTwilioCaller(config.Config{})
	assert.Error(t, err)

	c, err := NewTwilioCaller(config.Config{TwilioAccountSID: "AC1", TwilioAuthToken: "t", TwilioFromNumber: "+1"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func preflight(path, origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, path, nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	return req
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, preflight("/api/transcribe", "http://localhost:5173"))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	cfg, err := config.FromEnv(func(k string) string {
		if k == "CORS_ALLOW_ORIGINS" {
			return "https://app.example.com"
		}
		return ""
	})
	require.NoError(t, err)
	f := fixture{srv: New(cfg, zap.NewNop())}

	resp, _ := f.do(t, preflight("/api/synthesize", "https://app.example.com"))
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = f.do(t, preflight("/api/synthesize", "https://evil.example.com"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
