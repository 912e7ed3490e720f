package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/transcript"
)

var _ transcript.Observer = (*Collector)(nil)

func TestCollector_SessionLifecycle(t *testing.T) {
	c := NewCollector("vt", zap.NewNop())

	c.SessionStarted()
	c.UtteranceAccepted(true)
	c.UtteranceAccepted(false)
	c.UtteranceAccepted(true)
	c.UtteranceSkipped("malformed")
	c.SessionFinished("clean", "session_stopped", 2, 1500*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsStarted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.utterances.WithLabelValues("opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.utterances.WithLabelValues("merged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.skipped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsFinished.WithLabelValues("clean", "session_stopped")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.sessionDuration))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a := NewCollector("vt", nil)
	b := NewCollector("vt", nil)

	a.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.httpRequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 0, testutil.CollectAndCount(b.httpRequestsTotal))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("vt", zap.NewNop())
	c.SessionStarted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "vt_sessions_started_total 1")
}
