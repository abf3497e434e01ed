package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_consultant/consultant"
	"ai_consultant/delivery"
	"ai_consultant/generator"
	"ai_consultant/metrics"
	"ai_consultant/session"
)

type fixture struct {
	srv  *Server
	ts   *httptest.Server
	jobs *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	agent, err := generator.NewAgent(generator.MockLLM{CompleteAfter: 1}, nil, m)
	require.NoError(t, err)
	svc, err := consultant.NewService(session.NewMemoryStore(), agent, consultant.Options{
		Renderer: delivery.NewRenderer(),
		Metrics:  m,
		Pick:     func(int) int { return 0 },
	})
	require.NoError(t, err)

	jobs := NewDispatcher(2, time.Minute, nil, m)
	srv, err := New(svc, Options{
		Jobs:        jobs,
		Metrics:     m,
		Gatherer:    reg,
		CORSOrigins: []string{"http://localhost:3000"},
		Version:     "test",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, jobs: jobs}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out["raw"] = string(raw)
	}
	return resp, out
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))
}

func (f *fixture) startAndPreview(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/conversation/start", map[string]string{
		"user_id": "u-1",
		"idea":    "An enterprise agent that automates video onboarding workflows",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	id := body["session_id"].(string)

	resp, body = f.do(t, http.MethodPost, "/conversation/continue", map[string]string{
		"session_id": id,
		"message":    "Sales teams at mid-size companies, integrating with Salesforce.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, true, body["requirements_complete"])

	resp, body = f.do(t, http.MethodPost, "/preview/generate", map[string]string{"session_id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return id
}

func TestConversationRoutes(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/conversation/start", map[string]string{
		"user_id": "u-1",
		"idea":    "A support agent for a small online bookshop",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id, _ := body["session_id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, false, body["requirements_complete"])
	assert.Equal(t, consultant.NextContinueConversation, body["next_step"])
	assert.NotContains(t, body, "conversation_count")
	proof := body["social_proof"].(map[string]any)
	assert.NotEmpty(t, proof["testimonial"])
	assert.NotEmpty(t, proof["metric"])

	resp, body = f.do(t, http.MethodPost, "/conversation/continue", map[string]string{
		"session_id": id,
		"message":    "Customers ask about orders and stock.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["requirements_complete"])
	assert.Equal(t, consultant.NextPreviewReady, body["next_step"])
	assert.EqualValues(t, 2, body["conversation_count"])

	resp, body = f.do(t, http.MethodPost, "/preview/generate", map[string]string{"session_id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasSuffix(body["preview"].(string), "..."))
	assert.Equal(t, true, body["full_preview_available"])
	assert.Equal(t, consultant.NextRequestEmail, body["next_step"])
	assert.Contains(t, body, "social_proof")
}

func TestLeadCaptureAndReportLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.startAndPreview(t)

	resp, body := f.do(t, http.MethodPost, "/report/refine", map[string]string{
		"session_id":      id,
		"additional_info": "It should also support Spanish speaking customers.",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "lead_not_captured", body["error"])

	resp, body = f.do(t, http.MethodGet, "/report/"+id+"/download", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "report_incomplete", body["error"])

	lead := map[string]string{"session_id": id, "email": "ada@example.com", "name": "Ada Lovelace"}
	resp, body = f.do(t, http.MethodPost, "/lead/capture", lead)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	assert.Equal(t, consultant.StatusGenerating, body["status"])
	assert.NotEmpty(t, body["lead_id"])
	assert.Equal(t, false, body["email_sent"])
	assert.EqualValues(t, 2, body["refinements_left"])

	resp, body = f.do(t, http.MethodPost, "/lead/capture", lead)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "lead_already_captured", body["error"])

	f.drain(t)

	resp, body = f.do(t, http.MethodGet, "/progress/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(session.StageReportComplete), body["stage"])

	resp, body = f.do(t, http.MethodPost, "/report/get", map[string]string{"session_id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ctx := body["context"].(map[string]any)
	assert.NotEmpty(t, ctx["business_strategy"])
	assert.Equal(t, true, body["lead_captured"])

	resp, body = f.do(t, http.MethodGet, "/report/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="`+delivery.ReportFilename(id)+`"`, resp.Header.Get("Content-Disposition"))
	assert.Contains(t, body["raw"], "AI Agent Blueprint")

	resp, body = f.do(t, http.MethodPost, "/report/refine", map[string]string{
		"session_id":      id,
		"additional_info": "It should also support Spanish speaking customers.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []any{"requirement_gathering"}, body["updated_sections"])
	assert.EqualValues(t, 1, body["refinements_left"])

	resp, body = f.do(t, http.MethodGet, "/session/"+id+"/full", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["idea"], "Spanish speaking customers")
}

func TestRefineQuotaRejectionIsOK(t *testing.T) {
	f := newFixture(t)
	id := f.startAndPreview(t)
	resp, _ := f.do(t, http.MethodPost, "/lead/capture", map[string]string{"session_id": id, "email": "a@b.co", "name": "Al"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.drain(t)

	refine := map[string]string{"session_id": id, "additional_info": "Add a weekly digest email feature."}
	for range 2 {
		resp, body := f.do(t, http.MethodPost, "/report/refine", refine)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, true, body["success"])
	}
	resp, body := f.do(t, http.MethodPost, "/report/refine", refine)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, consultant.ErrCodeRefinementLimit, body["error"])
	assert.Equal(t, consultant.DefaultCTAURL, body["cta_url"])
	assert.EqualValues(t, 0, body["refinements_left"])
}

func TestValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		path  string
		body  any
		field string
	}{
		{"short idea", "/conversation/start", map[string]string{"user_id": "u", "idea": "too short"}, "idea"},
		{"missing user", "/conversation/start", map[string]string{"idea": "A long enough idea here"}, "user_id"},
		{"empty message", "/conversation/continue", map[string]string{"session_id": "s", "message": "   "}, "message"},
		{"bad email", "/lead/capture", map[string]string{"session_id": "s", "email": "not-an-email", "name": "Ada"}, "email"},
		{"display name email", "/lead/capture", map[string]string{"session_id": "s", "email": "Ada <ada@example.com>", "name": "Ada"}, "email"},
		{"short name", "/lead/capture", map[string]string{"session_id": "s", "email": "ada@example.com", "name": "A"}, "name"},
		{"long phone", "/lead/capture", map[string]string{"session_id": "s", "email": "ada@example.com", "name": "Ada", "phone": strings.Repeat("1", 21)}, "phone"},
		{"short refinement", "/report/refine", map[string]string{"session_id": "s", "additional_info": "more"}, "additional_info"},
		{"unknown field", "/report/get", map[string]string{"session": "s"}, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.Equal(t, "validation_error", body["error"])
			assert.True(t, strings.HasPrefix(body["message"].(string), tt.field+":"), body["message"])
		})
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/progress/missing", "/session/missing/full", "/report/missing/download", "/analytics/lead/missing", "/nowhere"} {
		resp, body := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "not_found", body["error"], path)
	}

	resp, _ := f.do(t, http.MethodPost, "/conversation/continue", map[string]string{"session_id": "missing", "message": "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLeadAdminRoutes(t *testing.T) {
	f := newFixture(t)
	id := f.startAndPreview(t)
	_, body := f.do(t, http.MethodPost, "/lead/capture", map[string]string{"session_id": id, "email": "ada@example.com", "name": "Ada"})
	leadID := body["lead_id"].(string)
	f.drain(t)

	resp, body := f.do(t, http.MethodGet, "/analytics/lead/"+leadID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "new", body["status"])
	assert.Equal(t, id, body["session_id"])

	resp, body = f.do(t, http.MethodPatch, "/analytics/lead/"+leadID, map[string]string{"status": "contacted", "note": "Left a voicemail"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "contacted", body["status"])
	require.Len(t, body["notes"], 1)
	assert.Equal(t, "Left a voicemail", body["notes"].([]any)[0].(map[string]any)["text"])

	resp, body = f.do(t, http.MethodPatch, "/analytics/lead/"+leadID, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_status", body["error"])

	resp, _ = f.do(t, http.MethodPatch, "/analytics/lead/"+leadID, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/analytics/overview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_leads"])

	resp, body = f.do(t, http.MethodGet, "/analytics/top-leads?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = f.do(t, http.MethodGet, "/analytics/top-leads?limit=zero", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestWebhookAndSocialProof(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/webhooks/report-complete", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/webhooks/report-complete?session_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body := f.do(t, http.MethodPost, "/conversation/start", map[string]string{"user_id": "u", "idea": "A recipe recommendation agent"})
	id := body["session_id"].(string)
	resp, body = f.do(t, http.MethodPost, "/webhooks/report-complete?session_id="+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "acknowledged", body["status"])
	assert.Equal(t, id, body["session_id"])

	resp, body = f.do(t, http.MethodGet, "/social-proof", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["testimonial"])
}

func TestOpsRoutes(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "test", body["version"])

	resp, body = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])

	resp, body = f.do(t, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])

	resp, body = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["raw"], `consultant_http_requests_total{route="GET /ready",status="200"} 1`)

	f.drain(t)
	resp, body = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "draining", body["status"])

	resp, body = f.do(t, http.MethodPost, "/lead/capture", map[string]string{"session_id": "s", "email": "ada@example.com", "name": "Ada"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["error"])
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/conversation/start", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, f.ts.URL+"/social-proof", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	d := NewDispatcher(2, time.Minute, nil, nil)
	var running, peak atomic.Int32
	release := make(chan struct{})

	for i := range 6 {
		require.NoError(t, d.Go("job", string(rune('a'+i)), func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}))
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(0), running.Load())
}

func TestDispatcher_DetachedDeadlineAndPanics(t *testing.T) {
	d := NewDispatcher(1, time.Minute, nil, nil)
	var hadDeadline atomic.Bool

	require.NoError(t, d.Go("panics", "s1", func(context.Context) error { panic("boom") }))
	require.NoError(t, d.Go("checks", "s2", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.True(t, hadDeadline.Load())
	assert.True(t, d.Draining())
	assert.ErrorIs(t, d.Go("late", "s3", func(context.Context) error { return nil }), ErrDispatcherClosed)
}

func TestDispatcher_ShutdownTimeoutCancelsJobs(t *testing.T) {
	d := NewDispatcher(1, time.Minute, nil, nil)
	started := make(chan struct{})
	require.NoError(t, d.Go("slow", "s1", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
}
