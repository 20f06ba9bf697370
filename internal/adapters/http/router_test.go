package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tenantiq/ragcore/internal/core/domain"
	"github.com/tenantiq/ragcore/internal/observability/metrics"
)

type stubQuestionService struct {
	result *domain.AskResult
	err    error
	deltas []string

	lastTenantID string
	lastQuestion string
}

func (s *stubQuestionService) Ask(_ context.Context, tenantID, question string) (*domain.AskResult, error) {
	s.lastTenantID = tenantID
	s.lastQuestion = question
	return s.result, s.err
}

func (s *stubQuestionService) AskStream(_ context.Context, tenantID, question string, onDelta func(string)) (*domain.AskResult, error) {
	s.lastTenantID = tenantID
	s.lastQuestion = question
	if s.err != nil {
		return nil, s.err
	}
	for _, delta := range s.deltas {
		onDelta(delta)
	}
	return s.result, nil
}

type stubSummarizer struct {
	summaries []domain.DocumentSummary
	err       error
}

func (s *stubSummarizer) SummarizeDocuments(_ context.Context, _ []domain.DocumentText) ([]domain.DocumentSummary, error) {
	return s.summaries, s.err
}

type stubInvalidator struct {
	deleted      int
	err          error
	lastTenantID string
}

func (s *stubInvalidator) InvalidateTenant(_ context.Context, tenantID string) (int, error) {
	s.lastTenantID = tenantID
	return s.deleted, s.err
}

func newTestRouter(questions *stubQuestionService, summarizer *stubSummarizer, invalidator *stubInvalidator) http.Handler {
	if questions == nil {
		questions = &stubQuestionService{result: &domain.AskResult{}}
	}
	if summarizer == nil {
		summarizer = &stubSummarizer{}
	}
	if invalidator == nil {
		invalidator = &stubInvalidator{}
	}
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return NewRouter(questions, summarizer, invalidator, nil, logger).Handler()
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestAskReturnsResult(t *testing.T) {
	questions := &stubQuestionService{result: &domain.AskResult{
		Answer:          "Refunds allowed [1].",
		Citations:       []domain.Citation{{Number: 1, DocumentID: "doc-1"}},
		Confidence:      0.9,
		ConfidenceLabel: "high",
	}}
	handler := newTestRouter(questions, nil, nil)

	body := `{"tenant_id":"tenant-a","question":"what is the refund policy"}`
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body)))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var result domain.AskResult
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Answer != "Refunds allowed [1]." || len(result.Citations) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if questions.lastTenantID != "tenant-a" {
		t.Fatalf("expected tenant forwarded, got %q", questions.lastTenantID)
	}
}

func TestAskTenantFromHeader(t *testing.T) {
	questions := &stubQuestionService{result: &domain.AskResult{}}
	handler := newTestRouter(questions, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`))
	req.Header.Set("X-Tenant-ID", "tenant-h")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if questions.lastTenantID != "tenant-h" {
		t.Fatalf("expected header tenant, got %q", questions.lastTenantID)
	}
}

func TestAskValidation(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing tenant", `{"question":"q"}`},
		{"missing question", `{"tenant_id":"t"}`},
	}
	for _, tc := range cases {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(tc.body)))
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, res.Code)
		}
	}

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/ask", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", res.Code)
	}
}

func TestAskMapsErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("bad")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrTemporary, "ask", errors.New("busy")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := newTestRouter(&stubQuestionService{err: tc.err}, nil, nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"tenant_id":"t","question":"q"}`)))
		if res.Code != tc.want {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.want, res.Code)
		}
	}
}

func TestAskStreamEmitsSSE(t *testing.T) {
	questions := &stubQuestionService{
		result: &domain.AskResult{Answer: "Hello world", Citations: []domain.Citation{}},
		deltas: []string{"Hello ", "world"},
	}
	handler := newTestRouter(questions, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask/stream", strings.NewReader(`{"tenant_id":"t","question":"q"}`)))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("expected event-stream content type, got %s", ct)
	}
	body := res.Body.String()
	if !strings.Contains(body, `data: {"delta":"Hello "}`) {
		t.Fatalf("expected first delta event, got:\n%s", body)
	}
	if !strings.Contains(body, `"result"`) {
		t.Fatalf("expected final result event, got:\n%s", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("expected terminal [DONE], got:\n%s", body)
	}
}

func TestAskStreamCacheHitSendsSingleFragment(t *testing.T) {
	questions := &stubQuestionService{
		result: &domain.AskResult{Answer: "cached answer", CacheHit: true, Citations: []domain.Citation{}},
	}
	handler := newTestRouter(questions, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask/stream", strings.NewReader(`{"tenant_id":"t","question":"q"}`)))

	body := res.Body.String()
	if !strings.Contains(body, `data: {"delta":"cached answer"}`) {
		t.Fatalf("expected whole answer as one fragment, got:\n%s", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("expected terminal [DONE], got:\n%s", body)
	}
}

func TestCacheInvalidateEndpoint(t *testing.T) {
	invalidator := &stubInvalidator{deleted: 12}
	handler := newTestRouter(nil, nil, invalidator)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/tenants/tenant-a/cache/invalidate", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var payload struct {
		TenantID    string `json:"tenant_id"`
		DeletedKeys int    `json:"deleted_keys"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.TenantID != "tenant-a" || payload.DeletedKeys != 12 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if invalidator.lastTenantID != "tenant-a" {
		t.Fatalf("expected tenant forwarded, got %q", invalidator.lastTenantID)
	}
}

func TestCacheInvalidateRejectsWrongPathAndMethod(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/tenants/tenant-a/unknown", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/tenants/tenant-a/cache/invalidate", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestSummarizeEndpoint(t *testing.T) {
	summarizer := &stubSummarizer{summaries: []domain.DocumentSummary{
		{DocumentID: "doc-1", Summary: "a summary"},
		{DocumentID: "doc-2", Err: "context too long"},
	}}
	handler := newTestRouter(nil, summarizer, nil)

	body := `{"tenant_id":"t","documents":[{"document_id":"doc-1","title":"A","text":"body"},{"document_id":"doc-2","title":"B","text":"body"}]}`
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/documents/summarize", strings.NewReader(body)))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var payload struct {
		Summaries []domain.DocumentSummary `json:"summaries"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Summaries) != 2 || payload.Summaries[1].Err == "" {
		t.Fatalf("unexpected summaries %+v", payload.Summaries)
	}
}

func newMetricsRouter(questions *stubQuestionService, pipeline *metrics.APIMetrics) http.Handler {
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return NewRouter(questions, &stubSummarizer{}, &stubInvalidator{}, pipeline, logger).Handler()
}

func scrapeMetrics(t *testing.T, handler http.Handler) string {
	t.Helper()
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("metrics scrape: expected 200, got %d", res.Code)
	}
	return res.Body.String()
}

func TestAskRecordsPipelineMetrics(t *testing.T) {
	questions := &stubQuestionService{result: &domain.AskResult{
		Answer:              "Refunds allowed [1].",
		Citations:           []domain.Citation{{Number: 1, DocumentID: "doc-1"}},
		Confidence:          0.9,
		RetrievedChunkCount: 3,
		InvalidCitations:    []int{4, 9},
		TokensUsed:          domain.TokenUsage{EmbeddingTokens: 5, PromptTokens: 120, CompletionTokens: 30},
		Timing:              domain.Timing{RetrievalMs: 40, GenerationMs: 900},
	}}
	handler := newMetricsRouter(questions, metrics.NewAPIMetrics("api"))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"tenant_id":"t","question":"q"}`)))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	scraped := scrapeMetrics(t, handler)
	for _, want := range []string{
		`ragcore_pipeline_ask_total{mode="sync",outcome="answered",service="api"} 1`,
		`ragcore_cache_lookup_total{result="miss",service="api"} 1`,
		`ragcore_pipeline_invalid_citations_total{service="api"} 2`,
		`ragcore_pipeline_retrieved_chunks_count{service="api"} 1`,
		`ragcore_llm_tokens_total{direction="embedding",service="api"} 5`,
		`ragcore_llm_tokens_total{direction="in",service="api"} 120`,
		`ragcore_llm_tokens_total{direction="out",service="api"} 30`,
		`ragcore_pipeline_stage_duration_seconds_count{service="api",stage="retrieval"} 1`,
		`ragcore_pipeline_stage_duration_seconds_count{service="api",stage="generation"} 1`,
	} {
		if !strings.Contains(scraped, want) {
			t.Fatalf("expected scrape to contain %q, got:\n%s", want, scraped)
		}
	}
}

func TestAskMetricsCacheHitAndConversationalOutcomes(t *testing.T) {
	pipeline := metrics.NewAPIMetrics("api")

	handler := newMetricsRouter(&stubQuestionService{result: &domain.AskResult{Answer: "cached", CacheHit: true}}, pipeline)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"tenant_id":"t","question":"q"}`)))

	handler = newMetricsRouter(&stubQuestionService{result: &domain.AskResult{Answer: "Hello!", Conversational: true}}, pipeline)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"tenant_id":"t","question":"hi"}`)))

	scraped := scrapeMetrics(t, handler)
	for _, want := range []string{
		`ragcore_pipeline_ask_total{mode="sync",outcome="cache_hit",service="api"} 1`,
		`ragcore_pipeline_ask_total{mode="sync",outcome="conversational",service="api"} 1`,
		`ragcore_cache_lookup_total{result="hit",service="api"} 1`,
		`ragcore_pipeline_conversational_total{service="api"} 1`,
	} {
		if !strings.Contains(scraped, want) {
			t.Fatalf("expected scrape to contain %q, got:\n%s", want, scraped)
		}
	}
	if strings.Contains(scraped, "ragcore_llm_tokens_total") {
		t.Fatalf("cache hits and conversational replies must not record token usage:\n%s", scraped)
	}
}

func TestAskMetricsErrorOutcome(t *testing.T) {
	pipeline := metrics.NewAPIMetrics("api")
	handler := newMetricsRouter(&stubQuestionService{err: errors.New("boom")}, pipeline)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"tenant_id":"t","question":"q"}`)))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}

	scraped := scrapeMetrics(t, handler)
	if !strings.Contains(scraped, `ragcore_pipeline_ask_total{mode="sync",outcome="error",service="api"} 1`) {
		t.Fatalf("expected error outcome recorded, got:\n%s", scraped)
	}
}

func TestAskStreamRecordsStreamMode(t *testing.T) {
	pipeline := metrics.NewAPIMetrics("api")
	questions := &stubQuestionService{
		result: &domain.AskResult{Answer: "Hello world", Citations: []domain.Citation{}, RetrievedChunkCount: 2},
		deltas: []string{"Hello ", "world"},
	}
	handler := newMetricsRouter(questions, pipeline)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ask/stream", strings.NewReader(`{"tenant_id":"t","question":"q"}`)))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	scraped := scrapeMetrics(t, handler)
	if !strings.Contains(scraped, `ragcore_pipeline_ask_total{mode="stream",outcome="answered",service="api"} 1`) {
		t.Fatalf("expected stream mode recorded, got:\n%s", scraped)
	}
}

func TestSummarizeRequiresDocuments(t *testing.T) {
	handler := newTestRouter(nil, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/documents/summarize", strings.NewReader(`{"tenant_id":"t","documents":[]}`)))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
