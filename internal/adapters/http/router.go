package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tenantiq/ragcore/internal/core/domain"
	"github.com/tenantiq/ragcore/internal/core/ports"
	"github.com/tenantiq/ragcore/internal/observability/metrics"
)

type Router struct {
	questions   ports.QuestionService
	summarizer  ports.DocumentSummarizer
	invalidator ports.CacheInvalidator
	pipeline    *metrics.APIMetrics
	logger      *slog.Logger
}

func NewRouter(
	questions ports.QuestionService,
	summarizer ports.DocumentSummarizer,
	invalidator ports.CacheInvalidator,
	pipeline *metrics.APIMetrics,
	logger *slog.Logger,
) *Router {
	return &Router{
		questions:   questions,
		summarizer:  summarizer,
		invalidator: invalidator,
		pipeline:    pipeline,
		logger:      logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/ask", rt.ask)
	mux.HandleFunc("/v1/ask/stream", rt.askStream)
	mux.HandleFunc("/v1/documents/summarize", rt.summarizeDocuments)
	mux.HandleFunc("/v1/tenants/", rt.tenantSubresource)
	if rt.pipeline != nil {
		mux.Handle("/metrics", rt.pipeline.Handler())
	}
	return rt.loggingMiddleware(mux)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	TenantID string `json:"tenant_id"`
	Question string `json:"question"`
}

func decodeAskRequest(r *http.Request) (askRequest, string) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return askRequest{}, "invalid json"
	}
	if req.TenantID == "" {
		req.TenantID = r.Header.Get("X-Tenant-ID")
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return askRequest{}, "tenant_id is required"
	}
	if strings.TrimSpace(req.Question) == "" {
		return askRequest{}, "question is required"
	}
	return req, ""
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	req, problem := decodeAskRequest(r)
	if problem != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": problem})
		return
	}

	result, err := rt.questions.Ask(r.Context(), req.TenantID, req.Question)
	if err != nil {
		rt.recordAskError("sync")
		rt.logger.Error("ask failed", "tenant_id", req.TenantID, "error", err)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	rt.recordAskResult("sync", result)
	writeJSON(w, http.StatusOK, result)
}

// recordAskResult feeds one completed pipeline run into the pipeline
// collectors. Stage durations are skipped for cache hits and conversational
// replies: their timings describe an earlier (or no) pipeline run.
func (rt *Router) recordAskResult(mode string, result *domain.AskResult) {
	if rt.pipeline == nil {
		return
	}
	rt.pipeline.RecordAsk(
		mode,
		result.RetrievedChunkCount,
		len(result.InvalidCitations),
		result.Confidence,
		result.CacheHit,
		result.Conversational,
	)
	if result.CacheHit || result.Conversational {
		return
	}
	rt.pipeline.RecordTokenUsage(
		result.TokensUsed.EmbeddingTokens,
		result.TokensUsed.PromptTokens,
		result.TokensUsed.CompletionTokens,
	)
	rt.pipeline.RecordStageDuration("retrieval", time.Duration(result.Timing.RetrievalMs)*time.Millisecond)
	rt.pipeline.RecordStageDuration("generation", time.Duration(result.Timing.GenerationMs)*time.Millisecond)
}

func (rt *Router) recordAskError(mode string) {
	if rt.pipeline == nil {
		return
	}
	rt.pipeline.RecordAskError(mode)
}

func (rt *Router) askStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	req, problem := decodeAskRequest(r)
	if problem != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": problem})
		return
	}

	result, err := rt.streamAsk(w, r, req.TenantID, req.Question)
	if err != nil {
		// A completed pipeline run still counts even when the client
		// write failed partway through.
		if result != nil {
			rt.recordAskResult("stream", result)
		} else {
			rt.recordAskError("stream")
		}
		rt.logger.Error("ask stream failed", "tenant_id", req.TenantID, "error", err)
		return
	}
	rt.recordAskResult("stream", result)
}

type summarizeRequest struct {
	TenantID  string                `json:"tenant_id"`
	Documents []domain.DocumentText `json:"documents"`
}

func (rt *Router) summarizeDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Documents) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "documents is required"})
		return
	}

	summaries, err := rt.summarizer.SummarizeDocuments(r.Context(), req.Documents)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// tenantSubresource handles POST /v1/tenants/{tenant_id}/cache/invalidate.
func (rt *Router) tenantSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	tenantID, action, found := strings.Cut(rest, "/")
	if !found || action != "cache/invalidate" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant id is required"})
		return
	}

	deleted, err := rt.invalidator.InvalidateTenant(r.Context(), tenantID)
	if err != nil {
		rt.logger.Error("cache invalidation failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":    tenantID,
		"deleted_keys": deleted,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (rt *Router) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt.logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
