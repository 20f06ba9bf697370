package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tenantiq/ragcore/internal/core/domain"
	"github.com/tenantiq/ragcore/internal/core/ports"
)

// NoContextAnswer is returned when retrieval finds nothing relevant.
const NoContextAnswer = "I could not find relevant information in your documents to answer this question."

const answerSystemPrompt = `You are a document assistant. Answer the question using ONLY the numbered source passages below.
Cite every claim with the passage number in square brackets, for example [1] or [Source 2].
If the passages do not contain the answer, say so. Do not invent citations.`

// AskOptions tunes the orchestrator independently of per-tenant RAGConfig.
type AskOptions struct {
	MaxAnswerTokens   int
	Temperature       float64
	RetrievalTimeout  time.Duration
	SideEffectTimeout time.Duration
}

func (o AskOptions) normalize() AskOptions {
	if o.MaxAnswerTokens <= 0 {
		o.MaxAnswerTokens = 1024
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.1
	}
	if o.RetrievalTimeout <= 0 {
		o.RetrievalTimeout = 30 * time.Second
	}
	if o.SideEffectTimeout <= 0 {
		o.SideEffectTimeout = 10 * time.Second
	}
	return o
}

// AskUseCase sequences cache lookup, conversational short-circuiting,
// retrieval, reranking, citation-context construction, generation, citation
// parsing, interaction logging, and cache write. All collaborators are
// injected at construction time; there is no package-level state.
type AskUseCase struct {
	retriever *HybridRetriever
	reranker  *Reranker
	generator ports.AnswerGenerator
	cache     ports.ResponseCache
	sink      ports.InteractionSink
	tenants   ports.TenantConfigSource
	scorer    *ConfidenceScorer
	logger    *slog.Logger
	opts      AskOptions
}

func NewAskUseCase(
	retriever *HybridRetriever,
	reranker *Reranker,
	generator ports.AnswerGenerator,
	cache ports.ResponseCache,
	sink ports.InteractionSink,
	tenants ports.TenantConfigSource,
	scorer *ConfidenceScorer,
	logger *slog.Logger,
	opts AskOptions,
) *AskUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AskUseCase{
		retriever: retriever,
		reranker:  reranker,
		generator: generator,
		cache:     cache,
		sink:      sink,
		tenants:   tenants,
		scorer:    scorer,
		logger:    logger,
		opts:      opts.normalize(),
	}
}

// Ask runs the full pipeline in non-streaming mode.
func (uc *AskUseCase) Ask(ctx context.Context, tenantID, question string) (*domain.AskResult, error) {
	return uc.run(ctx, tenantID, question, func(genCtx context.Context, messages []domain.ChatMessage) (string, domain.TokenUsage, error) {
		return uc.generator.Complete(genCtx, messages, uc.generationOptions())
	})
}

// AskStream runs the pipeline emitting answer text incrementally through
// onDelta. The transcript is buffered so citations are parsed exactly once,
// after the stream's terminal signal; every other stage and fallback rule is
// identical to Ask.
func (uc *AskUseCase) AskStream(ctx context.Context, tenantID, question string, onDelta func(string)) (*domain.AskResult, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return uc.run(ctx, tenantID, question, func(genCtx context.Context, messages []domain.ChatMessage) (string, domain.TokenUsage, error) {
		return uc.generator.StreamComplete(genCtx, messages, uc.generationOptions(), onDelta)
	})
}

func (uc *AskUseCase) run(
	ctx context.Context,
	tenantID, question string,
	generate func(context.Context, []domain.ChatMessage) (string, domain.TokenUsage, error),
) (*domain.AskResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	question = strings.TrimSpace(question)
	if tenantID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("tenant id is required"))
	}
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question is required"))
	}

	if reply, ok := ConversationalReply(question); ok {
		result := &domain.AskResult{
			Answer:          reply,
			Citations:       []domain.Citation{},
			Confidence:      1.0,
			ConfidenceLabel: uc.scorer.Label(1.0),
			Conversational:  true,
		}
		uc.dispatchSideEffects(tenantID, question, result, false)
		return result, nil
	}

	if cached, ok := uc.cache.Get(ctx, tenantID, question); ok {
		result := &domain.AskResult{
			Answer:              cached.Answer,
			Citations:           cached.Citations,
			Confidence:          cached.Confidence,
			ConfidenceLabel:     uc.scorer.Label(cached.Confidence),
			RetrievedChunkCount: cached.RetrievedChunkCount,
			TokensUsed:          cached.TokensUsed,
			Timing:              cached.Timing,
			CacheHit:            true,
		}
		uc.dispatchSideEffects(tenantID, question, result, false)
		return result, nil
	}

	cfg, err := uc.tenants.RAGConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant config: %w", err)
	}

	// Retrieval runs on a detached context: once issued, the
	// embedding/search round-trip is allowed to complete; a cancelled
	// caller just discards the result below.
	retrievalCtx, cancelRetrieval := context.WithTimeout(context.WithoutCancel(ctx), uc.opts.RetrievalTimeout)
	retrievalStart := time.Now()
	chunks, embedTokens, err := uc.retriever.Retrieve(retrievalCtx, tenantID, question, cfg)
	cancelRetrieval()
	retrievalMs := time.Since(retrievalStart).Milliseconds()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := domain.TokenUsage{EmbeddingTokens: embedTokens}

	if len(chunks) == 0 {
		result := &domain.AskResult{
			Answer:          NoContextAnswer,
			Citations:       []domain.Citation{},
			Confidence:      0,
			ConfidenceLabel: uc.scorer.Label(0),
			TokensUsed:      tokens,
			Timing:          domain.Timing{RetrievalMs: retrievalMs},
		}
		uc.dispatchSideEffects(tenantID, question, result, false)
		return result, nil
	}

	reranked := uc.reranker.Rerank(chunks, question)
	cctx := BuildContext(reranked)
	messages := buildAnswerMessages(question, cctx)

	generationStart := time.Now()
	answer, usage, err := generate(ctx, messages)
	generationMs := time.Since(generationStart).Milliseconds()
	if err != nil {
		return nil, domain.WrapError(domain.ErrGeneration, "generate answer", err)
	}
	tokens = tokens.Add(usage)

	parsed := ParseCitations(answer, cctx)
	confidence := OverallConfidence(parsed.Citations)

	result := &domain.AskResult{
		Answer:              answer,
		Citations:           parsed.Citations,
		Confidence:          confidence,
		ConfidenceLabel:     uc.scorer.Label(confidence),
		RetrievedChunkCount: len(reranked),
		TokensUsed:          tokens,
		Timing: domain.Timing{
			RetrievalMs:  retrievalMs,
			GenerationMs: generationMs,
		},
		InvalidCitations: parsed.InvalidCitations,
	}
	if result.Citations == nil {
		result.Citations = []domain.Citation{}
	}

	uc.dispatchSideEffects(tenantID, question, result, true)
	return result, nil
}

func (uc *AskUseCase) generationOptions() domain.GenerationOptions {
	return domain.GenerationOptions{
		MaxTokens:   uc.opts.MaxAnswerTokens,
		Temperature: uc.opts.Temperature,
	}
}

// dispatchSideEffects fires the interaction-log write and the cache write
// after the response is fully constructed. Both are best-effort with their
// own error channel (a warn log) that never joins the main result.
func (uc *AskUseCase) dispatchSideEffects(tenantID, question string, result *domain.AskResult, cacheWrite bool) {
	interaction := domain.Interaction{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Question:       question,
		Answer:         result.Answer,
		Confidence:     result.Confidence,
		Citations:      result.Citations,
		ChunkCount:     result.RetrievedChunkCount,
		TokensUsed:     result.TokensUsed,
		Timing:         result.Timing,
		CacheHit:       result.CacheHit,
		Conversational: result.Conversational,
		CreatedAt:      time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), uc.opts.SideEffectTimeout)
		defer cancel()

		if err := uc.sink.Record(ctx, interaction); err != nil {
			uc.logger.Warn("interaction_sink_write_failed", "tenant_id", tenantID, "error", err)
		}

		if cacheWrite {
			uc.cache.Set(ctx, tenantID, question, domain.CachedResponse{
				Answer:              result.Answer,
				Citations:           result.Citations,
				Confidence:          result.Confidence,
				RetrievedChunkCount: result.RetrievedChunkCount,
				TokensUsed:          result.TokensUsed,
				Timing:              result.Timing,
				OriginalQuery:       question,
			})
		}
	}()
}

func buildAnswerMessages(question string, cctx domain.CitationContext) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: answerSystemPrompt},
		{
			Role:    "user",
			Content: fmt.Sprintf("Source passages:\n%s\n\nQuestion: %s", FormatForPrompt(cctx), question),
		},
	}
}
