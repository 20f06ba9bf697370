package ports

import (
	"context"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

// Embedder builds vectors for query text, returning provider token counts.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, int, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error)
}

// SearchStore runs ranked retrievals over a tenant's ready documents.
// Results come back in rank order (best first); both methods honor an
// optional document-id restriction.
type SearchStore interface {
	SearchVector(ctx context.Context, tenantID string, queryVector []float32, limit int, documentIDs []string) ([]domain.RetrievedChunk, error)
	SearchKeyword(ctx context.Context, tenantID, queryText string, limit int, documentIDs []string) ([]domain.RetrievedChunk, error)
}

// AnswerGenerator creates the final user-facing answer. StreamComplete
// invokes onDelta for each text fragment as it arrives and returns the full
// transcript once the stream's terminal signal is seen.
type AnswerGenerator interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, opts domain.GenerationOptions) (string, domain.TokenUsage, error)
	StreamComplete(ctx context.Context, messages []domain.ChatMessage, opts domain.GenerationOptions, onDelta func(string)) (string, domain.TokenUsage, error)
}

// ResponseCache stores complete question/answer cycles per tenant.
// Get and Set degrade to miss/no-op on any cache failure; they never
// propagate errors into the pipeline.
type ResponseCache interface {
	Get(ctx context.Context, tenantID, question string) (*domain.CachedResponse, bool)
	Set(ctx context.Context, tenantID, question string, response domain.CachedResponse)
	InvalidateTenant(ctx context.Context, tenantID string) (int, error)
}

// InteractionSink appends one interaction record. Failures are swallowed by
// the caller, never surfaced to the user-facing response.
type InteractionSink interface {
	Record(ctx context.Context, interaction domain.Interaction) error
}

// TenantConfigSource supplies per-tenant retrieval tunables.
type TenantConfigSource interface {
	RAGConfig(ctx context.Context, tenantID string) (domain.RAGConfig, error)
}

// CallLimiter bounds concurrent outbound provider calls. Queued work runs in
// arrival order once a slot frees.
type CallLimiter interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// CorpusEvents publishes and consumes tenant corpus-change notifications.
// Any component mutating a tenant's documents publishes here so the response
// cache can be invalidated.
type CorpusEvents interface {
	PublishCorpusChanged(ctx context.Context, tenantID string) error
	SubscribeCorpusChanged(ctx context.Context, handler func(context.Context, string) error) error
}
