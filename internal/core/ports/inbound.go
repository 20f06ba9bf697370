package ports

import (
	"context"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

// QuestionService is the inbound contract for the ask pipeline.
type QuestionService interface {
	Ask(ctx context.Context, tenantID, question string) (*domain.AskResult, error)
	AskStream(ctx context.Context, tenantID, question string, onDelta func(string)) (*domain.AskResult, error)
}

// DocumentSummarizer runs bounded-concurrency per-document summarization.
type DocumentSummarizer interface {
	SummarizeDocuments(ctx context.Context, docs []domain.DocumentText) ([]domain.DocumentSummary, error)
}

// CacheInvalidator exposes tenant-scoped response-cache invalidation.
type CacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) (int, error)
}
