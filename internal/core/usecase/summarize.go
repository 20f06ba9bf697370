package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tenantiq/ragcore/internal/core/domain"
	"github.com/tenantiq/ragcore/internal/core/ports"
)

const summaryPrompt = `Summarize the following document in 3-5 factual sentences. Plain text only.

Title: %s

%s`

// SummarizeUseCase issues one generation call per document through a
// bounded-concurrency limiter, so a large batch cannot overwhelm the
// provider or burst cost.
type SummarizeUseCase struct {
	generator ports.AnswerGenerator
	limiter   ports.CallLimiter
}

func NewSummarizeUseCase(generator ports.AnswerGenerator, limiter ports.CallLimiter) *SummarizeUseCase {
	return &SummarizeUseCase{generator: generator, limiter: limiter}
}

// SummarizeDocuments summarizes each document independently. Per-document
// failures are reported in the result rather than failing the batch; only a
// cancelled context fails the call as a whole.
func (uc *SummarizeUseCase) SummarizeDocuments(ctx context.Context, docs []domain.DocumentText) ([]domain.DocumentSummary, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	results := make([]domain.DocumentSummary, len(docs))
	var wg sync.WaitGroup

	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc domain.DocumentText) {
			defer wg.Done()
			results[i] = uc.summarizeOne(ctx, doc)
		}(i, doc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (uc *SummarizeUseCase) summarizeOne(ctx context.Context, doc domain.DocumentText) domain.DocumentSummary {
	summary := domain.DocumentSummary{DocumentID: doc.DocumentID}

	err := uc.limiter.Do(ctx, func(callCtx context.Context) error {
		messages := []domain.ChatMessage{{
			Role:    "user",
			Content: fmt.Sprintf(summaryPrompt, doc.Title, doc.Text),
		}}
		text, _, err := uc.generator.Complete(callCtx, messages, domain.GenerationOptions{MaxTokens: 256, Temperature: 0.2})
		if err != nil {
			return err
		}
		summary.Summary = strings.TrimSpace(text)
		return nil
	})
	if err != nil {
		summary.Err = err.Error()
	}
	return summary
}
