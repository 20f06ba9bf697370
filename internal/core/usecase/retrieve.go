package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tenantiq/ragcore/internal/core/domain"
	"github.com/tenantiq/ragcore/internal/core/ports"
)

// RetrieverOptions tunes the hybrid engine independently of per-tenant
// RAGConfig.
type RetrieverOptions struct {
	// RRFK is the Reciprocal Rank Fusion constant.
	RRFK int
	// HybridCandidates caps how many candidates each modality returns in
	// single-pass mode.
	HybridCandidates int
}

func (o RetrieverOptions) normalize() RetrieverOptions {
	if o.RRFK <= 0 {
		o.RRFK = 60
	}
	if o.HybridCandidates <= 0 {
		o.HybridCandidates = 30
	}
	return o
}

// HybridRetriever issues one vector-similarity and one keyword retrieval,
// fuses them via RRF, normalizes, filters, and scores the survivors.
type HybridRetriever struct {
	embedder ports.Embedder
	store    ports.SearchStore
	scorer   *ConfidenceScorer
	opts     RetrieverOptions
}

func NewHybridRetriever(
	embedder ports.Embedder,
	store ports.SearchStore,
	scorer *ConfidenceScorer,
	opts RetrieverOptions,
) *HybridRetriever {
	return &HybridRetriever{
		embedder: embedder,
		store:    store,
		scorer:   scorer,
		opts:     opts.normalize(),
	}
}

// Retrieve returns the ranked, confidence-scored chunk set for one query
// plus the embedding token count. An embedding failure fails the whole
// retrieval; there is no silent keyword-only fallback. Zero results from
// both modalities yields an empty list, not an error.
func (r *HybridRetriever) Retrieve(
	ctx context.Context,
	tenantID, query string,
	cfg domain.RAGConfig,
) ([]domain.RetrievedChunk, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("query is empty"))
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}

	queryVector, embedTokens, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, 0, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}
	if len(queryVector) == 0 {
		return nil, 0, domain.WrapError(domain.ErrEmbedding, "embed query", fmt.Errorf("empty query embedding"))
	}

	candidateLimit := r.opts.HybridCandidates
	if cfg.TwoPass {
		candidateLimit = cfg.CandidatePool
		if candidateLimit <= 0 {
			candidateLimit = 50
		}
	}
	if candidateLimit < topK {
		candidateLimit = topK
	}

	fused, err := r.searchBoth(ctx, tenantID, query, queryVector, candidateLimit)
	if err != nil {
		return nil, embedTokens, err
	}

	fused = normalizeByMax(fused)
	fused = filterByThreshold(fused, cfg.ConfidenceThreshold)
	for i := range fused {
		fused[i].Confidence = r.scorer.Score(fused[i].RawScore)
	}

	if cfg.TwoPass {
		return selectDiverse(fused, topK, cfg.MaxChunksPerDocument, cfg.MinDocumentsToInclude), embedTokens, nil
	}
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, embedTokens, nil
}

// searchBoth issues the two modality queries concurrently and joins them
// before fusion. Either store failure fails the retrieval.
func (r *HybridRetriever) searchBoth(
	ctx context.Context,
	tenantID, query string,
	queryVector []float32,
	limit int,
) ([]domain.RetrievedChunk, error) {
	var (
		wg          sync.WaitGroup
		vectorHits  []domain.RetrievedChunk
		keywordHits []domain.RetrievedChunk
		vectorErr   error
		keywordErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = r.store.SearchVector(ctx, tenantID, queryVector, limit, nil)
	}()
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = r.store.SearchKeyword(ctx, tenantID, query, limit, nil)
	}()
	wg.Wait()

	if vectorErr != nil {
		return nil, domain.WrapError(domain.ErrRetrievalStore, "vector search", vectorErr)
	}
	if keywordErr != nil {
		return nil, domain.WrapError(domain.ErrRetrievalStore, "keyword search", keywordErr)
	}

	return fuseRRF(vectorHits, keywordHits, r.opts.RRFK), nil
}

// selectDiverse is the second pass of two-pass retrieval: from the scored
// discovery pool it picks topK chunks with at most maxPerDoc per document,
// first guaranteeing minDocs distinct documents whenever that many exist in
// the pool. Naive top-K frequently returns many chunks from one long
// document; this keeps cross-document context in the answer.
func selectDiverse(pool []domain.RetrievedChunk, topK, maxPerDoc, minDocs int) []domain.RetrievedChunk {
	if len(pool) == 0 || topK <= 0 {
		return nil
	}
	if maxPerDoc <= 0 {
		maxPerDoc = 5
	}

	perDoc := make(map[string]int)
	taken := make(map[string]bool, topK)
	out := make([]domain.RetrievedChunk, 0, topK)

	// Seed one best chunk per distinct document, in pool (score) order,
	// until the distinct-document floor is met.
	if minDocs > 1 {
		seen := make(map[string]bool)
		for _, chunk := range pool {
			if len(seen) >= minDocs || len(out) >= topK {
				break
			}
			if seen[chunk.DocumentID] {
				continue
			}
			seen[chunk.DocumentID] = true
			perDoc[chunk.DocumentID]++
			taken[chunk.ID] = true
			out = append(out, chunk)
		}
	}

	for _, chunk := range pool {
		if len(out) >= topK {
			break
		}
		if taken[chunk.ID] || perDoc[chunk.DocumentID] >= maxPerDoc {
			continue
		}
		perDoc[chunk.DocumentID]++
		taken[chunk.ID] = true
		out = append(out, chunk)
	}

	sortChunksByConfidence(out)
	return out
}
