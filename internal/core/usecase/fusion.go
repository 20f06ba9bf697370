package usecase

import (
	"sort"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

type fusedCandidate struct {
	chunk   domain.RetrievedChunk
	score   float64
	arrival int
}

// fuseRRF merges the vector and keyword result lists via Reciprocal Rank
// Fusion: each chunk accumulates 1/(k + rank) per list it appears in, with
// 1-based ranks. A chunk found by only one modality keeps its single
// contribution rather than being excluded. Ties break by vector rank, then
// keyword rank, then arrival order, so fusion is fully deterministic.
func fuseRRF(vector, keyword []domain.RetrievedChunk, rrfK int) []domain.RetrievedChunk {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]*fusedCandidate, len(vector)+len(keyword))
	arrival := 0

	for i, chunk := range vector {
		rank := i + 1
		candidate, ok := acc[chunk.ID]
		if !ok {
			candidate = &fusedCandidate{chunk: chunk, arrival: arrival}
			arrival++
			acc[chunk.ID] = candidate
		}
		candidate.chunk.VectorRank = rank
		candidate.score += 1.0 / float64(rrfK+rank)
	}

	for i, chunk := range keyword {
		rank := i + 1
		candidate, ok := acc[chunk.ID]
		if !ok {
			chunk.VectorRank = 0
			candidate = &fusedCandidate{chunk: chunk, arrival: arrival}
			arrival++
			acc[chunk.ID] = candidate
		}
		candidate.chunk.KeywordRank = rank
		candidate.score += 1.0 / float64(rrfK+rank)
	}

	out := make([]*fusedCandidate, 0, len(acc))
	for _, candidate := range acc {
		candidate.chunk.RawScore = candidate.score
		out = append(out, candidate)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if ri, rj := rankForTieBreak(out[i].chunk.VectorRank), rankForTieBreak(out[j].chunk.VectorRank); ri != rj {
			return ri < rj
		}
		if ri, rj := rankForTieBreak(out[i].chunk.KeywordRank), rankForTieBreak(out[j].chunk.KeywordRank); ri != rj {
			return ri < rj
		}
		return out[i].arrival < out[j].arrival
	})

	chunks := make([]domain.RetrievedChunk, 0, len(out))
	for _, candidate := range out {
		chunks = append(chunks, candidate.chunk)
	}
	return chunks
}

// rankForTieBreak treats absence (rank 0) as worse than any real rank.
func rankForTieBreak(rank int) int {
	if rank <= 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

// normalizeByMax rescales fused scores so the best chunk scores exactly 1.0.
// The result is a corpus-relative confidence proxy: 1.0 means "best available
// match for this query", not an absolute quality bound.
func normalizeByMax(chunks []domain.RetrievedChunk) []domain.RetrievedChunk {
	if len(chunks) == 0 {
		return chunks
	}
	max := chunks[0].RawScore
	for _, chunk := range chunks[1:] {
		if chunk.RawScore > max {
			max = chunk.RawScore
		}
	}
	if max <= 0 {
		return chunks
	}
	for i := range chunks {
		chunks[i].RawScore = chunks[i].RawScore / max
	}
	return chunks
}

// filterByThreshold drops chunks whose normalized score falls below the
// tenant's confidence threshold.
func filterByThreshold(chunks []domain.RetrievedChunk, threshold float64) []domain.RetrievedChunk {
	if threshold <= 0 {
		return chunks
	}
	out := chunks[:0]
	for _, chunk := range chunks {
		if chunk.RawScore >= threshold {
			out = append(out, chunk)
		}
	}
	return out
}
