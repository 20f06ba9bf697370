package usecase

import (
	"math"
	"testing"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

func TestRerankBoostsTermOverlap(t *testing.T) {
	reranker := NewReranker(RerankerOptions{})
	chunks := []domain.RetrievedChunk{
		{ID: "match", Content: "The invoice workflow handles refunds.", Confidence: 0.5, PositionIndex: 3},
		{ID: "miss", Content: "Unrelated text.", Confidence: 0.5, PositionIndex: 3},
	}

	out := reranker.Rerank(chunks, "invoice refunds")
	if out[0].ID != "match" {
		t.Fatalf("expected term-matching chunk first, got %s", out[0].ID)
	}
	want := 0.5 + 2*0.02
	if math.Abs(out[0].Confidence-want) > 1e-9 {
		t.Fatalf("expected two term boosts %v, got %v", want, out[0].Confidence)
	}
	if out[1].Confidence != 0.5 {
		t.Fatalf("expected non-matching chunk unchanged, got %v", out[1].Confidence)
	}
}

func TestRerankLeadChunkBoost(t *testing.T) {
	reranker := NewReranker(RerankerOptions{})
	chunks := []domain.RetrievedChunk{
		{ID: "lead", Content: "intro", Confidence: 0.5, PositionIndex: 0},
		{ID: "body", Content: "intro", Confidence: 0.5, PositionIndex: 4},
	}

	out := reranker.Rerank(chunks, "")
	if out[0].ID != "lead" {
		t.Fatalf("expected lead chunk first, got %s", out[0].ID)
	}
	if math.Abs(out[0].Confidence-0.51) > 1e-9 {
		t.Fatalf("expected lead boost 0.51, got %v", out[0].Confidence)
	}
}

func TestRerankClampsConfidenceAtOne(t *testing.T) {
	reranker := NewReranker(RerankerOptions{})
	chunks := []domain.RetrievedChunk{
		{ID: "top", Content: "alpha beta gamma", Confidence: 0.99, PositionIndex: 0},
	}

	out := reranker.Rerank(chunks, "alpha beta gamma")
	if out[0].Confidence > 1 {
		t.Fatalf("expected confidence clamped at 1, got %v", out[0].Confidence)
	}
}

func TestRerankStableOnTies(t *testing.T) {
	reranker := NewReranker(RerankerOptions{})
	chunks := []domain.RetrievedChunk{
		{ID: "first", Content: "x", Confidence: 0.5, PositionIndex: 2},
		{ID: "second", Content: "y", Confidence: 0.5, PositionIndex: 2},
	}

	out := reranker.Rerank(chunks, "")
	if out[0].ID != "first" || out[1].ID != "second" {
		t.Fatalf("expected tie to preserve input order, got %s,%s", out[0].ID, out[1].ID)
	}
}

func TestRerankDoesNotMutateInput(t *testing.T) {
	reranker := NewReranker(RerankerOptions{})
	chunks := []domain.RetrievedChunk{
		{ID: "a", Content: "alpha", Confidence: 0.5, PositionIndex: 0},
	}

	_ = reranker.Rerank(chunks, "alpha")
	if chunks[0].Confidence != 0.5 {
		t.Fatalf("input slice mutated: %v", chunks[0].Confidence)
	}
}

func TestQueryTermsSkipsShortAndDuplicateTerms(t *testing.T) {
	terms := queryTerms("Go is THE best, go GO go!", 2)
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms, got %v", terms)
	}
	if terms[0] != "the" || terms[1] != "best" {
		t.Fatalf("unexpected terms: %v", terms)
	}
}
