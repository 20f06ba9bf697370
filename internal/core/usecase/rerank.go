package usecase

import (
	"sort"
	"strings"
	"unicode"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

// RerankerOptions tunes the lexical/structural confidence nudges.
type RerankerOptions struct {
	// MinTermLength skips query terms at or below this rune count.
	MinTermLength int
	// TermBoost is added per matching query term.
	TermBoost float64
	// LeadChunkBoost is added when the chunk opens its document
	// (position index 0 tends to carry introductory/summary content).
	LeadChunkBoost float64
}

func DefaultRerankerOptions() RerankerOptions {
	return RerankerOptions{
		MinTermLength:  2,
		TermBoost:      0.02,
		LeadChunkBoost: 0.01,
	}
}

// Reranker nudges chunk confidence with lexical overlap and structural
// position heuristics, then reorders. Pure and deterministic: no I/O, output
// depends only on input order and content.
type Reranker struct {
	opts RerankerOptions
}

func NewReranker(opts RerankerOptions) *Reranker {
	def := DefaultRerankerOptions()
	if opts.MinTermLength <= 0 {
		opts.MinTermLength = def.MinTermLength
	}
	if opts.TermBoost <= 0 {
		opts.TermBoost = def.TermBoost
	}
	if opts.LeadChunkBoost <= 0 {
		opts.LeadChunkBoost = def.LeadChunkBoost
	}
	return &Reranker{opts: opts}
}

// Rerank adjusts confidence in place on a copy and returns the chunks in
// descending boosted-confidence order; ties preserve prior relative order.
func (r *Reranker) Rerank(chunks []domain.RetrievedChunk, queryText string) []domain.RetrievedChunk {
	if len(chunks) == 0 {
		return chunks
	}

	out := make([]domain.RetrievedChunk, len(chunks))
	copy(out, chunks)

	terms := queryTerms(queryText, r.opts.MinTermLength)
	for i := range out {
		content := strings.ToLower(out[i].Content)
		boosted := out[i].Confidence
		for _, term := range terms {
			if strings.Contains(content, term) {
				boosted += r.opts.TermBoost
			}
		}
		if out[i].PositionIndex == 0 {
			boosted += r.opts.LeadChunkBoost
		}
		if boosted > 1 {
			boosted = 1
		}
		out[i].Confidence = boosted
	}

	sortChunksByConfidence(out)
	return out
}

func sortChunksByConfidence(chunks []domain.RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Confidence > chunks[j].Confidence
	})
}

// queryTerms lowercases and splits on non-alphanumeric runes, dropping terms
// at or below minLength and duplicates.
func queryTerms(s string, minLength int) []string {
	if s == "" {
		return nil
	}

	terms := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	var b strings.Builder

	flush := func() {
		if b.Len() == 0 {
			return
		}
		term := b.String()
		b.Reset()
		if len([]rune(term)) <= minLength {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return terms
}
