package domain

// RetrievedChunk is a single passage candidate produced by the hybrid
// retrieval engine for one query. Confidence is always derived from the
// normalized fused score by the confidence scorer, never set by callers.
type RetrievedChunk struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	PositionIndex  int     `json:"position_index"`
	RawScore       float64 `json:"raw_score"`
	Confidence     float64 `json:"confidence"`
	DocumentID     string  `json:"document_id"`
	DocumentTitle  string  `json:"document_title"`
	DocumentSource string  `json:"document_source,omitempty"`

	// 1-based ranks within the vector and keyword result lists,
	// 0 when the chunk was absent from that list. Used for
	// deterministic tie-breaking during fusion.
	VectorRank  int `json:"-"`
	KeywordRank int `json:"-"`
}

// CitationContext is an ordered, numbered view over retrieved chunks for one
// query. Citation number n refers to Chunks[n-1]; NumberByChunkID always
// agrees with that ordering. Numbers are assigned once per request and never
// reused across requests.
type CitationContext struct {
	Chunks          []RetrievedChunk
	NumberByChunkID map[string]int
}

// Citation is a validated post-generation reference back to a retrieved chunk.
type Citation struct {
	Number             int     `json:"number"`
	DocumentID         string  `json:"document_id"`
	DocumentTitle      string  `json:"document_title"`
	ChunkContent       string  `json:"chunk_content"`
	ChunkPositionIndex int     `json:"chunk_position_index"`
	Confidence         float64 `json:"confidence"`
	Source             string  `json:"source,omitempty"`
}

// TokenUsage accumulates provider token counts for one question/answer cycle.
type TokenUsage struct {
	EmbeddingTokens  int `json:"embedding_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		EmbeddingTokens:  u.EmbeddingTokens + other.EmbeddingTokens,
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// Timing records per-stage wall-clock durations in milliseconds.
type Timing struct {
	RetrievalMs  int64 `json:"retrieval_ms"`
	GenerationMs int64 `json:"generation_ms"`
}

// RAGConfig carries per-tenant retrieval tunables. Immutable per request.
type RAGConfig struct {
	TopK                  int     `json:"top_k" yaml:"top_k"`
	ConfidenceThreshold   float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	ChunkSize             int     `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap          int     `json:"chunk_overlap" yaml:"chunk_overlap"`
	TwoPass               bool    `json:"two_pass" yaml:"two_pass"`
	CandidatePool         int     `json:"candidate_pool" yaml:"candidate_pool"`
	MaxChunksPerDocument  int     `json:"max_chunks_per_document" yaml:"max_chunks_per_document"`
	MinDocumentsToInclude int     `json:"min_documents_to_include" yaml:"min_documents_to_include"`
}

// AskResult is the outcome of one pipeline run, cached or fresh.
type AskResult struct {
	Answer              string     `json:"answer"`
	Citations           []Citation `json:"citations"`
	Confidence          float64    `json:"confidence"`
	ConfidenceLabel     string     `json:"confidence_label"`
	RetrievedChunkCount int        `json:"retrieved_chunk_count"`
	TokensUsed          TokenUsage `json:"tokens_used"`
	Timing              Timing     `json:"timing"`
	CacheHit            bool       `json:"cache_hit"`
	Conversational      bool       `json:"conversational"`
	InvalidCitations    []int      `json:"invalid_citations,omitempty"`
}
