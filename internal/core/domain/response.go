package domain

import "time"

// CachedResponse is a persisted question/answer cycle. Entries whose
// SchemaVersion differs from the running system's version are treated as
// absent and deleted on read.
type CachedResponse struct {
	Answer              string     `json:"answer"`
	Citations           []Citation `json:"citations"`
	Confidence          float64    `json:"confidence"`
	RetrievedChunkCount int        `json:"retrieved_chunk_count"`
	TokensUsed          TokenUsage `json:"tokens_used"`
	Timing              Timing     `json:"timing"`
	CachedAt            time.Time  `json:"cached_at"`
	SchemaVersion       string     `json:"schema_version"`
	OriginalQuery       string     `json:"original_query"`
}

// ChatMessage is one message in a generation request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationOptions bounds a single text-generation call.
type GenerationOptions struct {
	MaxTokens   int
	Temperature float64
}

// Interaction is one append-only record for the interaction sink.
type Interaction struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Confidence     float64    `json:"confidence"`
	Citations      []Citation `json:"citations"`
	ChunkCount     int        `json:"chunk_count"`
	TokensUsed     TokenUsage `json:"tokens_used"`
	Timing         Timing     `json:"timing"`
	CacheHit       bool       `json:"cache_hit"`
	Conversational bool       `json:"conversational"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DocumentSummary is the output of a per-document summarization call.
type DocumentSummary struct {
	DocumentID string `json:"document_id"`
	Summary    string `json:"summary"`
	Err        string `json:"error,omitempty"`
}

// DocumentText is the input to a per-document summarization call.
type DocumentText struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}
