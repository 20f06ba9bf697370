package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

// InteractionLog is the append-only interaction sink. Callers treat every
// write as best-effort; this adapter just reports what happened.
type InteractionLog struct {
	db *sql.DB
}

func NewInteractionLog(db *sql.DB) *InteractionLog {
	return &InteractionLog{db: db}
}

func (l *InteractionLog) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	chunk_count INTEGER NOT NULL,
	embedding_tokens INTEGER NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	retrieval_ms BIGINT NOT NULL,
	generation_ms BIGINT NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	conversational BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_tenant_created ON interactions(tenant_id, created_at DESC);
`
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute interactions ddl: %w", err)
	}
	return nil
}

func (l *InteractionLog) Record(ctx context.Context, interaction domain.Interaction) error {
	citations := interaction.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
INSERT INTO interactions (
	id, tenant_id, question, answer, confidence, citations, chunk_count,
	embedding_tokens, prompt_tokens, completion_tokens,
	retrieval_ms, generation_ms, cache_hit, conversational, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		interaction.ID, interaction.TenantID, interaction.Question, interaction.Answer,
		interaction.Confidence, citationsJSON, interaction.ChunkCount,
		interaction.TokensUsed.EmbeddingTokens, interaction.TokensUsed.PromptTokens, interaction.TokensUsed.CompletionTokens,
		interaction.Timing.RetrievalMs, interaction.Timing.GenerationMs,
		interaction.CacheHit, interaction.Conversational, interaction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}
