package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

// TenantConfigRepo reads per-tenant retrieval tunables, falling back to the
// deployment defaults for tenants without an explicit row.
type TenantConfigRepo struct {
	db       *sql.DB
	defaults domain.RAGConfig
}

func NewTenantConfigRepo(db *sql.DB, defaults domain.RAGConfig) *TenantConfigRepo {
	return &TenantConfigRepo{db: db, defaults: defaults}
}

func (r *TenantConfigRepo) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS tenant_rag_config (
	tenant_id TEXT PRIMARY KEY,
	top_k INTEGER NOT NULL,
	confidence_threshold DOUBLE PRECISION NOT NULL,
	chunk_size INTEGER NOT NULL,
	chunk_overlap INTEGER NOT NULL,
	two_pass BOOLEAN NOT NULL DEFAULT FALSE,
	candidate_pool INTEGER NOT NULL DEFAULT 50,
	max_chunks_per_document INTEGER NOT NULL DEFAULT 5,
	min_documents_to_include INTEGER NOT NULL DEFAULT 1
);
`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute tenant config ddl: %w", err)
	}
	return nil
}

func (r *TenantConfigRepo) RAGConfig(ctx context.Context, tenantID string) (domain.RAGConfig, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT top_k, confidence_threshold, chunk_size, chunk_overlap,
	two_pass, candidate_pool, max_chunks_per_document, min_documents_to_include
FROM tenant_rag_config
WHERE tenant_id = $1
`, tenantID)

	var cfg domain.RAGConfig
	err := row.Scan(
		&cfg.TopK, &cfg.ConfidenceThreshold, &cfg.ChunkSize, &cfg.ChunkOverlap,
		&cfg.TwoPass, &cfg.CandidatePool, &cfg.MaxChunksPerDocument, &cfg.MinDocumentsToInclude,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.defaults, nil
		}
		return domain.RAGConfig{}, fmt.Errorf("load tenant rag config: %w", err)
	}
	return cfg, nil
}
