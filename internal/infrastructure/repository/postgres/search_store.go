package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

// Provider-side cap on candidates per modality, regardless of caller limit.
const maxCandidates = 200

// SearchStore runs vector-similarity and keyword retrievals over a tenant's
// ready documents. Rows are mapped into typed records at this boundary;
// untyped rows never reach scoring logic.
type SearchStore struct {
	db *sql.DB
}

func NewSearchStore(db *sql.DB) *SearchStore {
	return &SearchStore{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *SearchStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	title TEXT NOT NULL,
	source TEXT,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	position_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
	embedding VECTOR(768)
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant_status ON documents(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON chunks USING GIN(content_tsv);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SearchVector returns up to limit chunks ordered by cosine similarity,
// scoped to ready documents of the tenant, optionally restricted to specific
// document ids.
func (s *SearchStore) SearchVector(
	ctx context.Context,
	tenantID string,
	queryVector []float32,
	limit int,
	documentIDs []string,
) ([]domain.RetrievedChunk, error) {
	limit = clampLimit(limit)

	const query = `
SELECT c.id, c.content, c.position_index, d.id, d.title, COALESCE(d.source, ''),
	1 - (c.embedding <=> $1) AS similarity
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.tenant_id = $2
	AND d.status = 'ready'
	AND c.embedding IS NOT NULL
	AND (cardinality($3::text[]) = 0 OR d.id = ANY($3::text[]))
ORDER BY c.embedding <=> $1
LIMIT $4
`
	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(queryVector), tenantID, docIDArray(documentIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search query: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// SearchKeyword returns up to limit chunks ordered by full-text rank against
// the query, with the same scoping as SearchVector.
func (s *SearchStore) SearchKeyword(
	ctx context.Context,
	tenantID, queryText string,
	limit int,
	documentIDs []string,
) ([]domain.RetrievedChunk, error) {
	limit = clampLimit(limit)

	const query = `
SELECT c.id, c.content, c.position_index, d.id, d.title, COALESCE(d.source, ''),
	ts_rank(c.content_tsv, plainto_tsquery('english', $1)) AS rank
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.tenant_id = $2
	AND d.status = 'ready'
	AND c.content_tsv @@ plainto_tsquery('english', $1)
	AND (cardinality($3::text[]) = 0 OR d.id = ANY($3::text[]))
ORDER BY rank DESC, c.id
LIMIT $4
`
	rows, err := s.db.QueryContext(ctx, query, queryText, tenantID, docIDArray(documentIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search query: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]domain.RetrievedChunk, error) {
	out := make([]domain.RetrievedChunk, 0, 16)
	for rows.Next() {
		var chunk domain.RetrievedChunk
		if err := rows.Scan(
			&chunk.ID,
			&chunk.Content,
			&chunk.PositionIndex,
			&chunk.DocumentID,
			&chunk.DocumentTitle,
			&chunk.DocumentSource,
			&chunk.RawScore,
		); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > maxCandidates {
		return maxCandidates
	}
	return limit
}

// docIDArray renders an optional document-id restriction as a postgres text
// array literal; empty means unrestricted.
func docIDArray(ids []string) string {
	if len(ids) == 0 {
		return "{}"
	}
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += `"` + id + `"`
	}
	return out + "}"
}
