// Package vectorstore implements the vector retriever (C2): it embeds a
// sentence and queries a dense vector collection, realized as a PostgreSQL
// table with a pgvector column, for the top-k nearest neighboring error
// examples.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const defaultTopK = 5

// ddlErrorExamplesFmt creates the error-example table and its vector index if
// they do not already exist. error_words is stored as jsonb, which natively
// satisfies the "may be a JSON string or a native list" duality documented
// for the retrieval payload: it is always valid JSON on read, and the
// retriever's decode step further tolerates a JSON-encoded string nested
// inside it.
const ddlErrorExamplesFmt = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id                BIGSERIAL    PRIMARY KEY,
    original_sentence TEXT         NOT NULL,
    error_words       JSONB        NOT NULL DEFAULT '[]',
    embedding         VECTOR(%[2]d) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding vector_cosine_ops);
`

// Store is the pgvector-backed vector collection. Obtain a [Retriever] via
// [NewRetriever]. Safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// NewStore establishes a connection pool to dsn, registers pgvector types on
// every connection, and ensures the error-example table and index exist in
// table with the given embedding dimensionality.
func NewStore(ctx context.Context, dsn, table string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: ping: %w", err)
	}

	ddl := fmt.Sprintf(ddlErrorExamplesFmt, table, embeddingDimensions)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: migrate: %w", err)
	}

	return &Store{pool: pool, table: table}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
