// Package grammardict implements the grammar dictionary lookup (C4): given a
// set of grammar elements named by a correction, it finds the closest
// matching headword in a curated grammar dictionary by trigram similarity
// and assembles a human-readable explanation from the matched row.
package grammardict

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/errs"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/observe"
)

// ddlGrammarItems creates the grammar dictionary table and the trigram index
// its similarity search depends on. pg_trgm must be enabled on the database.
const ddlGrammarItems = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS grammar_items (
    id          BIGSERIAL PRIMARY KEY,
    headword    TEXT NOT NULL,
    pos         TEXT,
    topic       TEXT,
    meaning     TEXT,
    form_info   TEXT,
    constraints TEXT
);

CREATE INDEX IF NOT EXISTS idx_grammar_items_headword_trgm
    ON grammar_items USING gin (headword gin_trgm_ops);
`

// noExplanation is returned when a matched row carries no descriptive
// fields at all.
const noExplanation = "설명 정보가 없습니다."

// Lookup is the pgxpool-backed grammar dictionary client.
type Lookup struct {
	pool    *pgxpool.Pool
	metrics *observe.Metrics
}

// New establishes a connection pool to dsn and ensures the grammar_items
// table and its trigram index exist. metrics may be nil, in which case
// lookup latency is not recorded.
func New(ctx context.Context, dsn string, metrics *observe.Metrics) (*Lookup, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &errs.DictionaryError{Err: fmt.Errorf("parse dsn: %w", err)}
	}
	cfg.MinConns = 5
	cfg.MaxConns = 20

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &errs.DictionaryError{Err: fmt.Errorf("create pool: %w", err)}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &errs.DictionaryError{Err: fmt.Errorf("ping: %w", err)}
	}
	if _, err := pool.Exec(ctx, ddlGrammarItems); err != nil {
		pool.Close()
		return nil, &errs.DictionaryError{Err: fmt.Errorf("migrate: %w", err)}
	}

	return &Lookup{pool: pool, metrics: metrics}, nil
}

// Close releases all connections held by the underlying pool.
func (l *Lookup) Close() {
	l.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (l *Lookup) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

type grammarRow struct {
	Headword    string
	Pos         *string
	Topic       *string
	Meaning     *string
	FormInfo    *string
	Constraints *string
}

// Search looks up grammarElements against the dictionary, one at a time
// within a single transaction. Elements are trimmed and deduplicated,
// preserving first occurrence. Elements with no similarity match are
// skipped; a matched row with no descriptive fields yields the sentinel
// "no explanation available" string rather than an empty one.
func (l *Lookup) Search(ctx context.Context, grammarElements []string) ([]domain.GrammarDBInfo, error) {
	start := time.Now()
	infos, err := l.search(ctx, grammarElements)
	if l.metrics != nil {
		l.metrics.DictionaryLookupDuration.Record(ctx, time.Since(start).Seconds())
	}
	return infos, err
}

func (l *Lookup) search(ctx context.Context, grammarElements []string) ([]domain.GrammarDBInfo, error) {
	targets := dedupeNonEmpty(grammarElements)
	if len(targets) == 0 {
		return nil, nil
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, &errs.DictionaryError{Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback(ctx)

	const query = `
		SELECT headword, pos, topic, meaning, form_info, constraints
		FROM grammar_items
		WHERE headword % $1
		ORDER BY similarity(headword, $1) DESC
		LIMIT 1;
	`

	infos := make([]domain.GrammarDBInfo, 0, len(targets))
	for _, elem := range targets {
		var row grammarRow
		err := tx.QueryRow(ctx, query, elem).Scan(
			&row.Headword, &row.Pos, &row.Topic, &row.Meaning, &row.FormInfo, &row.Constraints,
		)
		if err != nil {
			continue
		}
		infos = append(infos, domain.GrammarDBInfo{
			GrammarElement: row.Headword,
			Explanation:    assembleExplanation(row),
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &errs.DictionaryError{Err: fmt.Errorf("commit transaction: %w", err)}
	}
	return infos, nil
}

// assembleExplanation joins a matched row's descriptive fields into a
// single " / "-separated string, in a fixed field order.
func assembleExplanation(row grammarRow) string {
	var parts []string
	if v := row.Meaning; v != nil && *v != "" {
		parts = append(parts, "의미: "+*v)
	}
	if v := row.FormInfo; v != nil && *v != "" {
		parts = append(parts, "형태 정보: "+*v)
	}
	if v := row.Constraints; v != nil && *v != "" {
		parts = append(parts, "제약: "+*v)
	}
	if v := row.Pos; v != nil && *v != "" {
		parts = append(parts, "품사: "+*v)
	}
	if v := row.Topic; v != nil && *v != "" {
		parts = append(parts, "토픽 등급: "+*v)
	}
	if len(parts) == 0 {
		return noExplanation
	}
	return strings.Join(parts, " / ")
}

func dedupeNonEmpty(elements []string) []string {
	seen := make(map[string]struct{}, len(elements))
	out := make([]string, 0, len(elements))
	for _, e := range elements {
		key := strings.TrimSpace(e)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
