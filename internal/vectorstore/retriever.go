package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	pgxvec "github.com/pgvector/pgvector-go"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/errs"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/observe"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/resilience"
)

// Retriever is the vector retriever (C2): it embeds a sentence and searches
// the collection for its nearest neighbors by cosine similarity.
type Retriever struct {
	store    *Store
	embedder Embedder
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
}

// NewRetriever pairs a Store with the Embedder used to encode query
// sentences. Database calls are protected by a circuit breaker so that a
// failing Postgres instance trips retrieval quickly instead of piling up
// slow timeouts behind it. metrics may be nil, in which case call latency
// and outcome counts are not recorded.
func NewRetriever(store *Store, embedder Embedder, metrics *observe.Metrics) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "vector-retriever",
		}),
		metrics: metrics,
	}
}

// Healthy reports an error while the vector retriever's circuit breaker is
// open; closed and half-open both count as healthy.
// Intended for wiring into a readiness probe: a tripped breaker means
// Postgres has been failing and the backend should be reported degraded.
func (r *Retriever) Healthy(ctx context.Context) error {
	if r.breaker.State() == resilience.StateOpen {
		return fmt.Errorf("vector retriever circuit breaker is open")
	}
	return nil
}

type neighbor struct {
	OriginalSentence string
	ErrorWords       json.RawMessage
	Distance         float64
}

// Search embeds sentence and returns its nearest neighbors ordered by
// descending similarity, along with the top hit's similarity score (0 when
// no neighbor is found). Similarity is computed as 1 - cosine distance.
func (r *Retriever) Search(ctx context.Context, sentence string, topK int) ([]domain.ErrorExample, float64, error) {
	start := time.Now()
	examples, similarity, err := r.search(ctx, sentence, topK)
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("backend", "vector")))
		r.metrics.RecordRetrievalCall(ctx, "vector", status)
	}
	return examples, similarity, err
}

func (r *Retriever) search(ctx context.Context, sentence string, topK int) ([]domain.ErrorExample, float64, error) {
	vec, err := r.embedder.Embed(ctx, sentence)
	if err != nil {
		return nil, 0, &errs.RetrievalError{Backend: "vector", Err: fmt.Errorf("embed: %w", err)}
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	sql := fmt.Sprintf(
		`SELECT original_sentence, error_words, embedding <=> $1 AS distance
		 FROM %s
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		r.store.table,
	)

	var neighbors []neighbor
	queryErr := r.breaker.Execute(func() error {
		rows, err := r.store.pool.Query(ctx, sql, pgxvec.NewVector(vec), topK)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		neighbors, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (neighbor, error) {
			var n neighbor
			if err := row.Scan(&n.OriginalSentence, &n.ErrorWords, &n.Distance); err != nil {
				return neighbor{}, err
			}
			return n, nil
		})
		if err != nil {
			return fmt.Errorf("scan rows: %w", err)
		}
		return nil
	})
	if queryErr != nil {
		return nil, 0, &errs.RetrievalError{Backend: "vector", Err: queryErr}
	}

	examples := make([]domain.ErrorExample, 0, len(neighbors))
	for _, n := range neighbors {
		words, ok := decodeErrorWords(n.ErrorWords)
		if !ok {
			continue
		}
		examples = append(examples, domain.ErrorExample{
			OriginalSentence: n.OriginalSentence,
			ErrorWords:       words,
		})
	}

	var topSimilarity float64
	if len(neighbors) > 0 {
		topSimilarity = 1 - neighbors[0].Distance
	}
	return examples, topSimilarity, nil
}

// decodeErrorWords decodes the error_words jsonb column, which may hold
// either a native JSON array or a JSON-encoded string containing one.
// Malformed entries are skipped (ok=false).
func decodeErrorWords(raw json.RawMessage) ([]domain.ErrorWord, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var words []domain.ErrorWord
	if err := json.Unmarshal(raw, &words); err == nil {
		return words, true
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(asString), &words); err != nil {
		return nil, false
	}
	return words, true
}
