// Package lexical implements the full-text lexical retriever (C3): it
// standardizes a sentence's morphology into a tag sequence and queries an
// Apache Solr collection's normalized_tags field for structurally similar
// annotated error examples.
package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	solr "github.com/stevenferrer/solr-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/errs"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/morph"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/observe"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/resilience"
)

const maxResults = 5

// Retriever queries a Solr collection for error examples whose
// normalized_tags field matches a sentence's standardized morphology.
type Retriever struct {
	client     *solr.JSONClient
	collection string
	analyzer   morph.Analyzer
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// New creates a Retriever targeting baseURL/collection. user/pass, if
// non-empty, enable HTTP basic auth on the underlying Solr client. Solr
// queries are protected by a circuit breaker so a degraded index is bypassed
// quickly rather than stalling every lexical fallback lookup. metrics may
// be nil, in which case call latency and outcome counts are not recorded.
func New(baseURL, collection, user, pass string, analyzer morph.Analyzer, metrics *observe.Metrics) *Retriever {
	rs := solr.NewDefaultRequestSender().WithHTTPClient(&http.Client{Timeout: 5 * time.Second})
	if user != "" {
		rs = rs.WithBasicAuth(user, pass)
	}
	client := solr.NewJSONClient(strings.TrimRight(baseURL, "/")).WithRequestSender(rs)
	return &Retriever{
		client:     client,
		collection: collection,
		analyzer:   analyzer,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "lexical-retriever",
		}),
		metrics: metrics,
	}
}

// Search morphologically analyzes sentence, standardizes it into a query,
// and searches normalized_tags for matching documents. Returns an empty
// slice (never an error) when the standardized query is empty.
func (r *Retriever) Search(ctx context.Context, sentence string) ([]domain.ErrorExample, error) {
	start := time.Now()
	docs, err := r.search(ctx, sentence)
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("backend", "lexical")))
		r.metrics.RecordRetrievalCall(ctx, "lexical", status)
	}
	return docs, err
}

func (r *Retriever) search(ctx context.Context, sentence string) ([]domain.ErrorExample, error) {
	words, err := r.analyzer.Analyze(ctx, sentence)
	if err != nil {
		return nil, &errs.RetrievalError{Backend: "lexical", Err: fmt.Errorf("analyze: %w", err)}
	}

	query := normalizedQuery(words)
	if query == "" {
		return nil, nil
	}

	var docs []domain.ErrorExample
	queryErr := r.breaker.Execute(func() error {
		var err error
		docs, err = r.queryNormalizedTags(ctx, query)
		return err
	})
	if queryErr != nil {
		return nil, &errs.RetrievalError{Backend: "lexical", Err: queryErr}
	}
	return docs, nil
}

// Healthy reports an error while the lexical retriever's circuit breaker is
// open; closed and half-open both count as healthy.
// Intended for wiring into a readiness probe: a tripped breaker means the
// Solr collection has been failing and the backend should be reported
// degraded.
func (r *Retriever) Healthy(ctx context.Context) error {
	if r.breaker.State() == resilience.StateOpen {
		return fmt.Errorf("lexical retriever circuit breaker is open")
	}
	return nil
}

type solrDoc struct {
	OriginalSentence string          `json:"original_sentence"`
	ErrorWords       json.RawMessage `json:"error_words"`
}

type solrResponseBody struct {
	Response struct {
		Docs []solrDoc `json:"docs"`
	} `json:"response"`
}

func (r *Retriever) queryNormalizedTags(ctx context.Context, query string) ([]domain.ErrorExample, error) {
	fieldQuery := fmt.Sprintf("normalized_tags:%s", escapeSolrPhrase(query))
	parser := solr.NewStandardQueryParser().Query(fieldQuery).BuildParser()
	q := solr.NewQuery(parser).Params(solr.M{"rows": maxResults})

	raw, err := r.client.Query(ctx, r.collection, q)
	if err != nil {
		return nil, fmt.Errorf("solr query: %w", err)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode solr response: %w", err)
	}
	var body solrResponseBody
	if err := json.Unmarshal(encoded, &body); err != nil {
		return nil, fmt.Errorf("decode solr response: %w", err)
	}

	examples := make([]domain.ErrorExample, 0, len(body.Response.Docs))
	for _, doc := range body.Response.Docs {
		words, ok := decodeErrorWords(doc.ErrorWords)
		if !ok {
			continue
		}
		examples = append(examples, domain.ErrorExample{
			OriginalSentence: doc.OriginalSentence,
			ErrorWords:       words,
		})
	}
	return examples, nil
}

// decodeErrorWords decodes the error_words field, which may arrive either
// as a native JSON array or as a JSON-encoded string containing one.
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

// escapeSolrPhrase wraps q in double quotes, escaping any embedded quote,
// so multi-token normalized tag sequences are queried as a single phrase.
func escapeSolrPhrase(q string) string {
	escaped := strings.ReplaceAll(q, `"`, `\"`)
	return fmt.Sprintf(`"%s"`, escaped)
}
