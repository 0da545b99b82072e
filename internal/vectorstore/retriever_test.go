package vectorstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	pgxvec "github.com/pgvector/pgvector-go"
)

const testEmbeddingDim = 4

// testDSN returns the integration test database DSN from the environment,
// or skips the test if GRAMMARFEEDBACK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("GRAMMARFEEDBACK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GRAMMARFEEDBACK_TEST_POSTGRES_DSN not set — skipping pgvector integration test")
	}
	return dsn
}

// newTestStore creates a fresh Store against a table unique to the test,
// dropping any leftover table from a previous run first.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()
	table := "test_error_examples"

	bootstrap, err := NewStore(ctx, dsn, table, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := bootstrap.pool.Exec(ctx, "TRUNCATE TABLE "+table); err != nil {
		t.Fatalf("truncate %s: %v", table, err)
	}
	t.Cleanup(bootstrap.Close)
	return bootstrap, table
}

type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func insertExample(t *testing.T, store *Store, table, sentence string, words string, embedding []float32) {
	t.Helper()
	_, err := store.pool.Exec(context.Background(),
		"INSERT INTO "+table+" (original_sentence, error_words, embedding) VALUES ($1, $2, $3)",
		sentence, words, pgxvec.NewVector(embedding),
	)
	if err != nil {
		t.Fatalf("insertExample %q: %v", sentence, err)
	}
}

// TestRetriever_Search_NearestNeighborOrdering exercises the real
// cosine-distance query against a live pgvector-backed table: the closest
// row by embedding must rank first and carry the highest similarity score.
func TestRetriever_Search_NearestNeighborOrdering(t *testing.T) {
	store, table := newTestStore(t)

	insertExample(t, store, table, "이 문장이 가장 가깝습니다.",
		`[{"text":"이","error_location":"조사","error_aspect":"생략","error_level":"초급"}]`,
		[]float32{1, 0, 0, 0})
	insertExample(t, store, table, "이 문장은 조금 멀어요.",
		`[]`, []float32{0, 1, 0, 0})
	insertExample(t, store, table, "이 문장은 아주 멀어요.",
		`[]`, []float32{-1, 0, 0, 0})

	retriever := NewRetriever(store, fixedEmbedder{vec: []float32{1, 0, 0, 0}}, nil)

	examples, similarity, err := retriever.Search(context.Background(), "쿼리 문장", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("Search: want 2 examples, got %d", len(examples))
	}
	if examples[0].OriginalSentence != "이 문장이 가장 가깝습니다." {
		t.Errorf("Search: want closest sentence first, got %q", examples[0].OriginalSentence)
	}
	if len(examples[0].ErrorWords) != 1 || examples[0].ErrorWords[0].Text != "이" {
		t.Errorf("Search: error words not decoded, got %+v", examples[0].ErrorWords)
	}
	if similarity < 0.99 {
		t.Errorf("Search: want similarity ~1 for identical embedding, got %v", similarity)
	}
}

// TestRetriever_Search_NoRows confirms Search returns an empty slice and
// zero similarity (never an error) when the table has no rows.
func TestRetriever_Search_NoRows(t *testing.T) {
	store, _ := newTestStore(t)
	retriever := NewRetriever(store, fixedEmbedder{vec: []float32{0, 0, 1, 0}}, nil)

	examples, similarity, err := retriever.Search(context.Background(), "아무 예문도 없습니다.", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(examples) != 0 {
		t.Errorf("Search: want 0 examples, got %d", len(examples))
	}
	if similarity != 0 {
		t.Errorf("Search: want similarity 0, got %v", similarity)
	}
}

func TestDecodeErrorWords_NativeArray(t *testing.T) {
	raw := json.RawMessage(`[{"text":"은","error_location":"조사","error_aspect":"생략","error_level":"초급"}]`)
	words, ok := decodeErrorWords(raw)
	if !ok {
		t.Fatal("decodeErrorWords returned ok=false for a native array")
	}
	if len(words) != 1 || words[0].Text != "은" {
		t.Errorf("decodeErrorWords = %+v, want one word with text 은", words)
	}
}

func TestDecodeErrorWords_JSONEncodedString(t *testing.T) {
	raw := json.RawMessage(`"[{\"text\":\"는\",\"error_location\":\"조사\",\"error_aspect\":\"대치\",\"error_level\":\"중급\"}]"`)
	words, ok := decodeErrorWords(raw)
	if !ok {
		t.Fatal("decodeErrorWords returned ok=false for a JSON-encoded string")
	}
	if len(words) != 1 || words[0].Text != "는" {
		t.Errorf("decodeErrorWords = %+v, want one word with text 는", words)
	}
}

func TestDecodeErrorWords_Malformed(t *testing.T) {
	if _, ok := decodeErrorWords(json.RawMessage(`not json`)); ok {
		t.Error("decodeErrorWords returned ok=true for malformed input")
	}
	if _, ok := decodeErrorWords(nil); ok {
		t.Error("decodeErrorWords returned ok=true for empty input")
	}
}
