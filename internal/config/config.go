// Package config provides the environment-driven configuration schema and
// loader for the feedback service.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/errs"
)

// LogLevel controls log verbosity. Valid values: "debug", "info", "warn", "error".
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the documented log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string

	// LogLevel controls verbosity.
	LogLevel LogLevel

	// BasePath prefixes all served routes (e.g. "/api").
	BasePath string
}

// LLMConfig configures the chat-completion gateway client.
type LLMConfig struct {
	// APIKey authenticates against the chat-completion endpoint.
	APIKey string

	// URL is the chat-completion endpoint.
	URL string
}

// VectorStoreConfig configures the pgvector-backed error-example store.
type VectorStoreConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// Table names the table holding embedded error examples.
	Table string

	// EmbeddingDimensions must match the configured sentence-encoder model.
	EmbeddingDimensions int
}

// EmbeddingConfig configures the sentence-encoder client used to embed
// sentences before a vector-store search.
type EmbeddingConfig struct {
	// APIKey authenticates against the embedding endpoint.
	APIKey string

	// URL is the embedding endpoint.
	URL string

	// Model names the fixed sentence-encoder model.
	Model string
}

// GrammarDictConfig configures the relational grammar dictionary pool.
type GrammarDictConfig struct {
	// DSN is the PostgreSQL connection string. May point at the same
	// database as VectorStoreConfig.DSN or a separate one.
	DSN string
}

// LexicalConfig configures the full-text index client.
type LexicalConfig struct {
	// BaseURL is the Solr base URL (e.g. "http://localhost:8983").
	BaseURL string

	// Collection names the collection/core holding normalized tag documents.
	Collection string

	// User and Pass configure optional HTTP basic auth.
	User string
	Pass string
}

// EventBusConfig configures the Kafka event publisher.
type EventBusConfig struct {
	// BootstrapServers is a comma-separated list of broker addresses.
	BootstrapServers string

	// Topic is the single topic corrected-sentence events are published to.
	Topic string

	// FallbackPath, when non-empty, enables a JSON-lines fallback sink at
	// this path for events that fail to publish.
	FallbackPath string
}

// MorphAnalyzerConfig configures the morphological analyzer client.
type MorphAnalyzerConfig struct {
	// BaseURL is the analyzer service's base URL.
	BaseURL string
}

// Config is the root configuration for the feedback service.
type Config struct {
	Server      ServerConfig
	LLM         LLMConfig
	Embedding   EmbeddingConfig
	VectorStore VectorStoreConfig
	GrammarDict GrammarDictConfig
	Lexical     LexicalConfig
	EventBus    EventBusConfig
	Morph       MorphAnalyzerConfig
}

// getEnv returns the value of key, or defaultVal if unset or empty.
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", &errs.ConfigError{Field: key, Err: fmt.Errorf("required environment variable is unset")}
	}
	return v, nil
}

// Load builds a [Config] from the process environment. It returns a
// [*errs.ConfigError] if any required value is missing.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: getEnv("BFF_LISTEN_ADDR", ":8080"),
			LogLevel:   LogLevel(getEnv("BFF_LOG_LEVEL", string(LogInfo))),
			BasePath:   getEnv("BFF_BASE_PATH", "/api"),
		},
	}
	if !cfg.Server.LogLevel.IsValid() {
		return nil, &errs.ConfigError{Field: "BFF_LOG_LEVEL", Err: fmt.Errorf("invalid value %q; valid values: debug, info, warn, error", cfg.Server.LogLevel)}
	}

	var err error
	if cfg.LLM.APIKey, err = requireEnv("CLOVA_API_KEY"); err != nil {
		return nil, err
	}
	cfg.LLM.URL = getEnv("CLOVA_URL", "https://clovastudio.stream.ntruss.com/v3/chat-completions/HCX-007")

	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", cfg.LLM.APIKey)
	cfg.Embedding.URL = getEnv("EMBEDDING_URL", "https://clovastudio.stream.ntruss.com/v1/api-tools/embedding/v2")
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", "clir-emb-dolphin")

	if cfg.VectorStore.DSN, err = requireEnv("VECTOR_STORE_DSN"); err != nil {
		return nil, err
	}
	cfg.VectorStore.Table = getEnv("VECTOR_STORE_TABLE", "error_examples")
	dimsStr := getEnv("VECTOR_STORE_EMBEDDING_DIMENSIONS", "1536")
	dims, convErr := strconv.Atoi(dimsStr)
	if convErr != nil || dims <= 0 {
		return nil, &errs.ConfigError{Field: "VECTOR_STORE_EMBEDDING_DIMENSIONS", Err: fmt.Errorf("must be a positive integer, got %q", dimsStr)}
	}
	cfg.VectorStore.EmbeddingDimensions = dims

	if cfg.GrammarDict.DSN, err = requireEnv("GRAMMAR_DICT_DSN"); err != nil {
		return nil, err
	}

	if cfg.Lexical.BaseURL, err = requireEnv("LEXICAL_INDEX_URL"); err != nil {
		return nil, err
	}
	cfg.Lexical.Collection = getEnv("LEXICAL_INDEX_COLLECTION", "error_examples")
	cfg.Lexical.User = getEnv("LEXICAL_INDEX_USER", "")
	cfg.Lexical.Pass = getEnv("LEXICAL_INDEX_PASS", "")

	if cfg.EventBus.BootstrapServers, err = requireEnv("KAFKA_BOOTSTRAP_SERVERS"); err != nil {
		return nil, err
	}
	cfg.EventBus.Topic = getEnv("KAFKA_TOPIC", "grammar-feedback-events")
	cfg.EventBus.FallbackPath = getEnv("EVENT_FALLBACK_PATH", "")

	if cfg.Morph.BaseURL, err = requireEnv("MORPH_ANALYZER_URL"); err != nil {
		return nil, err
	}

	return cfg, nil
}
