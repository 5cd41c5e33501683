// Package similarity scores vendor text against candidate ledger descriptions.
//
// Two strategies share the Scorer contract: a token-based weighted edit
// distance and a cosine comparison of sentence embeddings. Both return a
// score in [0,100] and resolve ties to the lowest candidate index.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"receipt-reconciliation-service/pkg/logger"
)

// ErrEmptyCandidatePool is returned when BestMatch is called without candidates
var ErrEmptyCandidatePool = errors.New("similarity: empty candidate pool")

// Strategy names accepted by New
const (
	StrategyToken     = "token"
	StrategyEmbedding = "embedding"
)

// Embedding providers accepted by New
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Match is the best candidate for a query
type Match struct {
	Index     int     `json:"index"`
	Candidate string  `json:"candidate"`
	Score     float64 `json:"score"`
}

// Scorer picks the candidate most similar to a query
type Scorer interface {
	// Name is the label used in match types, e.g. "Token"
	Name() string
	BestMatch(ctx context.Context, query string, candidates []string) (Match, error)
}

// Config selects and configures a scorer
type Config struct {
	Strategy string `json:"strategy" mapstructure:"strategy"`
	Provider string `json:"provider" mapstructure:"provider"`

	GeminiAPIKey string `json:"-" mapstructure:"gemini_api_key"`
	GeminiModel  string `json:"gemini_model" mapstructure:"gemini_model"`

	OllamaURL   string `json:"ollama_url" mapstructure:"ollama_url"`
	OllamaModel string `json:"ollama_model" mapstructure:"ollama_model"`
}

// DefaultConfig returns the token strategy
func DefaultConfig() *Config {
	return &Config{
		Strategy: StrategyToken,
		Provider: ProviderGemini,
	}
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	switch strings.ToLower(c.Strategy) {
	case StrategyToken:
		return nil
	case StrategyEmbedding:
	default:
		return fmt.Errorf("unknown similarity strategy %q (expected %s or %s)", c.Strategy, StrategyToken, StrategyEmbedding)
	}

	switch strings.ToLower(c.Provider) {
	case ProviderGemini:
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return fmt.Errorf("gemini api key is required for embedding similarity")
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("unknown embedding provider %q (expected %s or %s)", c.Provider, ProviderGemini, ProviderOllama)
	}
	return nil
}

// New builds the scorer selected by cfg. Scorers backed by a remote
// embedder implement io.Closer.
func New(ctx context.Context, cfg *Config) (Scorer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger().WithComponent("similarity")

	if strings.EqualFold(cfg.Strategy, StrategyToken) {
		log.Debug("Using token similarity")
		return NewTokenScorer(), nil
	}

	var (
		embedder Embedder
		err      error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini:
		embedder, err = NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case ProviderOllama:
		embedder, err = NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel)
	}
	if err != nil {
		return nil, err
	}

	log.WithField("provider", cfg.Provider).Debug("Using embedding similarity")
	return NewEmbeddingScorer(embedder), nil
}

// best returns the highest score, preferring the lowest index on ties
func best(candidates []string, scores []float64) Match {
	m := Match{Index: 0, Candidate: candidates[0], Score: scores[0]}
	for i := 1; i < len(scores); i++ {
		if scores[i] > m.Score {
			m = Match{Index: i, Candidate: candidates[i], Score: scores[i]}
		}
	}
	return m
}
