package similarity

import (
	"context"
	"fmt"
	"io"
	"math"

	"receipt-reconciliation-service/pkg/logger"
)

// Embedder turns texts into fixed-length vectors, one per text, in order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingScorer scores candidates by cosine similarity of sentence
// embeddings. Negative similarities count as 0.
type EmbeddingScorer struct {
	embedder Embedder
	logger   logger.Logger
}

// NewEmbeddingScorer creates a scorer on top of embedder
func NewEmbeddingScorer(embedder Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{
		embedder: embedder,
		logger:   logger.GetGlobalLogger().WithComponent("embedding_scorer"),
	}
}

// Name implements Scorer
func (s *EmbeddingScorer) Name() string {
	return "Embedding"
}

// BestMatch implements Scorer. The query and all candidates are embedded in
// one call.
func (s *EmbeddingScorer) BestMatch(ctx context.Context, query string, candidates []string) (Match, error) {
	if len(candidates) == 0 {
		return Match{}, ErrEmptyCandidatePool
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	texts = append(texts, candidates...)

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return Match{}, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return Match{}, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	scores := make([]float64, len(candidates))
	for i := range candidates {
		cos, err := cosine(vectors[0], vectors[i+1])
		if err != nil {
			return Match{}, err
		}
		scores[i] = round(100 * math.Max(cos, 0))
	}

	m := best(candidates, scores)
	s.logger.WithFields(logger.Fields{
		"candidates": len(candidates),
		"best_index": m.Index,
		"score":      m.Score,
	}).Debug("Scored candidates")

	return m, nil
}

// Close releases the underlying embedder when it holds resources
func (s *EmbeddingScorer) Close() error {
	if closer, ok := s.embedder.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
