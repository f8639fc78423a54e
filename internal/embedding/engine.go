// Package embedding provides vector embedding generation for retrieval,
// composition, and uncertainty estimation. Supports Ollama (local), Google
// GenAI (cloud), and a deterministic hash-based fallback used whenever no
// model backend is configured, so the rest of the pipeline stays testable
// without network access.
package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/uamm-go/uamm/internal/logging"
)

// EmbeddingEngine generates vector embeddings for text.
type EmbeddingEngine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HealthChecker is implemented by engines that can verify reachability
// before a batch operation.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama", "genai", or "fallback".
	Provider string `json:"provider" yaml:"provider"`

	OllamaEndpoint string `json:"ollama_endpoint" yaml:"ollama_endpoint"`
	OllamaModel    string `json:"ollama_model" yaml:"ollama_model"`

	GenAIAPIKey string `json:"genai_api_key" yaml:"genai_api_key"`
	GenAIModel  string `json:"genai_model" yaml:"genai_model"`

	// TaskType for GenAI: SEMANTIC_SIMILARITY, RETRIEVAL_QUERY, RETRIEVAL_DOCUMENT, ...
	TaskType string `json:"task_type" yaml:"task_type"`

	// FallbackDimensions sizes the deterministic fallback engine's vectors.
	FallbackDimensions int `json:"fallback_dimensions" yaml:"fallback_dimensions"`
}

// DefaultConfig defaults to the deterministic fallback so the engine is
// usable with no external dependency configured.
func DefaultConfig() Config {
	return Config{
		Provider:           "fallback",
		OllamaEndpoint:     "http://localhost:11434",
		OllamaModel:        "embeddinggemma",
		GenAIModel:         "gemini-embedding-001",
		TaskType:           "SEMANTIC_SIMILARITY",
		FallbackDimensions: 256,
	}
}

// NewEngine creates an embedding engine from cfg.
func NewEngine(cfg Config) (EmbeddingEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Get(logging.CategoryEmbedding).Info("creating embedding engine provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	case "fallback", "":
		return NewFallbackEngine(cfg.FallbackDimensions), nil
	default:
		err := fmt.Errorf("unsupported embedding provider: %s (use ollama, genai, or fallback)", cfg.Provider)
		logging.Get(logging.CategoryEmbedding).Error("%v", err)
		return nil, err
	}
}

// NewEngineWithHealthFallback creates the configured engine and, if it fails
// a health check, degrades to the deterministic fallback exactly once,
// logging the degradation. This is the retriever's dense-backend probe.
func NewEngineWithHealthFallback(ctx context.Context, cfg Config) EmbeddingEngine {
	engine, err := NewEngine(cfg)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("embedding engine unavailable (%v), using fallback", err)
		return NewFallbackEngine(cfg.FallbackDimensions)
	}
	if hc, ok := engine.(HealthChecker); ok {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := hc.HealthCheck(probeCtx)
		cancel()
		if err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("embedding engine %s failed health check (%v), using fallback", engine.Name(), err)
			return NewFallbackEngine(cfg.FallbackDimensions)
		}
	}
	return engine
}

// CosineSimilarity computes cosine similarity in [-1,1] between two equal
// length vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, am, bm float64
	for i := range a {
		dot += float64(a[i] * b[i])
		am += float64(a[i] * a[i])
		bm += float64(b[i] * b[i])
	}
	if am == 0 || bm == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(am) * math.Sqrt(bm)), nil
}

// SimilarityResult is one entry of a FindTopK search.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK returns the k most similar corpus vectors to query by cosine
// similarity, descending.
func FindTopK(query []float32, corpus [][]float32, k int) ([]SimilarityResult, error) {
	if k <= 0 {
		k = 10
	}
	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}
	for i := 0; i < len(results) && i < k; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// probeTimeout bounds a single HealthCheck call.
const probeTimeout = 3 * time.Second
