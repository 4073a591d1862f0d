package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/amitsx/ragbot/internal/apperr"
)

// EmbedderConfig represents the configuration for the embedding client.
type EmbedderConfig struct {
	Model   string
	BaseURL string // Ollama server URL
}

// Embedder maps text to fixed-length vectors via a local Ollama model.
type Embedder struct {
	config EmbedderConfig
	llm    *ollama.LLM
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	emb, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %v", err)
	}

	return &Embedder{
		config: config,
		llm:    emb,
	}, nil
}

// EmbedOne embeds a single text, typically a search query.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany embeds a batch of texts. The result is aligned 1:1 and
// order-preserving with the input.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, &apperr.EmbeddingServiceError{Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &apperr.EmbeddingServiceError{
			Err: fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(texts)),
		}
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, &apperr.EmbeddingServiceError{
				Err: fmt.Errorf("empty embedding for input %d", i),
			}
		}
	}
	return vectors, nil
}
