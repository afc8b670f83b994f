// Package embedding is the client side of the embedding service.
package embedding

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"ingest-worker-service/internal/config"
)

// Embedder turns texts into vectors. The result has one entry per text, in order; a nil
// entry means that text was not embedded and stays eligible for a later attempt.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// Langchain calls an Ollama or OpenAI embedding model through langchaingo.
type Langchain struct {
	model     embeddings.Embedder
	modelName string
	dimension int
	log       *zap.SugaredLogger
}

func NewLangchain(cfg config.EmbedConfig, log *zap.SugaredLogger) (*Langchain, error) {
	var (
		model embeddings.Embedder
		err   error
	)

	switch cfg.Provider {
	case config.EmbedProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, errors.Wrap(ollamaErr, "create ollama client")
		}
		model, err = embeddings.NewEmbedder(llm)
	case config.EmbedProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("openai api key required")
		}
		llm, openaiErr := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if openaiErr != nil {
			return nil, errors.Wrap(openaiErr, "create openai client")
		}
		model, err = embeddings.NewEmbedder(llm)
	default:
		return nil, errors.Newf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create %s embedder", cfg.Provider)
	}

	return &Langchain{
		model:     model,
		modelName: cfg.Model,
		dimension: cfg.Dimension,
		log:       log.With("component", "embedder", "model", cfg.Model),
	}, nil
}

func (e *Langchain) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, "embed documents")
	}
	if len(vectors) != len(texts) {
		return nil, errors.Newf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		switch {
		case len(v) == 0:
			// leave nil
		case e.dimension > 0 && len(v) != e.dimension:
			e.log.Warnw("dimension mismatch", "index", i, "got", len(v), "want", e.dimension)
		default:
			out[i] = v
		}
	}
	return out, nil
}

// New builds the embedder configured by cfg, rate limited.
func New(cfg config.EmbedConfig, log *zap.SugaredLogger) (Embedder, error) {
	var base Embedder
	if cfg.Provider == config.EmbedProviderHash {
		base = NewHash(cfg.Dimension)
	} else {
		lc, err := NewLangchain(cfg, log)
		if err != nil {
			return nil, err
		}
		base = lc
	}
	return NewRateLimited(base, cfg.RatePerSec, cfg.Burst, cfg.Timeout), nil
}
