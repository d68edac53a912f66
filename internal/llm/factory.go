package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/pkg/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const providerOpenAI = "openai"

func openaiClient(cfg config.LLMConfig, model string, extra ...openai.Option) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	opts = append(opts, extra...)
	client, err := openai.New(opts...)
	if err != nil {
		return nil, &UpstreamError{Provider: providerOpenAI, Model: model, Err: err}
	}
	return client, nil
}

// NewCompleter builds the gateway for cfg.Provider.
func NewCompleter(ctx context.Context, cfg config.LLMConfig, journal *observability.Journal, logger *zap.Logger) (Completer, error) {
	opts := []Option{
		WithRateLimit(cfg.RequestsPerSecond),
		WithJournal(journal),
		WithLogger(logger),
	}
	switch cfg.Provider {
	case providerGemini:
		return NewGeminiGateway(ctx, cfg.APIKey, opts...)
	case providerOpenAI, "":
		client, err := openaiClient(cfg, cfg.PlanningModel)
		if err != nil {
			return nil, err
		}
		return NewLangchainGateway(client, providerOpenAI, opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewEmbedder builds the embedding client for cfg.Provider.
func NewEmbedder(ctx context.Context, cfg config.LLMConfig) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case providerGemini:
		return NewGeminiEmbedder(ctx, cfg.APIKey, cfg.EmbeddingModel)
	case providerOpenAI, "":
		client, err := openaiClient(cfg, cfg.PlanningModel, openai.WithEmbeddingModel(cfg.EmbeddingModel))
		if err != nil {
			return nil, err
		}
		emb, err := embeddings.NewEmbedder(client)
		if err != nil {
			return nil, &UpstreamError{Provider: providerOpenAI, Model: cfg.EmbeddingModel, Err: err}
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
