package llm

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/phucgpt/ragchat/internal/config"
	"github.com/phucgpt/ragchat/internal/core"
)

// Provider embeds and generates with a single backend.
type Provider interface {
	core.Embedder
	core.Generator
}

// New builds the provider selected by cfg.LLMProvider. The returned closer releases the
// client and is never nil.
func New(ctx context.Context, cfg *config.Config) (Provider, io.Closer, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		p, err := NewOpenAI(OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
			ChatModel:      cfg.ChatModel,
			Dimension:      cfg.EmbeddingDimension,
			MaxRetries:     cfg.ProviderMaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, closerFunc(func() error { return nil }), nil
	case config.ProviderGemini:
		p, err := NewGemini(ctx, GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			EmbeddingModel: cfg.GeminiEmbeddingModel,
			ChatModel:      cfg.GeminiChatModel,
			Dimension:      cfg.EmbeddingDimension,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	}
	return nil, nil, errors.Newf("unknown llm provider %q", cfg.LLMProvider)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
