package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"bookchat/internal/config"
	"bookchat/internal/helper"
)

// NewModel builds the chat model for the configured provider.
func NewModel(ctx context.Context, llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Creating chat model")
	switch llmConfig.Provider {
	case "openai":
		return newOpenAI(llmConfig)
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case "googleai":
		return newGoogleAI(ctx, llmConfig)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", llmConfig.Provider)
	}
}

// NewEmbeddingClient builds the embedding client for the configured
// provider, keyed by the same credential as the chat model.
func NewEmbeddingClient(ctx context.Context, llmConfig *config.LLMConfig) (embeddings.EmbedderClient, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("embedding_model", llmConfig.EmbeddingModel).Msg("Creating embedding client")
	switch llmConfig.Provider {
	case "openai":
		return newOpenAI(llmConfig)
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.EmbeddingModel),
		)
	case "googleai":
		return newGoogleAI(ctx, llmConfig)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", llmConfig.Provider)
	}
}

func newOpenAI(llmConfig *config.LLMConfig) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
		openai.WithEmbeddingModel(llmConfig.EmbeddingModel),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	return openai.New(opts...)
}

func newGoogleAI(ctx context.Context, llmConfig *config.LLMConfig) (*googleai.GoogleAI, error) {
	return googleai.New(ctx,
		googleai.WithAPIKey(llmConfig.Key),
		googleai.WithDefaultModel(llmConfig.Model),
		googleai.WithDefaultEmbeddingModel(llmConfig.EmbeddingModel),
	)
}

// GenerateContent sends a single human prompt and returns the first
// choice. Transient failures are retried per the config.
func GenerateContent(ctx context.Context, llm llms.Model, llmConfig *config.LLMConfig, prompt string, options ...llms.CallOption) (string, error) {
	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	if llmConfig.Temperature > 0 {
		options = append(options, llms.WithTemperature(llmConfig.Temperature))
	}

	var text string
	timeout := time.Duration(llmConfig.TimeoutSecs) * time.Second
	err := helper.Retry(ctx, llmConfig.Retries, timeout, func(ctx context.Context) error {
		res, err := llm.GenerateContent(ctx, msgContent, options...)
		if err != nil {
			return err
		}
		if res == nil || len(res.Choices) == 0 {
			return errors.New("model returned no choices")
		}
		text = res.Choices[0].Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
