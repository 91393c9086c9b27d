package agents

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// ModelConfig selects and configures the chat model behind the pipeline.
type ModelConfig struct {
	Provider  string // deepseek or openai (any OpenAI-compatible endpoint)
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

func NewChatModel(ctx context.Context, mc ModelConfig) (model.ToolCallingChatModel, error) {
	if mc.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for %s", mc.Provider)
	}
	maxTokens := mc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	switch mc.Provider {
	case "deepseek":
		name := mc.Model
		if name == "" {
			name = "deepseek-chat"
		}
		cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    mc.APIKey,
			Model:     name,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return cm, nil

	case "openai", "":
		baseURL := mc.BaseURL
		if baseURL == "" {
			baseURL = "https://api.deepseek.com/v1"
		}
		name := mc.Model
		if name == "" {
			name = "deepseek-chat"
		}
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   baseURL,
			APIKey:    mc.APIKey,
			Model:     name,
			MaxTokens: &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI-compatible model: %w", err)
		}
		return cm, nil
	}

	return nil, fmt.Errorf("unknown llm provider %q", mc.Provider)
}
