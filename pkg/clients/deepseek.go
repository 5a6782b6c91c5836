package clients

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

// DeepSeek talks to the OpenAI-compatible DeepSeek chat endpoint.
func DeepSeek(apiKey, baseURL, model string) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, errors.New("deepseek: API key is missing")
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("deepseek: failed to create client: %w", err)
	}
	return llm, nil
}
