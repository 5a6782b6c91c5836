package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// providerAttempts is one call plus one retry.
const providerAttempts = 2

// generator wraps a chat-completion model with the retry-once policy.
type generator struct {
	llm        llms.Model
	maxTokens  int
	retryDelay time.Duration
	logger     *slog.Logger
}

func newGenerator(llm llms.Model, maxTokens int, logger *slog.Logger) *generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &generator{llm: llm, maxTokens: maxTokens, retryDelay: time.Second, logger: logger}
}

// complete asks the model once, validates the answer, and retries a single
// time on provider errors, empty output or validation failure.
func (g *generator) complete(ctx context.Context, systemPrompt, input string, temperature float64, jsonMode bool, validate func(string) error) Outcome[string] {
	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}
	prompts := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}

	var lastErr error
	for attempt := 1; attempt <= providerAttempts; attempt++ {
		if attempt > 1 {
			g.logger.Warn("Retrying LLM generation", "attempt", attempt, "last_error", lastErr)
			if err := sleepCtx(ctx, g.retryDelay); err != nil {
				return softFailed[string](err, attempt-1)
			}
		}

		resp, err := g.llm.GenerateContent(ctx, prompts, opts...)
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			if ctx.Err() != nil {
				return softFailed[string](lastErr, attempt)
			}
			continue
		}
		if resp == nil || len(resp.Choices) == 0 {
			lastErr = errors.New("llm returned no choices")
			continue
		}

		content := stripCodeFence(resp.Choices[0].Content)
		if strings.TrimSpace(content) == "" {
			lastErr = errors.New("llm returned empty content")
			continue
		}
		if validate != nil {
			if err := validate(content); err != nil {
				lastErr = fmt.Errorf("validation failed: %w", err)
				continue
			}
		}
		return succeeded(content, attempt)
	}

	return softFailed[string](fmt.Errorf("generation failed after %d attempts: %w", providerAttempts, lastErr), providerAttempts)
}

// stripCodeFence removes a surrounding markdown code block, which models
// often wrap JSON answers in.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	if end := strings.LastIndex(content, "```"); end >= 0 {
		content = content[:end]
	}
	return strings.TrimSpace(content)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
