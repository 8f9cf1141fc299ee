package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LLM answers agent prompts with a langchaingo chat model.
type LLM struct {
	model       llms.Model
	limiter     *rate.Limiter
	timeout     time.Duration
	maxRetries  int
	backoff     time.Duration
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// NewLLM wraps model. Zero values in cfg take the package defaults.
func NewLLM(model llms.Model, cfg Config, logger *zap.Logger) *LLM {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LLM{
		model:       model,
		limiter:     rate.NewLimiter(rate.Limit(limit), burst),
		timeout:     timeout,
		maxRetries:  retries,
		backoff:     defaultBaseBackoff,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger.Named("provider"),
	}
}

// GenerateResponse sends the system and user prompts and returns the first
// choice's text.
//
// The method handles:
//   - Rate limiting shared by every agent using this LLM
//   - A per-attempt timeout
//   - Opt-in retries (MaxRetries) with exponential backoff, never on
//     context errors
func (l *LLM) GenerateResponse(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, userPrompt))

	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := l.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := l.generate(ctx, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, errEmptyResponse) {
			return "", err
		}
		l.logger.Debug("provider attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

var errEmptyResponse = errors.New("empty response from model")

func (l *LLM) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.model.GenerateContent(ctx, messages,
		llms.WithMaxTokens(l.maxTokens),
		llms.WithTemperature(l.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", errEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
