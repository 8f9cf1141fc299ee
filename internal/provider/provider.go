// Package provider supplies council agent providers backed by langchaingo
// chat models, plus an offline static provider.
package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/config"
	"github.com/fyrsmithlabs/councild/internal/logging"
)

// Provider kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindOllama    = "ollama"
	KindStatic    = "static"
)

// Default configuration values.
const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultOllamaModel    = "llama3.2"
	defaultOllamaURL      = "http://localhost:11434"
	defaultTimeout        = 30 * time.Second
	defaultBaseBackoff    = 500 * time.Millisecond
	defaultMaxTokens      = 400
	defaultTemperature    = 0.8
)

// Rate limiter defaults: 60 requests per minute shared by the council.
const (
	defaultRateLimit = 1.0
	defaultBurst     = 7
)

// ErrUnknownKind is returned for an unsupported provider kind.
var ErrUnknownKind = errors.New("unknown provider kind")

// Config selects and tunes a provider.
type Config struct {
	Kind        string        `json:"kind"`
	Model       string        `json:"model"`
	APIKey      config.Secret `json:"api_key"`
	BaseURL     string        `json:"base_url"`
	Timeout     time.Duration `json:"timeout"`
	RateLimit   float64       `json:"rate_limit"`
	Burst       int           `json:"burst"`
	MaxRetries  int           `json:"max_retries"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// New builds the provider described by cfg. The returned value satisfies
// council.Provider.
func New(cfg Config, logger *zap.Logger) (*LLM, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	l := NewLLM(model, cfg, logger)
	l.logger.Info("provider configured",
		zap.String("kind", cfg.Kind),
		zap.String("model", modelName(cfg)),
		logging.Secret("api_key", cfg.APIKey),
		zap.Int("max_retries", l.maxRetries),
	)
	return l, nil
}

func modelName(cfg Config) string {
	switch cfg.Kind {
	case KindOpenAI:
		return orDefault(cfg.Model, defaultOpenAIModel)
	case KindAnthropic:
		return orDefault(cfg.Model, defaultAnthropicModel)
	case KindOllama:
		return orDefault(cfg.Model, defaultOllamaModel)
	}
	return cfg.Model
}

func newModel(cfg Config) (llms.Model, error) {
	switch cfg.Kind {
	case KindOpenAI:
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("openai API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey.Value()),
			openai.WithModel(modelName(cfg)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case KindAnthropic:
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("anthropic API key required")
		}
		if cfg.BaseURL != "" {
			return nil, fmt.Errorf("anthropic client does not support base_url %q", cfg.BaseURL)
		}
		return anthropic.New(
			anthropic.WithToken(cfg.APIKey.Value()),
			anthropic.WithModel(modelName(cfg)),
		)
	case KindOllama:
		return ollama.New(
			ollama.WithModel(modelName(cfg)),
			ollama.WithServerURL(orDefault(cfg.BaseURL, defaultOllamaURL)),
		)
	case KindStatic:
		return nil, fmt.Errorf("%w: static has no model, use NewStatic", ErrUnknownKind)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
