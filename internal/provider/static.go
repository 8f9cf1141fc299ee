package provider

import (
	"context"
	"fmt"
	"strings"
)

// Static answers without a model. It is the offline provider used when no
// LLM is configured, and echoes a short reflection of the prompt.
type Static struct {
	Voice string
}

// NewStatic returns a static provider speaking as voice.
func NewStatic(voice string) *Static {
	return &Static{Voice: voice}
}

// GenerateResponse returns a deterministic reflection of userPrompt.
func (s *Static) GenerateResponse(ctx context.Context, _, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line := strings.TrimSpace(firstLine(userPrompt))
	if line == "" {
		line = "this moment"
	}
	return fmt.Sprintf("%s holds %s in stillness and invites you to listen for what wants to emerge.", s.Voice, line), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
