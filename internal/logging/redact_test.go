package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/councild/internal/config"
)

// encodedLogger writes JSON through a RedactingEncoder built from cfg.
func encodedLogger(t *testing.T, cfg RedactionConfig) (*Logger, *bytes.Buffer) {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return &Logger{zap: zap.New(core), config: NewDefaultConfig()}, buf
}

func TestSecret_LogsHint(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "provider configured",
		Secret("api_key", config.Secret("sk-ant-api03-abcdefghij")))

	tl.AssertField(t, "provider configured", "api_key", "[REDACTED:anthropic:23]")
	tl.AssertNoSecrets(t)
}

func TestMemberText(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "deliberation started", MemberText("topic", "how do we rest? 🌙"))

	tl.AssertField(t, "deliberation started", "topic", "[REDACTED:17]")
}

func TestRedactingEncoder_SensitiveKeys(t *testing.T) {
	logger, buf := encodedLogger(t, NewDefaultConfig().Redaction)

	logger.Info(context.Background(), "webhook accepted",
		zap.String("Authorization", "Basic dXNlcjpwYXNz"),
		zap.ByteString("token", []byte("discord-bot-token")),
		zap.Any("credential", map[string]string{"user": "river"}),
		zap.String("channel", "council-petitions"),
	)

	out := buf.String()
	assert.NotContains(t, out, "dXNlcjpwYXNz")
	assert.NotContains(t, out, "discord-bot-token")
	assert.NotContains(t, out, "river")
	assert.Contains(t, out, `"channel":"council-petitions"`)
	assert.Equal(t, 3, strings.Count(out, `"[REDACTED]"`))
}

func TestRedactingEncoder_MasksOnlyTheMatch(t *testing.T) {
	logger, buf := encodedLogger(t, NewDefaultConfig().Redaction)

	logger.Warn(context.Background(), "agent provider failed",
		zap.String("error", "401 from provider for key sk-proj-abcdefghijklmnopqrstuvwx, check council.api_key"),
	)

	out := buf.String()
	assert.NotContains(t, out, "abcdefghijklmnopqrstuvwx")
	assert.Contains(t, out, "401 from provider for key [REDACTED:pattern], check council.api_key")
}

func TestRedactingEncoder_AlreadyRedactedPassesThrough(t *testing.T) {
	logger, buf := encodedLogger(t, NewDefaultConfig().Redaction)

	logger.Info(context.Background(), "provider configured", Secret("api_key", config.Secret("sk-proj-abc")))
	assert.Contains(t, buf.String(), `"api_key":"[REDACTED:openai:11]"`)
}

func TestRedactingEncoder_CloneKeepsRules(t *testing.T) {
	logger, buf := encodedLogger(t, NewDefaultConfig().Redaction)

	child := logger.With(zap.String("password", "hunter2")).Named("http")
	child.Info(context.Background(), "login", zap.String("note", "Bearer abc.def"))

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc.def")
}

func TestNewRedactingEncoder_Errors(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled:  true,
		Patterns: []string{`(?i)bearer\s+\S+`, "[invalid("},
	})
	assert.ErrorContains(t, err, `invalid redaction pattern "[invalid("`)

	_, err = NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled:  true,
		Patterns: []string{strings.Repeat("a", maxPatternLen+1)},
	})
	assert.ErrorContains(t, err, "pattern too long")

	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Patterns: []string{"[invalid("}})
	require.NoError(t, err, "disabled redaction skips validation")
	assert.NotNil(t, enc)
}
