package logging

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/councild/internal/config"
)

const (
	redactedPrefix = "[REDACTED"
	maxPatternLen  = 200
)

// Secret logs a provider credential as its hint, e.g.
// [REDACTED:anthropic:108], so operators can tell which key is loaded.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, val.Hint())
}

// MemberText logs petition and chat text by rune length only. What members
// write stays in the channels and the archive, never in operator logs.
func MemberText(key, text string) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", utf8.RuneCountInString(text)))
}

// compileRedactionPatterns compiles the configured value patterns.
func compileRedactionPatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// RedactingEncoder masks sensitive fields by key and credential-shaped
// substrings by pattern. Values that are already redacted pass unchanged.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base with the rules in cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	keys := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = true
	}
	patterns, err := compileRedactionPatterns(cfg.Patterns)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, keys: keys, patterns: patterns}, nil
}

func (e *RedactingEncoder) sensitive(key string) bool {
	return e.keys[strings.ToLower(key)]
}

// mask replaces every pattern match in val.
func (e *RedactingEncoder) mask(val string) string {
	for _, re := range e.patterns {
		val = re.ReplaceAllString(val, "[REDACTED:pattern]")
	}
	return val
}

func (e *RedactingEncoder) AddString(key, val string) {
	switch {
	case strings.HasPrefix(val, redactedPrefix):
		e.Encoder.AddString(key, val)
	case e.sensitive(key):
		e.Encoder.AddString(key, "[REDACTED]")
	default:
		e.Encoder.AddString(key, e.mask(val))
	}
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddString(key, e.mask(string(val)))
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected hides the whole value under a sensitive key. Nested values
// are not inspected.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// EncodeEntry routes the call's fields through the redacting methods. The
// wrapped encoder would otherwise add them to its own clone unchecked.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	c := &RedactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, patterns: e.patterns}
	for i := range fields {
		fields[i].AddTo(c)
	}
	ent.Message = c.mask(ent.Message)
	return c.Encoder.EncodeEntry(ent, nil)
}

// Clone keeps the rules on the copy; zap clones per logger.With.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, patterns: e.patterns}
}
