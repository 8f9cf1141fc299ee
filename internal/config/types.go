package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration is a time.Duration read from config text. Ceremony phases and
// council pacing are written as Go durations ("5m", "750ms").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MarshalJSON renders the duration as its Go string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

const redacted = "[REDACTED]"

// Secret holds a provider credential. Every printing and encoding path
// yields a placeholder; only Value returns the key itself.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v from printing the key.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// Value returns the raw key for handing to a provider client.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a key was configured.
func (s Secret) IsSet() bool {
	return s != ""
}

// Hint describes the key for logs without revealing it: the vendor
// prefix when it has a well-known one, and the length.
//
//	sk-ant-api03-... -> [REDACTED:anthropic:108]
func (s Secret) Hint() string {
	if s == "" {
		return ""
	}
	v := string(s)
	switch {
	case strings.HasPrefix(v, "sk-ant-"):
		return fmt.Sprintf("[REDACTED:anthropic:%d]", len(v))
	case strings.HasPrefix(v, "sk-"):
		return fmt.Sprintf("[REDACTED:openai:%d]", len(v))
	default:
		return fmt.Sprintf("[REDACTED:%d]", len(v))
	}
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler. A redacted placeholder decodes
// to an empty secret so a marshaled config never round-trips a fake key.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}

// UnmarshalText implements encoding.TextUnmarshaler. Surrounding space from
// env files is dropped.
func (s *Secret) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == redacted {
		raw = ""
	}
	*s = Secret(raw)
	return nil
}
