package scrub

import "errors"

var (
	// ErrInvalidAllowlist is returned when an allowlist file is not valid TOML.
	ErrInvalidAllowlist = errors.New("invalid allowlist")

	// ErrInvalidPattern is returned when an allowlist regex does not compile.
	ErrInvalidPattern = errors.New("invalid allowlist pattern")
)
