// Package scrub removes credentials from free text before it is archived.
//
// Petitions and ceremony contributions are written by people in chat, and
// they occasionally paste tokens. The archive is long-lived and searchable,
// so every entry is passed through a Scrubber first. Detection uses the
// gitleaks default rule set; matches are replaced with [REDACTED:<rule-id>].
//
// An allowlist file may exempt known-safe patterns:
//
//	[allowlist]
//	regexes = ['''DEMO_[A-Z_]+''', '''example\.com''']
package scrub
