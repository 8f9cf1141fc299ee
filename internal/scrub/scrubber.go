package scrub

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// Finding is one detected secret.
type Finding struct {
	RuleID      string
	Description string
	Secret      string
}

// Scrubber detects and redacts secrets.
type Scrubber struct {
	allowlist *Allowlist
	logger    *zap.Logger
	redacted  atomic.Int64
}

// New returns a Scrubber. A nil allowlist exempts nothing.
func New(allowlist *Allowlist, logger *zap.Logger) (*Scrubber, error) {
	if err := allowlist.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scrubber{allowlist: allowlist, logger: logger}, nil
}

// Detect returns the secrets found in text.
//
// The gitleaks detector accumulates findings internally, so a fresh one is
// built per call.
func (s *Scrubber) Detect(text string) ([]Finding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	s.applyAllowlist(&detector.Config)

	found := detector.DetectString(text)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Description: f.Description, Secret: secret})
	}
	return out, nil
}

// Redact replaces every detected secret with a [REDACTED:<rule-id>] marker
// and reports how many distinct secrets were removed.
func (s *Scrubber) Redact(text string) (string, int, error) {
	findings, err := s.Detect(text)
	if err != nil || len(findings) == 0 {
		return text, 0, err
	}

	// Longest first so a secret containing another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})

	seen := make(map[string]bool, len(findings))
	n := 0
	for _, f := range findings {
		if seen[f.Secret] || !strings.Contains(text, f.Secret) {
			continue
		}
		seen[f.Secret] = true
		text = strings.ReplaceAll(text, f.Secret, "[REDACTED:"+f.RuleID+"]")
		n++
	}
	s.redacted.Add(int64(n))
	return text, n, nil
}

// Scrub is Redact for callers that cannot handle errors. Text that cannot
// be scanned is returned unchanged and the failure is logged.
func (s *Scrubber) Scrub(text string) string {
	out, n, err := s.Redact(text)
	if err != nil {
		s.logger.Warn("secret scan failed", zap.Error(err))
		return text
	}
	if n > 0 {
		s.logger.Info("secrets redacted", zap.Int("count", n))
	}
	return out
}

// Redacted is the running total of secrets removed.
func (s *Scrubber) Redacted() int64 {
	return s.redacted.Load()
}

func (s *Scrubber) applyAllowlist(cfg *gitleaksConfig.Config) {
	if s.allowlist == nil || len(s.allowlist.Regexes) == 0 {
		return
	}
	al := &gitleaksConfig.Allowlist{Description: "councild allowlist"}
	for _, p := range s.allowlist.Regexes {
		al.Regexes = append(al.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	cfg.Allowlists = append(cfg.Allowlists, al)
}
