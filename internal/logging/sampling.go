package logging

import (
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"
)

// newSampledCore samples each configured level with its own budget.
// Error and above, levels without a budget, and loggers named in
// cfg.Exempt (ceremony lifecycle, scheduler firings) always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	levels := make([]zapcore.Level, 0, len(cfg.Levels))
	for l := range cfg.Levels {
		if l < zapcore.ErrorLevel {
			levels = append(levels, l)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	budgeted := make(map[zapcore.Level]bool, len(levels))
	cores := make([]zapcore.Core, 0, len(levels)+1)
	for _, l := range levels {
		budget := cfg.Levels[l]
		budgeted[l] = true
		cores = append(cores, zapcore.NewSamplerWithOptions(
			&bandCore{Core: core, accept: onlyLevel(l)},
			cfg.Tick.Duration(),
			budget.Initial,
			budget.Thereafter,
		))
	}
	cores = append(cores, &bandCore{Core: core, accept: func(l zapcore.Level) bool {
		return !budgeted[l]
	}})
	sampled := zapcore.NewTee(cores...)

	if len(cfg.Exempt) == 0 {
		return sampled
	}
	return &exemptCore{Core: sampled, raw: core, exempt: cfg.Exempt}
}

func onlyLevel(want zapcore.Level) func(zapcore.Level) bool {
	return func(l zapcore.Level) bool { return l == want }
}

// bandCore passes only the levels accept admits.
type bandCore struct {
	zapcore.Core
	accept func(zapcore.Level) bool
}

func (c *bandCore) Enabled(lvl zapcore.Level) bool {
	return c.accept(lvl) && c.Core.Enabled(lvl)
}

func (c *bandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.accept(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *bandCore) With(fields []zapcore.Field) zapcore.Core {
	return &bandCore{Core: c.Core.With(fields), accept: c.accept}
}

// exemptCore sends entries from exempt loggers around the samplers.
type exemptCore struct {
	zapcore.Core
	raw    zapcore.Core
	exempt []string
}

func (c *exemptCore) isExempt(name string) bool {
	for _, e := range c.exempt {
		if name == e || strings.HasPrefix(name, e+".") {
			return true
		}
	}
	return false
}

func (c *exemptCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.isExempt(e.LoggerName) {
		return c.raw.Check(e, ce)
	}
	return c.Core.Check(e, ce)
}

func (c *exemptCore) With(fields []zapcore.Field) zapcore.Core {
	return &exemptCore{Core: c.Core.With(fields), raw: c.raw.With(fields), exempt: c.exempt}
}

func (c *exemptCore) Sync() error {
	return c.raw.Sync()
}
