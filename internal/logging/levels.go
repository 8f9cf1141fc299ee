package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Provider prompts and per-message hub
// routing log here; it is off everywhere but local diagnosis.
const TraceLevel = zapcore.Level(-2)

// ParseLevel parses a level name, accepting "trace" as well as zap's own
// names. Case and surrounding space are ignored; empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return l, nil
}

// ParseComponentLevels parses per-component overrides such as
// {"council": "debug", "scheduler": "warn"}. Component names are the
// logger names the packages register under.
func ParseComponentLevels(raw map[string]string) (map[string]zapcore.Level, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]zapcore.Level, len(raw))
	for name, level := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("component name cannot be empty")
		}
		l, err := ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", name, err)
		}
		out[name] = l
	}
	return out, nil
}

// lowestLevel is the most verbose level any component may log at. The
// output core is built at this level and componentCore narrows it again.
func lowestLevel(base zapcore.Level, components map[string]zapcore.Level) zapcore.Level {
	lowest := base
	for _, l := range components {
		if l < lowest {
			lowest = l
		}
	}
	return lowest
}

// componentCore gates entries by logger name. A name like "hub.council"
// takes the override for "hub.council", then "hub", then the base level.
type componentCore struct {
	zapcore.Core
	base       zapcore.Level
	components map[string]zapcore.Level
}

func newComponentCore(core zapcore.Core, base zapcore.Level, components map[string]zapcore.Level) zapcore.Core {
	if len(components) == 0 {
		return core
	}
	return &componentCore{Core: core, base: base, components: components}
}

func (c *componentCore) levelFor(name string) zapcore.Level {
	for name != "" {
		if l, ok := c.components[name]; ok {
			return l
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return c.base
}

func (c *componentCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level < c.levelFor(e.LoggerName) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *componentCore) With(fields []zapcore.Field) zapcore.Core {
	return &componentCore{Core: c.Core.With(fields), base: c.base, components: c.components}
}
