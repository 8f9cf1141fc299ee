package logging

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// buildCore assembles the console and OTEL outputs, then applies the
// component levels and sampling to both.
func buildCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	floor := lowestLevel(cfg.Level, cfg.Components)
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		console, err := newConsoleCore(cfg, floor, consoleWriter(cfg.Output))
		if err != nil {
			return nil, err
		}
		cores = append(cores, console)
	}

	if cfg.Output.OTEL && otelProvider != nil {
		name := cfg.Fields["service"]
		if name == "" {
			name = "councild"
		}
		cores = append(cores, otelzap.NewCore(name, otelzap.WithLoggerProvider(otelProvider)))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	core = newSampledCore(core, cfg.Sampling)
	return newComponentCore(core, cfg.Level, cfg.Components), nil
}

// consoleWriter picks stderr when stdio MCP owns stdout.
func consoleWriter(out OutputConfig) io.Writer {
	if out.Stderr {
		return os.Stderr
	}
	return os.Stdout
}

func newConsoleCore(cfg *Config, floor zapcore.Level, w io.Writer) (zapcore.Core, error) {
	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(w), floor), nil
}
