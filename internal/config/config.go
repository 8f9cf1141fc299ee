// Package config provides configuration loading for councild.
//
// Configuration comes from a YAML file, overridden by COUNCILD_* environment
// variables, on top of the defaults returned by Default.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/councild/internal/field"
	"github.com/fyrsmithlabs/councild/internal/scheduler"
)

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// Config holds the complete councild configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	NATS          NATSConfig          `koanf:"nats"`
	Transport     TransportConfig     `koanf:"transport"`
	Field         field.Config        `koanf:"field"`
	Council       CouncilConfig       `koanf:"council"`
	Agents        []AgentConfig       `koanf:"agents"`
	Ceremonies    []CeremonyConfig    `koanf:"ceremonies"`
	Archive       ArchiveConfig       `koanf:"archive"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"otlp_endpoint"`
	Protocol        string  `koanf:"otlp_protocol"` // grpc or http/protobuf
	Insecure        bool    `koanf:"otlp_insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	// Components sets per-logger levels, e.g. council: debug.
	Components map[string]string `koanf:"components"`
}

// NATSConfig configures the event mirror connection.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// Prefix is the subject prefix for mirrored bus events.
	Prefix string `koanf:"prefix"`
	// Embedded runs an in-process server on EmbeddedPort and connects to it.
	Embedded     bool `koanf:"embedded"`
	EmbeddedPort int  `koanf:"embedded_port"`
}

// TransportConfig selects the chat transport.
type TransportConfig struct {
	Kind          string   `koanf:"kind"`
	Prefix        string   `koanf:"prefix"` // NATS subject prefix for chat traffic
	Channels      []string `koanf:"channels"`
	Petitions     string   `koanf:"petitions"`
	Deliberations string   `koanf:"deliberations"`
}

// CouncilConfig holds provider and pacing settings shared by every agent.
type CouncilConfig struct {
	Provider   string   `koanf:"provider"` // static, openai, anthropic or ollama
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	RateLimit  float64  `koanf:"rate_limit"` // requests per second
	Burst      int      `koanf:"burst"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	Pacing     Duration `koanf:"pacing"`
}

// AgentConfig overrides a built-in agent by ID or adds a new one.
type AgentConfig struct {
	ID           string `koanf:"id"`
	Name         string `koanf:"name"`
	Harmony      string `koanf:"harmony"`
	Color        string `koanf:"color"`
	SystemPrompt string `koanf:"system_prompt"`
}

// CeremonyConfig declares a ceremony. When none are configured the built-in
// calendar is used.
type CeremonyConfig struct {
	ID            string        `koanf:"id"`
	Name          string        `koanf:"name"`
	Description   string        `koanf:"description"`
	Schedule      string        `koanf:"schedule"`
	Channel       string        `koanf:"channel"`
	LeadAgents    []string      `koanf:"lead_agents"`
	ClosingWisdom string        `koanf:"closing_wisdom"`
	AllowOverlap  bool          `koanf:"allow_overlap"`
	Phases        []PhaseConfig `koanf:"phases"`
}

// PhaseConfig declares one ceremony phase.
type PhaseConfig struct {
	Name     string   `koanf:"name"`
	Duration Duration `koanf:"duration"`
	Prompt   string   `koanf:"prompt"`
	Lead     string   `koanf:"lead"`
}

// ArchiveConfig configures the wisdom archive.
type ArchiveConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Capacity int    `koanf:"capacity"`
	Path     string `koanf:"path"` // empty keeps the archive in memory
	Compress bool   `koanf:"compress"`

	// ScrubSecrets redacts credentials from entries before they are stored.
	ScrubSecrets bool `koanf:"scrub_secrets"`
	// Allowlist is an optional TOML file of patterns never redacted.
	Allowlist string `koanf:"allowlist"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Observability: ObservabilityConfig{
			ServiceName: "councild",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			URL:          "nats://127.0.0.1:4222",
			Prefix:       "councild.events",
			EmbeddedPort: 4222,
		},
		Transport: TransportConfig{
			Kind:          TransportMemory,
			Prefix:        "councild.chat",
			Petitions:     "council-petitions",
			Deliberations: "council-deliberations",
		},
		Field: field.DefaultConfig(),
		Council: CouncilConfig{
			Provider: "static",
			Timeout:  Duration(30 * time.Second),
			Pacing:   Duration(2 * time.Second),
		},
		Archive: ArchiveConfig{
			Enabled:  true,
			Capacity: 1000,
			Path:     "~/.config/councild/archive",
			Compress: true,

			ScrubSecrets: true,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 0-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		switch c.Observability.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("otlp_protocol must be grpc or http/protobuf, got %q", c.Observability.Protocol)
		}
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console, got %q", c.Logging.Format)
	}

	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}

	switch c.Transport.Kind {
	case TransportMemory:
	case TransportNATS:
		if !c.NATS.Enabled {
			return errors.New("nats transport requires nats.enabled")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}

	if err := c.Field.Validate(); err != nil {
		return fmt.Errorf("field: %w", err)
	}

	if c.Council.RateLimit < 0 {
		return errors.New("council rate_limit cannot be negative")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
	}

	if err := validateCeremonies(c.Ceremonies); err != nil {
		return err
	}

	if c.Archive.Enabled && c.Archive.Capacity <= 0 {
		return fmt.Errorf("archive capacity must be positive, got %d", c.Archive.Capacity)
	}
	return nil
}

func validateCeremonies(defs []CeremonyConfig) error {
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("ceremonies[%d]: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("ceremonies[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true

		if d.Schedule != "" {
			if _, err := scheduler.Parse(d.Schedule); err != nil {
				return fmt.Errorf("ceremony %q: %w", d.ID, err)
			}
		}
		if len(d.Phases) == 0 {
			return fmt.Errorf("ceremony %q: at least one phase is required", d.ID)
		}
		for _, p := range d.Phases {
			if p.Name == "" || p.Duration.Duration() <= 0 {
				return fmt.Errorf("ceremony %q: phases need a name and a positive duration", d.ID)
			}
		}
	}
	return nil
}
