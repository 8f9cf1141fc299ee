package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temp dir and returns the councild config dir
// inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "councild")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	return configDir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	// WriteFile is subject to umask
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("Failed to chmod test config: %v", err)
	}
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 9292
  http_host: 127.0.0.1
  shutdown_timeout: 3s

observability:
  enable_telemetry: true
  service_name: councild-test
  otlp_protocol: http/protobuf

nats:
  enabled: true
  url: nats://broker:4222

transport:
  kind: nats
  channels: [general, council-petitions]

field:
  initial: 60
  baseline: 70
  tick_interval: 30s

council:
  provider: openai
  api_key: sk-test
  pacing: 500ms

agents:
  - id: lumina
    name: Lumina of the Dawn

ceremonies:
  - id: tea
    name: Tea Circle
    schedule: "0 16 * * *"
    phases:
      - name: Pour
        duration: 5m
        lead: rotating
      - name: Sip
        duration: 10m

archive:
  capacity: 50
  path: ""
`, 0600)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 9292 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server = %s:%d, want 127.0.0.1:9292", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Duration() != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if !cfg.Observability.EnableTelemetry || cfg.Observability.Protocol != "http/protobuf" {
		t.Errorf("Observability = %+v", cfg.Observability)
	}
	if cfg.Transport.Kind != TransportNATS || len(cfg.Transport.Channels) != 2 {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
	if cfg.Transport.Petitions != "council-petitions" {
		t.Errorf("Transport.Petitions = %q, want default kept", cfg.Transport.Petitions)
	}
	if cfg.Field.Initial != 60 || cfg.Field.Baseline != 70 || cfg.Field.TickInterval != 30*time.Second {
		t.Errorf("Field = %+v", cfg.Field)
	}
	if cfg.Field.MaterialityThreshold != 0.5 {
		t.Errorf("Field.MaterialityThreshold = %v, want default 0.5", cfg.Field.MaterialityThreshold)
	}
	if cfg.Council.APIKey.Value() != "sk-test" || cfg.Council.APIKey.String() != "[REDACTED]" {
		t.Errorf("Council.APIKey not loaded as a secret")
	}
	if cfg.Council.Pacing.Duration() != 500*time.Millisecond {
		t.Errorf("Council.Pacing = %v, want 500ms", cfg.Council.Pacing)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "Lumina of the Dawn" {
		t.Errorf("Agents = %+v", cfg.Agents)
	}
	if len(cfg.Ceremonies) != 1 || len(cfg.Ceremonies[0].Phases) != 2 {
		t.Fatalf("Ceremonies = %+v", cfg.Ceremonies)
	}
	if got := cfg.Ceremonies[0].Phases[0].Duration.Duration(); got != 5*time.Minute {
		t.Errorf("Phase duration = %v, want 5m", got)
	}
	if cfg.Archive.Capacity != 50 || cfg.Archive.Path != "" || !cfg.Archive.Enabled {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 9292
logging:
  level: debug
`, 0600)

	t.Setenv("COUNCILD_SERVER_HTTP_PORT", "9393")
	t.Setenv("COUNCILD_LOGGING_FORMAT", "console")
	t.Setenv("COUNCILD_FIELD_TICK_INTERVAL", "2m")
	t.Setenv("COUNCILD_COUNCIL_API_KEY", "from-env")
	t.Setenv("COUNCILD_ARCHIVE_ENABLED", "false")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}

	if cfg.Server.Port != 9393 {
		t.Errorf("Server.Port = %d, want 9393 (env override)", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Field.TickInterval != 2*time.Minute {
		t.Errorf("Field.TickInterval = %v, want 2m", cfg.Field.TickInterval)
	}
	if cfg.Council.APIKey.Value() != "from-env" {
		t.Errorf("Council.APIKey not taken from env")
	}
	if cfg.Archive.Enabled {
		t.Error("Archive.Enabled = true, want false")
	}
}

func TestLoadWithFile_DefaultPathMissingFile(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile(\"\") error = %v", err)
	}
	want := Default()
	if cfg.Server != want.Server || cfg.Transport.Kind != want.Transport.Kind || cfg.Field != want.Field {
		t.Errorf("LoadWithFile(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: [unclosed\n", 0600)

	if _, err := LoadWithFile(path); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

func TestLoadWithFile_Validation(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "transport:\n  kind: carrier-pigeon\n", 0600)

	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "unknown transport kind") {
		t.Errorf("Expected transport validation error, got: %v", err)
	}
}

func TestLoadWithFile_PathTraversal(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("../../../../etc/passwd")
	if err == nil {
		t.Fatal("Expected error for path traversal, got nil")
	}
	if !strings.Contains(err.Error(), "must be in ~/.config/councild/ or /etc/councild/") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

func TestLoadWithFile_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	tests := []struct {
		perm    os.FileMode
		wantErr bool
	}{
		{0600, false},
		{0400, false},
		{0644, true},
		{0640, true},
	}

	for _, tt := range tests {
		t.Run(tt.perm.String(), func(t *testing.T) {
			dir := setupTestHome(t)
			path := writeConfig(t, dir, "server:\n  http_port: 9292\n", tt.perm)

			_, err := LoadWithFile(path)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "insecure config file permissions") {
					t.Errorf("Expected insecure permissions error, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("LoadWithFile() error = %v", err)
			}
		})
	}
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	large := bytes.Repeat([]byte("# comment line\n"), 150000)
	path := writeConfig(t, dir, string(large), 0600)

	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected 'too large' error, got: %v", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"COUNCILD_SERVER_HTTP_PORT":    "server.http_port",
		"COUNCILD_NATS_URL":            "nats.url",
		"COUNCILD_FIELD_TICK_INTERVAL": "field.tick_interval",
		"COUNCILD_DEBUG":               "debug",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(home, ".config", "councild"))
	if err != nil {
		t.Fatalf("config dir not created: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0700 {
		t.Errorf("config dir perm = %v, want 0700", info.Mode().Perm())
	}
}
