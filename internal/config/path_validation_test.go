package config

import (
	"path/filepath"
	"testing"
)

func TestValidateConfigPath_RejectsPathTraversal(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name string
		path string
	}{
		{"sibling with shared prefix", "/etc/councild../etc/passwd"},
		{"double dot escape", "/etc/councild/../passwd"},
		{"relative escape", "../../../../etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateConfigPath(tt.path); err == nil {
				t.Errorf("Expected error for path traversal attempt: %s", tt.path)
			}
		})
	}
}

func TestValidateConfigPath_AllowsValidPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	validPaths := []string{
		filepath.Join(home, ".config", "councild", "config.yaml"),
		filepath.Join(home, ".config", "councild", "subdir", "config.yaml"),
		"/etc/councild/config.yaml",
		"/etc/councild/production/config.yaml",
	}

	for _, path := range validPaths {
		t.Run(path, func(t *testing.T) {
			if err := validateConfigPath(path); err != nil {
				t.Errorf("Valid path rejected: %s, error: %v", path, err)
			}
		})
	}
}

func TestValidateConfigPath_RejectsOutsideAllowedDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	for _, path := range []string{
		"/etc/passwd",
		"/tmp/config.yaml",
		"/var/lib/councild/config.yaml",
	} {
		t.Run(path, func(t *testing.T) {
			if err := validateConfigPath(path); err == nil {
				t.Errorf("Path outside allowed directories should be rejected: %s", path)
			}
		})
	}
}
