package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[window]
width = 800
height = 600

[log]
level = "debug"
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Window.Width != 800 || cfg.Window.Height != 600 {
		t.Errorf("window = %dx%d, want 800x600", cfg.Window.Width, cfg.Window.Height)
	}
	if cfg.Renderer.PresentMode != "fifo" {
		t.Errorf("present mode = %q, want the default", cfg.Renderer.PresentMode)
	}
	if cfg.Application.Name != "miel" {
		t.Errorf("application name = %q, want the default", cfg.Application.Name)
	}
	if cfg.LogLevel() != DebugLevel {
		t.Errorf("log level = %s, want debug", cfg.LogLevel())
	}
}

func TestParseConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed toml", `[window`},
		{"zero width", "[window]\nwidth = 0"},
		{"unknown present mode", "[renderer]\npresent_mode = \"vsync\""},
		{"unknown log level", "[log]\nlevel = \"loud\""},
		{"bad version", "[application]\nversion = \"1.x\""},
		{"minor out of range", "[application]\nversion = \"1.1024.0\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestVersionNumber(t *testing.T) {
	tests := []struct {
		version string
		want    uint32
	}{
		{"", 0},
		{"1", 1 << 22},
		{"0.1.0", 1 << 12},
		{"1.2.3", 1<<22 | 2<<12 | 3},
		{"1023.1023.4095", 1<<32 - 1},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Application.Version = tt.version
		if got := cfg.VersionNumber(); got != tt.want {
			t.Errorf("VersionNumber(%q) = %#x, want %#x", tt.version, got, tt.want)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{" INFO ", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}
