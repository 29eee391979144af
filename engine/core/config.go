package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type ApplicationConfig struct {
	// The application name reported to the driver.
	Name string `toml:"name"`
	// Semantic version string, "major.minor.patch".
	Version string `toml:"version"`
}

type WindowConfig struct {
	Title string `toml:"title"`
	// Window starting position, if applicable.
	X uint32 `toml:"x"`
	Y uint32 `toml:"y"`
	// Window starting size. Also the swapchain extent used when the surface
	// leaves the choice to the application.
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	Validation  bool   `toml:"validation"`
	PresentMode string `toml:"present_mode"`
	DepthFormat string `toml:"depth_format"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Window      WindowConfig      `toml:"window"`
	Renderer    RendererConfig    `toml:"renderer"`
	Log         LogConfig         `toml:"log"`
}

var presentModes = map[string]struct{}{
	"fifo":      {},
	"mailbox":   {},
	"immediate": {},
}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:    "miel",
			Version: "0.1.0",
		},
		Window: WindowConfig{
			Title:  "miel",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			Validation:  false,
			PresentMode: "fifo",
			DepthFormat: "d32_sfloat",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ParseConfig decodes a TOML document on top of the defaults, so keys that are
// not present keep their default value.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

func (c *Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("%w: window size must be non-zero, got %dx%d", ErrInvalidConfig, c.Window.Width, c.Window.Height)
	}
	if _, ok := presentModes[strings.ToLower(c.Renderer.PresentMode)]; !ok {
		return fmt.Errorf("%w: unknown present mode %q", ErrInvalidConfig, c.Renderer.PresentMode)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := parseVersion(c.Application.Version); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LogLevel returns the configured level, falling back to info.
func (c *Config) LogLevel() LogLevel {
	level, err := ParseLogLevel(c.Log.Level)
	if err != nil {
		return InfoLevel
	}
	return level
}

// VersionNumber packs the application version the way Vulkan does
// (10 bits major, 10 bits minor, 12 bits patch).
func (c *Config) VersionNumber() uint32 {
	v, _ := parseVersion(c.Application.Version)
	return v[0]<<22 | v[1]<<12 | v[2]
}

func parseVersion(s string) ([3]uint32, error) {
	var v [3]uint32
	if s == "" {
		return v, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return v, fmt.Errorf("malformed version %q", s)
	}
	limits := [3]uint64{1<<10 - 1, 1<<10 - 1, 1<<12 - 1}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil || n > limits[i] {
			return v, fmt.Errorf("malformed version %q", s)
		}
		v[i] = uint32(n)
	}
	return v, nil
}
