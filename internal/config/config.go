package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/palette"
)

// EnvPrefix prefixes every environment override, e.g. ANNOTATE_DEBUG.
const EnvPrefix = "ANNOTATE"

// Config holds the application configuration
type Config struct {
	Viewport     ViewportConfig `json:"viewport"`
	Palette      []string       `json:"palette"`
	Images       ImagesConfig   `json:"images"`
	Render       RenderConfig   `json:"render"`
	Suggest      SuggestConfig  `json:"suggest"`
	DefaultLabel string         `json:"default_label"`
	Debug        bool           `json:"debug"`
}

// ViewportConfig is the box images are fitted into and the box they are
// centred in.
type ViewportConfig struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	CenterWidth  int `json:"center_width"`
	CenterHeight int `json:"center_height"`
}

// ImagesConfig selects which files of a directory are browsable images.
type ImagesConfig struct {
	Extensions []string `json:"extensions"`
}

// RenderConfig holds configuration for overlay rendering
type RenderConfig struct {
	Stroke       int    `json:"stroke"`
	VertexRadius int    `json:"vertex_radius"`
	OutputFormat string `json:"output_format"`
	Quality      int    `json:"quality"`
}

// SuggestConfig holds configuration for vision-model label suggestions
type SuggestConfig struct {
	Enabled        bool   `json:"enabled"`
	// Backend is "ollama" or "llamacpp".
	Backend        string `json:"backend"`
	URL            string `json:"url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Viewport: ViewportConfig{
			Width:        800,
			Height:       600,
			CenterWidth:  800,
			CenterHeight: 450,
		},
		Palette: []string{
			"#ff0000", "#0000ff", "#008000", "#ffff00",
			"#800080", "#ffa500", "#00ffff", "#ff00ff",
		},
		Images: ImagesConfig{
			Extensions: append([]string(nil), utils.DefaultImageExtensions...),
		},
		Render: RenderConfig{
			Stroke:       2,
			VertexRadius: 2,
			OutputFormat: "png",
			Quality:      90,
		},
		Suggest: SuggestConfig{
			Enabled:        false,
			Backend:        "ollama",
			URL:            "http://localhost:11434",
			Model:          "llava",
			TimeoutSeconds: 120,
		},
		DefaultLabel: "Default Label",
	}
}

// Load builds the effective configuration: defaults, then the JSON file at
// path (or the default config path when it exists), then environment
// variables. A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" && utils.FileExists(GetConfigPath()) {
		path = GetConfigPath()
	}
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	if err := utils.EnsureDir(filepath.Dir(filename)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := utils.WriteFileAtomic(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// envOverrides lists the settings that can be overridden from the
// environment. Field names map to ANNOTATE_FIELD_NAME; unset variables
// leave the pointer nil.
type envOverrides struct {
	ViewportWidth         *int     `split_words:"true"`
	ViewportHeight        *int     `split_words:"true"`
	ViewportCenterWidth   *int     `split_words:"true"`
	ViewportCenterHeight  *int     `split_words:"true"`
	Palette               []string `split_words:"true"`
	Extensions            []string `split_words:"true"`
	Stroke                *int     `split_words:"true"`
	VertexRadius          *int     `split_words:"true"`
	OutputFormat          *string  `split_words:"true"`
	Quality               *int     `split_words:"true"`
	SuggestEnabled        *bool    `split_words:"true"`
	SuggestBackend        *string  `split_words:"true"`
	SuggestURL            *string  `split_words:"true"`
	SuggestModel          *string  `split_words:"true"`
	SuggestTimeoutSeconds *int     `split_words:"true"`
	DefaultLabel          *string  `split_words:"true"`
	Debug                 *bool    `split_words:"true"`
}

// ApplyEnv overrides c with the ANNOTATE_* environment variables that are set.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setInt(&c.Viewport.Width, env.ViewportWidth)
	setInt(&c.Viewport.Height, env.ViewportHeight)
	setInt(&c.Viewport.CenterWidth, env.ViewportCenterWidth)
	setInt(&c.Viewport.CenterHeight, env.ViewportCenterHeight)
	if len(env.Palette) > 0 {
		c.Palette = env.Palette
	}
	if len(env.Extensions) > 0 {
		c.Images.Extensions = env.Extensions
	}
	setInt(&c.Render.Stroke, env.Stroke)
	setInt(&c.Render.VertexRadius, env.VertexRadius)
	setString(&c.Render.OutputFormat, env.OutputFormat)
	setInt(&c.Render.Quality, env.Quality)
	if env.SuggestEnabled != nil {
		c.Suggest.Enabled = *env.SuggestEnabled
	}
	setString(&c.Suggest.Backend, env.SuggestBackend)
	setString(&c.Suggest.URL, env.SuggestURL)
	setString(&c.Suggest.Model, env.SuggestModel)
	setInt(&c.Suggest.TimeoutSeconds, env.SuggestTimeoutSeconds)
	setString(&c.DefaultLabel, env.DefaultLabel)
	if env.Debug != nil {
		c.Debug = *env.Debug
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Viewport.Width < 1 || c.Viewport.Height < 1 {
		return fmt.Errorf("viewport.width and viewport.height must be positive")
	}

	if c.Viewport.CenterWidth < 0 || c.Viewport.CenterHeight < 0 {
		return fmt.Errorf("viewport.center_width and viewport.center_height cannot be negative")
	}

	if len(c.Palette) == 0 {
		return fmt.Errorf("palette cannot be empty")
	}

	if _, err := palette.ParseHexList(c.Palette); err != nil {
		return fmt.Errorf("palette: %w", err)
	}

	if len(c.Images.Extensions) == 0 {
		return fmt.Errorf("images.extensions cannot be empty")
	}

	if c.Render.Stroke < 1 {
		return fmt.Errorf("render.stroke must be positive")
	}

	if c.Render.VertexRadius < 0 {
		return fmt.Errorf("render.vertex_radius cannot be negative")
	}

	switch strings.ToLower(c.Render.OutputFormat) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("render.output_format must be png, jpg or webp")
	}

	if c.Render.Quality < 1 || c.Render.Quality > 100 {
		return fmt.Errorf("render.quality must be between 1 and 100")
	}

	if c.Suggest.Enabled {
		switch c.Suggest.Backend {
		case "ollama", "llamacpp":
		default:
			return fmt.Errorf("suggest.backend must be ollama or llamacpp")
		}
		if c.Suggest.URL == "" || c.Suggest.Model == "" {
			return fmt.Errorf("suggest.url and suggest.model are required when suggest.enabled is set")
		}
		if c.Suggest.TimeoutSeconds < 1 {
			return fmt.Errorf("suggest.timeout_seconds must be positive")
		}
	}

	if strings.TrimSpace(c.DefaultLabel) == "" {
		return fmt.Errorf("default_label cannot be empty")
	}

	return nil
}

// ViewportValue returns the viewport section as a geometry.Viewport.
func (c *Config) ViewportValue() geometry.Viewport {
	return geometry.Viewport{
		Width:        c.Viewport.Width,
		Height:       c.Viewport.Height,
		CenterWidth:  c.Viewport.CenterWidth,
		CenterHeight: c.Viewport.CenterHeight,
	}
}

// Colors parses the palette section.
func (c *Config) Colors() ([]color.NRGBA, error) {
	return palette.ParseHexList(c.Palette)
}

// SuggestTimeout is the per-request timeout for label suggestions.
func (c *Config) SuggestTimeout() time.Duration {
	return time.Duration(c.Suggest.TimeoutSeconds) * time.Second
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-annotator", "config.json")
}
