// Package config loads bookworm settings from built-in defaults, an
// optional YAML file and BOOKWORM_* environment variables, in that order.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v3"

	"github.com/threepress/bookworm/internal/explode"
	"github.com/threepress/bookworm/internal/render"
)

//go:embed default.yaml
var defaultConfig []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BOOKWORM_"

type (
	RenderConfig struct {
		Fallback render.FallbackPolicy `yaml:"fallback" env:"FALLBACK"`
	}

	ImagesConfig struct {
		Thumbnail explode.ThumbnailOptions `yaml:"thumbnail" envPrefix:"THUMBNAIL_"`
	}

	LibraryConfig struct {
		Database string `yaml:"database" env:"DATABASE"`
		Owner    string `yaml:"owner" env:"OWNER"`
	}

	Config struct {
		Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
		Render  RenderConfig  `yaml:"render" envPrefix:"RENDER_"`
		Images  ImagesConfig  `yaml:"images" envPrefix:"IMAGES_"`
		Library LibraryConfig `yaml:"library" envPrefix:"LIBRARY_"`
	}
)

func unmarshalConfig(data []byte, cfg *Config) error {
	// only fields we defined are allowed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode configuration data: %w", err)
	}
	return nil
}

// Load returns the default configuration overlaid with the file at path
// (when path is not empty) and then with environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := unmarshalConfig(defaultConfig, cfg); err != nil {
		return nil, fmt.Errorf("failed to process default configuration: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := unmarshalConfig(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to process configuration file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	for name, l := range map[string]LoggerConfig{"console": c.Logging.ConsoleLogger, "file": c.Logging.FileLogger} {
		check(validLevels[l.Level], "logging.%s.level: unknown level %q", name, l.Level)
	}
	check(c.Logging.FileLogger.Mode == "" || c.Logging.FileLogger.Mode == "append" || c.Logging.FileLogger.Mode == "overwrite",
		"logging.file.mode: unknown mode %q", c.Logging.FileLogger.Mode)
	check(c.Logging.FileLogger.Level == "none" || c.Logging.FileLogger.Destination != "",
		"logging.file.destination: required when file logging is enabled")

	t := c.Images.Thumbnail
	check(t.Height >= 0, "images.thumbnail.height: must not be negative")
	check(t.Quality >= 0 && t.Quality <= 100, "images.thumbnail.quality: must be between 0 and 100")

	check(c.Library.Database != "", "library.database: required")
	check(c.Library.Owner != "", "library.owner: required")

	if errs != nil {
		return fmt.Errorf("invalid configuration: %w", errs)
	}
	return nil
}

// Dump returns cfg as YAML.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %w", err)
	}
	return data, nil
}
