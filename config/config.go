// Package config loads the service configuration from config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"asdmodel/inference"
	"asdmodel/logging"
	"asdmodel/ml"
	"asdmodel/pipeline"
)

const DefaultAPIKeyEnv = "ASD_API_KEY"

type Config struct {
	Http struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		Timeout         time.Duration `yaml:"timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Artifacts struct {
		Dir       string `yaml:"dir"`
		ModelType string `yaml:"model_type"`
		Model     string `yaml:"model"`
		Columns   string `yaml:"columns"`
		NumCols   string `yaml:"num_cols"`
		CatCols   string `yaml:"cat_cols"`
		NumFill   string `yaml:"num_fill"`
		CatFill   string `yaml:"cat_fill"`
		Watch     bool   `yaml:"watch"`
	} `yaml:"artifacts"`
	Auth struct {
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"auth"`
	Features struct {
		Encoding      string   `yaml:"encoding"`
		LeakageFields []string `yaml:"leakage_fields"`
	} `yaml:"features"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Risk struct {
		IncludeLevel bool    `yaml:"include_level"`
		Low          float64 `yaml:"low"`
		Moderate     float64 `yaml:"moderate"`
	} `yaml:"risk"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.Http.Port = 8000
	c.Http.Timeout = 30 * time.Second
	c.Http.ShutdownTimeout = 5 * time.Second
	c.Http.MaxBodyBytes = 1 << 20
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28

	paths := ml.DefaultArtifactPaths()
	c.Artifacts.Dir = paths.Dir
	c.Artifacts.ModelType = paths.ModelType
	c.Artifacts.Model = paths.Model
	c.Artifacts.Columns = paths.Columns
	c.Artifacts.NumCols = paths.NumCols
	c.Artifacts.CatCols = paths.CatCols
	c.Artifacts.NumFill = paths.NumFill
	c.Artifacts.CatFill = paths.CatFill

	c.Auth.APIKeyEnv = DefaultAPIKeyEnv
	c.Features.Encoding = string(pipeline.EncodingKnownLevels)
	c.Features.LeakageFields = append([]string(nil), pipeline.DefaultLeakageFields...)

	bands := inference.DefaultRiskBands()
	c.Risk.Low = bands.Low
	c.Risk.Moderate = bands.Moderate
	return c
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Http.Port < 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Http.Timeout < 0 || c.Http.ShutdownTimeout < 0 {
		return errors.New("http timeouts must not be negative")
	}
	switch c.Log.Format {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("log.format %q must be %s or %s", c.Log.Format, logging.FormatJSON, logging.FormatConsole)
	}
	if _, err := pipeline.ParseEncodingMode(c.Features.Encoding); err != nil {
		return fmt.Errorf("features.encoding: %w", err)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size %d must not be negative", c.Cache.Size)
	}
	if strings.TrimSpace(c.Auth.APIKeyEnv) == "" {
		return errors.New("auth.api_key_env is required")
	}
	if c.Risk.IncludeLevel {
		if err := c.RiskBands().Validate(); err != nil {
			return fmt.Errorf("risk: %w", err)
		}
	}
	return nil
}

// APIKey reads the shared secret from the configured environment variable.
// There is no fallback value.
func (c *Config) APIKey() (string, error) {
	key := os.Getenv(c.Auth.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.Auth.APIKeyEnv)
	}
	return key, nil
}

func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

func (c *Config) ArtifactPaths() ml.ArtifactPaths {
	return ml.ArtifactPaths{
		Dir:       c.Artifacts.Dir,
		ModelType: c.Artifacts.ModelType,
		Model:     c.Artifacts.Model,
		Columns:   c.Artifacts.Columns,
		NumCols:   c.Artifacts.NumCols,
		CatCols:   c.Artifacts.CatCols,
		NumFill:   c.Artifacts.NumFill,
		CatFill:   c.Artifacts.CatFill,
	}
}

func (c *Config) PipelineOptions() pipeline.Options {
	mode, _ := pipeline.ParseEncodingMode(c.Features.Encoding)
	return pipeline.Options{
		LeakageFields: append([]string{}, c.Features.LeakageFields...),
		Encoding:      mode,
	}
}

func (c *Config) RiskBands() inference.RiskBands {
	return inference.RiskBands{Low: c.Risk.Low, Moderate: c.Risk.Moderate}
}
