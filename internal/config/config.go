package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/pdf2html/internal/system"
)

const (
	DefaultPadding   = 0.05
	DefaultMaxPixels = 36_000_000
)

type Config struct {
	Inference struct {
		Provider      string        `yaml:"provider"`
		Endpoint      string        `yaml:"endpoint"`
		Model         string        `yaml:"model"`
		APIKey        string        `yaml:"api_key"`
		Timeout       time.Duration `yaml:"timeout"`
		MaxAttempts   int           `yaml:"max_attempts"`
		BaseDelay     time.Duration `yaml:"base_delay"`
		MaxDelay      time.Duration `yaml:"max_delay"`
		RateLimit     float64       `yaml:"rate_limit"` // requests per second, 0 disables
		MaxConcurrent int           `yaml:"max_concurrent"`
		MaxTokens     int           `yaml:"max_tokens"`
		Temperature   float64       `yaml:"temperature"`
	} `yaml:"inference"`

	Raster struct {
		DPI       int `yaml:"dpi"`
		Workers   int `yaml:"workers"`
		MaxPixels int `yaml:"max_pixels"` // per page; oversized pages render at a lower dpi
	} `yaml:"raster"`

	Detection struct {
		Padding          *float64 `yaml:"padding"`
		ReformatAttempts int      `yaml:"reformat_attempts"`
		PageConcurrency  int      `yaml:"page_concurrency"`
	} `yaml:"detection"`

	Extraction struct {
		MaxDimension int `yaml:"max_dimension"` // 0 keeps crops at raster size
	} `yaml:"extraction"`

	Synthesis struct {
		ReformatAttempts int `yaml:"reformat_attempts"`
	} `yaml:"synthesis"`

	Batch struct {
		Workers   int    `yaml:"workers"`
		KeepTemp  bool   `yaml:"keep_temp"`
		OutputDir string `yaml:"output_dir"` // empty writes next to each source
		TempDir   string `yaml:"temp_dir"`
	} `yaml:"batch"`

	Modes struct {
		Default string `yaml:"default"`
		File    string `yaml:"file"`
	} `yaml:"modes"`

	Cache struct {
		Backend       string        `yaml:"backend"` // none, memory, sqlite, redis
		Path          string        `yaml:"path"`
		RedisAddr     string        `yaml:"redis_addr"`
		RedisPassword string        `yaml:"redis_password"`
		RedisDB       int           `yaml:"redis_db"`
		TTL           time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Padding returns the detection padding fraction.
func (c *Config) Padding() float64 {
	if c.Detection.Padding == nil {
		return DefaultPadding
	}
	return *c.Detection.Padding
}

// LoadConfig reads path, or the first default location that exists,
// then applies environment overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"pdf2html.yaml",
			"config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/pdf2html/config.yaml"),
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	inf := &config.Inference
	if inf.Provider == "" {
		inf.Provider = "openrouter"
	}
	if inf.Endpoint == "" {
		switch inf.Provider {
		case "openrouter":
			inf.Endpoint = "https://openrouter.ai/api/v1"
		case "ollama":
			inf.Endpoint = "http://localhost:11434"
		}
	}
	if inf.Model == "" {
		switch inf.Provider {
		case "ollama":
			inf.Model = "llama3.2-vision"
		case "anthropic":
			inf.Model = "claude-sonnet-4-5"
		case "openai":
			inf.Model = "gpt-4o"
		default:
			inf.Model = "anthropic/claude-sonnet-4.5"
		}
	}
	if inf.Timeout == 0 {
		inf.Timeout = 5 * time.Minute
	}
	if inf.MaxAttempts == 0 {
		inf.MaxAttempts = 5
	}
	if inf.BaseDelay == 0 {
		inf.BaseDelay = 2 * time.Second
	}
	if inf.MaxDelay == 0 {
		inf.MaxDelay = 60 * time.Second
	}
	if inf.MaxConcurrent == 0 {
		inf.MaxConcurrent = 4
	}
	if inf.MaxTokens == 0 {
		inf.MaxTokens = 16000
	}

	if config.Raster.DPI == 0 {
		config.Raster.DPI = 144
	}
	if config.Raster.Workers == 0 {
		config.Raster.Workers = 4
	}
	if config.Raster.MaxPixels == 0 {
		config.Raster.MaxPixels = DefaultMaxPixels
	}

	if config.Detection.Padding == nil {
		p := DefaultPadding
		config.Detection.Padding = &p
	}
	if config.Detection.ReformatAttempts == 0 {
		config.Detection.ReformatAttempts = 2
	}
	if config.Detection.PageConcurrency == 0 {
		config.Detection.PageConcurrency = 4
	}

	if config.Synthesis.ReformatAttempts == 0 {
		config.Synthesis.ReformatAttempts = 1
	}

	if config.Batch.Workers == 0 {
		config.Batch.Workers = system.DefaultWorkers()
	}

	if config.Modes.Default == "" {
		config.Modes.Default = "vision"
	}

	if config.Cache.Backend == "" {
		config.Cache.Backend = "none"
	}
	if config.Cache.Path == "" {
		config.Cache.Path = filepath.Join(os.TempDir(), "pdf2html-cache.db")
	}
	if config.Cache.TTL == 0 {
		config.Cache.TTL = 7 * 24 * time.Hour
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
}

func mergeWithEnv(config *Config) {
	inf := &config.Inference
	if v := os.Getenv("PDF2HTML_PROVIDER"); v != "" {
		inf.Provider = v
	}
	if v := os.Getenv("PDF2HTML_ENDPOINT"); v != "" {
		inf.Endpoint = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		inf.Model = v
	}
	if v := os.Getenv("PDF2HTML_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Batch.Workers = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Cache.RedisAddr = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" && inf.Provider == "ollama" {
		inf.Endpoint = v
	}

	if inf.APIKey == "" {
		switch inf.Provider {
		case "openai":
			inf.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			inf.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "", "openrouter":
			inf.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}
}
