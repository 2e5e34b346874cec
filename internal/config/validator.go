package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	switch c.Inference.Provider {
	case "openrouter", "openai", "anthropic":
		if c.Inference.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "inference.api_key",
				Message: fmt.Sprintf("API key is required for provider %q", c.Inference.Provider),
			})
		}
	case "ollama":
	default:
		errors = append(errors, ValidationError{
			Field:   "inference.provider",
			Message: "provider must be one of openrouter, openai, anthropic, ollama",
		})
	}

	if c.Inference.Endpoint != "" {
		if u, err := url.Parse(c.Inference.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "inference.endpoint",
				Message: "invalid endpoint URL",
			})
		}
	}

	if c.Inference.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "inference.max_attempts",
			Message: "max_attempts must be positive",
		})
	}

	if c.Inference.BaseDelay > c.Inference.MaxDelay {
		errors = append(errors, ValidationError{
			Field:   "inference.base_delay",
			Message: "base_delay must not exceed max_delay",
		})
	}

	if c.Inference.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "inference.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	if c.Inference.Temperature < 0 || c.Inference.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "inference.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Raster.DPI < 36 || c.Raster.DPI > 1200 {
		errors = append(errors, ValidationError{
			Field:   "raster.dpi",
			Message: "dpi must be between 36 and 1200",
		})
	}

	if c.Raster.MaxPixels < 0 {
		errors = append(errors, ValidationError{
			Field:   "raster.max_pixels",
			Message: "max_pixels must not be negative",
		})
	}

	if p := c.Padding(); p < 0 || p >= 0.5 {
		errors = append(errors, ValidationError{
			Field:   "detection.padding",
			Message: "padding must be in [0, 0.5)",
		})
	}

	if c.Batch.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "batch.workers",
			Message: "workers must be positive",
		})
	}

	switch c.Cache.Backend {
	case "none", "memory", "sqlite":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errors = append(errors, ValidationError{
				Field:   "cache.redis_addr",
				Message: "redis_addr is required for the redis cache",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "cache.backend",
			Message: "backend must be one of none, memory, sqlite, redis",
		})
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be console or json",
		})
	}

	return errors
}
