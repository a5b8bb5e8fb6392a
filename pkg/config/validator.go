package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Registry config
	if c.Registry.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "registry.api_key",
			Message: "api key is required",
		})
	}

	if u, err := url.Parse(c.Registry.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "registry.base_url",
			Message: "invalid registry base URL",
		})
	}

	if c.Registry.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "registry.timeout",
			Message: "timeout must be positive",
		})
	}

	if c.Registry.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "registry.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate Retrieval config
	if c.Retrieval.MaxAttempts < 1 || c.Retrieval.MaxAttempts > 100 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.max_attempts",
			Message: "max_attempts must be between 1 and 100",
		})
	}

	if c.Retrieval.Pacing < 0 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.pacing",
			Message: "pacing cannot be negative",
		})
	}

	if c.Retrieval.Backoff < 0 || (c.Retrieval.Backoff > 0 && c.Retrieval.Backoff < c.Retrieval.Pacing) {
		errors = append(errors, ValidationError{
			Field:   "retrieval.backoff",
			Message: "backoff must be positive and not shorter than pacing",
		})
	}

	if c.Retrieval.Backoff > 5*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "retrieval.backoff",
			Message: "backoff cannot exceed 5m",
		})
	}

	if c.Retrieval.KeyRate < 0 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.key_rate",
			Message: "key_rate cannot be negative",
		})
	}

	// Validate Output config
	if c.Output.Dir == "" {
		errors = append(errors, ValidationError{
			Field:   "output.dir",
			Message: "output directory is required",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if !tableNamePattern.MatchString(c.Database.TableName) {
		errors = append(errors, ValidationError{
			Field:   "database.table_name",
			Message: "table_name must be a plain identifier",
		})
	}

	return errors
}
