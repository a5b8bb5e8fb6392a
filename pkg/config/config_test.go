package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
registry:
  base_url: "https://registry.example.com/v2/fd"
  api_key: "file-key"
  timeout: 10s
  rate_limit: 1.5

retrieval:
  max_attempts: 5
  backoff: 4s
  pacing: 500ms
  fetch_secondary: false
  fail_fast: true
  key_rate: 0.5

output:
  dir: "/tmp/notas"
  archive: false

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_retrievals"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "https://registry.example.com/v2/fd", config.Registry.BaseURL)
	assert.Equal(t, "file-key", config.Registry.APIKey)
	assert.Equal(t, 10*time.Second, config.Registry.Timeout)
	assert.Equal(t, 1.5, config.Registry.RateLimit)
	assert.Equal(t, 5, config.Retrieval.MaxAttempts)
	assert.Equal(t, 4*time.Second, config.Retrieval.Backoff)
	assert.Equal(t, 500*time.Millisecond, config.Retrieval.Pacing)
	assert.False(t, config.FetchSecondary())
	assert.True(t, config.Retrieval.FailFast)
	assert.Equal(t, 0.5, config.Retrieval.KeyRate)
	assert.Equal(t, "/tmp/notas", config.Output.Dir)
	assert.False(t, config.ArchiveEnabled())
	assert.Equal(t, "xmls_meudanfe.zip", config.Output.ArchiveName)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Empty(t, config.Validate())
}

func TestDefaults(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	assert.Equal(t, "https://api.meudanfe.com.br/v2/fd", config.Registry.BaseURL)
	assert.Equal(t, 30*time.Second, config.Registry.Timeout)
	assert.Equal(t, 10, config.Retrieval.MaxAttempts)
	assert.Equal(t, 3*time.Second, config.Retrieval.Backoff)
	assert.Equal(t, 1200*time.Millisecond, config.Retrieval.Pacing)
	assert.True(t, config.FetchSecondary())
	assert.True(t, config.ArchiveEnabled())
	assert.NotEmpty(t, config.Output.Dir)
	assert.Equal(t, "retrievals", config.Database.TableName)
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		applyDefaults(&c)
		c.Registry.APIKey = "key"
		return c
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.Registry.APIKey = ""
				c.Registry.BaseURL = "invalid-url"
				c.Retrieval.MaxAttempts = 0
				c.Retrieval.Backoff = time.Second
				c.Retrieval.Pacing = 2 * time.Second
				c.Retrieval.KeyRate = -1
				c.Database.TableName = "bad name"
			},
			errorMessages: []string{
				"registry.api_key: api key is required",
				"registry.base_url: invalid registry base URL",
				"retrieval.max_attempts: max_attempts must be between 1 and 100",
				"retrieval.backoff: backoff must be positive and not shorter than pacing",
				"retrieval.key_rate: key_rate cannot be negative",
				"database.table_name: table_name must be a plain identifier",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)

			errors := config.Validate()
			assert.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DANFE_API_KEY", "env-key")
	t.Setenv("DANFE_BASE_URL", "http://env-registry:8080")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("DANFE_FETCH_PDF", "false")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "env-key", config.Registry.APIKey)
	assert.Equal(t, "http://env-registry:8080", config.Registry.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.False(t, config.FetchSecondary())
}
