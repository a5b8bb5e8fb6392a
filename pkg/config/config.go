package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Registry struct {
		BaseURL   string        `yaml:"base_url"`
		APIKey    string        `yaml:"api_key"`
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate_limit"`
	} `yaml:"registry"`

	Retrieval struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		Backoff        time.Duration `yaml:"backoff"`
		Pacing         time.Duration `yaml:"pacing"`
		FetchSecondary *bool         `yaml:"fetch_secondary"`
		FailFast       bool          `yaml:"fail_fast"`
		KeyRate        float64       `yaml:"key_rate"` // keys started per second, 0 for no limit
		Inspect        bool          `yaml:"inspect"`
	} `yaml:"retrieval"`

	Output struct {
		Dir         string `yaml:"dir"`
		Archive     *bool  `yaml:"archive"`
		ArchiveName string `yaml:"archive_name"`
	} `yaml:"output"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
	} `yaml:"database"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// FetchSecondary reports whether rendered PDFs are downloaded too.
func (c *Config) FetchSecondary() bool {
	return c.Retrieval.FetchSecondary == nil || *c.Retrieval.FetchSecondary
}

// ArchiveEnabled reports whether a zip is built after the batch.
func (c *Config) ArchiveEnabled() bool {
	return c.Output.Archive == nil || *c.Output.Archive
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/danfe/config.yaml"),
			"/etc/danfe/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Registry.BaseURL == "" {
		config.Registry.BaseURL = "https://api.meudanfe.com.br/v2/fd"
	}
	if config.Registry.Timeout == 0 {
		config.Registry.Timeout = 30 * time.Second
	}
	if config.Registry.RateLimit == 0 {
		config.Registry.RateLimit = 2.0
	}

	if config.Retrieval.MaxAttempts == 0 {
		config.Retrieval.MaxAttempts = 10
	}
	if config.Retrieval.Backoff == 0 {
		config.Retrieval.Backoff = 3 * time.Second
	}
	if config.Retrieval.Pacing == 0 {
		config.Retrieval.Pacing = 1200 * time.Millisecond
	}

	if config.Output.Dir == "" {
		if wd, err := os.Getwd(); err == nil {
			config.Output.Dir = wd
		} else {
			config.Output.Dir = "."
		}
	}
	if config.Output.ArchiveName == "" {
		config.Output.ArchiveName = "xmls_meudanfe.zip"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "retrievals"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = "127.0.0.1:8080"
	}
}

func mergeWithEnv(config *Config) {
	if apiKey := os.Getenv("DANFE_API_KEY"); apiKey != "" {
		config.Registry.APIKey = apiKey
	}
	if baseURL := os.Getenv("DANFE_BASE_URL"); baseURL != "" {
		config.Registry.BaseURL = baseURL
	}
	if dir := os.Getenv("DANFE_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if raw := os.Getenv("DANFE_FETCH_PDF"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			config.Retrieval.FetchSecondary = &v
		}
	}
}
