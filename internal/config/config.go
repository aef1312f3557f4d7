// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Jira    JiraConfig    `mapstructure:"jira"`
	Rate    RateConfig    `mapstructure:"rate"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	State   StateConfig   `mapstructure:"state"`
	Output  OutputConfig  `mapstructure:"output"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// JiraConfig identifies the upstream instance and the projects to harvest.
type JiraConfig struct {
	BaseURL     string   `mapstructure:"base_url"`
	Projects    []string `mapstructure:"projects"`
	JQLTemplate string   `mapstructure:"jql_template"`
}

// RateConfig bounds the outbound request rate.
type RateConfig struct {
	RPS int `mapstructure:"rps"`
}

// HarvestConfig governs pagination and enrichment fan-out.
type HarvestConfig struct {
	Concurrency         int `mapstructure:"concurrency"`
	PageSize            int `mapstructure:"page_size"`
	CheckpointEvery     int `mapstructure:"checkpoint_every"`
	ProjectPauseSeconds int `mapstructure:"project_pause_seconds"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// StateConfig locates the checkpoint file.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig locates the training data output directory.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jira.base_url", "https://issues.apache.org/jira")
	v.SetDefault("jira.projects", []string{"KAFKA", "SPARK", "AIRFLOW"})
	v.SetDefault("jira.jql_template", "project = %s ORDER BY created DESC")
	v.SetDefault("rate.rps", 10)
	v.SetDefault("harvest.concurrency", 5)
	v.SetDefault("harvest.page_size", 100)
	v.SetDefault("harvest.checkpoint_every", 500)
	v.SetDefault("harvest.project_pause_seconds", 2)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 2000)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("state.path", "state/harvest_state.json")
	v.SetDefault("output.dir", "output")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url must be set")
	}
	if len(c.Jira.Projects) == 0 {
		return fmt.Errorf("jira.projects must list at least one project")
	}
	if !strings.Contains(c.Jira.JQLTemplate, "%s") {
		return fmt.Errorf("jira.jql_template must contain a %%s project placeholder")
	}
	if c.Rate.RPS <= 0 {
		return fmt.Errorf("rate.rps must be > 0")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Harvest.PageSize <= 0 {
		return fmt.Errorf("harvest.page_size must be > 0")
	}
	if c.Harvest.CheckpointEvery <= 0 {
		return fmt.Errorf("harvest.checkpoint_every must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path must be set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the status server is enabled")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial converts the initial backoff config into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the backoff ceiling config into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// ProjectPause converts the inter-project delay config into a duration.
func (c Config) ProjectPause() time.Duration {
	return time.Duration(c.Harvest.ProjectPauseSeconds) * time.Second
}
