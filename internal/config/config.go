package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway    GatewayConfig    `toml:"gateway"`
	Engine     EngineConfig     `toml:"engine"`
	Evolution  EvolutionConfig  `toml:"evolution"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Store      StoreConfig      `toml:"store"`
	Runs       RunsConfig       `toml:"runs"`
	Path       string           `toml:"-"`
}

type GatewayConfig struct {
	BaseURL     string  `toml:"base_url"`
	APIKeyEnv   string  `toml:"api_key_env"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	TimeoutMS   int     `toml:"timeout_ms"`
}

// APIKey resolves the key from the configured environment variable so the
// key itself never lives in the config file.
func (g GatewayConfig) APIKey() string {
	env := g.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return os.Getenv(env)
}

type EngineConfig struct {
	StepBudget        int `toml:"step_budget"`
	GatewayRetries    int `toml:"gateway_retries"`
	RetryBackoffMS    int `toml:"retry_backoff_ms"`
	ValidationRetries int `toml:"validation_retries"`
}

type EvolutionConfig struct {
	PopulationSize  int     `toml:"population_size"`
	SurvivorCount   int     `toml:"survivor_count"`
	MetaReviewEvery int     `toml:"meta_review_every"`
	Epsilon         float64 `toml:"epsilon"`
	MaxGenerations  int     `toml:"max_generations"`
}

type SupervisorConfig struct {
	CoverageThreshold float64 `toml:"coverage_threshold"`
}

type StoreConfig struct {
	DBPath string `toml:"db_path"`
}

type RunsConfig struct {
	Dir string `toml:"dir"`
}

func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	cfg.Path = resolved
	return cfg.withDefaults(), nil
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Gateway.Model == "" {
		c.Gateway.Model = "gpt-4o-mini"
	}
	if c.Gateway.Temperature <= 0 {
		c.Gateway.Temperature = 0.7
	}
	if c.Gateway.TimeoutMS <= 0 {
		c.Gateway.TimeoutMS = 120000
	}
	if c.Engine.StepBudget <= 0 {
		c.Engine.StepBudget = 64
	}
	if c.Engine.GatewayRetries <= 0 {
		c.Engine.GatewayRetries = 3
	}
	if c.Engine.RetryBackoffMS <= 0 {
		c.Engine.RetryBackoffMS = 2000
	}
	if c.Engine.ValidationRetries <= 0 {
		c.Engine.ValidationRetries = 3
	}
	if c.Evolution.PopulationSize <= 0 {
		c.Evolution.PopulationSize = 4
	}
	if c.Evolution.SurvivorCount <= 0 {
		c.Evolution.SurvivorCount = 2
	}
	if c.Evolution.MetaReviewEvery <= 0 {
		c.Evolution.MetaReviewEvery = 2
	}
	if c.Evolution.Epsilon <= 0 {
		c.Evolution.Epsilon = 0.01
	}
	if c.Evolution.MaxGenerations <= 0 {
		c.Evolution.MaxGenerations = 6
	}
	if c.Supervisor.CoverageThreshold <= 0 {
		c.Supervisor.CoverageThreshold = 0.8
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = "designd.db"
	}
	if c.Runs.Dir == "" {
		c.Runs.Dir = "runs"
	}
	return c
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".designd/config.toml"
	}
	return filepath.Join(home, ".designd", "config.toml")
}
