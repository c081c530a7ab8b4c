package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	ParallelWorkers int           `mapstructure:"parallel_workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// AgentConfig holds the external agent executable configuration
type AgentConfig struct {
	Binary                string   `mapstructure:"binary"`
	Provider              string   `mapstructure:"provider"`
	Model                 string   `mapstructure:"model"`
	SystemPromptFile      string   `mapstructure:"system_prompt_file"`
	TimeoutMinutes        int      `mapstructure:"timeout_minutes"`
	SkillsDir             string   `mapstructure:"skills_dir"`
	RequiredSkills        []string `mapstructure:"required_skills"`
	OptionalSkills        []string `mapstructure:"optional_skills"`
	LargeSessionSkill     string   `mapstructure:"large_session_skill"`
	LargeSessionThreshold int64    `mapstructure:"large_session_threshold"`
}

// RetryConfig holds the default retry policy for failed jobs
type RetryConfig struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	BaseDelaySeconds  int     `mapstructure:"base_delay_seconds"`
	MaxDelaySeconds   int     `mapstructure:"max_delay_seconds"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// SchedulerConfig holds one cron expression per trigger plus trigger tuning
type SchedulerConfig struct {
	ReanalysisCron          string        `mapstructure:"reanalysis_cron"`
	ConnectionDiscoveryCron string        `mapstructure:"connection_discovery_cron"`
	PatternAggregationCron  string        `mapstructure:"pattern_aggregation_cron"`
	ClusteringCron          string        `mapstructure:"clustering_cron"`
	EmbeddingBackfillCron   string        `mapstructure:"embedding_backfill_cron"`
	ReanalysisLimit         int           `mapstructure:"reanalysis_limit"`
	DiscoveryLimit          int           `mapstructure:"discovery_limit"`
	DiscoveryWindow         time.Duration `mapstructure:"discovery_window"`
	DiscoveryCooldown       time.Duration `mapstructure:"discovery_cooldown"`
	BackfillLimit           int           `mapstructure:"backfill_limit"`
	BackfillBatchSize       int           `mapstructure:"backfill_batch_size"`
	PromptVersion           int           `mapstructure:"prompt_version"`
}

// EmbeddingConfig holds the embedding provider configuration
type EmbeddingConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	Dimension         int     `mapstructure:"dimension"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// WatcherConfig holds session log watcher configuration
type WatcherConfig struct {
	SessionDirs []string      `mapstructure:"session_dirs"`
	IdleWindow  time.Duration `mapstructure:"idle_window"`
}

// MetricsConfig holds the Prometheus metrics listener configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := loadEnvFile(); err != nil {
		// .env is optional, log but don't fail
		log.Warn().Err(err).Msg("Warning: .env file not loaded")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PI_BRAIN")

	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// loadEnvFile loads a .env file by parsing KEY=VALUE lines into the environment
func loadEnvFile() error {
	envPaths := []string{
		".",
		"./config",
	}

	for _, path := range envPaths {
		envFile := fmt.Sprintf("%s/.env", path)
		if _, err := os.Stat(envFile); err == nil {
			if err := loadDotEnvFile(envFile); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no .env file found")
}

// loadDotEnvFile reads a .env file and sets environment variables
func loadDotEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, "\"'")
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "PI_BRAIN_DB")

	v.BindEnv("agent.binary", "AGENT_BINARY")
	v.BindEnv("agent.provider", "AGENT_PROVIDER")
	v.BindEnv("agent.model", "AGENT_MODEL")

	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("embedding.base_url", "EMBEDDING_BASE_URL")

	v.BindEnv("logging.level", "LOG_LEVEL")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "./data/pi-brain.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Queue defaults
	v.SetDefault("queue.lease_duration", 30*time.Minute)
	v.SetDefault("queue.sweep_interval", 15*time.Minute)

	// Worker defaults
	v.SetDefault("worker.parallel_workers", 1)
	v.SetDefault("worker.poll_interval", 5*time.Second)

	// Agent defaults
	v.SetDefault("agent.binary", "pi-agent")
	v.SetDefault("agent.provider", "anthropic")
	v.SetDefault("agent.model", "claude-sonnet")
	v.SetDefault("agent.timeout_minutes", 10)
	v.SetDefault("agent.required_skills", []string{})
	v.SetDefault("agent.optional_skills", []string{"session-analysis"})
	v.SetDefault("agent.large_session_skill", "segment-boundaries")
	v.SetDefault("agent.large_session_threshold", int64(256*1024))

	// Retry defaults
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_seconds", 60)
	v.SetDefault("retry.max_delay_seconds", 3600)
	v.SetDefault("retry.backoff_multiplier", 2.0)

	// Scheduler defaults
	v.SetDefault("scheduler.reanalysis_cron", "0 3 * * *")
	v.SetDefault("scheduler.connection_discovery_cron", "30 */4 * * *")
	v.SetDefault("scheduler.pattern_aggregation_cron", "15 2 * * *")
	v.SetDefault("scheduler.clustering_cron", "45 2 * * 0")
	v.SetDefault("scheduler.embedding_backfill_cron", "0 */6 * * *")
	v.SetDefault("scheduler.reanalysis_limit", 20)
	v.SetDefault("scheduler.discovery_limit", 10)
	v.SetDefault("scheduler.discovery_window", 48*time.Hour)
	v.SetDefault("scheduler.discovery_cooldown", 7*24*time.Hour)
	v.SetDefault("scheduler.backfill_limit", 200)
	v.SetDefault("scheduler.backfill_batch_size", 50)
	v.SetDefault("scheduler.prompt_version", 1)

	// Embedding defaults
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.requests_per_second", 2.0)

	// Watcher defaults
	v.SetDefault("watcher.session_dirs", []string{"./sessions"})
	v.SetDefault("watcher.idle_window", 2*time.Minute)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// DatabasePath returns the SQLite path from config or environment
func DatabasePath() string {
	if cfg := Get(); cfg != nil && cfg.Database.Path != "" {
		return cfg.Database.Path
	}
	return os.Getenv("PI_BRAIN_DB")
}
