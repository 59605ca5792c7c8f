package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "devitalik.yaml"

// maxPollInterval bounds the watcher poll loop so the change-detection
// latency stays under one minute.
const maxPollInterval = time.Minute

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "DEVITALIK_PORT")
	setString(&cfg.Server.CORSOrigin, "DEVITALIK_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DEVITALIK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DEVITALIK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DEVITALIK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DEVITALIK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "DEVITALIK_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.GitHub.AccessToken, "GITHUB_ACCESS_TOKEN")
	setString(&cfg.GitHub.WebhookSecret, "DEVITALIK_WEBHOOK_SECRET")
	setString(&cfg.GitHub.APIBaseURL, "DEVITALIK_GITHUB_API_URL")

	setString(&cfg.Discord.BotToken, "DISCORD_TOKEN")
	setString(&cfg.Discord.WebhookURL, "DISCORD_WEBHOOK_URL")
	setString(&cfg.Discord.CommandChannel, "DISCORD_COMMAND_CHANNEL")
	setDuration(&cfg.Discord.PollInterval, "DEVITALIK_DISCORD_POLL_INTERVAL")
	setInt(&cfg.Discord.ReadCount, "DEVITALIK_DISCORD_READ_COUNT")

	setString(&cfg.LLM.URL, "LLM_URL")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.LLM.Model, "DEVITALIK_LLM_MODEL")
	setInt(&cfg.LLM.MaxTokens, "DEVITALIK_LLM_MAX_TOKENS")

	setDuration(&cfg.Watcher.PollInterval, "DEVITALIK_POLL_INTERVAL")
	setInt(&cfg.Watcher.MaxConcurrent, "DEVITALIK_POLL_MAX_CONCURRENT")
	setDuration(&cfg.Watcher.DedupTTL, "DEVITALIK_DEDUP_TTL")

	setInt(&cfg.Indexer.MaxChunkBytes, "DEVITALIK_MAX_CHUNK_BYTES")
	setInt(&cfg.Indexer.MinChunkBytes, "DEVITALIK_MIN_CHUNK_BYTES")
	setInt64(&cfg.Indexer.MaxFileBytes, "DEVITALIK_MAX_FILE_BYTES")
	setStrings(&cfg.Indexer.Extensions, "DEVITALIK_INDEX_EXTENSIONS")

	setInt(&cfg.Query.TopK, "DEVITALIK_QUERY_TOP_K")
	setDuration(&cfg.Query.AnswerTTL, "DEVITALIK_ANSWER_TTL")

	setInt64(&cfg.Cache.MaxSizeMB, "DEVITALIK_CACHE_SIZE_MB")

	setString(&cfg.Logging.Level, "DEVITALIK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DEVITALIK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "DEVITALIK_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "DEVITALIK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "DEVITALIK_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "DEVITALIK_RATE_RPS")
	setInt(&cfg.Rate.Burst, "DEVITALIK_RATE_BURST")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Watcher.PollInterval <= 0 {
		return errors.New("watcher.poll_interval must be > 0")
	}
	if cfg.Watcher.PollInterval > maxPollInterval {
		return fmt.Errorf("watcher.poll_interval must be <= %s to keep change detection under a minute", maxPollInterval)
	}
	if cfg.Watcher.MaxConcurrent < 1 {
		return errors.New("watcher.max_concurrent must be >= 1")
	}
	if cfg.Indexer.MaxChunkBytes < cfg.Indexer.MinChunkBytes {
		return errors.New("indexer.max_chunk_bytes must be >= indexer.min_chunk_bytes")
	}
	if cfg.Query.TopK < 1 {
		return errors.New("query.top_k must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
