// Package config loads the FraudGuard configuration from an optional YAML
// file, a .env file and FRAUDGUARD_* environment variables, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/risk"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAUDGUARD_"

// Load builds the configuration. The base is DefaultConfig, or ProConfig
// when FRAUDGUARD_TIER=pro. A missing file at path is not an error; an
// empty path skips the file. The result is validated.
func Load(path string) (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"TIER"), "pro") {
		cfg = domain.ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(data, cfg); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
			slog.Warn("config file not found, using defaults", "path", path)
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Weight and category tables in the file
// replace the defaults rather than merging with them; a category table
// also drops the default aliases.
func decode(data []byte, cfg *domain.Config) error {
	var probe struct {
		Scoring struct {
			Weights    map[string]float64 `yaml:"weights"`
			Categories map[string]float64 `yaml:"categories"`
		} `yaml:"scoring"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	if probe.Scoring.Weights != nil {
		cfg.Scoring.Weights = nil
	}
	if probe.Scoring.Categories != nil {
		cfg.Scoring.Categories = nil
		cfg.Scoring.CategoryAliases = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// Validate fails fast on configuration the service cannot start with.
func Validate(cfg *domain.Config) error {
	if err := risk.ValidateWeights(cfg.Scoring.Weights); err != nil {
		return err
	}
	if _, err := risk.NewNormalizer(cfg.Scoring); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if cfg.Scoring.AlertThreshold < 0 || cfg.Scoring.AlertThreshold > 1 {
		return fmt.Errorf("scoring: alertThreshold %.2f outside [0, 1]", cfg.Scoring.AlertThreshold)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", cfg.Server.Port)
	}
	switch cfg.Classifiers.Heuristic {
	case "", "rules", "remote", "none":
	default:
		return fmt.Errorf("classifiers: unknown heuristic %q", cfg.Classifiers.Heuristic)
	}
	if cfg.Generator.MaxCount < 0 {
		return fmt.Errorf("generator: maxCount must not be negative")
	}
	return nil
}

func applyEnv(cfg *domain.Config) error {
	str := func(name string, dst *string) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = val
		}
	}
	num := func(name string, dst *int) error {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
		return nil
	}

	str("HOST", &cfg.Server.Host)
	if err := num("PORT", &cfg.Server.Port); err != nil {
		return err
	}

	str("DB_DRIVER", &cfg.Repository.Driver)
	str("SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	if err := num("POSTGRES_PORT", &cfg.Repository.PostgresPort); err != nil {
		return err
	}
	str("POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("CACHE_TYPE", &cfg.Cache.Type)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	str("BUS_TYPE", &cfg.EventBus.Type)
	str("NATS_URL", &cfg.EventBus.NATSUrl)
	str("NATS_TOKEN", &cfg.EventBus.NATSToken)
	str("NATS_QUEUE_GROUP", &cfg.EventBus.NATSQueueGroup)

	str("STATISTICAL_MODEL", &cfg.Classifiers.StatisticalModel)
	str("NEURAL_MODEL", &cfg.Classifiers.NeuralModel)
	str("HEURISTIC", &cfg.Classifiers.Heuristic)
	if val := os.Getenv(EnvPrefix + "CLASSIFIER_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sCLASSIFIER_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Classifiers.Timeout = d
	}
	if val := os.Getenv(EnvPrefix + "ALERT_THRESHOLD"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("%sALERT_THRESHOLD: %w", EnvPrefix, err)
		}
		cfg.Scoring.AlertThreshold = f
	}
	str("UNKNOWN_CATEGORY", &cfg.Scoring.UnknownCategory)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	if os.Getenv(EnvPrefix+"DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if val := os.Getenv(EnvPrefix + "TRACING"); val != "" {
		cfg.Tracing.Enabled = val == "true"
	}
	return nil
}
