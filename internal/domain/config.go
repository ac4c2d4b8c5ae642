package domain

import "time"

// Config holds the complete FraudGuard configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Scoring pipeline
	Scoring     ScoringConfig     `yaml:"scoring"`
	Features    FeaturesConfig    `yaml:"features"`
	Classifiers ClassifiersConfig `yaml:"classifiers"`
	Generator   GeneratorConfig   `yaml:"generator"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// Unknown merchant category policies.
const (
	UnknownCategoryDefault = "default"
	UnknownCategoryReject  = "reject"
)

// ScoringConfig parameterizes the weighted risk score.
type ScoringConfig struct {
	// Weights maps each risk feature to its weight. Must sum to 1.
	Weights map[string]float64 `yaml:"weights"`

	Bounds RiskBounds `yaml:"bounds"`

	// Categories maps merchant category to risk in [0, 1].
	// Lookup is case-insensitive.
	Categories map[string]float64 `yaml:"categories"`

	// CategoryAliases maps alternate spellings onto a Categories entry.
	// Aliases are looked up like categories but never drawn by the generator.
	CategoryAliases map[string]string `yaml:"categoryAliases"`

	// UnknownCategory is "default" or "reject".
	UnknownCategory string `yaml:"unknownCategory"`

	// DefaultCategoryRisk is used for unknown categories under the default policy.
	DefaultCategoryRisk float64 `yaml:"defaultCategoryRisk"`

	// AlertThreshold turns the risk score into an ensemble signal.
	// 0 keeps the score informational only.
	AlertThreshold float64 `yaml:"alertThreshold"`

	// NoiseBand is the half-width of the label noise in synthetic data.
	NoiseBand float64 `yaml:"noiseBand"`

	// Precision is the number of decimal digits the score is rounded to.
	Precision int32 `yaml:"precision"`
}

// RiskBounds are the normalization constants of the risk score.
type RiskBounds struct {
	MinAmount     float64 `yaml:"minAmount"`
	MaxAmount     float64 `yaml:"maxAmount"`
	PreferredTime float64 `yaml:"preferredTime"`
	TimeRange     float64 `yaml:"timeRange"`
	MaxDistance   float64 `yaml:"maxDistance"`
	MaxFrequency  int     `yaml:"maxFrequency"`
	MaxAgeDays    int     `yaml:"maxAgeDays"`
}

// FeaturesConfig selects the lexical features fed to the classifiers.
type FeaturesConfig struct {
	Lexical            []string `yaml:"lexical"`
	HighRiskCategories []string `yaml:"highRiskCategories"`
}

// ClassifiersConfig configures the ensemble members.
type ClassifiersConfig struct {
	// StatisticalModel and NeuralModel are paths to YAML model artifacts.
	// An empty path leaves that classifier unavailable.
	StatisticalModel string `yaml:"statisticalModel"`
	NeuralModel      string `yaml:"neuralModel"`

	// Threshold is the probability above which a model flags fraud.
	Threshold float64 `yaml:"threshold"`

	// Heuristic is "rules", "remote" or "none".
	Heuristic string `yaml:"heuristic"`

	// Rules overrides the built-in heuristic rule set.
	Rules []HeuristicRule `yaml:"rules"`

	Timeout    time.Duration `yaml:"timeout"`
	MaxWorkers int           `yaml:"maxWorkers"`
}

// HeuristicRule is a boolean CEL expression with the reason reported on a match.
type HeuristicRule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Reason     string `yaml:"reason"`
}

// GeneratorConfig configures synthetic data generation.
type GeneratorConfig struct {
	// LabelThreshold is the noisy score at or above which a sample is labelled fraud.
	LabelThreshold float64 `yaml:"labelThreshold"`
	MaxCount       int     `yaml:"maxCount"`
}

// DefaultScoringConfig returns the reference risk model.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: map[string]float64{
			"time":        0.35,
			"account_age": 0.25,
			"amount":      0.15,
			"category":    0.10,
			"location":    0.10,
			"frequency":   0.05,
		},
		Bounds: RiskBounds{
			MinAmount:     5,
			MaxAmount:     5000,
			PreferredTime: 12,
			TimeRange:     24,
			MaxDistance:   5000,
			MaxFrequency:  15,
			MaxAgeDays:    3650,
		},
		Categories: map[string]float64{
			"Gambling":      0.9,
			"Jewelry":       0.9,
			"Travel":        0.8,
			"Electronics":   0.7,
			"Entertainment": 0.6,
			"Fashion":       0.5,
			"Restaurants":   0.4,
			"Grocery":       0.3,
		},
		CategoryAliases: map[string]string{
			"Groceries": "Grocery",
		},
		UnknownCategory:     UnknownCategoryDefault,
		DefaultCategoryRisk: 0.5,
		AlertThreshold:      0.7,
		NoiseBand:           0.05,
		Precision:           2,
	}
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			KeyPrefix:    "fraudguard",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			VerdictTTL:   10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: DefaultScoringConfig(),
		Features: FeaturesConfig{
			Lexical: []string{
				"amount",
				"account_age_days",
				"category_length",
				"location_length",
				"amount_per_age_day",
				"high_risk_category",
			},
			HighRiskCategories: []string{"electronics", "jewelry"},
		},
		Classifiers: ClassifiersConfig{
			Threshold:  0.5,
			Heuristic:  "rules",
			Timeout:    2 * time.Second,
			MaxWorkers: 4,
		},
		Generator: GeneratorConfig{
			LabelThreshold: 0.5,
			MaxCount:       10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudguard",
		},
	}
}

// ProConfig returns a distributed configuration: PostgreSQL, Redis and NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		KeyPrefix:      "fraudguard",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		VerdictTTL:     10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "fraudguard-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
