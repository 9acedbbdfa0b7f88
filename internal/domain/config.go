package domain

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete Sentra configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines which backends are used by default
	Tier Tier `mapstructure:"tier"`

	// Decision core
	Admission AdmissionConfig `mapstructure:"admission"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Sources   []SourceConfig  `mapstructure:"sources"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
	Worker     WorkerConfig     `mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// AdmissionConfig holds the per-client rate limits.
type AdmissionConfig struct {
	// Backend is "memory" or "redis"
	Backend   string `mapstructure:"backend"`
	Burst     int    `mapstructure:"burst"`
	PerMinute int    `mapstructure:"per_minute"`
	PerHour   int    `mapstructure:"per_hour"`

	// BurstRetryAfter is returned when the burst limit rejects a request.
	BurstRetryAfter int `mapstructure:"burst_retry_after"` // seconds

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// RulesConfig holds business rule thresholds and weights.
type RulesConfig struct {
	HighAmountThreshold  float64 `mapstructure:"high_amount_threshold"`
	MaxDailyTransactions int     `mapstructure:"max_daily_transactions"`

	// Night window, inclusive on both ends. Wraps past midnight when
	// start > end.
	NightStartHour int    `mapstructure:"night_start_hour"`
	NightEndHour   int    `mapstructure:"night_end_hour"`
	Timezone       string `mapstructure:"timezone"`

	HomeCountries []string `mapstructure:"home_countries"`

	HighAmountWeight     float64 `mapstructure:"high_amount_weight"`
	HighVelocityWeight   float64 `mapstructure:"high_velocity_weight"`
	UnusualTimeWeight    float64 `mapstructure:"unusual_time_weight"`
	ForeignCountryWeight float64 `mapstructure:"foreign_country_weight"`

	CustomRules []CustomRule `mapstructure:"custom_rules"`
}

// EnsembleConfig selects and parameterizes the aggregation strategy.
type EnsembleConfig struct {
	Strategy string             `mapstructure:"strategy"`
	Weights  map[string]float64 `mapstructure:"weights"`

	// Context strategy
	RegionalSource    string   `mapstructure:"regional_source"`
	GeneralSource     string   `mapstructure:"general_source"`
	PrimaryWeight     float64  `mapstructure:"primary_weight"`
	RegionalPayment   string   `mapstructure:"regional_payment"`
	RegionalLocations []string `mapstructure:"regional_locations"`
}

// PolicyConfig holds decision thresholds.
type PolicyConfig struct {
	MLWeight       float64 `mapstructure:"ml_weight"`
	BusinessWeight float64 `mapstructure:"business_weight"`

	FraudThreshold      float64 `mapstructure:"fraud_threshold"`
	BlockThreshold      float64 `mapstructure:"block_threshold"`
	MLBlockThreshold    float64 `mapstructure:"ml_block_threshold"`
	BlockViolationCount int     `mapstructure:"block_violation_count"`
	AlertThreshold      float64 `mapstructure:"alert_threshold"`

	// Severity band lower bounds, inclusive.
	CriticalBand float64 `mapstructure:"critical_band"`
	HighBand     float64 `mapstructure:"high_band"`
	MediumBand   float64 `mapstructure:"medium_band"`
}

// EngineConfig holds orchestration settings.
type EngineConfig struct {
	AllowedCurrencies  []string      `mapstructure:"allowed_currencies"`
	SourceTimeout      time.Duration `mapstructure:"source_timeout"`
	HistoryTimeout     time.Duration `mapstructure:"history_timeout"`
	HistoryWindowHours int           `mapstructure:"history_window_hours"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`

	// Circuit breaker per scoring source
	BreakerFailures    uint32        `mapstructure:"breaker_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

// SourceConfig describes a remote scoring source.
type SourceConfig struct {
	Name    string        `mapstructure:"name"`
	URL     string        `mapstructure:"url"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Count     int  `mapstructure:"count"`
	QueueSize int  `mapstructure:"queue_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, channels and in-memory state
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Admission: AdmissionConfig{
			Backend:         "memory",
			Burst:           20,
			PerMinute:       120,
			PerHour:         2000,
			BurstRetryAfter: 1,
		},
		Rules: RulesConfig{
			HighAmountThreshold:  500000,
			MaxDailyTransactions: 50,
			NightStartHour:       23,
			NightEndHour:         5,
			Timezone:             "UTC",
			HomeCountries:        []string{"SN", "ML", "CI"},
			HighAmountWeight:     0.3,
			HighVelocityWeight:   0.4,
			UnusualTimeWeight:    0.2,
			ForeignCountryWeight: 0.3,
		},
		Ensemble: EnsembleConfig{
			Strategy:        string(StrategyWeighted),
			Weights:         map[string]float64{"general": 0.6, "regional": 0.4},
			RegionalSource:  "regional",
			GeneralSource:   "general",
			PrimaryWeight:   0.7,
			RegionalPayment: "mobile",
			RegionalLocations: []string{
				"sénégal", "senegal", "côte", "ivoire", "mali", "burkina",
				"niger", "togo", "benin", "bissau", "dakar", "abidjan",
			},
		},
		Policy: PolicyConfig{
			MLWeight:            0.7,
			BusinessWeight:      0.3,
			FraudThreshold:      0.5,
			BlockThreshold:      0.85,
			MLBlockThreshold:    0.9,
			BlockViolationCount: 3,
			AlertThreshold:      0.3,
			CriticalBand:        0.85,
			HighBand:            0.70,
			MediumBand:          0.50,
		},
		Engine: EngineConfig{
			AllowedCurrencies:  []string{"XOF", "EUR", "USD"},
			SourceTimeout:      2 * time.Second,
			HistoryTimeout:     500 * time.Millisecond,
			HistoryWindowHours: 24,
			MaxConcurrency:     8,
			BreakerFailures:    5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./sentra.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			DecisionTTL:  24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:   false,
			Count:     4,
			QueueSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sentra",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Admission.Backend = "redis"
	cfg.Admission.RedisAddr = "localhost:6379"
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "sentra",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		DecisionTTL:    24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks limits and threshold ordering. An invalid configuration
// must stop startup.
func (c *Config) Validate() error {
	var errs []error

	a := c.Admission
	if a.Burst <= 0 || a.PerMinute <= 0 || a.PerHour <= 0 {
		errs = append(errs, fmt.Errorf("admission limits must be positive (burst=%d, per_minute=%d, per_hour=%d)", a.Burst, a.PerMinute, a.PerHour))
	}
	if a.BurstRetryAfter <= 0 {
		errs = append(errs, fmt.Errorf("admission.burst_retry_after must be positive"))
	}

	p := c.Policy
	if !inUnit(p.AlertThreshold) || !inUnit(p.FraudThreshold) || !inUnit(p.BlockThreshold) || !inUnit(p.MLBlockThreshold) {
		errs = append(errs, fmt.Errorf("policy thresholds must be within [0,1]"))
	}
	if !(p.AlertThreshold < p.FraudThreshold && p.FraudThreshold <= p.BlockThreshold) {
		errs = append(errs, fmt.Errorf("policy thresholds must satisfy alert < fraud <= block (got %.2f, %.2f, %.2f)", p.AlertThreshold, p.FraudThreshold, p.BlockThreshold))
	}
	if !(p.CriticalBand >= p.HighBand && p.HighBand >= p.MediumBand) {
		errs = append(errs, fmt.Errorf("severity bands must be descending (critical >= high >= medium)"))
	}
	if p.MLWeight < 0 || p.BusinessWeight < 0 || p.MLWeight+p.BusinessWeight == 0 {
		errs = append(errs, fmt.Errorf("policy weights must be non-negative and not both zero"))
	}
	if p.BlockViolationCount <= 0 {
		errs = append(errs, fmt.Errorf("policy.block_violation_count must be positive"))
	}

	r := c.Rules
	if r.NightStartHour < 0 || r.NightStartHour > 23 || r.NightEndHour < 0 || r.NightEndHour > 23 {
		errs = append(errs, fmt.Errorf("night window hours must be within 0-23"))
	}
	for _, w := range []float64{r.HighAmountWeight, r.HighVelocityWeight, r.UnusualTimeWeight, r.ForeignCountryWeight} {
		if !inUnit(w) {
			errs = append(errs, fmt.Errorf("rule weights must be within [0,1]"))
			break
		}
	}

	if len(c.Engine.AllowedCurrencies) == 0 {
		errs = append(errs, fmt.Errorf("engine.allowed_currencies must not be empty"))
	}
	if c.Engine.SourceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.source_timeout must be positive"))
	}

	return errors.Join(errs...)
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
