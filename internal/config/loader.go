// Package config loads Sentra configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SENTRA_POLICY_FRAUD_THRESHOLD.
const EnvPrefix = "SENTRA"

// Load reads configuration from an optional file and the environment, on top
// of the tier defaults. The tier itself may come from either source.
func Load(configPath string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(v.GetString("tier"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}
	setDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("tier", string(cfg.Tier))

	// Server
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	// Admission
	v.SetDefault("admission.backend", cfg.Admission.Backend)
	v.SetDefault("admission.burst", cfg.Admission.Burst)
	v.SetDefault("admission.per_minute", cfg.Admission.PerMinute)
	v.SetDefault("admission.per_hour", cfg.Admission.PerHour)
	v.SetDefault("admission.burst_retry_after", cfg.Admission.BurstRetryAfter)
	v.SetDefault("admission.redis_addr", cfg.Admission.RedisAddr)
	v.SetDefault("admission.redis_password", cfg.Admission.RedisPassword)
	v.SetDefault("admission.redis_db", cfg.Admission.RedisDB)

	// Rules
	v.SetDefault("rules.high_amount_threshold", cfg.Rules.HighAmountThreshold)
	v.SetDefault("rules.max_daily_transactions", cfg.Rules.MaxDailyTransactions)
	v.SetDefault("rules.night_start_hour", cfg.Rules.NightStartHour)
	v.SetDefault("rules.night_end_hour", cfg.Rules.NightEndHour)
	v.SetDefault("rules.timezone", cfg.Rules.Timezone)
	v.SetDefault("rules.home_countries", cfg.Rules.HomeCountries)
	v.SetDefault("rules.high_amount_weight", cfg.Rules.HighAmountWeight)
	v.SetDefault("rules.high_velocity_weight", cfg.Rules.HighVelocityWeight)
	v.SetDefault("rules.unusual_time_weight", cfg.Rules.UnusualTimeWeight)
	v.SetDefault("rules.foreign_country_weight", cfg.Rules.ForeignCountryWeight)

	// Ensemble
	v.SetDefault("ensemble.strategy", cfg.Ensemble.Strategy)
	v.SetDefault("ensemble.weights", cfg.Ensemble.Weights)
	v.SetDefault("ensemble.regional_source", cfg.Ensemble.RegionalSource)
	v.SetDefault("ensemble.general_source", cfg.Ensemble.GeneralSource)
	v.SetDefault("ensemble.primary_weight", cfg.Ensemble.PrimaryWeight)
	v.SetDefault("ensemble.regional_payment", cfg.Ensemble.RegionalPayment)
	v.SetDefault("ensemble.regional_locations", cfg.Ensemble.RegionalLocations)

	// Policy
	v.SetDefault("policy.ml_weight", cfg.Policy.MLWeight)
	v.SetDefault("policy.business_weight", cfg.Policy.BusinessWeight)
	v.SetDefault("policy.fraud_threshold", cfg.Policy.FraudThreshold)
	v.SetDefault("policy.block_threshold", cfg.Policy.BlockThreshold)
	v.SetDefault("policy.ml_block_threshold", cfg.Policy.MLBlockThreshold)
	v.SetDefault("policy.block_violation_count", cfg.Policy.BlockViolationCount)
	v.SetDefault("policy.alert_threshold", cfg.Policy.AlertThreshold)
	v.SetDefault("policy.critical_band", cfg.Policy.CriticalBand)
	v.SetDefault("policy.high_band", cfg.Policy.HighBand)
	v.SetDefault("policy.medium_band", cfg.Policy.MediumBand)

	// Engine
	v.SetDefault("engine.allowed_currencies", cfg.Engine.AllowedCurrencies)
	v.SetDefault("engine.source_timeout", cfg.Engine.SourceTimeout)
	v.SetDefault("engine.history_timeout", cfg.Engine.HistoryTimeout)
	v.SetDefault("engine.history_window_hours", cfg.Engine.HistoryWindowHours)
	v.SetDefault("engine.max_concurrency", cfg.Engine.MaxConcurrency)
	v.SetDefault("engine.breaker_failures", cfg.Engine.BreakerFailures)
	v.SetDefault("engine.breaker_open_timeout", cfg.Engine.BreakerOpenTimeout)

	// Repository
	v.SetDefault("repository.driver", cfg.Repository.Driver)
	v.SetDefault("repository.sqlite_path", cfg.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", cfg.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", cfg.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", cfg.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", cfg.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", cfg.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", cfg.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", cfg.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", cfg.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", cfg.Repository.ConnMaxLifetime)

	// Cache
	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.local_max_size", cfg.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", cfg.Cache.LocalTTL)
	v.SetDefault("cache.decision_ttl", cfg.Cache.DecisionTTL)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", cfg.Cache.EnableTwoPhase)

	// Event bus
	v.SetDefault("event_bus.type", cfg.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", cfg.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", cfg.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", cfg.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", cfg.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", cfg.EventBus.NATSReconnectWait)

	// Worker
	v.SetDefault("worker.enabled", cfg.Worker.Enabled)
	v.SetDefault("worker.count", cfg.Worker.Count)
	v.SetDefault("worker.queue_size", cfg.Worker.QueueSize)

	// Observability
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
}
