// Package config loads the Kestrel configuration from an optional file
// and KESTREL_* environment variables, layered over built-in defaults.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load reads configuration with precedence environment, then file, then
// defaults. An empty path skips the file entirely.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix("KESTREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// The weights are allowed to drift from 1.0 but scores stop being
	// comparable across deployments when they do.
	if sum := cfg.Analysis.RiskWeights.Sum(); math.Abs(sum-1.0) > 0.01 {
		slog.Warn("risk weights do not sum to 1.0", "sum", sum)
	}

	return cfg, nil
}

// setDefaults registers every key with viper so environment overrides
// resolve even when no config file is present.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	// Server defaults
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	// Repository defaults
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

	// Cache defaults
	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.local_max_size", cfg.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", cfg.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", cfg.Cache.EnableTwoPhase)

	// Event bus defaults
	v.SetDefault("event_bus.type", cfg.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", cfg.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", cfg.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", cfg.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", cfg.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", cfg.EventBus.NATSReconnectWait)

	// Observability defaults
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)

	// Analysis defaults
	v.SetDefault("analysis.early_morning.start_hour", cfg.Analysis.EarlyMorning.StartHour)
	v.SetDefault("analysis.early_morning.end_hour", cfg.Analysis.EarlyMorning.EndHour)
	v.SetDefault("analysis.small_transactions.amount_threshold", cfg.Analysis.SmallTransactions.AmountThreshold)
	v.SetDefault("analysis.small_transactions.max_count_per_card", cfg.Analysis.SmallTransactions.MaxCountPerCard)
	v.SetDefault("analysis.small_transactions.time_window_hours", cfg.Analysis.SmallTransactions.TimeWindowHours)
	v.SetDefault("analysis.outliers.z_score_threshold", cfg.Analysis.Outliers.ZScoreThreshold)
	v.SetDefault("analysis.outliers.iqr_multiplier", cfg.Analysis.Outliers.IQRMultiplier)
	v.SetDefault("analysis.outliers.min_sample_size", cfg.Analysis.Outliers.MinSampleSize)
	v.SetDefault("analysis.velocity.time_window_minutes", cfg.Analysis.Velocity.TimeWindowMinutes)
	v.SetDefault("analysis.velocity.min_count_per_window", cfg.Analysis.Velocity.MinCountPerWindow)
	v.SetDefault("analysis.velocity.max_transactions_per_minute", cfg.Analysis.Velocity.MaxPerMinute)
	v.SetDefault("analysis.velocity.max_transactions_per_hour", cfg.Analysis.Velocity.MaxPerHour)
	v.SetDefault("analysis.risk_weights.small_transaction_count", cfg.Analysis.RiskWeights.SmallTransactionCount)
	v.SetDefault("analysis.risk_weights.outlier_score", cfg.Analysis.RiskWeights.OutlierScore)
	v.SetDefault("analysis.risk_weights.velocity_score", cfg.Analysis.RiskWeights.VelocityScore)
	v.SetDefault("analysis.risk_weights.temporal_anomaly", cfg.Analysis.RiskWeights.TemporalAnomaly)
	v.SetDefault("analysis.alerts.low_risk_threshold", cfg.Analysis.Alerts.Low)
	v.SetDefault("analysis.alerts.medium_risk_threshold", cfg.Analysis.Alerts.Medium)
	v.SetDefault("analysis.alerts.high_risk_threshold", cfg.Analysis.Alerts.High)
	v.SetDefault("analysis.alerts.critical_risk_threshold", cfg.Analysis.Alerts.Critical)
	v.SetDefault("analysis.merchant_rules.min_small_transactions", cfg.Analysis.MerchantRules.MinSmallTransactions)
	v.SetDefault("analysis.merchant_rules.min_unique_cards_affected", cfg.Analysis.MerchantRules.MinUniqueCardsAffected)

	// Report defaults
	v.SetDefault("report.top_outliers", cfg.Report.TopOutliers)
	v.SetDefault("report.top_merchants", cfg.Report.TopMerchants)
	v.SetDefault("report.top_cardholders", cfg.Report.TopCardHolders)
	v.SetDefault("report.top_transactions", cfg.Report.TopTransactions)
	v.SetDefault("report.rule_samples", cfg.Report.RuleSamples)
	v.SetDefault("report.output_dir", cfg.Report.OutputDir)
}
