package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration: the analysis
// thresholds every detector reads plus the infrastructure sections.
// It is loaded once at startup, validated, and passed by value into
// constructors; nothing mutates it after that.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Analysis behavior
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	Report   ReportConfig   `json:"report" mapstructure:"report"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
	Endpoint    string `json:"endpoint" mapstructure:"endpoint"`
}

// AnalysisConfig carries every detector threshold. Key names mirror
// the configuration file sections one to one.
type AnalysisConfig struct {
	EarlyMorning      EarlyMorningConfig     `json:"earlyMorning" mapstructure:"early_morning"`
	SmallTransactions SmallTransactionConfig `json:"smallTransactions" mapstructure:"small_transactions"`
	Outliers          OutlierConfig          `json:"outliers" mapstructure:"outliers"`
	Velocity          VelocityConfig         `json:"velocity" mapstructure:"velocity"`
	RiskWeights       RiskWeights            `json:"riskWeights" mapstructure:"risk_weights"`
	Alerts            AlertThresholds        `json:"alerts" mapstructure:"alerts"`
	MerchantRules     MerchantRuleConfig     `json:"merchantRules" mapstructure:"merchant_rules"`
	CustomRules       []CustomRule           `json:"customRules,omitempty" mapstructure:"custom_rules"`
}

// EarlyMorningConfig bounds the hour range treated as a temporal
// anomaly. Both ends are inclusive.
type EarlyMorningConfig struct {
	StartHour int `json:"startHour" mapstructure:"start_hour"`
	EndHour   int `json:"endHour" mapstructure:"end_hour"`
}

// SmallTransactionConfig governs the small-transaction detectors. The
// amount threshold is expressed as a plain number in configuration and
// converted to fixed-point once, when the detector is constructed.
type SmallTransactionConfig struct {
	AmountThreshold float64 `json:"amountThreshold" mapstructure:"amount_threshold"`
	MaxCountPerCard int     `json:"maxCountPerCard" mapstructure:"max_count_per_card"`
	TimeWindowHours int     `json:"timeWindowHours" mapstructure:"time_window_hours"`
}

// OutlierConfig governs distribution-based classification.
type OutlierConfig struct {
	ZScoreThreshold float64 `json:"zScoreThreshold" mapstructure:"z_score_threshold"`
	IQRMultiplier   float64 `json:"iqrMultiplier" mapstructure:"iqr_multiplier"`
	MinSampleSize   int     `json:"minSampleSize" mapstructure:"min_sample_size"`
}

// VelocityConfig governs rapid-succession and burst detection.
type VelocityConfig struct {
	TimeWindowMinutes int `json:"timeWindowMinutes" mapstructure:"time_window_minutes"`
	MinCountPerWindow int `json:"minCountPerWindow" mapstructure:"min_count_per_window"`
	MaxPerMinute      int `json:"maxPerMinute" mapstructure:"max_transactions_per_minute"`
	MaxPerHour        int `json:"maxPerHour" mapstructure:"max_transactions_per_hour"`
}

// RiskWeights are the indicator weights of the composite score.
// Operators are expected to keep the sum near 1.0 but the engine does
// not enforce it; the loader logs a warning when it drifts.
type RiskWeights struct {
	SmallTransactionCount float64 `json:"smallTransactionCount" mapstructure:"small_transaction_count"`
	OutlierScore          float64 `json:"outlierScore" mapstructure:"outlier_score"`
	VelocityScore         float64 `json:"velocityScore" mapstructure:"velocity_score"`
	TemporalAnomaly       float64 `json:"temporalAnomaly" mapstructure:"temporal_anomaly"`
}

// Sum returns the total of all four weights.
func (w RiskWeights) Sum() float64 {
	return w.SmallTransactionCount + w.OutlierScore + w.VelocityScore + w.TemporalAnomaly
}

// AlertThresholds are the severity cutoffs. They must be strictly
// increasing; Validate rejects anything else.
type AlertThresholds struct {
	Low      float64 `json:"low" mapstructure:"low_risk_threshold"`
	Medium   float64 `json:"medium" mapstructure:"medium_risk_threshold"`
	High     float64 `json:"high" mapstructure:"high_risk_threshold"`
	Critical float64 `json:"critical" mapstructure:"critical_risk_threshold"`
}

// MerchantRuleConfig governs the vulnerable-merchant rule.
type MerchantRuleConfig struct {
	MinSmallTransactions   int `json:"minSmallTransactions" mapstructure:"min_small_transactions"`
	MinUniqueCardsAffected int `json:"minUniqueCardsAffected" mapstructure:"min_unique_cards_affected"`
}

// ReportConfig bounds the report's top-N sections and names the
// default export directory.
type ReportConfig struct {
	TopOutliers     int    `json:"topOutliers" mapstructure:"top_outliers"`
	TopMerchants    int    `json:"topMerchants" mapstructure:"top_merchants"`
	TopCardHolders  int    `json:"topCardHolders" mapstructure:"top_cardholders"`
	TopTransactions int    `json:"topTransactions" mapstructure:"top_transactions"`
	RuleSamples     int    `json:"ruleSamples" mapstructure:"rule_samples"`
	OutputDir       string `json:"outputDir" mapstructure:"output_dir"`
}

// DefaultConfig returns the configuration Kestrel runs with when no
// file or environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		Analysis: DefaultAnalysisConfig(),
		Report: ReportConfig{
			TopOutliers:     10,
			TopMerchants:    5,
			TopCardHolders:  10,
			TopTransactions: 10,
			RuleSamples:     5,
			OutputDir:       "./reports",
		},
	}
}

// DefaultAnalysisConfig returns the detector thresholds used when the
// configuration omits them.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		EarlyMorning: EarlyMorningConfig{
			StartHour: 7,
			EndHour:   9,
		},
		SmallTransactions: SmallTransactionConfig{
			AmountThreshold: 2.00,
			MaxCountPerCard: 10,
			TimeWindowHours: 24,
		},
		Outliers: OutlierConfig{
			ZScoreThreshold: 3.0,
			IQRMultiplier:   1.5,
			MinSampleSize:   10,
		},
		Velocity: VelocityConfig{
			TimeWindowMinutes: 5,
			MinCountPerWindow: 3,
			MaxPerMinute:      5,
			MaxPerHour:        30,
		},
		RiskWeights: RiskWeights{
			SmallTransactionCount: 0.25,
			OutlierScore:          0.30,
			VelocityScore:         0.25,
			TemporalAnomaly:       0.20,
		},
		Alerts: AlertThresholds{
			Low:      0.30,
			Medium:   0.50,
			High:     0.70,
			Critical: 0.85,
		},
		MerchantRules: MerchantRuleConfig{
			MinSmallTransactions:   10,
			MinUniqueCardsAffected: 3,
		},
	}
}

// Validate checks every analysis threshold and returns a ConfigError
// for the first violation. It runs at load time so a bad configuration
// never reaches a detector.
func (c *Config) Validate() error {
	a := c.Analysis
	if a.EarlyMorning.StartHour < 0 || a.EarlyMorning.StartHour > 23 {
		return &ConfigError{Key: "analysis.early_morning.start_hour", Reason: "must be between 0 and 23"}
	}
	if a.EarlyMorning.EndHour < 0 || a.EarlyMorning.EndHour > 23 {
		return &ConfigError{Key: "analysis.early_morning.end_hour", Reason: "must be between 0 and 23"}
	}
	if a.EarlyMorning.StartHour > a.EarlyMorning.EndHour {
		return &ConfigError{Key: "analysis.early_morning", Reason: "start_hour must not exceed end_hour"}
	}
	if a.SmallTransactions.AmountThreshold < 0 {
		return &ConfigError{Key: "analysis.small_transactions.amount_threshold", Reason: "must not be negative"}
	}
	if a.SmallTransactions.MaxCountPerCard < 1 {
		return &ConfigError{Key: "analysis.small_transactions.max_count_per_card", Reason: "must be at least 1"}
	}
	if a.SmallTransactions.TimeWindowHours < 1 {
		return &ConfigError{Key: "analysis.small_transactions.time_window_hours", Reason: "must be at least 1"}
	}
	if a.Outliers.ZScoreThreshold <= 0 {
		return &ConfigError{Key: "analysis.outliers.z_score_threshold", Reason: "must be positive"}
	}
	if a.Outliers.IQRMultiplier <= 0 {
		return &ConfigError{Key: "analysis.outliers.iqr_multiplier", Reason: "must be positive"}
	}
	if a.Outliers.MinSampleSize < 1 {
		return &ConfigError{Key: "analysis.outliers.min_sample_size", Reason: "must be at least 1"}
	}
	if a.Velocity.TimeWindowMinutes < 1 {
		return &ConfigError{Key: "analysis.velocity.time_window_minutes", Reason: "must be at least 1"}
	}
	if a.Velocity.MinCountPerWindow < 1 {
		return &ConfigError{Key: "analysis.velocity.min_count_per_window", Reason: "must be at least 1"}
	}
	if a.Velocity.MaxPerMinute < 1 {
		return &ConfigError{Key: "analysis.velocity.max_transactions_per_minute", Reason: "must be at least 1"}
	}
	if a.Velocity.MaxPerHour < 1 {
		return &ConfigError{Key: "analysis.velocity.max_transactions_per_hour", Reason: "must be at least 1"}
	}
	if a.RiskWeights.SmallTransactionCount < 0 || a.RiskWeights.OutlierScore < 0 ||
		a.RiskWeights.VelocityScore < 0 || a.RiskWeights.TemporalAnomaly < 0 {
		return &ConfigError{Key: "analysis.risk_weights", Reason: "weights must not be negative"}
	}
	t := a.Alerts
	if !(t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical) {
		return &ConfigError{Key: "analysis.alerts", Reason: "thresholds must be strictly increasing: low < medium < high < critical"}
	}
	if a.MerchantRules.MinSmallTransactions < 1 {
		return &ConfigError{Key: "analysis.merchant_rules.min_small_transactions", Reason: "must be at least 1"}
	}
	if a.MerchantRules.MinUniqueCardsAffected < 1 {
		return &ConfigError{Key: "analysis.merchant_rules.min_unique_cards_affected", Reason: "must be at least 1"}
	}
	for i, r := range a.CustomRules {
		if r.Name == "" {
			return &ConfigError{Key: fmt.Sprintf("analysis.custom_rules[%d].name", i), Reason: "rule name is required"}
		}
		if r.Expression == "" {
			return &ConfigError{Key: fmt.Sprintf("analysis.custom_rules[%d].expression", i), Reason: "rule expression is required"}
		}
	}
	if c.Report.TopOutliers < 1 || c.Report.TopMerchants < 1 || c.Report.TopCardHolders < 1 || c.Report.TopTransactions < 1 {
		return &ConfigError{Key: "report", Reason: "top-N limits must be at least 1"}
	}
	return nil
}
