package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Thresholds are the health/anomaly/quality thresholds with the normative defaults below.
type Thresholds struct {
	MinSuccessRatePercent   float64 `yaml:"min_success_rate_percent"`
	MaxDailyFailures        int     `yaml:"max_daily_failures"`
	MaxQueueTimeS           float64 `yaml:"max_queue_time_s"`
	MaxAvgDurationS         float64 `yaml:"max_avg_duration_s"`
	MaxDegradationRate      float64 `yaml:"max_degradation_rate"`
	MaxCPUPercent           float64 `yaml:"max_cpu_percent"`
	MinTestCoveragePercent  float64 `yaml:"min_test_coverage_percent"`
	MinCodeQualityScore     float64 `yaml:"min_code_quality_score"`
	MaxSecurityVulns        int     `yaml:"max_security_vulns"`
	MaxFlakyTests           int     `yaml:"max_flaky_tests"`
	MaxMTTRHours            float64 `yaml:"max_mttr_hours"`
	MinDeployFreqPerWeek    float64 `yaml:"min_deploy_freq_per_week"`
	MaxChangeFailurePercent float64 `yaml:"max_change_failure_percent"`
}

// Intervals are the scheduling cadences with the normative defaults below.
type Intervals struct {
	HealthCheckTick time.Duration `yaml:"health_check_tick"`
	TrendTick       time.Duration `yaml:"trend_tick"`
	PredictionTick  time.Duration `yaml:"prediction_tick"`
	BaselineRefresh time.Duration `yaml:"baseline_refresh"`
	TrendCacheTTL   time.Duration `yaml:"trend_cache_ttl"`
	ModelTTL        time.Duration `yaml:"model_ttl"`
}

// AnomalyConfig controls the Anomaly Detector and Trend Analyzer's statistical cutoffs.
type AnomalyConfig struct {
	ZThreshold          float64 `yaml:"z_threshold"`
	OutlierSignificance float64 `yaml:"outlier_significance"`
}

// RetryPolicy configures exponential-backoff retries for one orchestrator stage.
type RetryPolicy struct {
	Attempts    int           `yaml:"attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Jitter      float64       `yaml:"jitter"`
}

// DeploymentConfig controls orchestrator concurrency, windows and per-stage policy.
type DeploymentConfig struct {
	PerRepoConcurrency  int                    `yaml:"per_repo_concurrency"`
	WebhookDedupWindowS int                    `yaml:"webhook_dedup_window_s"`
	StageTimeoutsS      map[string]int         `yaml:"stage_timeouts_s"`
	RetryPolicy         map[string]RetryPolicy `yaml:"retry_policy"`
	RollbackBudgetS     int                    `yaml:"rollback_budget_s"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig controls process-wide logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// SecurityConfig carries the webhook signature secret, intake rate limits,
// and the manual-control API's token set.
type SecurityConfig struct {
	WebhookSecret   string   `yaml:"-"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
	APITokens       []string `yaml:"-"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	DSN string `yaml:"-"`
}

// NotifyConfig configures the optional notification sink.
type NotifyConfig struct {
	SlackBotToken string `yaml:"-"`
	SlackChannel  string `yaml:"slack_channel"`
}

// Config is the top-level, immutable-after-load process configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
	Store      StoreConfig      `yaml:"store"`
	Notify     NotifyConfig     `yaml:"notify"`
	Thresholds Thresholds       `yaml:"thresholds"`
	Intervals  Intervals        `yaml:"intervals"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	Deployment DeploymentConfig `yaml:"deployment"`
}

// Default returns the configuration with every normative default applied.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Security: SecurityConfig{
			RateLimitPerSec: 5,
			RateLimitBurst:  10,
			MaxBodyBytes:    1 << 20,
		},
		Thresholds: Thresholds{
			MinSuccessRatePercent:   85,
			MaxDailyFailures:        3,
			MaxQueueTimeS:           300,
			MaxAvgDurationS:         600,
			MaxDegradationRate:      0.10,
			MaxCPUPercent:           80,
			MinTestCoveragePercent:  70,
			MinCodeQualityScore:     8.0,
			MaxSecurityVulns:        0,
			MaxFlakyTests:           2,
			MaxMTTRHours:            4,
			MinDeployFreqPerWeek:    1,
			MaxChangeFailurePercent: 15,
		},
		Intervals: Intervals{
			HealthCheckTick: 5 * time.Minute,
			TrendTick:       30 * time.Minute,
			PredictionTick:  60 * time.Minute,
			BaselineRefresh: 24 * time.Hour,
			TrendCacheTTL:   30 * time.Minute,
			ModelTTL:        60 * time.Minute,
		},
		Anomaly: AnomalyConfig{
			ZThreshold:          2.5,
			OutlierSignificance: 0.05,
		},
		Deployment: DeploymentConfig{
			PerRepoConcurrency:  1,
			WebhookDedupWindowS: 600,
			StageTimeoutsS: map[string]int{
				"validate": 30,
				"backup":   120,
				"apply":    300,
				"verify":   60,
			},
			RetryPolicy: map[string]RetryPolicy{
				"validate": {Attempts: 0},
				"backup":   {Attempts: 0},
				"apply":    {Attempts: 2, BaseBackoff: time.Second, MaxBackoff: 20 * time.Second, Jitter: 0.2},
				"verify":   {Attempts: 2, BaseBackoff: time.Second, MaxBackoff: 20 * time.Second, Jitter: 0.2},
			},
			RollbackBudgetS: 180,
		},
	}
}

// Load assembles configuration from (in increasing priority): built-in
// defaults, an optional YAML file, an optional .env file, and the process
// environment.
func Load(yamlPath, envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Server.Addr = GetEnv("SERVER_ADDR", cfg.Server.Addr)
	cfg.Logging.Level = GetEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = GetEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = GetEnv("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Security.WebhookSecret = GetEnv("WEBHOOK_SECRET", cfg.Security.WebhookSecret)
	cfg.Security.RateLimitPerSec = GetEnvFloat("RATE_LIMIT_PER_SEC", cfg.Security.RateLimitPerSec)
	cfg.Security.RateLimitBurst = GetEnvInt("RATE_LIMIT_BURST", cfg.Security.RateLimitBurst)
	if tokens := GetEnv("API_TOKENS", ""); tokens != "" {
		cfg.Security.APITokens = strings.Split(tokens, ",")
	}
	cfg.Store.DSN = GetEnv("DATABASE_DSN", cfg.Store.DSN)
	cfg.Notify.SlackBotToken = GetEnv("SLACK_BOT_TOKEN", cfg.Notify.SlackBotToken)
	cfg.Notify.SlackChannel = GetEnv("SLACK_CHANNEL", cfg.Notify.SlackChannel)

	if cfg.Security.WebhookSecret == "" {
		return cfg, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return cfg, nil
}
