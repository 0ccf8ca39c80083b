// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Mode            string                `yaml:"mode"` // paper or live
	DataDir         string                `yaml:"data_dir"`
	Risk            RiskConfig            `yaml:"risk"`
	Sizing          SizingConfig          `yaml:"sizing"`
	PolicyGates     PolicyGatesConfig     `yaml:"policy_gates"`
	Scoring         ScoringConfig         `yaml:"scoring"`
	Sanad           SanadConfig           `yaml:"sanad"`
	Budget          BudgetConfig          `yaml:"budget"`
	CircuitBreakers CircuitBreakersConfig `yaml:"circuit_breakers"`
	ColdPath        ColdPathConfig        `yaml:"cold_path"`
	Router          RouterConfig          `yaml:"router"`
	Feed            FeedConfig            `yaml:"feed"`
	Monitor         MonitorConfig         `yaml:"monitor"`
	Pricefeed       PricefeedConfig       `yaml:"pricefeed"`
	Exchange        ExchangeConfig        `yaml:"exchange"`
	Oracle          OracleConfig          `yaml:"oracle"`
	Notify          NotifyConfig          `yaml:"notify"`
	Telemetry       TelemetryConfig       `yaml:"telemetry"`
	Archive         ArchiveConfig         `yaml:"archive"`
	Scheduler       SchedulerConfig       `yaml:"scheduler"`
	Watchdog        WatchdogConfig        `yaml:"watchdog"`
	Heartbeat       HeartbeatConfig       `yaml:"heartbeat"`
	Logging         LoggingConfig         `yaml:"logging"`
}

// RiskConfig bounds account-level exposure and default exit thresholds.
type RiskConfig struct {
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
	DailyLossLimitPct    float64 `yaml:"daily_loss_limit_pct"`
	MaxMemeAllocationPct float64 `yaml:"max_meme_allocation_pct"`
	MaxSingleTokenPct    float64 `yaml:"max_single_token_pct"`
	StopLossDefaultPct   float64 `yaml:"stop_loss_default_pct"`
	TakeProfitDefaultPct float64 `yaml:"take_profit_default_pct"`
	PaperMaxHoldHours    float64 `yaml:"paper_max_hold_hours"`
	MaxHoldHours         float64 `yaml:"max_hold_hours"`
}

// SizingConfig controls position sizing.
type SizingConfig struct {
	KellyFraction      float64 `yaml:"kelly_fraction"`
	KellyDefaultPct    float64 `yaml:"kelly_default_pct"`
	KellyMinTrades     int     `yaml:"kelly_min_trades"`
	MaxPositionPct     float64 `yaml:"max_position_pct"`
	PaperDefaultPct    float64 `yaml:"paper_default_pct"`
	PaperMaxPositionPct float64 `yaml:"paper_max_position_pct"`
	PaperRegimeFloor   float64 `yaml:"paper_regime_floor"`
}

// PolicyGatesConfig provides the thresholds the fifteen gates read.
type PolicyGatesConfig struct {
	PriceMaxAgeSec              int     `yaml:"price_max_age_sec"`
	OnchainMaxAgeSec            int     `yaml:"onchain_max_age_sec"`
	TokenMinAgeHours            float64 `yaml:"token_min_age_hours"`
	MaxSlippageBps              int     `yaml:"max_slippage_bps"`
	MaxSpreadBps                int     `yaml:"max_spread_bps"`
	VolatilityHaltPct           float64 `yaml:"volatility_halt_pct"`
	VolatilityHaltWindowMinutes int     `yaml:"volatility_halt_window_minutes"`
	ExchangeErrorRatePct        float64 `yaml:"exchange_error_rate_pct"`
	ReconciliationMaxAgeSec     int     `yaml:"reconciliation_max_age_sec"`
	MaxConcurrentPositions      int     `yaml:"max_concurrent_positions"`
	CooldownMinutes             int     `yaml:"cooldown_minutes"`
}

// ScoringConfig sets verdict-gate minimums.
type ScoringConfig struct {
	MinTrustScore      int `yaml:"min_trust_score"`
	MinConfidenceScore int `yaml:"min_confidence_score"`
}

// SanadConfig controls the verification stage.
type SanadConfig struct {
	SignalMaxAgeMinutes int `yaml:"signal_max_age_minutes"`
	MinimumTradeScore   int `yaml:"minimum_trade_score"`
}

// BudgetConfig caps oracle spend.
type BudgetConfig struct {
	DailyLLMSpendLimitUSD   float64 `yaml:"daily_llm_spend_limit_usd"`
	MonthlyLLMSpendLimitUSD float64 `yaml:"monthly_llm_spend_limit_usd"`
	CostPerTradeAlertUSD    float64 `yaml:"cost_per_trade_alert_usd"`
}

// BreakerConfig is the per-component circuit breaker tuning.
type BreakerConfig struct {
	WindowSeconds   int `yaml:"window_seconds"`
	TripThreshold   int `yaml:"trip_threshold"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// CircuitBreakersConfig is the breaker pool tuning.
type CircuitBreakersConfig struct {
	SimultaneousTripPause int                      `yaml:"simultaneous_trip_pause"`
	Components            map[string]BreakerConfig `yaml:"components"`
}

// ColdPathConfig controls the async deep-analysis worker.
type ColdPathConfig struct {
	Model                          string `yaml:"model"`
	JudgeModel                     string `yaml:"judge_model"`
	TimeoutSeconds                 int    `yaml:"timeout_seconds"`
	MaxAttempts                    int    `yaml:"max_attempts"`
	ParallelBullBear               bool   `yaml:"parallel_bull_bear"`
	CatastrophicConfidenceThreshold int   `yaml:"catastrophic_confidence_threshold"`
	PollLimit                      int    `yaml:"poll_limit"`
}

// RouterConfig controls signal selection.
type RouterConfig struct {
	FeedSources              []string `yaml:"feed_sources"`
	StaleThresholdMinutes    int      `yaml:"stale_threshold_minutes"`
	DailyRunBudget           int      `yaml:"daily_run_budget"`
	RejectionCooldownMinutes int      `yaml:"rejection_cooldown_minutes"`
	PipelineTimeoutMinutes   int      `yaml:"pipeline_timeout_minutes"`
	MinRugcheckScore         int      `yaml:"min_rugcheck_score"`
}

// FeedConfig holds the enrichment probe endpoints. An empty URL disables
// the corresponding probe; gates treat missing evidence as unknown.
type FeedConfig struct {
	HoldersURL  string `yaml:"holders_url"`
	HoneypotURL string `yaml:"honeypot_url"`
	RugscanURL  string `yaml:"rugscan_url"`
}

// PricefeedConfig controls the price cache writer.
type PricefeedConfig struct {
	PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
	HistoryRetainHours   int `yaml:"history_retain_hours"`
	StreamStaleSeconds   int `yaml:"stream_stale_seconds"`
}

// FlashCrashConfig tunes the emergency detector shared by the monitor and
// the heartbeat.
type FlashCrashConfig struct {
	DropPct       float64  `yaml:"drop_pct"`
	WindowMinutes int      `yaml:"window_minutes"`
	WatchSymbols  []string `yaml:"watch_symbols"`
}

// TrailingConfig tunes the trailing stop exit.
type TrailingConfig struct {
	ActivationPct float64 `yaml:"activation_pct"`
	DropPct       float64 `yaml:"drop_pct"`
}

// BreakevenConfig tunes the breakeven ratchet.
type BreakevenConfig struct {
	ActivationPct float64 `yaml:"activation_pct"`
	OffsetPct     float64 `yaml:"offset_pct"`
}

// MomentumConfig tunes the momentum decay exit.
type MomentumConfig struct {
	WindowHours   float64 `yaml:"window_hours"`
	VolumeDropPct float64 `yaml:"volume_drop_pct"`
}

// MonitorConfig controls the position monitor.
type MonitorConfig struct {
	IntervalSeconds    int              `yaml:"interval_seconds"`
	PriceMaxAgeMinutes int              `yaml:"price_max_age_minutes"`
	FlashCrash         FlashCrashConfig `yaml:"flash_crash"`
	Trailing           TrailingConfig   `yaml:"trailing"`
	Breakeven          BreakevenConfig  `yaml:"breakeven"`
	Momentum           MomentumConfig   `yaml:"momentum"`
}

// ExchangeConfig configures the trading venue adapters.
type ExchangeConfig struct {
	Name              string  `yaml:"name"` // binance, paper
	BaseURL           string  `yaml:"base_url"`
	StreamURL         string  `yaml:"stream_url"`
	APIKey            Secret  `yaml:"api_key"`
	SecretKey         Secret  `yaml:"secret_key"`
	FeeRate           float64 `yaml:"fee_rate"`
	PaperSlippageBps  int     `yaml:"paper_slippage_bps"` // upper bound of simulated slippage
	DEXRPCURL         string  `yaml:"dex_rpc_url"`
	DEXRouterAddress  string  `yaml:"dex_router_address"`
	DEXBaseAsset      string  `yaml:"dex_base_asset"` // quote leg of preflight routes
	DEXBaseDecimals   int     `yaml:"dex_base_decimals"`
	OrdersPerSecond   int     `yaml:"orders_per_second"`
	OrderBurst        int     `yaml:"order_burst"`
}

// OracleConfig configures the LLM endpoint.
type OracleConfig struct {
	BaseURL               string  `yaml:"base_url"`
	APIKey                Secret  `yaml:"api_key"`
	Model                 string  `yaml:"model"`
	FallbackModel         string  `yaml:"fallback_model"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	InputCostPer1K        float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K       float64 `yaml:"output_cost_per_1k"`
}

// NotifyConfig configures operator notification channels.
type NotifyConfig struct {
	TelegramToken  Secret `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	SlackWebhook   Secret `yaml:"slack_webhook"`
	MinLevel       int    `yaml:"min_level"` // 1..4
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ArchiveConfig configures S3 cold storage for decision logs. Static keys
// are optional; without them the SDK's default credential chain applies.
// Endpoint supports S3-compatible providers (MinIO, R2).
type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  Secret `yaml:"access_key"`
	SecretKey  Secret `yaml:"secret_key"`
	RetainDays int    `yaml:"retain_days"`
}

// SchedulerConfig holds cron expressions for the in-process dispatcher.
type SchedulerConfig struct {
	Router      string `yaml:"router"`
	Monitor     string `yaml:"monitor"`
	AsyncWorker string `yaml:"asyncworker"`
	Heartbeat   string `yaml:"heartbeat"`
	Watchdog    string `yaml:"watchdog"`
	Archive     string `yaml:"archive"`
}

// WatchdogConfig controls lease supervision and tiered recovery.
type WatchdogConfig struct {
	LeaseTTLSeconds    int    `yaml:"lease_ttl_seconds"`
	LockTTLMinutes     int    `yaml:"lock_ttl_minutes"`
	DiagnosticDeadline int    `yaml:"diagnostic_deadline_minutes"`
	DiagnosticDir      string `yaml:"diagnostic_dir"`
}

// HeartbeatConfig controls health checks.
type HeartbeatConfig struct {
	ExpectedCadenceMinutes map[string]int `yaml:"expected_cadence_minutes"`
	NTPServer              string         `yaml:"ntp_server"`
	MaxClockSkewMS         int            `yaml:"max_clock_skew_ms"`
	TaskStuckGraceMinutes  int            `yaml:"task_stuck_grace_minutes"`
	PendingStaleMinutes    int            `yaml:"pending_stale_minutes"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateMode(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateRisk(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validatePolicyGates(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateColdPath(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateOracle(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateLogging(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateMode() error {
	if c.Mode != "paper" && c.Mode != "live" {
		return ValidationError{
			Field:   "mode",
			Value:   c.Mode,
			Message: "must be one of: paper, live",
		}
	}
	if c.DataDir == "" {
		return ValidationError{
			Field:   "data_dir",
			Message: "data directory is required",
		}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		return ValidationError{
			Field:   "risk.max_drawdown_pct",
			Value:   c.Risk.MaxDrawdownPct,
			Message: "must be in (0, 100]",
		}
	}
	if c.Risk.DailyLossLimitPct <= 0 || c.Risk.DailyLossLimitPct > 100 {
		return ValidationError{
			Field:   "risk.daily_loss_limit_pct",
			Value:   c.Risk.DailyLossLimitPct,
			Message: "must be in (0, 100]",
		}
	}
	if c.Risk.StopLossDefaultPct <= 0 {
		return ValidationError{
			Field:   "risk.stop_loss_default_pct",
			Value:   c.Risk.StopLossDefaultPct,
			Message: "must be positive",
		}
	}
	if c.Risk.TakeProfitDefaultPct <= 0 {
		return ValidationError{
			Field:   "risk.take_profit_default_pct",
			Value:   c.Risk.TakeProfitDefaultPct,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validatePolicyGates() error {
	if c.PolicyGates.MaxSlippageBps <= 0 {
		return ValidationError{
			Field:   "policy_gates.max_slippage_bps",
			Value:   c.PolicyGates.MaxSlippageBps,
			Message: "must be positive",
		}
	}
	if c.PolicyGates.MaxConcurrentPositions <= 0 {
		return ValidationError{
			Field:   "policy_gates.max_concurrent_positions",
			Value:   c.PolicyGates.MaxConcurrentPositions,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateColdPath() error {
	if c.ColdPath.MaxAttempts < 1 {
		return ValidationError{
			Field:   "cold_path.max_attempts",
			Value:   c.ColdPath.MaxAttempts,
			Message: "must be at least 1",
		}
	}
	if c.ColdPath.TimeoutSeconds <= 0 {
		return ValidationError{
			Field:   "cold_path.timeout_seconds",
			Value:   c.ColdPath.TimeoutSeconds,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateExchange() error {
	validNames := []string{"binance", "paper"}
	if !contains(validNames, c.Exchange.Name) {
		return ValidationError{
			Field:   "exchange.name",
			Value:   c.Exchange.Name,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validNames, ", ")),
		}
	}
	// Live trading needs real credentials; paper runs keyless.
	if c.Mode == "live" && c.Exchange.Name != "paper" {
		if c.Exchange.APIKey == "" {
			return ValidationError{
				Field:   "exchange.api_key",
				Message: "API key is required in live mode",
			}
		}
		if c.Exchange.SecretKey == "" {
			return ValidationError{
				Field:   "exchange.secret_key",
				Message: "secret key is required in live mode",
			}
		}
	}
	if c.Exchange.FeeRate < 0 || c.Exchange.FeeRate > 1 {
		return ValidationError{
			Field:   "exchange.fee_rate",
			Value:   c.Exchange.FeeRate,
			Message: "must be in [0, 1]",
		}
	}
	return nil
}

func (c *Config) validateOracle() error {
	if c.Oracle.Model == "" {
		return ValidationError{
			Field:   "oracle.model",
			Message: "oracle model is required",
		}
	}
	if c.Oracle.RequestTimeoutSeconds <= 0 {
		return ValidationError{
			Field:   "oracle.request_timeout_seconds",
			Value:   c.Oracle.RequestTimeoutSeconds,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.Logging.Level)) {
		return ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// Duration helpers for the values consumed as time.Duration throughout.

func (r RouterConfig) StaleThreshold() time.Duration {
	return time.Duration(r.StaleThresholdMinutes) * time.Minute
}

func (r RouterConfig) RejectionCooldown() time.Duration {
	return time.Duration(r.RejectionCooldownMinutes) * time.Minute
}

func (r RouterConfig) PipelineTimeout() time.Duration {
	return time.Duration(r.PipelineTimeoutMinutes) * time.Minute
}

func (m MonitorConfig) PriceMaxAge() time.Duration {
	return time.Duration(m.PriceMaxAgeMinutes) * time.Minute
}

func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

func (p PricefeedConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

func (p PricefeedConfig) HistoryRetention() time.Duration {
	return time.Duration(p.HistoryRetainHours) * time.Hour
}

func (p PricefeedConfig) StreamStale() time.Duration {
	return time.Duration(p.StreamStaleSeconds) * time.Second
}

func (cp ColdPathConfig) Timeout() time.Duration {
	return time.Duration(cp.TimeoutSeconds) * time.Second
}

func (o OracleConfig) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutSeconds) * time.Second
}

func (w WatchdogConfig) LeaseTTL() time.Duration {
	return time.Duration(w.LeaseTTLSeconds) * time.Second
}

func (w WatchdogConfig) LockTTL() time.Duration {
	return time.Duration(w.LockTTLMinutes) * time.Minute
}

// String returns a string representation of the configuration. Secret fields
// redact themselves through the Secret type.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the baseline configuration. LoadConfig overlays the
// YAML document on top of it, so absent keys keep these values; tests use it
// directly.
func DefaultConfig() *Config {
	return &Config{
		Mode:    "paper",
		DataDir: "data",
		Risk: RiskConfig{
			MaxDrawdownPct:       20,
			DailyLossLimitPct:    5,
			MaxMemeAllocationPct: 30,
			MaxSingleTokenPct:    10,
			StopLossDefaultPct:   8,
			TakeProfitDefaultPct: 25,
			PaperMaxHoldHours:    48,
			MaxHoldHours:         72,
		},
		Sizing: SizingConfig{
			KellyFraction:       0.25,
			KellyDefaultPct:     2,
			KellyMinTrades:      20,
			MaxPositionPct:      5,
			PaperDefaultPct:     3,
			PaperMaxPositionPct: 10,
			PaperRegimeFloor:    0.5,
		},
		PolicyGates: PolicyGatesConfig{
			PriceMaxAgeSec:              120,
			OnchainMaxAgeSec:            600,
			TokenMinAgeHours:            24,
			MaxSlippageBps:              300,
			MaxSpreadBps:                80,
			VolatilityHaltPct:           15,
			VolatilityHaltWindowMinutes: 30,
			ExchangeErrorRatePct:        10,
			ReconciliationMaxAgeSec:     3600,
			MaxConcurrentPositions:      5,
			CooldownMinutes:             240,
		},
		Scoring: ScoringConfig{
			MinTrustScore:      55,
			MinConfidenceScore: 60,
		},
		Sanad: SanadConfig{
			SignalMaxAgeMinutes: 30,
			MinimumTradeScore:   40,
		},
		Budget: BudgetConfig{
			DailyLLMSpendLimitUSD:   10,
			MonthlyLLMSpendLimitUSD: 150,
			CostPerTradeAlertUSD:    0.75,
		},
		CircuitBreakers: CircuitBreakersConfig{
			SimultaneousTripPause: 3,
			Components: map[string]BreakerConfig{
				"dexscreener": {WindowSeconds: 300, TripThreshold: 5, CooldownSeconds: 300},
				"rugcheck":    {WindowSeconds: 300, TripThreshold: 5, CooldownSeconds: 300},
				"exchange":    {WindowSeconds: 300, TripThreshold: 5, CooldownSeconds: 300},
				"oracle":      {WindowSeconds: 600, TripThreshold: 3, CooldownSeconds: 300},
			},
		},
		ColdPath: ColdPathConfig{
			Model:                           "gpt-4o",
			JudgeModel:                      "gpt-4o",
			TimeoutSeconds:                  120,
			MaxAttempts:                     4,
			ParallelBullBear:                true,
			CatastrophicConfidenceThreshold: 85,
			PollLimit:                       5,
		},
		Router: RouterConfig{
			FeedSources:              []string{"dexscreener", "whalewatch", "cex_listings", "social"},
			StaleThresholdMinutes:    30,
			DailyRunBudget:           24,
			RejectionCooldownMinutes: 30,
			PipelineTimeoutMinutes:   5,
			MinRugcheckScore:         35,
		},
		Monitor: MonitorConfig{
			IntervalSeconds:    60,
			PriceMaxAgeMinutes: 10,
			FlashCrash: FlashCrashConfig{
				DropPct:       10,
				WindowMinutes: 15,
				WatchSymbols:  []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			},
			Trailing:  TrailingConfig{ActivationPct: 15, DropPct: 7},
			Breakeven: BreakevenConfig{ActivationPct: 10, OffsetPct: 0.1},
			Momentum:  MomentumConfig{WindowHours: 2, VolumeDropPct: 30},
		},
		Pricefeed: PricefeedConfig{
			PollIntervalSeconds: 30,
			HistoryRetainHours:  24,
			StreamStaleSeconds:  90,
		},
		Exchange: ExchangeConfig{
			Name:             "paper",
			StreamURL:        "wss://stream.binance.com:9443/stream",
			FeeRate:          0.001,
			PaperSlippageBps: 10,
			// USDC on Ethereum mainnet
			DEXBaseAsset:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			DEXBaseDecimals: 6,
			OrdersPerSecond: 5,
			OrderBurst:      10,
		},
		Oracle: OracleConfig{
			Model:                 "gpt-4o-mini",
			FallbackModel:         "gpt-4o-mini",
			RequestTimeoutSeconds: 60,
			InputCostPer1K:        0.00015,
			OutputCostPer1K:       0.0006,
		},
		Notify: NotifyConfig{
			MinLevel: 2,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9108,
			EnableMetrics: true,
		},
		Archive: ArchiveConfig{
			Enabled:    false,
			Prefix:     "decision-logs",
			Region:     "us-east-1",
			RetainDays: 2,
		},
		Scheduler: SchedulerConfig{
			Router:      "*/15 * * * *",
			Monitor:     "* * * * *",
			AsyncWorker: "*/2 * * * *",
			Heartbeat:   "*/5 * * * *",
			Watchdog:    "*/10 * * * *",
			Archive:     "30 2 * * *",
		},
		Watchdog: WatchdogConfig{
			LeaseTTLSeconds:    1800,
			LockTTLMinutes:     15,
			DiagnosticDeadline: 30,
			DiagnosticDir:      "diagnostics",
		},
		Heartbeat: HeartbeatConfig{
			ExpectedCadenceMinutes: map[string]int{
				"router":      20,
				"monitor":     5,
				"asyncworker": 10,
			},
			NTPServer:             "pool.ntp.org",
			MaxClockSkewMS:        2000,
			TaskStuckGraceMinutes: 10,
			PendingStaleMinutes:   30,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}
