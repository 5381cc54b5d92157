// Package config loads application configuration from YAML files and
// environment variables and initializes the global logger.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Market    MarketConfig    `mapstructure:"market"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Paper     PaperConfig     `mapstructure:"paper"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	API       APIConfig       `mapstructure:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
	LogFile     string `mapstructure:"log_file"`   // rotated file sink, empty disables
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS event-bus settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// LLMConfig contains LLM client settings
type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"` // OpenAI-compatible endpoint
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TimeoutMS   int     `mapstructure:"timeout_ms"`
	PromptsFile string  `mapstructure:"prompts_file"` // role prompt overrides
}

// EngineConfig contains scan-engine subprocess settings
type EngineConfig struct {
	Binary        string `mapstructure:"binary"` // path to the scanengine binary
	TimeoutMS     int    `mapstructure:"timeout_ms"`
	MaxInputBytes int    `mapstructure:"max_input_bytes"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// SchedulerConfig contains cycle cadence settings
type SchedulerConfig struct {
	TickIntervalMS       int `mapstructure:"tick_interval_ms"`
	SignalIntervalMS     int `mapstructure:"signal_interval_ms"`
	MarketScanIntervalMS int `mapstructure:"market_scan_interval_ms"`
	MaxConcurrentBots    int `mapstructure:"max_concurrent_bots"`
}

// PipelineConfig contains signal-pipeline tuning
type PipelineConfig struct {
	MaxCandleSymbols      int     `mapstructure:"max_candle_symbols"`
	RollingWindow         int     `mapstructure:"rolling_window"`
	AutoPauseAccuracy     float64 `mapstructure:"auto_pause_accuracy"`
	AutoExecuteThreshold  float64 `mapstructure:"auto_execute_threshold"`
	LLMRejectPenalty      float64 `mapstructure:"llm_reject_penalty"`
	FallbackMinConfidence float64 `mapstructure:"fallback_min_confidence"`
	SignalTTLHours        int     `mapstructure:"signal_ttl_hours"`
}

// MarketConfig contains market-data stack settings
type MarketConfig struct {
	FetchTimeoutMS   int    `mapstructure:"fetch_timeout_ms"`
	ChartBaseURL     string `mapstructure:"chart_base_url"`
	NSEBaseURL       string `mapstructure:"nse_base_url"`
	NSEMaxConcurrent int    `mapstructure:"nse_max_concurrent"`
	CacheTTLQuote    int    `mapstructure:"cache_ttl_quote"`   // seconds
	CacheTTLHistory  int    `mapstructure:"cache_ttl_history"` // seconds
	CacheTTLIndices  int    `mapstructure:"cache_ttl_indices"` // seconds
	CacheTTLSearch   int    `mapstructure:"cache_ttl_search"`  // seconds
	CacheTTLOptions  int    `mapstructure:"cache_ttl_options"` // seconds
}

// BrokerConfig contains Kite Connect settings for the broker tier
type BrokerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	APIKey           string `mapstructure:"api_key"`
	APISecret        string `mapstructure:"api_secret"`
	CredentialSecret string `mapstructure:"credential_secret"` // derives the AES key for stored tokens
}

// PaperConfig contains simulated-portfolio settings
type PaperConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	FeeBPS         float64 `mapstructure:"fee_bps"`      // per-fill fee in basis points
	SlippageBPS    float64 `mapstructure:"slippage_bps"` // market-order slippage in basis points
}

// TelegramConfig contains alerting settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	APIKey         string   `mapstructure:"api_key"` // empty disables auth
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tradeveda")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEVEDA")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "TradeVeda")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.log_file", "")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradeveda")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)

	// LLM defaults
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout_ms", 30000)
	v.SetDefault("llm.prompts_file", "prompts.yaml")

	// Engine defaults
	v.SetDefault("engine.binary", "./bin/scanengine")
	v.SetDefault("engine.timeout_ms", 30000)
	v.SetDefault("engine.max_input_bytes", 2097152)
	v.SetDefault("engine.max_concurrent", 2)

	// Scheduler defaults
	v.SetDefault("scheduler.tick_interval_ms", 180000)
	v.SetDefault("scheduler.signal_interval_ms", 300000)
	v.SetDefault("scheduler.market_scan_interval_ms", 600000)
	v.SetDefault("scheduler.max_concurrent_bots", 3)

	// Pipeline defaults
	v.SetDefault("pipeline.max_candle_symbols", 8)
	v.SetDefault("pipeline.rolling_window", 20)
	v.SetDefault("pipeline.auto_pause_accuracy", 0.35)
	v.SetDefault("pipeline.auto_execute_threshold", 0.65)
	v.SetDefault("pipeline.llm_reject_penalty", 0.8)
	v.SetDefault("pipeline.fallback_min_confidence", 0.6)
	v.SetDefault("pipeline.signal_ttl_hours", 24)

	// Market-data defaults
	v.SetDefault("market.fetch_timeout_ms", 10000)
	v.SetDefault("market.chart_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market.nse_base_url", "https://www.nseindia.com")
	v.SetDefault("market.nse_max_concurrent", 2)
	v.SetDefault("market.cache_ttl_quote", 30)
	v.SetDefault("market.cache_ttl_history", 300)
	v.SetDefault("market.cache_ttl_indices", 60)
	v.SetDefault("market.cache_ttl_search", 3600)
	v.SetDefault("market.cache_ttl_options", 120)

	// Broker defaults
	v.SetDefault("broker.enabled", false)

	// Paper-portfolio defaults
	v.SetDefault("paper.initial_capital", 1000000.0)
	v.SetDefault("paper.fee_bps", 2.0)
	v.SetDefault("paper.slippage_bps", 5.0)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{"*"})

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9100)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTimeout returns the LLM timeout as time.Duration
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// TickInterval returns the bot cycle cadence as a Duration
func (c *SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// SignalInterval returns the agent cycle cadence as a Duration
func (c *SchedulerConfig) SignalInterval() time.Duration {
	return time.Duration(c.SignalIntervalMS) * time.Millisecond
}

// MarketScanInterval returns the market-scan cadence as a Duration
func (c *SchedulerConfig) MarketScanInterval() time.Duration {
	return time.Duration(c.MarketScanIntervalMS) * time.Millisecond
}

// FetchTimeout returns the per-request network timeout
func (c *MarketConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// EngineTimeout returns the scan-engine wall-clock limit
func (c *EngineConfig) EngineTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
