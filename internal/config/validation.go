package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateScheduler()...)
	errs = append(errs, c.validatePipeline()...)
	errs = append(errs, c.validateEngine()...)
	errs = append(errs, c.validateMarket()...)
	errs = append(errs, c.validateAPI()...)

	if len(errs) > 0 {
		return errs
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errs ValidationErrors

	if c.App.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		errs = append(errs, ValidationError{
			Field:   "app.environment",
			Message: "Environment must be development, staging, or production",
		})
	}

	return errs
}

func (c *Config) validateScheduler() ValidationErrors {
	var errs ValidationErrors

	if c.Scheduler.TickIntervalMS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.tick_interval_ms",
			Message: "Tick interval must be positive",
		})
	}
	if c.Scheduler.SignalIntervalMS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.signal_interval_ms",
			Message: "Signal interval must be positive",
		})
	}
	if c.Scheduler.MarketScanIntervalMS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.market_scan_interval_ms",
			Message: "Market-scan interval must be positive",
		})
	}
	if c.Scheduler.MaxConcurrentBots < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.max_concurrent_bots",
			Message: "Concurrency cap must be at least 1",
		})
	}

	return errs
}

func (c *Config) validatePipeline() ValidationErrors {
	var errs ValidationErrors

	if c.Pipeline.MaxCandleSymbols < 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.max_candle_symbols",
			Message: "Candle symbol cap must be at least 1",
		})
	}
	if c.Pipeline.RollingWindow < 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.rolling_window",
			Message: "Rolling window must be at least 1",
		})
	}
	if c.Pipeline.AutoPauseAccuracy < 0 || c.Pipeline.AutoPauseAccuracy > 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.auto_pause_accuracy",
			Message: "Auto-pause accuracy must be in [0,1]",
		})
	}
	if c.Pipeline.AutoExecuteThreshold < 0 || c.Pipeline.AutoExecuteThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.auto_execute_threshold",
			Message: "Auto-execute threshold must be in [0,1]",
		})
	}
	if c.Pipeline.LLMRejectPenalty <= 0 || c.Pipeline.LLMRejectPenalty > 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.llm_reject_penalty",
			Message: "LLM-reject penalty must be in (0,1]",
		})
	}
	if c.Pipeline.FallbackMinConfidence < 0 || c.Pipeline.FallbackMinConfidence > 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.fallback_min_confidence",
			Message: "Fallback confidence floor must be in [0,1]",
		})
	}

	return errs
}

func (c *Config) validateEngine() ValidationErrors {
	var errs ValidationErrors

	if c.Engine.TimeoutMS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.timeout_ms",
			Message: "Engine timeout must be positive",
		})
	}
	if c.Engine.MaxInputBytes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.max_input_bytes",
			Message: "Engine input cap must be positive",
		})
	}
	if c.Engine.MaxConcurrent < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.max_concurrent",
			Message: "Engine concurrency cap must be at least 1",
		})
	}

	return errs
}

func (c *Config) validateMarket() ValidationErrors {
	var errs ValidationErrors

	if c.Market.FetchTimeoutMS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "market.fetch_timeout_ms",
			Message: "Fetch timeout must be positive",
		})
	}
	if c.Market.NSEMaxConcurrent < 1 {
		errs = append(errs, ValidationError{
			Field:   "market.nse_max_concurrent",
			Message: "Exchange-direct concurrency cap must be at least 1",
		})
	}
	for field, ttl := range map[string]int{
		"market.cache_ttl_quote":   c.Market.CacheTTLQuote,
		"market.cache_ttl_history": c.Market.CacheTTLHistory,
		"market.cache_ttl_indices": c.Market.CacheTTLIndices,
		"market.cache_ttl_search":  c.Market.CacheTTLSearch,
		"market.cache_ttl_options": c.Market.CacheTTLOptions,
	} {
		if ttl <= 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "Cache TTL must be positive",
			})
		}
	}

	return errs
}

func (c *Config) validateAPI() ValidationErrors {
	var errs ValidationErrors

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "api.port",
			Message: "API port must be in [1,65535]",
		})
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, ValidationError{
			Field:   "metrics.port",
			Message: "Metrics port must be in [1,65535]",
		})
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.API.Port {
		errs = append(errs, ValidationError{
			Field:   "metrics.port",
			Message: "Metrics port must differ from the API port",
		})
	}

	return errs
}
