package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// AgentMode controls whether the autonomous agent executes trades itself
type AgentMode string

const (
	AgentModeAdvisory   AgentMode = "ADVISORY"
	AgentModeAutonomous AgentMode = "AUTONOMOUS"
)

// defaultWatchlist seeds new agent configs with a cross-segment spread
const defaultWatchlist = "NIFTY 50,RELIANCE,TCS,HDFCBANK,GOLD,USDINR"

// AgentConfig holds per-user settings for the autonomous trading agent
type AgentConfig struct {
	UserID          string
	Enabled         bool
	Mode            AgentMode
	Watchlist       string
	MaxDailySignals int
	MaxDailyTrades  int
	RiskPerTrade    float64
	Paused          bool
	PausedReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WatchlistSymbols splits the comma-separated watchlist
func (a *AgentConfig) WatchlistSymbols() []string {
	return splitSymbols(a.Watchlist)
}

// DefaultAgentConfig returns the config used before a user saves one
func DefaultAgentConfig(userID string) *AgentConfig {
	return &AgentConfig{
		UserID:          userID,
		Enabled:         false,
		Mode:            AgentModeAdvisory,
		Watchlist:       defaultWatchlist,
		MaxDailySignals: 10,
		MaxDailyTrades:  5,
		RiskPerTrade:    0.02,
	}
}

// GetAgentConfig retrieves a user's agent config, falling back to the
// default when none has been saved yet.
func (s *Store) GetAgentConfig(ctx context.Context, userID string) (*AgentConfig, error) {
	query := `
		SELECT user_id, enabled, mode, watchlist, max_daily_signals,
		       max_daily_trades, risk_per_trade, paused, paused_reason,
		       created_at, updated_at
		FROM agent_configs
		WHERE user_id = $1
	`

	var cfg AgentConfig
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&cfg.UserID,
		&cfg.Enabled,
		&cfg.Mode,
		&cfg.Watchlist,
		&cfg.MaxDailySignals,
		&cfg.MaxDailyTrades,
		&cfg.RiskPerTrade,
		&cfg.Paused,
		&cfg.PausedReason,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return DefaultAgentConfig(userID), nil
		}
		return nil, fmt.Errorf("failed to get agent config: %w", err)
	}

	return &cfg, nil
}

// UpsertAgentConfig saves a user's agent config, inserting or updating
func (s *Store) UpsertAgentConfig(ctx context.Context, cfg *AgentConfig) error {
	query := `
		INSERT INTO agent_configs (
			user_id, enabled, mode, watchlist, max_daily_signals,
			max_daily_trades, risk_per_trade, paused, paused_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			mode = EXCLUDED.mode,
			watchlist = EXCLUDED.watchlist,
			max_daily_signals = EXCLUDED.max_daily_signals,
			max_daily_trades = EXCLUDED.max_daily_trades,
			risk_per_trade = EXCLUDED.risk_per_trade,
			paused = EXCLUDED.paused,
			paused_reason = EXCLUDED.paused_reason,
			updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		cfg.UserID,
		cfg.Enabled,
		cfg.Mode,
		cfg.Watchlist,
		cfg.MaxDailySignals,
		cfg.MaxDailyTrades,
		cfg.RiskPerTrade,
		cfg.Paused,
		cfg.PausedReason,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", cfg.UserID).
			Msg("Failed to upsert agent config")
		return fmt.Errorf("failed to upsert agent config: %w", err)
	}

	log.Debug().
		Str("user_id", cfg.UserID).
		Bool("enabled", cfg.Enabled).
		Str("mode", string(cfg.Mode)).
		Msg("Agent config saved")

	return nil
}

// SetAgentPaused flips the paused flag with a reason, or clears both
func (s *Store) SetAgentPaused(ctx context.Context, userID string, paused bool, reason string) error {
	query := `
		UPDATE agent_configs
		SET paused = $1,
		    paused_reason = NULLIF($2, ''),
		    updated_at = NOW()
		WHERE user_id = $3
	`

	result, err := s.pool.Exec(ctx, query, paused, reason, userID)
	if err != nil {
		return fmt.Errorf("failed to set agent paused: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("agent config for %s: %w", userID, ErrNotFound)
	}

	return nil
}
