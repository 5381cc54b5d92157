package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// BotRole represents a bot's analysis role (database enum)
type BotRole string

const (
	BotRoleScanner       BotRole = "SCANNER"
	BotRoleAnalyst       BotRole = "ANALYST"
	BotRoleExecutor      BotRole = "EXECUTOR"
	BotRoleRiskManager   BotRole = "RISK_MANAGER"
	BotRoleStrategist    BotRole = "STRATEGIST"
	BotRoleMonitor       BotRole = "MONITOR"
	BotRoleFnoStrategist BotRole = "FNO_STRATEGIST"
)

// BotStatus represents a bot's lifecycle status (database enum)
type BotStatus string

const (
	BotStatusIdle    BotStatus = "IDLE"
	BotStatusRunning BotStatus = "RUNNING"
	BotStatusError   BotStatus = "ERROR"
)

// Bot represents a database bot record
type Bot struct {
	ID           uuid.UUID
	UserID       string
	Name         string
	Role         BotRole
	Status       BotStatus
	Symbols      string // comma-separated assigned symbols
	Strategy     string
	MaxCapital   float64
	UsedCapital  float64
	TotalTrades  int
	TotalPnl     float64
	WinRate      float64
	LastAction   *string
	LastActionAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SymbolList splits the assigned symbols on commas, trimming whitespace
// and dropping empties.
func (b *Bot) SymbolList() []string {
	return splitSymbols(b.Symbols)
}

// splitSymbols splits a comma-separated symbol list, trimming whitespace
// and dropping empties.
func splitSymbols(symbols string) []string {
	var out []string
	for _, s := range strings.Split(symbols, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ValidBotRole reports whether role is a known bot role
func ValidBotRole(role string) bool {
	switch BotRole(strings.ToUpper(role)) {
	case BotRoleScanner, BotRoleAnalyst, BotRoleExecutor, BotRoleRiskManager,
		BotRoleStrategist, BotRoleMonitor, BotRoleFnoStrategist:
		return true
	}
	return false
}

const botColumns = `id, user_id, name, role, status, symbols, strategy,
	       max_capital, used_capital, total_trades, total_pnl, win_rate,
	       last_action, last_action_at, created_at, updated_at`

// CreateBot inserts a new bot record
func (s *Store) CreateBot(ctx context.Context, bot *Bot) error {
	if bot.ID == uuid.Nil {
		bot.ID = uuid.New()
	}
	now := time.Now()
	bot.CreatedAt = now
	bot.UpdatedAt = now
	if bot.Status == "" {
		bot.Status = BotStatusIdle
	}

	query := `
		INSERT INTO bots (
			id, user_id, name, role, status, symbols, strategy,
			max_capital, used_capital, total_trades, total_pnl, win_rate,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := s.pool.Exec(ctx, query,
		bot.ID,
		bot.UserID,
		bot.Name,
		bot.Role,
		bot.Status,
		bot.Symbols,
		bot.Strategy,
		bot.MaxCapital,
		bot.UsedCapital,
		bot.TotalTrades,
		bot.TotalPnl,
		bot.WinRate,
		bot.CreatedAt,
		bot.UpdatedAt,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("bot_id", bot.ID.String()).
			Str("name", bot.Name).
			Msg("Failed to insert bot")
		return fmt.Errorf("failed to insert bot: %w", err)
	}

	log.Debug().
		Str("bot_id", bot.ID.String()).
		Str("name", bot.Name).
		Str("role", string(bot.Role)).
		Msg("Bot inserted into database")

	return nil
}

// GetBot retrieves a bot by ID
func (s *Store) GetBot(ctx context.Context, botID uuid.UUID) (*Bot, error) {
	query := `
		SELECT ` + botColumns + `
		FROM bots
		WHERE id = $1
	`

	var bot Bot
	err := s.pool.QueryRow(ctx, query, botID).Scan(
		&bot.ID,
		&bot.UserID,
		&bot.Name,
		&bot.Role,
		&bot.Status,
		&bot.Symbols,
		&bot.Strategy,
		&bot.MaxCapital,
		&bot.UsedCapital,
		&bot.TotalTrades,
		&bot.TotalPnl,
		&bot.WinRate,
		&bot.LastAction,
		&bot.LastActionAt,
		&bot.CreatedAt,
		&bot.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("bot %s: %w", botID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}

	return &bot, nil
}

// ListBots retrieves all bots for a user, newest first
func (s *Store) ListBots(ctx context.Context, userID string) ([]*Bot, error) {
	query := `
		SELECT ` + botColumns + `
		FROM bots
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	return scanBots(rows)
}

// ListRunningBots retrieves every bot currently marked RUNNING.
// Used to reconcile the scheduler after a restart.
func (s *Store) ListRunningBots(ctx context.Context) ([]*Bot, error) {
	query := `
		SELECT ` + botColumns + `
		FROM bots
		WHERE status = $1
		ORDER BY updated_at ASC
	`

	rows, err := s.pool.Query(ctx, query, BotStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query running bots: %w", err)
	}
	defer rows.Close()

	return scanBots(rows)
}

// UpdateBot updates the mutable user-editable fields of a bot
func (s *Store) UpdateBot(ctx context.Context, bot *Bot) error {
	query := `
		UPDATE bots
		SET name = $1,
		    role = $2,
		    symbols = $3,
		    strategy = $4,
		    max_capital = $5,
		    updated_at = NOW()
		WHERE id = $6
	`

	result, err := s.pool.Exec(ctx, query,
		bot.Name,
		bot.Role,
		bot.Symbols,
		bot.Strategy,
		bot.MaxCapital,
		bot.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update bot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("bot %s: %w", bot.ID, ErrNotFound)
	}

	return nil
}

// DeleteBot removes a bot record
func (s *Store) DeleteBot(ctx context.Context, botID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM bots WHERE id = $1`, botID)
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("bot %s: %w", botID, ErrNotFound)
	}

	log.Debug().Str("bot_id", botID.String()).Msg("Bot deleted")
	return nil
}

// UpdateBotStatus sets a bot's lifecycle status
func (s *Store) UpdateBotStatus(ctx context.Context, botID uuid.UUID, status BotStatus) error {
	query := `
		UPDATE bots
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2
	`

	result, err := s.pool.Exec(ctx, query, status, botID)
	if err != nil {
		return fmt.Errorf("failed to update bot status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("bot %s: %w", botID, ErrNotFound)
	}

	log.Debug().
		Str("bot_id", botID.String()).
		Str("status", string(status)).
		Msg("Bot status updated")

	return nil
}

// RecordBotAction writes the bot's last-action string. Actions longer
// than 200 characters are truncated.
func (s *Store) RecordBotAction(ctx context.Context, botID uuid.UUID, action string) error {
	if len(action) > 200 {
		action = action[:200]
	}

	query := `
		UPDATE bots
		SET last_action = $1,
		    last_action_at = NOW(),
		    updated_at = NOW()
		WHERE id = $2
	`

	_, err := s.pool.Exec(ctx, query, action, botID)
	if err != nil {
		return fmt.Errorf("failed to record bot action: %w", err)
	}

	return nil
}

// ApplyTradeToBot folds a completed trade into the bot's running totals
func (s *Store) ApplyTradeToBot(ctx context.Context, botID uuid.UUID, netPnl float64, won bool) error {
	win := 0
	if won {
		win = 1
	}

	query := `
		UPDATE bots
		SET total_trades = total_trades + 1,
		    total_pnl = total_pnl + $1,
		    win_rate = (win_rate * total_trades + $2) / (total_trades + 1),
		    updated_at = NOW()
		WHERE id = $3
	`

	result, err := s.pool.Exec(ctx, query, netPnl, win, botID)
	if err != nil {
		return fmt.Errorf("failed to apply trade to bot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("bot %s: %w", botID, ErrNotFound)
	}

	return nil
}

// scanBots is a helper to scan multiple bot rows
func scanBots(rows pgx.Rows) ([]*Bot, error) {
	var bots []*Bot
	for rows.Next() {
		var bot Bot
		err := rows.Scan(
			&bot.ID,
			&bot.UserID,
			&bot.Name,
			&bot.Role,
			&bot.Status,
			&bot.Symbols,
			&bot.Strategy,
			&bot.MaxCapital,
			&bot.UsedCapital,
			&bot.TotalTrades,
			&bot.TotalPnl,
			&bot.WinRate,
			&bot.LastAction,
			&bot.LastActionAt,
			&bot.CreatedAt,
			&bot.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, &bot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bots: %w", err)
	}

	return bots, nil
}
