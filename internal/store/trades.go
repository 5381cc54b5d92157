package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// ClosedTrade is a realized round-trip used for accuracy and sizing math
type ClosedTrade struct {
	ID         uuid.UUID
	UserID     string
	BotID      *uuid.UUID
	SignalID   *uuid.UUID
	Symbol     string
	Exchange   string
	Side       SignalType
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
	Pnl        float64
	Fees       float64
	Outcome    OutcomeTag
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// RecordTrade persists a closed round-trip
func (s *Store) RecordTrade(ctx context.Context, t *ClosedTrade) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ClosedAt.IsZero() {
		t.ClosedAt = time.Now()
	}

	query := `
		INSERT INTO trades (
			id, user_id, bot_id, signal_id, symbol, exchange, side,
			quantity, entry_price, exit_price, pnl, fees, outcome,
			opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.pool.Exec(ctx, query,
		t.ID,
		t.UserID,
		t.BotID,
		t.SignalID,
		t.Symbol,
		t.Exchange,
		t.Side,
		t.Quantity,
		t.EntryPrice,
		t.ExitPrice,
		t.Pnl,
		t.Fees,
		t.Outcome,
		t.OpenedAt,
		t.ClosedAt,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", t.Symbol).
			Float64("pnl", t.Pnl).
			Msg("Failed to record trade")
		return fmt.Errorf("failed to record trade: %w", err)
	}

	log.Debug().
		Str("trade_id", t.ID.String()).
		Str("symbol", t.Symbol).
		Float64("pnl", t.Pnl).
		Str("outcome", string(t.Outcome)).
		Msg("Trade recorded")

	return nil
}

// RecentClosedTrades returns up to limit most recent round-trips for a
// user and symbol. Feeds the Kelly sizing history.
func (s *Store) RecentClosedTrades(ctx context.Context, userID, symbol string, limit int) ([]*ClosedTrade, error) {
	query := `
		SELECT id, user_id, bot_id, signal_id, symbol, exchange, side,
		       quantity, entry_price, exit_price, pnl, fees, outcome,
		       opened_at, closed_at
		FROM trades
		WHERE user_id = $1
		  AND ($2 = '' OR symbol = $2)
		ORDER BY closed_at DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, userID, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// RecentOutcomes returns the outcome tags of a user's latest closed
// trades, newest first. Feeds the rolling accuracy window.
func (s *Store) RecentOutcomes(ctx context.Context, userID string, limit int) ([]OutcomeTag, error) {
	query := `
		SELECT outcome
		FROM trades
		WHERE user_id = $1
		ORDER BY closed_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []OutcomeTag
	for rows.Next() {
		var o OutcomeTag
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}

	return outcomes, nil
}

// TradeStats aggregates realized performance for a user
type TradeStats struct {
	TotalTrades int
	Wins        int
	Losses      int
	Breakevens  int
	TotalPnl    float64
	AvgWin      float64
	AvgLoss     float64
}

// GetTradeStats computes aggregate trade performance for a user
func (s *Store) GetTradeStats(ctx context.Context, userID string) (*TradeStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'WIN'),
			COUNT(*) FILTER (WHERE outcome = 'LOSS'),
			COUNT(*) FILTER (WHERE outcome = 'BREAKEVEN'),
			COALESCE(SUM(pnl), 0),
			COALESCE(AVG(pnl) FILTER (WHERE outcome = 'WIN'), 0),
			COALESCE(AVG(pnl) FILTER (WHERE outcome = 'LOSS'), 0)
		FROM trades
		WHERE user_id = $1
	`

	var stats TradeStats
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&stats.TotalTrades,
		&stats.Wins,
		&stats.Losses,
		&stats.Breakevens,
		&stats.TotalPnl,
		&stats.AvgWin,
		&stats.AvgLoss,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade stats: %w", err)
	}

	return &stats, nil
}

func scanTrades(rows pgx.Rows) ([]*ClosedTrade, error) {
	var trades []*ClosedTrade
	for rows.Next() {
		var t ClosedTrade
		err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.BotID,
			&t.SignalID,
			&t.Symbol,
			&t.Exchange,
			&t.Side,
			&t.Quantity,
			&t.EntryPrice,
			&t.ExitPrice,
			&t.Pnl,
			&t.Fees,
			&t.Outcome,
			&t.OpenedAt,
			&t.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}
