package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// SignalType represents the trade direction (database enum)
type SignalType string

const (
	SignalTypeBuy  SignalType = "BUY"
	SignalTypeSell SignalType = "SELL"
)

// SignalStatus represents the signal lifecycle (database enum)
type SignalStatus string

const (
	SignalStatusPending  SignalStatus = "PENDING"
	SignalStatusExecuted SignalStatus = "EXECUTED"
	SignalStatusRejected SignalStatus = "REJECTED"
	SignalStatusExpired  SignalStatus = "EXPIRED"
)

// OutcomeTag classifies a closed trade that originated from a signal
type OutcomeTag string

const (
	OutcomeWin       OutcomeTag = "WIN"
	OutcomeLoss      OutcomeTag = "LOSS"
	OutcomeBreakeven OutcomeTag = "BREAKEVEN"
)

// Signal represents a database signal record
type Signal struct {
	ID             uuid.UUID
	UserID         string
	Symbol         string
	Exchange       string
	SignalType     SignalType
	CompositeScore float64
	GateScores     map[string]interface{} // nine g1_trend..g9_risk keys plus source/indicators/votes
	Rationale      string
	Status         SignalStatus
	StrategyID     *string
	EntryPrice     float64
	StopLoss       float64
	Target         float64
	CreatedAt      time.Time
	ExecutedAt     *time.Time
	ExpiresAt      time.Time
	Outcome        *OutcomeTag
}

const signalColumns = `id, user_id, symbol, exchange, signal_type, composite_score,
	       gate_scores, rationale, status, strategy_id, entry_price, stop_loss,
	       target, created_at, executed_at, expires_at, outcome`

// InsertSignal inserts a new signal record
func (s *Store) InsertSignal(ctx context.Context, sig *Signal) error {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	if sig.Status == "" {
		sig.Status = SignalStatusPending
	}

	query := `
		INSERT INTO signals (
			id, user_id, symbol, exchange, signal_type, composite_score,
			gate_scores, rationale, status, strategy_id, entry_price,
			stop_loss, target, created_at, executed_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`

	_, err := s.pool.Exec(ctx, query,
		sig.ID,
		sig.UserID,
		sig.Symbol,
		sig.Exchange,
		sig.SignalType,
		sig.CompositeScore,
		sig.GateScores,
		sig.Rationale,
		sig.Status,
		sig.StrategyID,
		sig.EntryPrice,
		sig.StopLoss,
		sig.Target,
		sig.CreatedAt,
		sig.ExecutedAt,
		sig.ExpiresAt,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("signal_id", sig.ID.String()).
			Str("symbol", sig.Symbol).
			Msg("Failed to insert signal")
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	log.Debug().
		Str("signal_id", sig.ID.String()).
		Str("symbol", sig.Symbol).
		Str("type", string(sig.SignalType)).
		Float64("score", sig.CompositeScore).
		Msg("Signal inserted into database")

	return nil
}

// GetSignal retrieves a signal by ID
func (s *Store) GetSignal(ctx context.Context, signalID uuid.UUID) (*Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE id = $1
	`

	var sig Signal
	err := s.pool.QueryRow(ctx, query, signalID).Scan(
		&sig.ID,
		&sig.UserID,
		&sig.Symbol,
		&sig.Exchange,
		&sig.SignalType,
		&sig.CompositeScore,
		&sig.GateScores,
		&sig.Rationale,
		&sig.Status,
		&sig.StrategyID,
		&sig.EntryPrice,
		&sig.StopLoss,
		&sig.Target,
		&sig.CreatedAt,
		&sig.ExecutedAt,
		&sig.ExpiresAt,
		&sig.Outcome,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("signal %s: %w", signalID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}

	return &sig, nil
}

// ListSignals retrieves a page of signals for a user, newest first.
// status filters when non-empty.
func (s *Store) ListSignals(ctx context.Context, userID string, status SignalStatus, limit, offset int) ([]*Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE user_id = $1
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := s.pool.Query(ctx, query, userID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// FindRecentPendingSignal returns a PENDING signal for the same
// (user, symbol, type) created within the window, or ErrNotFound.
// Backs the one-hour dedup rule.
func (s *Store) FindRecentPendingSignal(ctx context.Context, userID, symbol string, sigType SignalType, window time.Duration) (*Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE user_id = $1
		  AND symbol = $2
		  AND signal_type = $3
		  AND status = $4
		  AND created_at > $5
		ORDER BY created_at DESC
		LIMIT 1
	`

	cutoff := time.Now().Add(-window)

	var sig Signal
	err := s.pool.QueryRow(ctx, query, userID, symbol, sigType, SignalStatusPending, cutoff).Scan(
		&sig.ID,
		&sig.UserID,
		&sig.Symbol,
		&sig.Exchange,
		&sig.SignalType,
		&sig.CompositeScore,
		&sig.GateScores,
		&sig.Rationale,
		&sig.Status,
		&sig.StrategyID,
		&sig.EntryPrice,
		&sig.StopLoss,
		&sig.Target,
		&sig.CreatedAt,
		&sig.ExecutedAt,
		&sig.ExpiresAt,
		&sig.Outcome,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find pending signal: %w", err)
	}

	return &sig, nil
}

// RefreshSignal updates the score, rationale, and gate vector of an
// existing PENDING signal. Used when dedup coalesces a duplicate.
func (s *Store) RefreshSignal(ctx context.Context, signalID uuid.UUID, score float64, rationale string, gates map[string]interface{}) error {
	query := `
		UPDATE signals
		SET composite_score = $1,
		    rationale = $2,
		    gate_scores = $3
		WHERE id = $4 AND status = $5
	`

	result, err := s.pool.Exec(ctx, query, score, rationale, gates, signalID, SignalStatusPending)
	if err != nil {
		return fmt.Errorf("failed to refresh signal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("signal %s: %w", signalID, ErrSignalNotPending)
	}

	return nil
}

// MarkSignalExecuted transitions a PENDING signal to EXECUTED and stamps
// executed_at. EXECUTED is terminal; a non-PENDING signal is rejected.
func (s *Store) MarkSignalExecuted(ctx context.Context, signalID uuid.UUID) error {
	query := `
		UPDATE signals
		SET status = $1,
		    executed_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := s.pool.Exec(ctx, query, SignalStatusExecuted, signalID, SignalStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark signal executed: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Distinguish missing from wrong-state for the HTTP layer.
		if _, getErr := s.GetSignal(ctx, signalID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("signal %s: %w", signalID, ErrSignalNotPending)
	}

	log.Debug().Str("signal_id", signalID.String()).Msg("Signal marked executed")
	return nil
}

// MarkSignalRejected transitions a PENDING signal to REJECTED
func (s *Store) MarkSignalRejected(ctx context.Context, signalID uuid.UUID) error {
	query := `
		UPDATE signals
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	result, err := s.pool.Exec(ctx, query, SignalStatusRejected, signalID, SignalStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark signal rejected: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, getErr := s.GetSignal(ctx, signalID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("signal %s: %w", signalID, ErrSignalNotPending)
	}

	return nil
}

// SetSignalOutcome tags a signal with its realized outcome
func (s *Store) SetSignalOutcome(ctx context.Context, signalID uuid.UUID, outcome OutcomeTag) error {
	query := `
		UPDATE signals
		SET outcome = $1
		WHERE id = $2
	`

	_, err := s.pool.Exec(ctx, query, outcome, signalID)
	if err != nil {
		return fmt.Errorf("failed to set signal outcome: %w", err)
	}

	return nil
}

// ExpireStaleSignals marks PENDING signals past their expiry as EXPIRED
// and returns the number swept.
func (s *Store) ExpireStaleSignals(ctx context.Context) (int64, error) {
	query := `
		UPDATE signals
		SET status = $1
		WHERE status = $2 AND expires_at < NOW()
	`

	result, err := s.pool.Exec(ctx, query, SignalStatusExpired, SignalStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to expire signals: %w", err)
	}

	swept := result.RowsAffected()
	if swept > 0 {
		log.Info().Int64("count", swept).Msg("Expired stale signals")
	}

	return swept, nil
}

// CountSignalsSince counts a user's signals created after the cutoff.
// Backs the daily signal cap.
func (s *Store) CountSignalsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM signals WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return count, nil
}

// CountExecutedSince counts a user's executed signals after the cutoff
func (s *Store) CountExecutedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM signals WHERE user_id = $1 AND status = $2 AND executed_at >= $3`,
		userID, SignalStatusExecuted, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executed signals: %w", err)
	}
	return count, nil
}

// scanSignals is a helper to scan multiple signal rows
func scanSignals(rows pgx.Rows) ([]*Signal, error) {
	var signals []*Signal
	for rows.Next() {
		var sig Signal
		err := rows.Scan(
			&sig.ID,
			&sig.UserID,
			&sig.Symbol,
			&sig.Exchange,
			&sig.SignalType,
			&sig.CompositeScore,
			&sig.GateScores,
			&sig.Rationale,
			&sig.Status,
			&sig.StrategyID,
			&sig.EntryPrice,
			&sig.StopLoss,
			&sig.Target,
			&sig.CreatedAt,
			&sig.ExecutedAt,
			&sig.ExpiresAt,
			&sig.Outcome,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, &sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}

	return signals, nil
}
